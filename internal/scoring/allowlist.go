// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// metadataIP is the cloud metadata service; traffic to or from it is always
// infrastructure, never an attack worth logging.
const metadataIP = "169.254.169.254"

// refreshInterval is the minimum time between re-fetches of a remote list.
const refreshInterval = 24 * time.Hour

// allowSource describes one fetchable CIDR list: where it lives and how to
// pull IPv4 prefixes out of the published JSON.
type allowSource struct {
	Key     string // internal set name
	Label   string // reason reported in verdicts
	URL     string // empty for literal-only sets
	ListKey string // JSON array field
	CIDRKey string // prefix field inside each array element
}

// defaultSources is the tested order; the first matching set names the
// exclusion reason.
var defaultSources = []allowSource{
	{Key: "gcloud", Label: "GCloud", URL: "https://www.gstatic.com/ipranges/cloud.json", ListKey: "prefixes", CIDRKey: "ipv4Prefix"},
	{Key: "aws", Label: "AWS", URL: "https://ip-ranges.amazonaws.com/ip-ranges.json", ListKey: "prefixes", CIDRKey: "ip_prefix"},
	{Key: "ggen", Label: "Google", URL: "https://www.gstatic.com/ipranges/goog.json", ListKey: "prefixes", CIDRKey: "ipv4Prefix"},
	{Key: "canonical", Label: "Canonical"},
	{Key: "suse", Label: "SUSE"},
}

// literalSeeds pre-populate sets that have no fetch endpoint.
var literalSeeds = map[string][]string{
	"canonical": {"185.125.188.0/22", "91.189.88.0/21"},
	"suse":      {"195.135.223.0/24"},
}

// Allowlist holds the exclusion CIDR sets. Reason is called on the batch
// path; fetches happen rarely and take the write lock.
type Allowlist struct {
	mu        sync.RWMutex
	sources   []allowSource
	sets      map[string][]netip.Prefix
	lastFetch map[string]time.Time
	client    *http.Client
}

// NewAllowlist builds an allow-list with the default sources and literal
// seeds. Remote sets start empty until Refresh succeeds.
func NewAllowlist() *Allowlist {
	a := &Allowlist{
		sources:   defaultSources,
		sets:      make(map[string][]netip.Prefix),
		lastFetch: make(map[string]time.Time),
		client:    &http.Client{Timeout: 8 * time.Second},
	}
	for key, cidrs := range literalSeeds {
		for _, c := range cidrs {
			if p, err := netip.ParsePrefix(c); err == nil {
				a.sets[key] = append(a.sets[key], p)
			}
		}
	}
	return a
}

// Reason tests saddr then daddr against the metadata literal and each CIDR
// set in order. The first match wins; "" means no exclusion applies.
func (a *Allowlist) Reason(saddr, daddr string) string {
	if saddr == metadataIP || daddr == metadataIP {
		return "Meta"
	}
	sip, serr := netip.ParseAddr(saddr)
	dip, derr := netip.ParseAddr(daddr)
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, src := range a.sources {
		for _, p := range a.sets[src.Key] {
			if serr == nil && p.Contains(sip) {
				return src.Label
			}
			if derr == nil && p.Contains(dip) {
				return src.Label
			}
		}
	}
	return ""
}

// Refresh re-fetches every remote set that is due (older than the refresh
// interval). A failed fetch logs a warning and leaves the previous list
// intact.
func (a *Allowlist) Refresh(ctx context.Context) {
	for _, src := range a.sources {
		if src.URL == "" {
			continue
		}
		a.mu.RLock()
		due := time.Since(a.lastFetch[src.Key]) >= refreshInterval
		a.mu.RUnlock()
		if !due {
			continue
		}
		prefixes, err := a.fetch(ctx, src)
		if err != nil {
			log.WithError(err).WithField("set", src.Key).Warn("allow-list fetch failed; keeping previous list")
			continue
		}
		a.mu.Lock()
		a.sets[src.Key] = prefixes
		a.lastFetch[src.Key] = time.Now()
		a.mu.Unlock()
		log.WithFields(log.Fields{"set": src.Key, "prefixes": len(prefixes)}).Info("allow-list refreshed")
	}
}

func (a *Allowlist) fetch(ctx context.Context, src allowSource) ([]netip.Prefix, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s from %s", resp.Status, src.URL)
	}
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	var entries []map[string]string
	if err := json.Unmarshal(doc[src.ListKey], &entries); err != nil {
		return nil, fmt.Errorf("field %q in %s: %w", src.ListKey, src.URL, err)
	}
	var out []netip.Prefix
	for _, e := range entries {
		cidr, ok := e[src.CIDRKey]
		if !ok {
			continue
		}
		p, err := netip.ParsePrefix(cidr)
		if err != nil || !p.Addr().Is4() {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SetOverride replaces one set's prefixes. Intended for tests and for
// operators pre-seeding from a file.
func (a *Allowlist) SetOverride(key string, cidrs []string) {
	var prefixes []netip.Prefix
	for _, c := range cidrs {
		if p, err := netip.ParsePrefix(c); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	a.mu.Lock()
	a.sets[key] = prefixes
	a.lastFetch[key] = time.Now()
	a.mu.Unlock()
}
