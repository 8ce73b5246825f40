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
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"
)

func TestAllowlistMetadataFirst(t *testing.T) {
	a := NewAllowlist()
	if got := a.Reason("169.254.169.254", "10.0.0.1"); got != "Meta" {
		t.Errorf("metadata saddr reason = %q, want Meta", got)
	}
	if got := a.Reason("10.0.0.1", "169.254.169.254"); got != "Meta" {
		t.Errorf("metadata daddr reason = %q, want Meta", got)
	}
}

func TestAllowlistLiteralSeeds(t *testing.T) {
	a := NewAllowlist()
	// 185.125.188.0/22 is a seeded Canonical range.
	if got := a.Reason("185.125.190.10", "10.0.0.1"); got != "Canonical" {
		t.Errorf("reason = %q, want Canonical", got)
	}
	if got := a.Reason("10.0.0.1", "195.135.223.5"); got != "SUSE" {
		t.Errorf("reason = %q, want SUSE", got)
	}
	if got := a.Reason("10.0.0.1", "10.0.0.2"); got != "" {
		t.Errorf("private traffic excluded with %q", got)
	}
}

func TestAllowlistFirstMatchWins(t *testing.T) {
	a := NewAllowlist()
	// Put the same range in an earlier and a later set; the earlier set's
	// label must be reported.
	a.SetOverride("gcloud", []string{"203.0.113.0/24"})
	a.SetOverride("suse", []string{"203.0.113.0/24"})
	if got := a.Reason("203.0.113.7", "10.0.0.1"); got != "GCloud" {
		t.Errorf("reason = %q, want GCloud (tested first)", got)
	}
}

func TestAllowlistUnparseableAddrs(t *testing.T) {
	a := NewAllowlist()
	if got := a.Reason("not-an-ip", "also-bad"); got != "" {
		t.Errorf("garbage addresses matched %q", got)
	}
}

func TestAllowlistRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prefixes":[
			{"ipv4Prefix":"198.51.100.0/24"},
			{"ipv6Prefix":"2001:db8::/32"},
			{"other":"x"}
		]}`))
	}))
	defer srv.Close()

	a := &Allowlist{
		sources: []allowSource{
			{Key: "x", Label: "X", URL: srv.URL, ListKey: "prefixes", CIDRKey: "ipv4Prefix"},
		},
		sets:      make(map[string][]netip.Prefix),
		lastFetch: make(map[string]time.Time),
		client:    srv.Client(),
	}
	a.Refresh(context.Background())
	if got := a.Reason("198.51.100.9", "10.0.0.1"); got != "X" {
		t.Errorf("reason after refresh = %q, want X", got)
	}
	if len(a.sets["x"]) != 1 {
		t.Errorf("set holds %d prefixes, want 1 (IPv4 only)", len(a.sets["x"]))
	}
}

func TestAllowlistRefreshFailureKeepsPrevious(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := &Allowlist{
		sources: []allowSource{
			{Key: "x", Label: "X", URL: srv.URL, ListKey: "prefixes", CIDRKey: "ipv4Prefix"},
		},
		sets:      map[string][]netip.Prefix{"x": {netip.MustParsePrefix("198.51.100.0/24")}},
		lastFetch: make(map[string]time.Time),
		client:    srv.Client(),
	}
	a.Refresh(context.Background())
	if got := a.Reason("198.51.100.9", "10.0.0.1"); got != "X" {
		t.Errorf("failed refresh must keep the previous list, got %q", got)
	}
}

func TestAllowlistRefreshHonorsInterval(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"prefixes":[]}`))
	}))
	defer srv.Close()

	a := &Allowlist{
		sources: []allowSource{
			{Key: "x", Label: "X", URL: srv.URL, ListKey: "prefixes", CIDRKey: "ipv4Prefix"},
		},
		sets:      make(map[string][]netip.Prefix),
		lastFetch: make(map[string]time.Time),
		client:    srv.Client(),
	}
	a.Refresh(context.Background())
	a.Refresh(context.Background())
	if calls != 1 {
		t.Errorf("fetched %d times, want 1 within the refresh interval", calls)
	}
}
