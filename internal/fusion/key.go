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

package fusion

import "strings"

// FlowKey identifies "the same flow" across the two streams. ICMP flows key
// on the 3-tuple only, so both ports are pinned to 0 and any port the
// exporter reports is ignored. The type is comparable and used as a map key.
type FlowKey struct {
	Proto string
	Saddr string
	Sport int
	Daddr string
	Dport int
}

// addrKey is the 4-tuple the HTTP-method and FTP-command counters hang off.
type addrKey struct {
	Saddr string
	Sport int
	Daddr string
	Dport int
}

// KeyFromFlow builds the composite key for a flow record.
func KeyFromFlow(f *FlowRecord) FlowKey {
	proto := strings.ToLower(f.Proto)
	if proto == "icmp" {
		return FlowKey{Proto: proto, Saddr: f.Saddr, Daddr: f.Daddr}
	}
	return FlowKey{
		Proto: proto,
		Saddr: f.Saddr,
		Sport: int(f.Sport),
		Daddr: f.Daddr,
		Dport: int(f.Dport),
	}
}

// KeyFromProto builds the composite key for a protocol record. HTTP and FTP
// logs ride TCP by definition, whatever the record claims.
func KeyFromProto(z *ProtoRecord) FlowKey {
	kind := strings.ToLower(z.LogKind)
	var proto string
	if kind == KindHTTP || kind == KindFTP {
		proto = "tcp"
	} else {
		proto = strings.ToLower(z.Proto)
	}
	if proto == "icmp" {
		return FlowKey{Proto: proto, Saddr: z.OrigH, Daddr: z.RespH}
	}
	return FlowKey{
		Proto: proto,
		Saddr: z.OrigH,
		Sport: int(z.OrigP),
		Daddr: z.RespH,
		Dport: int(z.RespP),
	}
}

func (k FlowKey) addr() addrKey {
	return addrKey{Saddr: k.Saddr, Sport: k.Sport, Daddr: k.Daddr, Dport: k.Dport}
}

// verbCounter counts HTTP methods or FTP commands per 4-tuple. Each distinct
// verb has its own monotonically increasing counter; Total sums them for the
// ct_flw_http_mthd / ct_ftp_cmd columns.
type verbCounter struct {
	byVerb map[verbKey]int
	totals map[addrKey]int
}

type verbKey struct {
	addr addrKey
	verb string
}

func newVerbCounter() *verbCounter {
	return &verbCounter{
		byVerb: make(map[verbKey]int),
		totals: make(map[addrKey]int),
	}
}

// Inc records one sighting of verb on the given 4-tuple. Verbs are folded to
// upper case so "get" and "GET" land in the same bucket.
func (c *verbCounter) Inc(a addrKey, verb string) {
	c.byVerb[verbKey{addr: a, verb: strings.ToUpper(verb)}]++
	c.totals[a]++
}

// Total reports the number of sightings across all verbs for the 4-tuple.
func (c *verbCounter) Total(a addrKey) int { return c.totals[a] }
