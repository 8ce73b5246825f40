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

// Package fusion correlates flow records (Argus-style) with protocol records
// (Zeek-style conn/http/ftp logs), derives connection-history features over a
// bounded window of recently fused records, and republishes each fused record
// as a CSV line for the downstream detector.
package fusion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Port is a TCP/UDP port that tolerates the shapes seen on the wire:
// JSON numbers, decimal strings, hex strings ("0x01bb"), and null.
// Anything unparseable collapses to 0.
type Port int

func (p *Port) UnmarshalJSON(b []byte) error {
	*p = Port(CastPort(scalarText(b)))
	return nil
}

func (p Port) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(p))), nil
}

// CastPort normalises a port value: empty/null → 0, "0x…" parsed base 16,
// otherwise base 10; unparseable → 0.
func CastPort(s string) int {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return 0
	}
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		if v, err := strconv.ParseInt(s[2:], 16, 64); err == nil {
			return int(v)
		}
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(v)
	}
	return 0
}

// UnixSeconds is an epoch timestamp coerced to whole seconds on ingest.
// It accepts JSON numbers, decimal strings, and ISO-8601-like strings.
// An unparseable timestamp is an error: the record carrying it is skipped.
type UnixSeconds int64

// timeLayouts are tried, in order, when a timestamp is not numeric.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02T15:04:05.999999999",
}

func (u *UnixSeconds) UnmarshalJSON(b []byte) error {
	s := scalarText(b)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	f, err := ToEpoch(s)
	if err != nil {
		return err
	}
	// Round half away from zero, matching int(round(x)).
	if f >= 0 {
		*u = UnixSeconds(int64(f + 0.5))
	} else {
		*u = UnixSeconds(int64(f - 0.5))
	}
	return nil
}

func (u UnixSeconds) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(u), 10)), nil
}

// ToEpoch converts a timestamp string to float epoch seconds. Numeric text is
// taken at face value; otherwise the known date layouts are tried.
func ToEpoch(s string) (float64, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixNano()) / float64(time.Second), nil
		}
	}
	return 0, fmt.Errorf("cannot interpret %q as a timestamp", s)
}

// FlexInt is an integer field that silently falls back to 0 when the wire
// value is missing, a string, a float, or garbage.
type FlexInt int64

func (x *FlexInt) UnmarshalJSON(b []byte) error {
	s := scalarText(b)
	if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		*x = FlexInt(v)
		return nil
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		*x = FlexInt(int64(f))
		return nil
	}
	*x = 0
	return nil
}

func (x FlexInt) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(x), 10)), nil
}

// FlexString carries a wire scalar as its textual form. The flow adapter
// produces strings, but protocol records may carry raw numbers or booleans;
// either way the value round-trips as text.
type FlexString string

func (x *FlexString) UnmarshalJSON(b []byte) error {
	*x = FlexString(scalarText(b))
	return nil
}

func (x FlexString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(x))
}

// scalarText returns the bare text of a JSON scalar: quoted strings are
// unquoted, everything else is the literal token ("null" included).
func scalarText(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			return s
		}
	}
	return string(b)
}

// FlowRecord is one Argus-style flow observation as published on the flow
// queue. Statistic columns stay textual; only the correlation fields and the
// two timestamps are given structure.
type FlowRecord struct {
	Stime   UnixSeconds `json:"stime"`
	Ltime   UnixSeconds `json:"ltime"`
	Proto   string      `json:"proto"`
	Saddr   string      `json:"saddr"`
	Sport   Port        `json:"sport"`
	Daddr   string      `json:"daddr"`
	Dport   Port        `json:"dport"`
	State   FlexString  `json:"state"`
	Dur     FlexString  `json:"dur"`
	Sbytes  FlexString  `json:"sbytes"`
	Dbytes  FlexString  `json:"dbytes"`
	Sttl    FlexString  `json:"sttl"`
	Dttl    FlexString  `json:"dttl"`
	Sloss   FlexString  `json:"sloss"`
	Dloss   FlexString  `json:"dloss"`
	Sload   FlexString  `json:"sload"`
	Dload   FlexString  `json:"dload"`
	Spkts   FlexString  `json:"spkts"`
	Dpkts   FlexString  `json:"dpkts"`
	Stcpb   FlexString  `json:"stcpb"`
	Dtcpb   FlexString  `json:"dtcpb"`
	Smeansz FlexString  `json:"smeansz"`
	Dmeansz FlexString  `json:"dmeansz"`
	Sjit    FlexString  `json:"sjit"`
	Djit    FlexString  `json:"djit"`
	Sintpkt FlexString  `json:"sintpkt"`
	Dintpkt FlexString  `json:"dintpkt"`
	Tcprtt  FlexString  `json:"tcprtt"`
	Synack  FlexString  `json:"synack"`
	Ackdat  FlexString  `json:"ackdat"`
}

// Protocol log kinds stamped by the zeek adapter.
const (
	KindConn = "conn"
	KindHTTP = "http"
	KindFTP  = "ftp"
)

// ProtoRecord is one Zeek-style protocol observation. Only the fields the
// engine acts on are decoded; the raw payload is kept separately for the
// protocol append log.
type ProtoRecord struct {
	LogKind     string     `json:"log_kind"`
	Proto       string     `json:"proto"`
	OrigH       string     `json:"id.orig_h"`
	OrigP       Port       `json:"id.orig_p"`
	RespH       string     `json:"id.resp_h"`
	RespP       Port       `json:"id.resp_p"`
	Service     string     `json:"service"`
	TransDepth  FlexInt    `json:"trans_depth"`
	RespBodyLen FlexInt    `json:"response_body_len"`
	Method      string     `json:"method"`
	User        FlexString `json:"user"`
	Password    FlexString `json:"password"`
	Command     FlexString `json:"command"`
}

// FusedRecord is the canonical fused output. Field order here IS the merge
// log column order; encoding/json preserves struct order, so do not reorder.
type FusedRecord struct {
	Saddr         string      `json:"saddr"`
	Sport         int         `json:"sport"`
	Daddr         string      `json:"daddr"`
	Dport         int         `json:"dport"`
	Proto         string      `json:"proto"`
	State         FlexString  `json:"state"`
	Dur           FlexString  `json:"dur"`
	Sbytes        FlexString  `json:"sbytes"`
	Dbytes        FlexString  `json:"dbytes"`
	Sttl          FlexString  `json:"sttl"`
	Dttl          FlexString  `json:"dttl"`
	Sloss         FlexString  `json:"sloss"`
	Dloss         FlexString  `json:"dloss"`
	Service       string      `json:"service"`
	Sload         FlexString  `json:"sload"`
	Dload         FlexString  `json:"dload"`
	Spkts         FlexString  `json:"spkts"`
	Dpkts         FlexString  `json:"dpkts"`
	Stcpb         FlexString  `json:"stcpb"`
	Dtcpb         FlexString  `json:"dtcpb"`
	Smeansz       FlexString  `json:"smeansz"`
	Dmeansz       FlexString  `json:"dmeansz"`
	TransDepth    int64       `json:"trans_depth"`
	RespBodyLen   int64       `json:"response_body_len"`
	Sjit          FlexString  `json:"sjit"`
	Djit          FlexString  `json:"djit"`
	Stime         UnixSeconds `json:"stime"`
	Ltime         UnixSeconds `json:"ltime"`
	Sintpkt       FlexString  `json:"sintpkt"`
	Dintpkt       FlexString  `json:"dintpkt"`
	Tcprtt        FlexString  `json:"tcprtt"`
	Synack        FlexString  `json:"synack"`
	Ackdat        FlexString  `json:"ackdat"`
	IsSmIpsPorts  int         `json:"is_sm_ips_ports"`
	CtFlwHTTPMthd int         `json:"ct_flw_http_mthd"`
	IsFtpLogin    int         `json:"is_ftp_login"`
	CtFtpCmd      int         `json:"ct_ftp_cmd"`
	CtSrvSrc      int         `json:"ct_srv_src"`
	CtSrvDst      int         `json:"ct_srv_dst"`
	CtDstLtm      int         `json:"ct_dst_ltm"`
	CtSrcLtm      int         `json:"ct_src_ltm"`
	CtSrcDportLtm int         `json:"ct_src_dport_ltm"`
	CtDstSportLtm int         `json:"ct_dst_sport_ltm"`
	CtDstSrcLtm   int         `json:"ct_dst_src_ltm"`
}

// ScoringColumns is the exact CSV column order published on the scoring
// queue. The detector indexes into CSV lines by these names; the order is
// byte-stable and must not change.
var ScoringColumns = []string{
	"stime", "proto", "saddr", "sport", "daddr", "dport", "state", "ltime",
	"spkts", "dpkts", "sbytes", "dbytes", "sttl", "dttl", "sload", "dload",
	"sloss", "dloss", "sintpkt", "dintpkt", "sjit", "djit", "stcpb", "dtcpb",
	"tcprtt", "synack", "ackdat", "smeansz", "dmeansz", "dur", "ct_state_ttl",
	"ct_flw_http_mthd", "is_ftp_login", "ct_ftp_cmd", "ct_srv_src",
	"ct_srv_dst", "ct_dst_ltm", "ct_src_ltm", "ct_src_dport_ltm",
	"ct_dst_sport_ltm", "ct_dst_src_ltm",
}

// fusedFromFlow copies every flow field into a fresh fused record, normalises
// the ports, and applies the shared defaults: HTTP/FTP fields zeroed and
// service "-" until a protocol partner says otherwise.
func fusedFromFlow(f *FlowRecord) *FusedRecord {
	m := &FusedRecord{
		Saddr:   f.Saddr,
		Sport:   int(f.Sport),
		Daddr:   f.Daddr,
		Dport:   int(f.Dport),
		Proto:   f.Proto,
		State:   f.State,
		Dur:     f.Dur,
		Sbytes:  f.Sbytes,
		Dbytes:  f.Dbytes,
		Sttl:    f.Sttl,
		Dttl:    f.Dttl,
		Sloss:   f.Sloss,
		Dloss:   f.Dloss,
		Service: "-",
		Sload:   f.Sload,
		Dload:   f.Dload,
		Spkts:   f.Spkts,
		Dpkts:   f.Dpkts,
		Stcpb:   f.Stcpb,
		Dtcpb:   f.Dtcpb,
		Smeansz: f.Smeansz,
		Dmeansz: f.Dmeansz,
		Sjit:    f.Sjit,
		Djit:    f.Djit,
		Stime:   f.Stime,
		Ltime:   f.Ltime,
		Sintpkt: f.Sintpkt,
		Dintpkt: f.Dintpkt,
		Tcprtt:  f.Tcprtt,
		Synack:  f.Synack,
		Ackdat:  f.Ackdat,
	}
	if f.Saddr == f.Daddr && int(f.Sport) == int(f.Dport) {
		m.IsSmIpsPorts = 1
	}
	return m
}

// CSVLine renders the record in the scoring queue column order.
// ct_state_ttl is not derived by the engine and is emitted as 0.
func (m *FusedRecord) CSVLine() string {
	var b strings.Builder
	itoa := strconv.Itoa
	cols := []string{
		itoa64(int64(m.Stime)), m.Proto, m.Saddr, itoa(m.Sport), m.Daddr,
		itoa(m.Dport), string(m.State), itoa64(int64(m.Ltime)),
		string(m.Spkts), string(m.Dpkts), string(m.Sbytes), string(m.Dbytes),
		string(m.Sttl), string(m.Dttl), string(m.Sload), string(m.Dload),
		string(m.Sloss), string(m.Dloss), string(m.Sintpkt), string(m.Dintpkt),
		string(m.Sjit), string(m.Djit), string(m.Stcpb), string(m.Dtcpb),
		string(m.Tcprtt), string(m.Synack), string(m.Ackdat),
		string(m.Smeansz), string(m.Dmeansz), string(m.Dur),
		"0", // ct_state_ttl
		itoa(m.CtFlwHTTPMthd), itoa(m.IsFtpLogin), itoa(m.CtFtpCmd),
		itoa(m.CtSrvSrc), itoa(m.CtSrvDst), itoa(m.CtDstLtm), itoa(m.CtSrcLtm),
		itoa(m.CtSrcDportLtm), itoa(m.CtDstSportLtm), itoa(m.CtDstSrcLtm),
	}
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(c)
	}
	return b.String()
}

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }
