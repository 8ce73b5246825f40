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

package adapters

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

// fakePusher collects Add payloads and records whether Flush ran.
type fakePusher struct {
	payloads [][]byte
	flushed  bool
}

func (p *fakePusher) Add(ctx context.Context, payload []byte) error {
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePusher) Flush(ctx context.Context) error {
	p.flushed = true
	return nil
}

func TestParseFieldList(t *testing.T) {
	got := ParseFieldList(" stime, ltime ,proto,, saddr ")
	want := []string{"stime", "ltime", "proto", "saddr"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseFieldList = %v, want %v", got, want)
	}
	if got := ParseFieldList(""); len(got) != 0 {
		t.Errorf("empty list parsed to %v", got)
	}
}

func TestPumpFlowsMapsRows(t *testing.T) {
	in := strings.NewReader("100.5,tcp,10.0.0.1\n200.5,udp,10.0.0.2\n")
	push := &fakePusher{}
	fields := []string{"stime", "proto", "saddr"}
	if err := PumpFlows(context.Background(), in, fields, false, push); err != nil {
		t.Fatal(err)
	}
	if len(push.payloads) != 2 {
		t.Fatalf("pushed %d records, want 2", len(push.payloads))
	}
	if !push.flushed {
		t.Error("pusher must be flushed before returning")
	}
	var rec map[string]string
	if err := json.Unmarshal(push.payloads[0], &rec); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"stime": "100.5", "proto": "tcp", "saddr": "10.0.0.1"}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("record = %v, want %v", rec, want)
	}
}

func TestPumpFlowsSkipFirst(t *testing.T) {
	in := strings.NewReader("stime,proto,saddr\n100,tcp,10.0.0.1\n")
	push := &fakePusher{}
	if err := PumpFlows(context.Background(), in, []string{"stime", "proto", "saddr"}, true, push); err != nil {
		t.Fatal(err)
	}
	if len(push.payloads) != 1 {
		t.Fatalf("pushed %d records, want 1 (header skipped)", len(push.payloads))
	}
	var rec map[string]string
	json.Unmarshal(push.payloads[0], &rec)
	if rec["stime"] != "100" {
		t.Errorf("first kept record = %v", rec)
	}
}

func TestPumpFlowsShortRow(t *testing.T) {
	in := strings.NewReader("100,tcp\n")
	push := &fakePusher{}
	if err := PumpFlows(context.Background(), in, []string{"stime", "proto", "saddr"}, false, push); err != nil {
		t.Fatal(err)
	}
	var rec map[string]string
	json.Unmarshal(push.payloads[0], &rec)
	if rec["saddr"] != "" {
		t.Errorf("missing trailing column should map to empty, got %q", rec["saddr"])
	}
}

func TestPumpFlowsNoFields(t *testing.T) {
	if err := PumpFlows(context.Background(), strings.NewReader(""), nil, false, &fakePusher{}); err == nil {
		t.Error("expected error with no field names")
	}
}
