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

package sinks

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunLogLayoutAndAppend(t *testing.T) {
	dir := t.TempDir()
	s, err := NewRunLog(dir, "merge", "20251001_120000", false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	want := filepath.Join(dir, "merge", "20251001_120000.jsonl")
	if s.Path() != want {
		t.Errorf("path = %s, want %s", s.Path(), want)
	}
	if err := s.Append([]byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendJSON(map[string]int{"b": 2}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "{\"a\":1}\n{\"b\":2}\n" {
		t.Errorf("log contents = %q", b)
	}
}

func TestJSONLReopenAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.jsonl")
	s, err := OpenJSONL(path, true)
	if err != nil {
		t.Fatal(err)
	}
	s.Append([]byte(`1`))
	s.Close()

	s2, err := OpenJSONL(path, false)
	if err != nil {
		t.Fatal(err)
	}
	s2.Append([]byte(`2`))
	s2.Close()

	b, _ := os.ReadFile(path)
	if string(b) != "1\n2\n" {
		t.Errorf("reopen should append, got %q", b)
	}
}

func TestLostDumpRewrite(t *testing.T) {
	dir := t.TempDir()
	d, err := NewLostDump(dir, "run1")
	if err != nil {
		t.Fatal(err)
	}
	flows := [][]byte{[]byte(`{"f":1}`), []byte(`{"f":2}`)}
	protos := [][]byte{[]byte(`{"z":1}`)}
	if err := d.Rewrite(flows, protos); err != nil {
		t.Fatal(err)
	}
	flowPath := filepath.Join(dir, "perdidos", "run1", "argus.log")
	b, err := os.ReadFile(flowPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "{\"f\":1}\n{\"f\":2}\n" {
		t.Errorf("flow dump = %q", b)
	}

	// A second rewrite replaces, never appends.
	if err := d.Rewrite(nil, protos); err != nil {
		t.Fatal(err)
	}
	b, _ = os.ReadFile(flowPath)
	if len(b) != 0 {
		t.Errorf("rewrite with no records should truncate, got %q", b)
	}
	b, _ = os.ReadFile(filepath.Join(dir, "perdidos", "run1", "zeek.log"))
	if string(b) != "{\"z\":1}\n" {
		t.Errorf("proto dump = %q", b)
	}
}

func TestAttackLogFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attacks.log")
	a, err := OpenAttackLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Record("10.0.0.1", "51000", "10.0.0.2", "22"); err != nil {
		t.Fatal(err)
	}
	if err := a.Record("10.0.0.3", "1", "10.0.0.4", "2"); err != nil {
		t.Fatal(err)
	}
	a.Close()

	b, _ := os.ReadFile(path)
	want := "10.0.0.1:51000 -> 10.0.0.2:22\n10.0.0.3:1 -> 10.0.0.4:2\n"
	if string(b) != want {
		t.Errorf("attack log = %q, want %q", b, want)
	}
}
