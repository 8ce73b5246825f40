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
	"os"
	"path/filepath"
	"testing"
	"time"

	"idsfuse/internal/broker"
)

func popWithin(t *testing.T, q *broker.MemQueue, d time.Duration) map[string]any {
	t.Helper()
	payload, err := q.BPop(context.Background(), d)
	if err != nil {
		t.Fatalf("no record within %v", d)
	}
	var rec map[string]any
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.Fatalf("queued payload not JSON: %v", err)
	}
	return rec
}

func TestEmitLineStampsKind(t *testing.T) {
	q := broker.NewMemQueue()
	emitLine(context.Background(), `{"id.orig_h":"10.0.0.1","method":"GET"}`, "http", q)
	rec := popWithin(t, q, time.Second)
	if rec["log_kind"] != "http" {
		t.Errorf("log_kind = %v, want http", rec["log_kind"])
	}
	if rec["method"] != "GET" {
		t.Errorf("payload fields lost: %v", rec)
	}
}

func TestEmitLineSkipsNoise(t *testing.T) {
	q := broker.NewMemQueue()
	emitLine(context.Background(), "", "conn", q)
	emitLine(context.Background(), "   ", "conn", q)
	emitLine(context.Background(), "#separator \\x09", "conn", q)
	emitLine(context.Background(), "not json at all", "conn", q)
	if q.Len() != 0 {
		t.Errorf("noise lines pushed %d records", q.Len())
	}
}

func TestFollowLogTailsNewLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conn.log")
	if err := os.WriteFile(path, []byte(`{"old":true}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	q := broker.NewMemQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		FollowLog(ctx, path, "conn", q)
	}()

	// The follower starts at the end; the pre-existing line must not appear.
	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"uid":"C1","proto":"tcp"}` + "\n")
	f.Close()

	rec := popWithin(t, q, 3*time.Second)
	if rec["uid"] != "C1" {
		t.Errorf("tailed record = %v", rec)
	}
	if rec["old"] == true {
		t.Error("follower replayed the pre-existing line")
	}
	if rec["log_kind"] != "conn" {
		t.Errorf("log_kind = %v, want conn", rec["log_kind"])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not stop on cancellation")
	}
}

func TestFollowLogSurvivesRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "http.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	q := broker.NewMemQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go FollowLog(ctx, path, "http", q)
	time.Sleep(50 * time.Millisecond)

	// Rotate: move the current file aside and write a fresh one.
	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"uid":"C2"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := popWithin(t, q, 3*time.Second)
	if rec["uid"] != "C2" {
		t.Errorf("post-rotation record = %v", rec)
	}
}

func TestWatchZeekDirStartsFollowers(t *testing.T) {
	dir := t.TempDir()
	q := broker.NewMemQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- WatchZeekDir(ctx, dir, q) }()

	// conn.log appears after the watch starts.
	time.Sleep(50 * time.Millisecond)
	path := filepath.Join(dir, "conn.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(700 * time.Millisecond) // follower startup
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"uid":"C3"}` + "\n")
	f.Close()

	rec := popWithin(t, q, 3*time.Second)
	if rec["uid"] != "C3" || rec["log_kind"] != "conn" {
		t.Errorf("watched record = %v", rec)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("WatchZeekDir returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}
