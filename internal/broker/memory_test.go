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

package broker

import (
	"context"
	"testing"
	"time"
)

func TestMemQueueFIFO(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		if err := q.Push(ctx, []byte(s)); err != nil {
			t.Fatal(err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("popped %q, want %q", got, want)
		}
	}
	if _, err := q.Pop(ctx); err != ErrEmpty {
		t.Errorf("empty pop returned %v, want ErrEmpty", err)
	}
}

func TestMemQueuePushCopies(t *testing.T) {
	q := NewMemQueue()
	buf := []byte("original")
	q.Push(context.Background(), buf)
	copy(buf, "mutated!")
	got, _ := q.Pop(context.Background())
	if string(got) != "original" {
		t.Errorf("queued payload aliased the caller's buffer: %q", got)
	}
}

func TestMemQueueBPopTimeout(t *testing.T) {
	q := NewMemQueue()
	start := time.Now()
	_, err := q.BPop(context.Background(), 20*time.Millisecond)
	if err != ErrEmpty {
		t.Fatalf("BPop on empty queue returned %v, want ErrEmpty", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("BPop returned before the timeout")
	}
}

func TestMemQueueBPopWakes(t *testing.T) {
	q := NewMemQueue()
	done := make(chan []byte, 1)
	go func() {
		v, err := q.BPop(context.Background(), 2*time.Second)
		if err != nil {
			done <- nil
			return
		}
		done <- v
	}()
	time.Sleep(10 * time.Millisecond)
	q.Push(context.Background(), []byte("hello"))
	select {
	case v := <-done:
		if string(v) != "hello" {
			t.Errorf("BPop returned %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("BPop never woke after a push")
	}
}

func TestMemQueueBPopContextCancel(t *testing.T) {
	q := NewMemQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.BPop(ctx, time.Minute)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("BPop returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("BPop ignored cancellation")
	}
}
