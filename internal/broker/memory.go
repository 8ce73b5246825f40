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
	"sync"
	"time"
)

// MemQueue is an in-process Queue used by tests and demos so the pipeline can
// run without a real Redis. It mirrors list semantics: Push appends, Pop and
// BPop take the head.
type MemQueue struct {
	mu    sync.Mutex
	items [][]byte
	wake  chan struct{}
}

// NewMemQueue creates an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{wake: make(chan struct{}, 1)}
}

func (q *MemQueue) Push(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	q.items = append(q.items, cp)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemQueue) Pop(ctx context.Context) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, ErrEmpty
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, nil
}

func (q *MemQueue) BPop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if v, err := q.Pop(ctx); err == nil {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrEmpty
		case <-q.wake:
		}
	}
}

// Len reports the number of queued messages.
func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
