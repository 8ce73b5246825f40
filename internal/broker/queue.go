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

// Package broker wraps the shared message bus the pipeline components talk
// through. The bus is a set of Redis lists: adapters RPUSH, the fusion engine
// LPOPs, and the detector BRPOPs. Components depend on the Queue interface so
// tests (and demos) can run against the in-memory implementation.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Pop and BPop when no message is available.
var ErrEmpty = errors.New("broker: queue empty")

// Queue is one named FIFO on the bus.
type Queue interface {
	// Push appends a message at the tail.
	Push(ctx context.Context, payload []byte) error
	// Pop removes the head without blocking; ErrEmpty when there is none.
	Pop(ctx context.Context) ([]byte, error)
	// BPop removes the head, blocking up to timeout; ErrEmpty on timeout.
	BPop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// BatchPusher coalesces pushes and flushes them in one round trip once the
// batch threshold is reached. Callers must Flush before shutdown.
type BatchPusher interface {
	Add(ctx context.Context, payload []byte) error
	Flush(ctx context.Context) error
}
