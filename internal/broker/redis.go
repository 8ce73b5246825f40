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
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Default queue names on the bus.
const (
	FlowQueue    = "argus_data_stream"
	ProtoQueue   = "zeek_data_stream"
	ScoringQueue = "merge_data_stream"
)

// RedisBus holds one connection to the Redis broker and hands out queues.
type RedisBus struct {
	c *redis.Client
}

// Dial connects to the broker at addr ("host:port") and verifies it with a
// PING. An unreachable broker is fatal to every component, so callers treat
// an error here as terminal.
func Dial(ctx context.Context, addr string) (*RedisBus, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisBus{c: c}, nil
}

// Queue returns the named list as a Queue.
func (b *RedisBus) Queue(name string) Queue {
	return &redisQueue{c: b.c, name: name}
}

// BatchPusher returns a pipelined pusher for the named list. size is the
// flush threshold (500 when <= 0, matching the flow adapter's batching).
func (b *RedisBus) BatchPusher(name string, size int) BatchPusher {
	if size <= 0 {
		size = 500
	}
	return &redisBatchPusher{c: b.c, name: name, size: size, pipe: b.c.Pipeline()}
}

// Close releases the underlying client.
func (b *RedisBus) Close() error { return b.c.Close() }

type redisQueue struct {
	c    *redis.Client
	name string
}

func (q *redisQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.c.RPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.name, err)
	}
	return nil
}

func (q *redisQueue) Pop(ctx context.Context) ([]byte, error) {
	v, err := q.c.LPop(ctx, q.name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("lpop %s: %w", q.name, err)
	}
	return v, nil
}

func (q *redisQueue) BPop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	// Producers RPUSH, so BLPOP preserves FIFO order.
	kv, err := q.c.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("blpop %s: %w", q.name, err)
	}
	if len(kv) < 2 {
		return nil, ErrEmpty
	}
	return []byte(kv[1]), nil
}

type redisBatchPusher struct {
	c    *redis.Client
	name string
	size int
	pipe redis.Pipeliner
	n    int
}

func (p *redisBatchPusher) Add(ctx context.Context, payload []byte) error {
	p.pipe.RPush(ctx, p.name, payload)
	p.n++
	if p.n >= p.size {
		return p.Flush(ctx)
	}
	return nil
}

func (p *redisBatchPusher) Flush(ctx context.Context) error {
	if p.n == 0 {
		return nil
	}
	p.n = 0
	if _, err := p.pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec %s: %w", p.name, err)
	}
	return nil
}
