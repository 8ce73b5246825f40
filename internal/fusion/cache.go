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

// cacheEntry pairs a composite key with the decoded record awaiting its
// partner and the raw payload it arrived as (for the lost-record dumps).
type cacheEntry[T any] struct {
	key FlowKey
	rec T
	raw []byte
}

// Cache is a bounded FIFO of records waiting for a partner on the other
// stream. The oldest entry is evicted when capacity is exceeded, and lookups
// always resolve to the oldest matching entry.
//
// It is owned exclusively by the engine goroutine; no locking.
type Cache[T any] struct {
	entries []cacheEntry[T]
	cap     int
}

// NewCache creates a cache bounded at capacity entries (min 1).
func NewCache[T any](capacity int) *Cache[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[T]{cap: capacity}
}

// Append adds an entry, evicting the oldest if the cache is full.
// It reports whether an eviction happened.
func (c *Cache[T]) Append(key FlowKey, rec T, raw []byte) bool {
	evicted := false
	if len(c.entries) >= c.cap {
		copy(c.entries, c.entries[1:])
		c.entries = c.entries[:len(c.entries)-1]
		evicted = true
	}
	c.entries = append(c.entries, cacheEntry[T]{key: key, rec: rec, raw: raw})
	return evicted
}

// Find returns the index of the oldest entry with an equal key, or -1.
func (c *Cache[T]) Find(key FlowKey) int {
	for i := range c.entries {
		if c.entries[i].key == key {
			return i
		}
	}
	return -1
}

// At returns the record at index i.
func (c *Cache[T]) At(i int) T { return c.entries[i].rec }

// Remove deletes the entry at index i, preserving order.
func (c *Cache[T]) Remove(i int) {
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
}

// Len reports the number of cached entries.
func (c *Cache[T]) Len() int { return len(c.entries) }

// Raws returns the raw payloads of all entries, oldest first. Used to rewrite
// the lost-record logs so they mirror current cache contents.
func (c *Cache[T]) Raws() [][]byte {
	out := make([][]byte, len(c.entries))
	for i := range c.entries {
		out[i] = c.entries[i].raw
	}
	return out
}
