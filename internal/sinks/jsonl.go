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

// Package sinks holds the durability sidecars: per-run JSONL append logs for
// the raw flow, protocol, and fused streams, the rewritten lost-record dumps,
// and the append-only attack log.
package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLSink is a line-oriented append log. Every append is flushed to the OS
// so a crash loses at most the line being written; when fsyncEach is set each
// line is also synced to stable storage.
type JSONLSink struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	fsyncEach bool
}

// NewRunLog creates <dir>/<stream>/<runStamp>.jsonl, creating directories as
// needed, and opens it for appending.
func NewRunLog(dir, stream, runStamp string, fsyncEach bool) (*JSONLSink, error) {
	sub := filepath.Join(dir, stream)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", sub, err)
	}
	return OpenJSONL(filepath.Join(sub, runStamp+".jsonl"), fsyncEach)
}

// OpenJSONL opens (or creates) the file at path in append mode.
func OpenJSONL(path string, fsyncEach bool) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &JSONLSink{f: f, path: path, fsyncEach: fsyncEach}, nil
}

// Append writes one line. The payload must be a single JSON document with no
// trailing newline.
func (s *JSONLSink) Append(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", s.path, err)
	}
	if s.fsyncEach {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("fsync %s: %w", s.path, err)
		}
	}
	return nil
}

// AppendJSON marshals v and appends it as one line.
func (s *JSONLSink) AppendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", s.path, err)
	}
	return s.Append(b)
}

// Path returns the log file path.
func (s *JSONLSink) Path() string { return s.path }

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
