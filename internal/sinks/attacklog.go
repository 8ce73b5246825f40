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
	"fmt"
	"os"
	"sync"
)

// AttackLog is the append-only log of flows classified as attacks and not
// covered by an allow-list. One line per flow: "saddr:sport -> daddr:dport".
type AttackLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenAttackLog opens (or creates) the attack log at path.
func OpenAttackLog(path string) (*AttackLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open attack log %s: %w", path, err)
	}
	return &AttackLog{f: f}, nil
}

// Record appends one attack line.
func (a *AttackLog) Record(saddr, sport, daddr, dport string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := fmt.Fprintf(a.f, "%s:%s -> %s:%s\n", saddr, sport, daddr, dport)
	return err
}

// Close closes the log file.
func (a *AttackLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}
