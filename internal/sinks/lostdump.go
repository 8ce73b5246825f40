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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// LostDump mirrors the engine's unmatched-record caches on disk. Both files
// are rewritten in full on every cache mutation so they always reflect the
// current cache contents; evicted records therefore survive for post-mortem
// in the last dump that contained them.
type LostDump struct {
	flowPath  string
	protoPath string
}

// NewLostDump prepares <dir>/perdidos/<runStamp>/{argus.log, zeek.log}.
func NewLostDump(dir, runStamp string) (*LostDump, error) {
	sub := filepath.Join(dir, "perdidos", runStamp)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", sub, err)
	}
	return &LostDump{
		flowPath:  filepath.Join(sub, "argus.log"),
		protoPath: filepath.Join(sub, "zeek.log"),
	}, nil
}

// Rewrite truncates and rewrites both logs with the given raw payloads,
// oldest first.
func (d *LostDump) Rewrite(flowRecs, protoRecs [][]byte) error {
	if err := rewriteFile(d.flowPath, flowRecs); err != nil {
		return err
	}
	return rewriteFile(d.protoPath, protoRecs)
}

func rewriteFile(path string, recs [][]byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, r := range recs {
		w.Write(r)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
