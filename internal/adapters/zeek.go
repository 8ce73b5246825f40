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
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"idsfuse/internal/broker"
)

// LogTargets maps the watched file names to the log kind stamped into each
// record.
var LogTargets = map[string]string{
	"conn.log": "conn",
	"http.log": "http",
	"ftp.log":  "ftp",
}

const (
	followPollInterval = 200 * time.Millisecond
	watchPollInterval  = 500 * time.Millisecond
)

// WatchZeekDir waits for each target log file to appear under dir and starts
// one follower per file. File appearance is detected with fsnotify, with a
// polling fallback for files that predate the watch. Blocks until ctx is
// cancelled and all followers have drained.
func WatchZeekDir(ctx context.Context, dir string, queue broker.Queue) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var wg sync.WaitGroup
	started := make(map[string]bool, len(LogTargets))
	startIfTarget := func(name string) {
		kind, ok := LogTargets[name]
		if !ok || started[name] {
			return
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return
		}
		started[name] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			FollowLog(ctx, path, kind, queue)
		}()
		log.WithFields(log.Fields{"path": path, "kind": kind}).Info("follower started")
	}

	for name := range LogTargets {
		startIfTarget(name)
	}
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()
	for len(started) < len(LogTargets) {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case ev := <-watcher.Events:
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				startIfTarget(filepath.Base(ev.Name))
			}
		case err := <-watcher.Errors:
			log.WithError(err).Warn("directory watch")
		case <-ticker.C:
			for name := range LogTargets {
				startIfTarget(name)
			}
		}
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// FollowLog tails path from its current end, pushing each decoded line to the
// queue with log_kind stamped. Rotation is detected by comparing the open
// file against whatever the path now points to, tail -F style: on rotation
// the new file is read from the beginning.
func FollowLog(ctx context.Context, path, kind string, queue broker.Queue) {
	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("follower open failed")
		return
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		log.WithError(err).WithField("path", path).Warn("follower seek failed")
	}
	reader := bufio.NewReader(f)
	defer func() { f.Close() }()

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := reader.ReadString('\n')
		if err == nil {
			emitLine(ctx, strings.TrimRight(line, "\n"), kind, queue)
			continue
		}
		if err != io.EOF {
			log.WithError(err).WithField("path", path).Warn("follower read")
			return
		}
		// At EOF: hold a partial line in the reader and wait for more, or
		// reopen if the file was rotated out from under us.
		if line != "" {
			// Partial line without newline; push it back by re-reading after
			// the file grows. bufio cannot unread, so buffer it ourselves.
			if rotated, nf := reopenIfRotated(f, path); rotated {
				emitLine(ctx, strings.TrimRight(line, "\n"), kind, queue)
				f.Close()
				f = nf
				reader = bufio.NewReader(f)
				continue
			}
			rest, more := waitForLineEnd(ctx, reader)
			emitLine(ctx, line+rest, kind, queue)
			if !more {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(followPollInterval):
		}
		if rotated, nf := reopenIfRotated(f, path); rotated {
			f.Close()
			f = nf
			reader = bufio.NewReader(f)
		}
	}
}

// reopenIfRotated reports whether path now names a different file than f and,
// if so, returns the freshly opened replacement (positioned at the start).
func reopenIfRotated(f *os.File, path string) (bool, *os.File) {
	cur, err := f.Stat()
	if err != nil {
		return false, nil
	}
	onDisk, err := os.Stat(path)
	if err != nil {
		// Rotation in progress; the new file will appear shortly.
		return false, nil
	}
	if os.SameFile(cur, onDisk) {
		return false, nil
	}
	nf, err := os.Open(path)
	if err != nil {
		return false, nil
	}
	return true, nf
}

// waitForLineEnd keeps reading until the held partial line terminates.
func waitForLineEnd(ctx context.Context, reader *bufio.Reader) (string, bool) {
	var b strings.Builder
	for {
		if ctx.Err() != nil {
			return b.String(), false
		}
		chunk, err := reader.ReadString('\n')
		b.WriteString(strings.TrimRight(chunk, "\n"))
		if err == nil {
			return b.String(), true
		}
		select {
		case <-ctx.Done():
			return b.String(), false
		case <-time.After(followPollInterval):
		}
	}
}

// emitLine decodes one log line, stamps the kind, and pushes it. Comments and
// blanks are ignored; malformed JSON is logged at debug level and skipped.
func emitLine(ctx context.Context, line, kind string, queue broker.Queue) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		log.WithField("kind", kind).Debugf("invalid JSON line: %.120s", line)
		return
	}
	rec["log_kind"] = kind
	payload, err := json.Marshal(rec)
	if err != nil {
		log.WithError(err).WithField("kind", kind).Debug("re-encode failed")
		return
	}
	if err := queue.Push(ctx, payload); err != nil {
		log.WithError(err).WithField("kind", kind).Warn("protocol queue push")
	}
}
