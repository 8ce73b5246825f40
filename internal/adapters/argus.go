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

// Package adapters converts the external observation streams into broker
// messages: Argus-style tabular flow rows from stdin and Zeek-style rotating
// protocol logs from a watched directory.
package adapters

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"idsfuse/internal/broker"
)

// ParseFieldList splits a comma-separated field-name list ("stime,ltime,…")
// into trimmed names.
func ParseFieldList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// PumpFlows reads comma-separated rows from r, maps each row onto the given
// field names, and pushes one JSON object per row through the batch pusher.
// When skipFirst is set the first row (a header) is discarded. Unparseable
// rows are logged and skipped; the pusher is flushed before returning.
func PumpFlows(ctx context.Context, r io.Reader, fields []string, skipFirst bool, push broker.BatchPusher) error {
	if len(fields) == 0 {
		return fmt.Errorf("no field names configured")
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	first := true
	for {
		if ctx.Err() != nil {
			break
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.WithError(err).Warn("skipping unparseable flow row")
			continue
		}
		if first {
			first = false
			if skipFirst {
				log.Debug("discarding header row")
				continue
			}
		}
		rec := make(map[string]string, len(fields))
		for i, name := range fields {
			if i < len(row) {
				rec[name] = row[i]
			} else {
				rec[name] = ""
			}
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			log.WithError(err).Warn("skipping unencodable flow row")
			continue
		}
		if err := push.Add(ctx, payload); err != nil {
			return fmt.Errorf("push flow record: %w", err)
		}
	}
	return push.Flush(ctx)
}
