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

package scoring

import (
	"strconv"
	"strings"
)

// splitCSV splits one scoring-queue line. Values never contain commas: the
// engine writes bare numbers, addresses, and state tokens.
func splitCSV(line string) []string { return strings.Split(line, ",") }

// csvField fetches a column by canonical name, "" when the line is short.
func csvField(fields []string, name string) string {
	i, ok := colIdx[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// fusionEpoch parses the engine's integer-seconds timestamps.
func fusionEpoch(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
