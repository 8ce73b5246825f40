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
	"testing"

	"idsfuse/internal/fusion"
)

// testArtifacts builds an in-memory artifact set with the training pipeline's
// "dsport" spelling for the destination port.
func testArtifacts() *Artifacts {
	order := []string{"sport", "dsport", "sbytes", "proto_index", "state_index"}
	a := &Artifacts{
		FeatureOrder: order,
		FeatIdx:      make(map[string]int, len(order)),
		StringMaps: map[string]map[string]int{
			"proto": {"tcp": 0, "udp": 1},
			"state": {"CON": 0, "FIN": 1, "INT": 2},
		},
	}
	for i, f := range order {
		a.FeatIdx[f] = i
	}
	return a
}

// scoringLine builds one CSV line in the canonical column order with the given
// overrides; every other column is "0".
func scoringLine(overrides map[string]string) string {
	fields := make([]string, len(fusion.ScoringColumns))
	for i, c := range fusion.ScoringColumns {
		if v, ok := overrides[c]; ok {
			fields[i] = v
		} else {
			fields[i] = "0"
		}
	}
	line := fields[0]
	for _, f := range fields[1:] {
		line += "," + f
	}
	return line
}

func TestVectorizerBindsDsportAlias(t *testing.T) {
	v := NewVectorizer(testArtifacts(), 4)
	m, n := v.Build([]string{scoringLine(map[string]string{
		"sport": "51000", "dport": "443", "sbytes": "1234",
		"proto": "tcp", "state": "CON",
	})})
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
	if m[0] != 51000 {
		t.Errorf("sport = %v, want 51000", m[0])
	}
	if m[1] != 443 {
		t.Errorf("dsport (from dport column) = %v, want 443", m[1])
	}
	if m[2] != 1234 {
		t.Errorf("sbytes = %v, want 1234", m[2])
	}
	if m[3] != 0 || m[4] != 0 {
		t.Errorf("tcp/CON should index to 0/0, got %v/%v", m[3], m[4])
	}
}

func TestVectorizerUnseenCategorical(t *testing.T) {
	v := NewVectorizer(testArtifacts(), 4)
	m, _ := v.Build([]string{scoringLine(map[string]string{
		"proto": "sctp", "state": "REQ",
	})})
	if m[3] != 2 {
		t.Errorf("unseen proto index = %v, want len(map)=2", m[3])
	}
	if m[4] != 3 {
		t.Errorf("unseen state index = %v, want len(map)=3", m[4])
	}
}

func TestVectorizerUnparseableNumeric(t *testing.T) {
	v := NewVectorizer(testArtifacts(), 4)
	m, _ := v.Build([]string{scoringLine(map[string]string{
		"sport": "garbage", "sbytes": "",
	})})
	if m[0] != 0 || m[2] != 0 {
		t.Errorf("unparseable numerics must become 0, got %v/%v", m[0], m[2])
	}
}

func TestVectorizerReusesMatrix(t *testing.T) {
	v := NewVectorizer(testArtifacts(), 2)
	v.Build([]string{
		scoringLine(map[string]string{"sport": "7"}),
		scoringLine(map[string]string{"sport": "8"}),
	})
	// Second, smaller batch must not see the first batch's values.
	m, n := v.Build([]string{scoringLine(map[string]string{"sbytes": "5"})})
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
	if m[0] != 0 {
		t.Errorf("stale sport from previous batch: %v", m[0])
	}
	if m[2] != 5 {
		t.Errorf("sbytes = %v, want 5", m[2])
	}
}

func TestVectorizerTruncatesOversizeBatch(t *testing.T) {
	v := NewVectorizer(testArtifacts(), 2)
	lines := []string{
		scoringLine(map[string]string{"sport": "1"}),
		scoringLine(map[string]string{"sport": "2"}),
		scoringLine(map[string]string{"sport": "3"}),
	}
	m, n := v.Build(lines)
	if n != 2 {
		t.Fatalf("n = %d, want the matrix cap 2", n)
	}
	if len(m) != 2*v.cols {
		t.Errorf("matrix view has %d entries, want %d", len(m), 2*v.cols)
	}
}
