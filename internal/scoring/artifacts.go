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

// Package scoring consumes fused CSV lines in batches, vectorizes them with
// the persisted feature order and categorical maps, runs the classifier, and
// reports per-flow verdicts after allow-list filtering.
package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CategoricalColumns are the columns the training pipeline string-indexed.
// Each has a persisted map and a "<col>_index" slot in the feature order.
var CategoricalColumns = []string{"proto", "state"}

// NumericColumns are the CSV columns fed to the model as-is.
var NumericColumns = []string{
	"sport", "dport", "dur", "sbytes", "dbytes", "sttl", "dttl", "sloss",
	"dloss", "sload", "dload", "spkts", "dpkts", "stcpb", "dtcpb", "smeansz",
	"dmeansz", "sjit", "djit", "stime", "ltime", "sintpkt", "dintpkt",
	"tcprtt", "synack", "ackdat",
}

// Artifacts are the read-only model companions loaded once at startup: the
// ordered feature list the classifier expects and one string→index map per
// categorical column.
type Artifacts struct {
	FeatureOrder []string
	FeatIdx      map[string]int
	StringMaps   map[string]map[string]int
}

// LoadArtifacts reads the feature-order file and the per-column maps from
// mapsDir (string_indexer_<col>_map.json). A missing or unparseable feature
// order is fatal to the caller; a missing categorical map is too, since
// vectorization cannot proceed without it.
func LoadArtifacts(featureOrderPath, mapsDir string) (*Artifacts, error) {
	raw, err := os.ReadFile(featureOrderPath)
	if err != nil {
		return nil, fmt.Errorf("read feature order: %w", err)
	}
	var order []string
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("parse feature order %s: %w", featureOrderPath, err)
	}
	a := &Artifacts{
		FeatureOrder: order,
		FeatIdx:      make(map[string]int, len(order)),
		StringMaps:   make(map[string]map[string]int, len(CategoricalColumns)),
	}
	for i, f := range order {
		a.FeatIdx[f] = i
	}
	for _, col := range CategoricalColumns {
		path := filepath.Join(mapsDir, fmt.Sprintf("string_indexer_%s_map.json", col))
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read indexer map for %s: %w", col, err)
		}
		m := make(map[string]int)
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse indexer map %s: %w", path, err)
		}
		a.StringMaps[col] = m
	}
	return a, nil
}

// Features reports the width of the model's input matrix.
func (a *Artifacts) Features() int { return len(a.FeatureOrder) }

// CategoricalIndex resolves a categorical value to its trained index.
// Unseen values map to len(map), matching the training-time "keep" bucket.
func (a *Artifacts) CategoricalIndex(col, value string) int {
	m := a.StringMaps[col]
	if idx, ok := m[value]; ok {
		return idx
	}
	return len(m)
}
