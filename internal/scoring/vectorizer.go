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

	"idsfuse/internal/fusion"
)

// colIdx maps scoring-CSV column name → position, built once from the
// canonical order the fusion engine publishes.
var colIdx = func() map[string]int {
	m := make(map[string]int, len(fusion.ScoringColumns))
	for i, c := range fusion.ScoringColumns {
		m[c] = i
	}
	return m
}()

// numBinding pre-resolves one numeric CSV column to its matrix column.
type numBinding struct {
	csvCol  int
	featCol int
}

// catBinding pre-resolves one categorical CSV column to its _index slot.
type catBinding struct {
	name    string
	csvCol  int
	featCol int
}

// Vectorizer turns batches of CSV lines into the model's input matrix. The
// matrix is allocated once at the maximum batch size and reused; only the
// rows a batch occupies are zeroed per call.
type Vectorizer struct {
	art  *Artifacts
	buf  []float32
	rows int
	cols int
	nums []numBinding
	cats []catBinding
}

// NewVectorizer builds a vectorizer for at most maxRows records per batch.
//
// Numeric features are bound by name; the training pipeline called the
// destination port "dsport", so when the feature order carries "dsport" the
// CSV's "dport" column feeds it.
func NewVectorizer(art *Artifacts, maxRows int) *Vectorizer {
	v := &Vectorizer{
		art:  art,
		buf:  make([]float32, maxRows*art.Features()),
		rows: maxRows,
		cols: art.Features(),
	}
	for _, col := range NumericColumns {
		name := col
		if col == "dport" {
			if _, ok := art.FeatIdx["dsport"]; ok {
				name = "dsport"
			}
		}
		featCol, ok := art.FeatIdx[name]
		if !ok {
			continue
		}
		v.nums = append(v.nums, numBinding{csvCol: colIdx[col], featCol: featCol})
	}
	for _, cat := range CategoricalColumns {
		featCol, ok := art.FeatIdx[cat+"_index"]
		if !ok {
			continue
		}
		v.cats = append(v.cats, catBinding{name: cat, csvCol: colIdx[cat], featCol: featCol})
	}
	return v
}

// MaxRows reports the batch capacity.
func (v *Vectorizer) MaxRows() int { return v.rows }

// Build fills the reusable matrix with up to MaxRows lines and returns the
// flat row-major view of the first n rows. Unparseable numeric fields become
// 0.0; unseen categorical values take the map's "keep" index.
func (v *Vectorizer) Build(lines []string) ([]float32, int) {
	n := len(lines)
	if n > v.rows {
		n = v.rows
	}
	used := v.buf[:n*v.cols]
	for i := range used {
		used[i] = 0
	}
	for r := 0; r < n; r++ {
		fields := strings.Split(lines[r], ",")
		row := used[r*v.cols : (r+1)*v.cols]
		for _, b := range v.nums {
			if b.csvCol < len(fields) {
				row[b.featCol] = parseFloat(fields[b.csvCol])
			}
		}
		for _, b := range v.cats {
			var val string
			if b.csvCol < len(fields) {
				val = fields[b.csvCol]
			}
			row[b.featCol] = float32(v.art.CategoricalIndex(b.name, val))
		}
	}
	return used, n
}

func parseFloat(s string) float32 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0
	}
	return float32(f)
}
