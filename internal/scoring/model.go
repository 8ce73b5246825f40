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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Predictor is the pluggable inference backend. m is the flat row-major
// matrix of rows×cols features; the result is the per-row probability of the
// attack class.
type Predictor interface {
	PredictProba(m []float32, rows, cols int) ([]float64, error)
}

// forestNode is one node of one decision tree. Leaves have Feature == -1 and
// carry the attack-class probability in Value.
type forestNode struct {
	Feature   int     `json:"f"`
	Threshold float32 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Forest is the CPU inference backend: a random forest exported by the
// training pipeline as JSON (one node array per tree, root at index 0).
// The predicted probability is the mean of the trees' leaf values.
type Forest struct {
	Trees [][]forestNode `json:"trees"`
}

// LoadForest reads a forest model file. An unreadable or unparseable model
// is fatal to the caller.
func LoadForest(path string) (*Forest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var f Forest
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("model %s has no trees", path)
	}
	return &f, nil
}

// PredictProba evaluates every tree for every row.
func (f *Forest) PredictProba(m []float32, rows, cols int) ([]float64, error) {
	if len(m) < rows*cols {
		return nil, fmt.Errorf("matrix too small: %d < %d×%d", len(m), rows, cols)
	}
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		row := m[r*cols : (r+1)*cols]
		var sum float64
		for _, tree := range f.Trees {
			i := 0
			for tree[i].Feature >= 0 {
				n := &tree[i]
				if n.Feature < len(row) && row[n.Feature] <= n.Threshold {
					i = n.Left
				} else {
					i = n.Right
				}
			}
			sum += tree[i].Value
		}
		out[r] = sum / float64(len(f.Trees))
	}
	return out, nil
}

// RemotePredictor sends batches to an inference server (the accelerator box)
// over HTTP. The wire format is a flat JSON exchange:
//
//	→ {"rows": n, "cols": f, "data": [ ... n*f floats ... ]}
//	← {"probs": [ ... n floats ... ]}
type RemotePredictor struct {
	url    string
	client *http.Client
}

// NewRemotePredictor targets the inference endpoint at url.
func NewRemotePredictor(url string) *RemotePredictor {
	return &RemotePredictor{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type remoteRequest struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float32 `json:"data"`
}

type remoteResponse struct {
	Probs []float64 `json:"probs"`
}

// PredictProba ships the batch and returns the server's probabilities.
func (p *RemotePredictor) PredictProba(m []float32, rows, cols int) ([]float64, error) {
	body, err := json.Marshal(remoteRequest{Rows: rows, Cols: cols, Data: m[:rows*cols]})
	if err != nil {
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}
	resp, err := p.client.Post(p.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference server status %s", resp.Status)
	}
	var rr remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	if len(rr.Probs) != rows {
		return nil, fmt.Errorf("inference server returned %d probs for %d rows", len(rr.Probs), rows)
	}
	return rr.Probs, nil
}
