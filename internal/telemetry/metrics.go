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

// Package telemetry exposes the pipeline's Prometheus metrics. Counters are
// global with fixed label sets only — no per-flow cardinality.
package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	// RecordsConsumed counts broker messages drained, per stream
	// ("flow", "proto", "scoring").
	RecordsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idsfuse_records_consumed_total",
		Help: "Broker messages consumed, by stream",
	}, []string{"stream"})

	// RecordsSkipped counts per-record recoverable failures (malformed JSON,
	// bad timestamps), per stream.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idsfuse_records_skipped_total",
		Help: "Records dropped as unparseable, by stream",
	}, []string{"stream"})

	// FusedEmitted counts fused records emitted, split by how they resolved
	// ("merged", "http_acc", "immediate").
	FusedEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idsfuse_fused_emitted_total",
		Help: "Fused records emitted, by resolution path",
	}, []string{"path"})

	// CacheSize tracks the unmatched-record caches ("flow", "proto").
	CacheSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "idsfuse_cache_entries",
		Help: "Unmatched records currently cached, by side",
	}, []string{"side"})

	// CacheEvictions counts oldest-entry evictions on cache overflow.
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idsfuse_cache_evictions_total",
		Help: "Cache entries evicted on overflow, by side",
	}, []string{"side"})

	// BatchesScored counts inference batches, by outcome ("ok", "failed").
	BatchesScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idsfuse_batches_scored_total",
		Help: "Inference batches processed, by outcome",
	}, []string{"outcome"})

	// RecordsScored counts records pushed through the classifier.
	RecordsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idsfuse_records_scored_total",
		Help: "Records pushed through the classifier",
	})

	// Verdicts counts classifier verdicts ("attack", "normal", "ignored").
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idsfuse_verdicts_total",
		Help: "Classifier verdicts, by kind",
	}, []string{"kind"})

	// BatchLatency observes wall time spent per inference batch.
	BatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "idsfuse_batch_seconds",
		Help:    "Wall time per inference batch",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

// Serve starts the metrics/health endpoint on addr in a background goroutine.
// Empty addr disables it.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "time": time.Now().UTC()})
	})
	go func() {
		log.WithField("addr", addr).Info("metrics endpoint up")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Warn("metrics endpoint stopped")
		}
	}()
}
