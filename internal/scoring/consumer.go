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
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"idsfuse/internal/broker"
	"idsfuse/internal/sinks"
	"idsfuse/internal/telemetry"
)

const (
	// DefaultBatchSize is the batch the consumer accumulates before scoring.
	DefaultBatchSize = 1024
	// DefaultChannelSize bounds the reader→scorer channel; when it fills, the
	// reader blocks and backpressure moves to the broker queue.
	DefaultChannelSize = 16384
	// attackCutoff is the probability at which a flow counts as an attack.
	attackCutoff = 0.5
	// DefaultAlertThreshold is the probability at which an attack escalates
	// to the high-confidence (stderr) alert line.
	DefaultAlertThreshold = 0.70

	popTimeout     = 1 * time.Second
	reconnectSleep = 500 * time.Millisecond
)

// ConsumerConfig wires a Consumer.
type ConsumerConfig struct {
	Queue     broker.Queue
	Predictor Predictor
	Artifacts *Artifacts
	Allowlist *Allowlist
	AttackLog *sinks.AttackLog

	// BatchSize is the scoring batch (DefaultBatchSize if 0). MaxRows of the
	// reusable matrix follows it.
	BatchSize int
	// AlertThreshold overrides DefaultAlertThreshold when > 0.
	AlertThreshold float64
	// Out and ErrOut receive the verdict lines (stdout/stderr by default).
	Out    io.Writer
	ErrOut io.Writer
	// Now is the clock used for latency (tests pin it).
	Now func() time.Time
}

// Consumer drains the scoring queue in batches and prints one verdict line
// per flow. A dedicated reader goroutine blocks on the broker and feeds the
// bounded channel the batch loop drains.
type Consumer struct {
	cfg       ConsumerConfig
	vec       *Vectorizer
	lines     chan string
	threshold float64
}

// NewConsumer builds a consumer. Artifacts and Predictor must already be
// loaded; the vectorizer matrix is allocated here, once.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = DefaultAlertThreshold
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ErrOut == nil {
		cfg.ErrOut = os.Stderr
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Consumer{
		cfg:       cfg,
		vec:       NewVectorizer(cfg.Artifacts, cfg.BatchSize),
		lines:     make(chan string, DefaultChannelSize),
		threshold: cfg.AlertThreshold,
	}
}

// Run consumes until ctx is cancelled. Any lines still buffered at shutdown
// are scored before returning.
func (c *Consumer) Run(ctx context.Context) error {
	go c.reader(ctx)

	buf := make([]string, 0, c.cfg.BatchSize)
	flushTimer := time.NewTimer(popTimeout)
	defer flushTimer.Stop()
	for {
		select {
		case <-ctx.Done():
			if len(buf) > 0 {
				c.processBatch(buf)
			}
			return ctx.Err()
		case line := <-c.lines:
			if line == "" {
				continue
			}
			buf = append(buf, line)
			if len(buf) >= c.cfg.BatchSize {
				c.processBatch(buf)
				buf = buf[:0]
			}
		case <-flushTimer.C:
			if len(buf) > 0 {
				c.processBatch(buf)
				buf = buf[:0]
			}
			flushTimer.Reset(popTimeout)
		}
	}
}

// reader blocks on the broker and feeds the bounded channel. Broker errors
// are transient here: warn, sleep, retry.
func (c *Consumer) reader(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := c.cfg.Queue.BPop(ctx, popTimeout)
		if err == broker.ErrEmpty {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("scoring queue pop; retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectSleep):
			}
			continue
		}
		telemetry.RecordsConsumed.WithLabelValues("scoring").Inc()
		select {
		case c.lines <- string(line):
		case <-ctx.Done():
			return
		}
	}
}

// processBatch vectorizes, predicts, and prints verdicts. An inference
// failure skips the whole batch.
func (c *Consumer) processBatch(lines []string) {
	c.cfg.Allowlist.Refresh(context.Background())

	start := time.Now()
	m, n := c.vec.Build(lines)
	probs, err := c.cfg.Predictor.PredictProba(m, n, c.vec.cols)
	if err != nil {
		telemetry.BatchesScored.WithLabelValues("failed").Inc()
		log.WithError(err).WithFields(log.Fields{"rows": n, "cols": c.vec.cols}).
			Warn("inference failed; skipping batch")
		return
	}
	telemetry.BatchesScored.WithLabelValues("ok").Inc()
	telemetry.BatchLatency.Observe(time.Since(start).Seconds())

	now := c.cfg.Now()
	for i := 0; i < n; i++ {
		c.verdict(lines[i], probs[i], now)
		telemetry.RecordsScored.Inc()
	}
}

// verdict prints the single-line outcome for one flow and appends to the
// attack log when warranted.
func (c *Consumer) verdict(line string, prob float64, now time.Time) {
	fields := splitCSV(line)
	saddr := csvField(fields, "saddr")
	daddr := csvField(fields, "daddr")
	sport := csvField(fields, "sport")
	dport := csvField(fields, "dport")
	arrow := fmt.Sprintf("%s:%s -> %s:%s", saddr, sport, daddr, dport)

	latency := 0.0
	if f, err := fusionEpoch(csvField(fields, "stime")); err == nil {
		latency = float64(now.UnixNano())/1e9 - f
	}

	isAttack := prob >= attackCutoff
	reason := ""
	if isAttack {
		reason = c.cfg.Allowlist.Reason(saddr, daddr)
	}

	switch {
	case isAttack && reason == "":
		telemetry.Verdicts.WithLabelValues("attack").Inc()
		dest := c.cfg.Out
		tag := "⚠️"
		if prob >= c.threshold {
			dest = c.cfg.ErrOut
			tag = "🚨"
		}
		fmt.Fprintf(dest, "%s Attack conf=%.3f %s lat=%.3fs\n", tag, prob, arrow, latency)
		if c.cfg.AttackLog != nil {
			if err := c.cfg.AttackLog.Record(saddr, sport, daddr, dport); err != nil {
				log.WithError(err).Warn("attack log append")
			}
		}
	case isAttack:
		telemetry.Verdicts.WithLabelValues("ignored").Inc()
		fmt.Fprintf(c.cfg.Out, "⏩ IGNORED(%s) %s lat=%.3fs\n", reason, arrow, latency)
	default:
		telemetry.Verdicts.WithLabelValues("normal").Inc()
		fmt.Fprintf(c.cfg.Out, "✅ Normal conf=%.3f lat=%.3fs %s\n", prob, latency, arrow)
	}
}
