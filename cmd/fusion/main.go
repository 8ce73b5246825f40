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

// fusion is the correlation engine: it drains the flow and protocol queues,
// fuses partnered records by composite key, derives the connection-history
// features, and republishes each fused record as a CSV line on the scoring
// queue. Raw and fused streams are mirrored to per-run JSONL logs, and the
// unmatched caches are mirrored to the lost-record dumps.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"idsfuse/internal/broker"
	"idsfuse/internal/fusion"
	"idsfuse/internal/sinks"
	"idsfuse/internal/telemetry"
)

func main() {
	host := flag.String("redis_host", envOr("REDIS_HOST", "127.0.0.1"), "broker host")
	port := flag.Int("redis_port", envOrInt("REDIS_PORT", 6379), "broker port")
	flowQueue := flag.String("argus_queue", envOr("REDIS_QUEUE_ARGUS", broker.FlowQueue), "flow queue name")
	protoQueue := flag.String("zeek_queue", envOr("REDIS_QUEUE_ZEEK", broker.ProtoQueue), "protocol queue name")
	mergeQueue := flag.String("merge_queue", envOr("REDIS_QUEUE_MERGE", broker.ScoringQueue), "scoring queue name")
	outputDir := flag.String("output_dir", envOr("OUTPUT_DIR", "/app/output_logs"), "append-log directory")
	queueSize := flag.Int("queue_size", envOrInt("QUEUE_SIZE", fusion.DefaultCacheSize), "unmatched-record cache capacity")
	flushEach := flag.Bool("flush_each", false, "fsync append logs on every write")
	metricsAddr := flag.String("metrics", "", "metrics listen address (empty disables)")
	logLevel := flag.String("log_level", envOr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	setLogLevel(*logLevel)
	telemetry.Serve(*metricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := broker.Dial(ctx, fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		log.WithError(err).Fatal("broker unreachable")
	}
	defer bus.Close()

	runStamp := time.Now().Format("20060102_150405")
	flowLog, err := sinks.NewRunLog(*outputDir, "argus", runStamp, *flushEach)
	if err != nil {
		log.WithError(err).Fatal("flow append log")
	}
	defer flowLog.Close()
	protoLog, err := sinks.NewRunLog(*outputDir, "zeek", runStamp, *flushEach)
	if err != nil {
		log.WithError(err).Fatal("protocol append log")
	}
	defer protoLog.Close()
	mergeLog, err := sinks.NewRunLog(*outputDir, "merge", runStamp, *flushEach)
	if err != nil {
		log.WithError(err).Fatal("merge append log")
	}
	defer mergeLog.Close()
	lost, err := sinks.NewLostDump(*outputDir, runStamp)
	if err != nil {
		log.WithError(err).Fatal("lost-record dump")
	}

	log.WithFields(log.Fields{
		"flow":  *flowQueue,
		"proto": *protoQueue,
		"merge": *mergeQueue,
		"logs":  *outputDir,
	}).Info("fusion engine up")

	engine := fusion.New(fusion.Config{
		FlowQueue:    bus.Queue(*flowQueue),
		ProtoQueue:   bus.Queue(*protoQueue),
		ScoringQueue: bus.Queue(*mergeQueue),
		FlowLog:      flowLog,
		ProtoLog:     protoLog,
		MergeLog:     mergeLog,
		Lost:         lost,
		CacheSize:    *queueSize,
	})
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("engine stopped")
	}
	log.Info("shutting down")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func setLogLevel(level string) {
	lv, err := log.ParseLevel(level)
	if err != nil {
		lv = log.InfoLevel
	}
	log.SetLevel(lv)
}
