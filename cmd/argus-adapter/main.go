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

// argus-adapter bridges an Argus-style flow exporter into the pipeline.
//
// It reads comma-separated rows from stdin (typically `ra -c ,` piped in),
// maps each row onto the configured field names, and publishes one JSON
// object per flow on the flow queue. Pushes are pipelined in batches to keep
// broker round trips off the ingest path.
//
// Usage:
//
//	ra -S localhost:561 -c , -s "$RA_FIELDS" | argus-adapter -fields "$RA_FIELDS"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"idsfuse/internal/adapters"
	"idsfuse/internal/broker"
	"idsfuse/internal/telemetry"
)

func main() {
	host := flag.String("redis_host", envOr("REDIS_HOST", "127.0.0.1"), "broker host")
	port := flag.Int("redis_port", envOrInt("REDIS_PORT", 6379), "broker port")
	queue := flag.String("queue", envOr("REDIS_QUEUE_ARGUS", broker.FlowQueue), "flow queue name")
	fields := flag.String("fields", envOr("RA_FIELDS", ""), "ordered comma-separated flow field names")
	skipFirst := flag.Bool("skip_first", false, "discard the first input row (header)")
	batch := flag.Int("batch", 500, "pipelined push batch size")
	metricsAddr := flag.String("metrics", "", "metrics listen address (empty disables)")
	logLevel := flag.String("log_level", envOr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	setLogLevel(*logLevel)
	telemetry.Serve(*metricsAddr)

	names := adapters.ParseFieldList(*fields)
	if len(names) == 0 {
		log.Fatal("no flow field names: set -fields or RA_FIELDS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := broker.Dial(ctx, fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		log.WithError(err).Fatal("broker unreachable")
	}
	defer bus.Close()

	log.WithFields(log.Fields{"queue": *queue, "fields": len(names)}).Info("flow adapter up")
	if err := adapters.PumpFlows(ctx, os.Stdin, names, *skipFirst, bus.BatchPusher(*queue, *batch)); err != nil {
		log.WithError(err).Fatal("flow adapter stopped")
	}
	log.Info("input drained; exiting")
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
