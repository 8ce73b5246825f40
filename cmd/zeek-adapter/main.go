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

// zeek-adapter tails the analyzer's conn.log, http.log, and ftp.log under a
// watched directory, stamps each JSON record with its log kind, and publishes
// it on the protocol queue. Followers start as soon as each file appears and
// survive log rotation.
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

	log "github.com/sirupsen/logrus"

	"idsfuse/internal/adapters"
	"idsfuse/internal/broker"
	"idsfuse/internal/telemetry"
)

func main() {
	host := flag.String("redis_host", envOr("REDIS_HOST", "127.0.0.1"), "broker host")
	port := flag.Int("redis_port", envOrInt("REDIS_PORT", 6379), "broker port")
	queue := flag.String("queue", envOr("REDIS_QUEUE_ZEEK", broker.ProtoQueue), "protocol queue name")
	logDir := flag.String("log_dir", envOr("ZEEK_LOG_DIR", "/output_zeek/current"), "directory the analyzer writes logs to")
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

	log.WithFields(log.Fields{"dir": *logDir, "queue": *queue}).Info("protocol adapter up")
	err = adapters.WatchZeekDir(ctx, *logDir, bus.Queue(*queue))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("protocol adapter stopped")
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
