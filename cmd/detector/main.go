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

// detector drains the scoring queue in batches, vectorizes each fused CSV
// line with the persisted model artifacts, runs the classifier (in-process
// forest or a remote inference server), and prints one verdict per flow.
// Attacks not covered by the provider allow-lists are appended to the attack
// log.
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

	"idsfuse/internal/broker"
	"idsfuse/internal/scoring"
	"idsfuse/internal/sinks"
	"idsfuse/internal/telemetry"
)

func main() {
	host := flag.String("redis_host", envOr("REDIS_HOST", "127.0.0.1"), "broker host")
	port := flag.Int("redis_port", envOrInt("REDIS_PORT", 6379), "broker port")
	queue := flag.String("queue", envOr("REDIS_QUEUE_MERGE", broker.ScoringQueue), "scoring queue name")
	modelPath := flag.String("model", envOr("MODEL_PATH", "model/forest.json"), "forest model file")
	featureOrder := flag.String("feature_order", envOr("FEATURE_ORDER", "model/feature_order.json"), "feature-order file")
	mapsDir := flag.String("maps_dir", envOr("MAPS_DIR", "model"), "string-indexer map directory")
	batch := flag.Int("batch", envOrInt("BATCH_SIZE", scoring.DefaultBatchSize), "scoring batch size")
	device := flag.String("device", envOr("DEVICE", "cpu"), "inference backend: cpu or remote")
	remoteURL := flag.String("remote_url", envOr("REMOTE_URL", ""), "inference server URL (device=remote)")
	threshold := flag.Float64("threshold", scoring.DefaultAlertThreshold, "high-confidence alert threshold")
	attackLogPath := flag.String("attack_log", envOr("ATTACK_LOG", "potentially_malicious_saddr.log"), "attack log file")
	metricsAddr := flag.String("metrics", "", "metrics listen address (empty disables)")
	logLevel := flag.String("log_level", envOr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	setLogLevel(*logLevel)
	telemetry.Serve(*metricsAddr)

	artifacts, err := scoring.LoadArtifacts(*featureOrder, *mapsDir)
	if err != nil {
		log.WithError(err).Fatal("model artifacts")
	}

	var predictor scoring.Predictor
	switch *device {
	case "cpu":
		forest, err := scoring.LoadForest(*modelPath)
		if err != nil {
			log.WithError(err).Fatal("forest model")
		}
		predictor = forest
	case "remote":
		if *remoteURL == "" {
			log.Fatal("device=remote requires -remote_url")
		}
		predictor = scoring.NewRemotePredictor(*remoteURL)
	default:
		log.Fatalf("unknown device %q (want cpu or remote)", *device)
	}

	attackLog, err := sinks.OpenAttackLog(*attackLogPath)
	if err != nil {
		log.WithError(err).Fatal("attack log")
	}
	defer attackLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := broker.Dial(ctx, fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		log.WithError(err).Fatal("broker unreachable")
	}
	defer bus.Close()

	allow := scoring.NewAllowlist()
	allow.Refresh(ctx)

	log.WithFields(log.Fields{
		"queue":    *queue,
		"device":   *device,
		"batch":    *batch,
		"features": artifacts.Features(),
	}).Info("detector up")

	consumer := scoring.NewConsumer(scoring.ConsumerConfig{
		Queue:          bus.Queue(*queue),
		Predictor:      predictor,
		Artifacts:      artifacts,
		Allowlist:      allow,
		AttackLog:      attackLog,
		BatchSize:      *batch,
		AlertThreshold: *threshold,
	})
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("consumer stopped")
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
