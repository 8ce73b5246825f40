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

package fusion

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"idsfuse/internal/broker"
	"idsfuse/internal/sinks"
	"idsfuse/internal/telemetry"
)

// DefaultCacheSize bounds the unmatched-record caches.
const DefaultCacheSize = 100000

// defaultIdleSleep is how long the loop rests when both queues are empty.
const defaultIdleSleep = 50 * time.Millisecond

// Config wires an Engine to its queues and sidecars.
type Config struct {
	FlowQueue    broker.Queue
	ProtoQueue   broker.Queue
	ScoringQueue broker.Queue

	FlowLog  *sinks.JSONLSink
	ProtoLog *sinks.JSONLSink
	MergeLog *sinks.JSONLSink
	Lost     *sinks.LostDump

	// CacheSize bounds both unmatched-record caches (DefaultCacheSize if 0).
	CacheSize int
	// HistorySize bounds the fused-record history (HistorySize if 0).
	HistorySize int
	// IdleSleep overrides the empty-queue sleep (tests set it low).
	IdleSleep time.Duration
}

// Engine drains the flow and protocol queues and, for each incoming record,
// emits zero or one fused records to the merge log and the scoring queue.
//
// All state — the two unmatched caches, the HTTP accumulator, the verb
// counters, and the fused history — is owned by the single Run goroutine.
type Engine struct {
	cfg Config

	flowCache  *Cache[*FlowRecord]
	protoCache *Cache[*ProtoRecord]
	httpAcc    map[FlowKey]*httpAcc
	httpVerbs  *verbCounter
	ftpVerbs   *verbCounter
	history    *History
	idleSleep  time.Duration
}

// httpAcc collapses the HTTP transactions seen for one key before the flow
// record arrives: body lengths sum, depth takes the maximum, and the most
// recent record becomes the merge partner.
type httpAcc struct {
	sumLen   int64
	maxDepth int64
	last     ProtoRecord
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	sleep := cfg.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdleSleep
	}
	return &Engine{
		cfg:        cfg,
		flowCache:  NewCache[*FlowRecord](size),
		protoCache: NewCache[*ProtoRecord](size),
		httpAcc:    make(map[FlowKey]*httpAcc),
		httpVerbs:  newVerbCounter(),
		ftpVerbs:   newVerbCounter(),
		history:    NewHistory(cfg.HistorySize),
		idleSleep:  sleep,
	}
}

// Run drains both queues until ctx is cancelled. Flow records are always
// tried first, then protocol records; when both queues are empty the loop
// sleeps briefly.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		processed := false
		if payload, err := e.cfg.FlowQueue.Pop(ctx); err == nil {
			processed = true
			telemetry.RecordsConsumed.WithLabelValues("flow").Inc()
			e.HandleFlow(payload)
		} else if err != broker.ErrEmpty {
			log.WithError(err).Warn("flow queue pop")
		}
		if payload, err := e.cfg.ProtoQueue.Pop(ctx); err == nil {
			processed = true
			telemetry.RecordsConsumed.WithLabelValues("proto").Inc()
			e.HandleProto(payload)
		} else if err != broker.ErrEmpty {
			log.WithError(err).Warn("protocol queue pop")
		}
		if !processed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.idleSleep):
			}
		}
	}
}

// HandleFlow processes one raw flow-queue payload.
func (e *Engine) HandleFlow(payload []byte) {
	var f FlowRecord
	if err := json.Unmarshal(payload, &f); err != nil {
		telemetry.RecordsSkipped.WithLabelValues("flow").Inc()
		log.WithError(err).Warn("skipping unparseable flow record")
		return
	}
	if err := e.cfg.FlowLog.AppendJSON(&f); err != nil {
		log.WithError(err).Warn("flow append log")
	}

	proto := strings.ToLower(f.Proto)
	if proto != "tcp" && proto != "udp" && proto != "icmp" {
		// Nothing on the protocol side will ever match; emit as-is.
		fused := fusedFromFlow(&f)
		e.emit(fused, "immediate")
		return
	}

	key := KeyFromFlow(&f)
	if acc, ok := e.httpAcc[key]; ok {
		delete(e.httpAcc, key)
		z := acc.last
		z.TransDepth = FlexInt(acc.maxDepth)
		z.RespBodyLen = FlexInt(acc.sumLen)
		e.merge(&f, &z, "http_acc")
		return
	}

	if i := e.protoCache.Find(key); i >= 0 {
		z := e.protoCache.At(i)
		e.protoCache.Remove(i)
		e.dumpLost()
		e.merge(&f, z, "merged")
		return
	}

	if e.flowCache.Append(key, &f, payload) {
		telemetry.CacheEvictions.WithLabelValues("flow").Inc()
	}
	e.dumpLost()
}

// HandleProto processes one raw protocol-queue payload.
func (e *Engine) HandleProto(payload []byte) {
	var z ProtoRecord
	if err := json.Unmarshal(payload, &z); err != nil {
		telemetry.RecordsSkipped.WithLabelValues("proto").Inc()
		log.WithError(err).Warn("skipping unparseable protocol record")
		return
	}
	// The raw payload goes to the append log untouched: the decoded struct
	// only carries the fields the engine acts on.
	if err := e.cfg.ProtoLog.Append(payload); err != nil {
		log.WithError(err).Warn("protocol append log")
	}

	key := KeyFromProto(&z)
	switch strings.ToLower(z.LogKind) {
	case KindHTTP:
		e.httpVerbs.Inc(key.addr(), z.Method)
		acc, ok := e.httpAcc[key]
		if !ok {
			acc = &httpAcc{}
			e.httpAcc[key] = acc
		}
		acc.sumLen += int64(z.RespBodyLen)
		if int64(z.TransDepth) > acc.maxDepth {
			acc.maxDepth = int64(z.TransDepth)
		}
		acc.last = z
		if e.protoCache.Append(key, &z, payload) {
			telemetry.CacheEvictions.WithLabelValues("proto").Inc()
		}
		e.dumpLost()
	case KindFTP:
		if cmd := strings.TrimSpace(string(z.Command)); cmd != "" {
			e.ftpVerbs.Inc(key.addr(), cmd)
		}
		// The flow entry stays cached: later FTP commands on the same
		// connection may still need it.
		if i := e.flowCache.Find(key); i >= 0 {
			e.merge(e.flowCache.At(i), &z, "merged")
			return
		}
		if e.protoCache.Append(key, &z, payload) {
			telemetry.CacheEvictions.WithLabelValues("proto").Inc()
		}
		e.dumpLost()
	default: // conn
		if i := e.flowCache.Find(key); i >= 0 {
			f := e.flowCache.At(i)
			e.flowCache.Remove(i)
			e.dumpLost()
			e.merge(f, &z, "merged")
			return
		}
		if e.protoCache.Append(key, &z, payload) {
			telemetry.CacheEvictions.WithLabelValues("proto").Inc()
		}
		e.dumpLost()
	}
}

// merge fuses one flow record with one protocol record and emits the result.
func (e *Engine) merge(f *FlowRecord, z *ProtoRecord, path string) {
	fused := fusedFromFlow(f)
	a := addrKey{Saddr: fused.Saddr, Sport: fused.Sport, Daddr: fused.Daddr, Dport: fused.Dport}

	switch strings.ToLower(z.LogKind) {
	case KindHTTP:
		fused.Service = "http"
		fused.TransDepth = int64(z.TransDepth)
		fused.RespBodyLen = int64(z.RespBodyLen)
		fused.CtFlwHTTPMthd = e.httpVerbs.Total(a)
	case KindFTP:
		fused.Service = "ftp"
		user := strings.TrimSpace(string(z.User))
		pass := strings.TrimSpace(string(z.Password))
		if user != "" && pass != "" {
			fused.IsFtpLogin = 1
		}
		fused.CtFtpCmd = e.ftpVerbs.Total(a)
	default:
		if z.Service != "" {
			fused.Service = z.Service
		}
	}

	e.emit(fused, path)
}

// emit derives the history counters, writes the merge log line and the
// scoring CSV, and appends the record to the history.
func (e *Engine) emit(fused *FusedRecord, path string) {
	fused.applyCounters(e.history.Counters(fused))

	if err := e.cfg.MergeLog.AppendJSON(fused); err != nil {
		log.WithError(err).Warn("merge append log")
	}
	if err := e.cfg.ScoringQueue.Push(context.Background(), []byte(fused.CSVLine())); err != nil {
		log.WithError(err).Warn("scoring queue push")
	}

	e.history.Append(*fused)
	telemetry.FusedEmitted.WithLabelValues(path).Inc()
}

// dumpLost rewrites both lost-record logs from the current cache contents
// and refreshes the cache gauges.
func (e *Engine) dumpLost() {
	telemetry.CacheSize.WithLabelValues("flow").Set(float64(e.flowCache.Len()))
	telemetry.CacheSize.WithLabelValues("proto").Set(float64(e.protoCache.Len()))
	if e.cfg.Lost == nil {
		return
	}
	if err := e.cfg.Lost.Rewrite(e.flowCache.Raws(), e.protoCache.Raws()); err != nil {
		log.WithError(err).Warn("lost-record dump")
	}
}
