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

// HistorySize is the number of recently fused records the connection-history
// counters are computed over.
const HistorySize = 100

// History is the bounded FIFO of the most recent fused records. A record is
// appended only after its counters are derived, so the counters never count
// the record itself.
type History struct {
	recs []FusedRecord
	max  int
}

// NewHistory creates a history bounded at max records (HistorySize when <= 0).
func NewHistory(max int) *History {
	if max <= 0 {
		max = HistorySize
	}
	return &History{max: max}
}

// Append adds a fused record, dropping the oldest when full.
func (h *History) Append(rec FusedRecord) {
	if len(h.recs) >= h.max {
		copy(h.recs, h.recs[1:])
		h.recs = h.recs[:len(h.recs)-1]
	}
	h.recs = append(h.recs, rec)
}

// Len reports the number of records currently held.
func (h *History) Len() int { return len(h.recs) }

// CtCounters are the seven connection-history features.
type CtCounters struct {
	SrvSrc      int
	SrvDst      int
	DstLtm      int
	SrcLtm      int
	SrcDportLtm int
	DstSportLtm int
	DstSrcLtm   int
}

// Counters derives the seven ct_* features for rec against the current
// history. Each feature counts the history records matching its predicate
// set; ltime always participates.
func (h *History) Counters(rec *FusedRecord) CtCounters {
	var ct CtCounters
	for i := range h.recs {
		r := &h.recs[i]
		if r.Ltime != rec.Ltime {
			continue
		}
		sameSrc := r.Saddr == rec.Saddr
		sameDst := r.Daddr == rec.Daddr
		if r.Service == rec.Service && sameSrc {
			ct.SrvSrc++
		}
		if r.Service == rec.Service && sameDst {
			ct.SrvDst++
		}
		if sameDst {
			ct.DstLtm++
		}
		if sameSrc {
			ct.SrcLtm++
		}
		if sameSrc && r.Dport == rec.Dport {
			ct.SrcDportLtm++
		}
		if sameDst && r.Sport == rec.Sport {
			ct.DstSportLtm++
		}
		if sameSrc && sameDst {
			ct.DstSrcLtm++
		}
	}
	return ct
}

func (m *FusedRecord) applyCounters(ct CtCounters) {
	m.CtSrvSrc = ct.SrvSrc
	m.CtSrvDst = ct.SrvDst
	m.CtDstLtm = ct.DstLtm
	m.CtSrcLtm = ct.SrcLtm
	m.CtSrcDportLtm = ct.SrcDportLtm
	m.CtDstSportLtm = ct.DstSportLtm
	m.CtDstSrcLtm = ct.DstSrcLtm
}
