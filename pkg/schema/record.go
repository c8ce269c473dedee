// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// Event names a raw metric stream as emitted by one of the per-file
// transformers (§4.3).
type Event string

const (
	EventBlock                 Event = "block"
	EventCPUUser               Event = "cpuuser"
	EventGPU                   Event = "gpu"
	EventMemUsed               Event = "memused"
	EventMemUsedMinusDiskcache Event = "memused_minus_diskcache"
	EventNFS                   Event = "nfs"
)

// KnownEvents lists every event the join/aggregate engine groups by
// (§4.5 step 5), in that order. EventGPU has no producing transformer
// today (no source folder carries a gpu.csv); it is kept in the known
// set so value_gpu is always present, always null, per the frozen
// output schema.
var KnownEvents = []Event{
	EventCPUUser,
	EventGPU,
	EventMemUsed,
	EventMemUsedMinusDiskcache,
	EventNFS,
	EventBlock,
}

// MetricRecord is the long-form output of a raw->metric transformer: one
// row per (jobId, host, event, timestamp) observation.
type MetricRecord struct {
	JobID     string    `json:"jobId"`
	Host      string    `json:"host"`
	Event     Event     `json:"event"`
	Value     float64   `json:"value"`
	Units     string    `json:"units"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the record obeys the invariants of §8: value >= 0,
// and for cpuuser 0 <= value <= 100.
func (m MetricRecord) Valid() bool {
	if m.Value < 0 {
		return false
	}
	if m.Event == EventCPUUser && m.Value > 100 {
		return false
	}
	return true
}
