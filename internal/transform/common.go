// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transform

import (
	"sort"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/units"
)

// canonicalUnits checks raw against pkg/units' typed prefix/measure
// system and returns raw unchanged (§4.3a): the literal unit strings
// required by §4.3 are frozen, so pkg/units is used here to catch a typo
// in one of them at package init, not to reshape what ships on a record.
func canonicalUnits(raw string) string {
	if !units.NewUnit(raw).Valid() {
		log.Debugf("transform: %q is not a typed unit recognized by pkg/units", raw)
	}
	return raw
}

// The four transformers' fixed per-event units (§4.3), validated once
// here rather than re-checked on every record.
var (
	unitsCPUPercent = canonicalUnits("CPU %")
	unitsGBPerSec   = canonicalUnits("GB/s")
	unitsGB         = canonicalUnits("GB")
	unitsMBPerSec   = canonicalUnits("MB/s")
)

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// sortRecords orders a transformer's output by (jobID, host, timestamp),
// the transformer-specific sort key required by §4.3's shared preamble.
func sortRecords(records []schema.MetricRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.JobID != b.JobID {
			return a.JobID < b.JobID
		}
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		return a.Timestamp.Before(b.Timestamp)
	})
}
