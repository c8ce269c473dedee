// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transform

import (
	"sort"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

var jiffyColumns = []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq"}

// CPU computes the CPU user-percent transformer of §4.3 (event="cpuuser",
// units="CPU %"). Per-core jiffy deltas are validated and aggregated to
// the node level before the percentage is derived.
func CPU(path string) ([]schema.MetricRecord, error) {
	rows, err := readRows(path, jiffyColumns, "device")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	type key struct{ jobID, node, device string }
	grouped := make(map[key][]row)
	for _, r := range rows {
		k := key{r.jobID, r.node, r.device}
		grouped[k] = append(grouped[k], r)
	}

	type nodeKey struct {
		jobID, node string
		ts          int64
	}
	type accum struct {
		user, nice, total float64
	}
	nodeDeltas := make(map[nodeKey]*accum)

	for _, series := range grouped {
		sort.Slice(series, func(i, j int) bool { return series[i].timestamp.Before(series[j].timestamp) })
		for i := 1; i < len(series); i++ {
			prev, cur := series[i-1], series[i]

			userDelta := cur.values["user"] - prev.values["user"]
			niceDelta := cur.values["nice"] - prev.values["nice"]
			total := 0.0
			for _, col := range jiffyColumns {
				total += cur.values[col] - prev.values[col]
			}

			if userDelta < 0 || niceDelta < 0 || total <= 0 {
				continue
			}

			nk := nodeKey{cur.jobID, cur.node, cur.timestamp.Unix()}
			a, ok := nodeDeltas[nk]
			if !ok {
				a = &accum{}
				nodeDeltas[nk] = a
			}
			a.user += userDelta
			a.nice += niceDelta
			a.total += total
		}
	}

	out := make([]schema.MetricRecord, 0, len(nodeDeltas))
	for nk, a := range nodeDeltas {
		pct := (a.user + a.nice) / a.total * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		out = append(out, schema.MetricRecord{
			JobID:     nk.jobID,
			Host:      nk.node,
			Event:     schema.EventCPUUser,
			Value:     pct,
			Units:     unitsCPUPercent,
			Timestamp: timeFromUnix(nk.ts),
		})
	}
	sortRecords(out)
	return out, nil
}
