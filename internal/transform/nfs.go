// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transform

import (
	"sort"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// NFS computes the NFS/LLite transformer of §4.3 (event="nfs",
// units="MB/s"). Unlike Block, this source has no device dimension:
// duplicate same-timestamp records for a node are summed.
func NFS(path string) ([]schema.MetricRecord, error) {
	rows, err := readRows(path, []string{"read_bytes", "write_bytes"}, "")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	type key struct{ jobID, node string }
	grouped := make(map[key][]row)
	for _, r := range rows {
		k := key{r.jobID, r.node}
		grouped[k] = append(grouped[k], r)
	}

	type nodeKey struct {
		jobID, node string
		ts          int64
	}
	rates := make(map[nodeKey]float64)

	for _, series := range grouped {
		sort.Slice(series, func(i, j int) bool { return series[i].timestamp.Before(series[j].timestamp) })
		for i := 1; i < len(series); i++ {
			prev, cur := series[i-1], series[i]
			timeDelta := cur.timestamp.Sub(prev.timestamp).Seconds()
			byteDelta := (cur.values["read_bytes"] + cur.values["write_bytes"]) -
				(prev.values["read_bytes"] + prev.values["write_bytes"])

			if timeDelta < 0.1 || byteDelta < 0 {
				continue
			}

			rate := byteDelta / timeDelta / (1 << 20)
			nk := nodeKey{cur.jobID, cur.node, cur.timestamp.Unix()}
			rates[nk] += rate
		}
	}

	out := make([]schema.MetricRecord, 0, len(rates))
	for nk, rate := range rates {
		if rate < 0 {
			rate = 0
		}
		out = append(out, schema.MetricRecord{
			JobID:     nk.jobID,
			Host:      nk.node,
			Event:     schema.EventNFS,
			Value:     rate,
			Units:     unitsMBPerSec,
			Timestamp: timeFromUnix(nk.ts),
		})
	}
	sortRecords(out)
	return out, nil
}
