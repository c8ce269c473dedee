// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transform

import (
	"math"
	"sort"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// Block computes the block I/O rate transformer of §4.3 (event="block",
// units="GB/s"). Rates are computed per (jobID, node, device) from
// successive sector counts, then summed across devices to the node
// level.
func Block(path string) ([]schema.MetricRecord, error) {
	rows, err := readRows(path, []string{"rd_sectors", "wr_sectors"}, "device")
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

	// node-level aggregation key
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
			sectorDelta := (cur.values["rd_sectors"] + cur.values["wr_sectors"]) -
				(prev.values["rd_sectors"] + prev.values["wr_sectors"])

			if timeDelta < 0.1 || sectorDelta < 0 {
				continue
			}

			rate := sectorDelta * 512 / timeDelta / (1 << 30)
			if rate < 0 {
				rate = 0
			}

			nk := nodeKey{cur.jobID, cur.node, cur.timestamp.Unix()}
			rates[nk] += rate
		}
	}

	out := make([]schema.MetricRecord, 0, len(rates))
	for nk, rate := range rates {
		out = append(out, schema.MetricRecord{
			JobID:     nk.jobID,
			Host:      nk.node,
			Event:     schema.EventBlock,
			Value:     math.Max(rate, 0),
			Units:     unitsGBPerSec,
			Timestamp: timeFromUnix(nk.ts),
		})
	}
	sortRecords(out)
	return out, nil
}
