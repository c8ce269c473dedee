// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transform

import "github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"

// Mem computes the memory transformer of §4.3. Every input row emits two
// output records: memused and memused_minus_diskcache, both in GB.
func Mem(path string) ([]schema.MetricRecord, error) {
	rows, err := readRows(path, []string{"MemTotal", "MemFree", "FilePages"}, "")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]schema.MetricRecord, 0, len(rows)*2)
	for _, r := range rows {
		total := clampNonNegative(r.values["MemTotal"])
		free := clampNonNegative(r.values["MemFree"])
		if free > total {
			free = total
		}
		used := total - free

		filePages := clampNonNegative(r.values["FilePages"])
		if filePages > total {
			filePages = total
		}
		if filePages > used {
			filePages = used
		}

		const giB = 1 << 30
		out = append(out, schema.MetricRecord{
			JobID:     r.jobID,
			Host:      r.node,
			Event:     schema.EventMemUsed,
			Value:     used / giB,
			Units:     unitsGB,
			Timestamp: r.timestamp,
		})
		out = append(out, schema.MetricRecord{
			JobID:     r.jobID,
			Host:      r.node,
			Event:     schema.EventMemUsedMinusDiskcache,
			Value:     (used - filePages) / giB,
			Units:     unitsGB,
			Timestamp: r.timestamp,
		})
	}
	sortRecords(out)
	return out, nil
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
