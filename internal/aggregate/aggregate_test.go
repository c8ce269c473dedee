// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package aggregate

import (
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeHostList(t *testing.T) {
	got := CanonicalizeHostList("NODE12/0+NODE03/1+NODE12/2+-1/0")
	require.Equal(t, "{NODE03_C,NODE12_C}", got)
}

func TestNormalizeJoinKey(t *testing.T) {
	require.Equal(t, "job12345", NormalizeJoinKey("12345"))
	require.Equal(t, "job12345", NormalizeJoinKey("JOB12345"))
	require.Equal(t, "job12345", NormalizeJoinKey("job12345"))
}

func TestRunJoinsAndMeans(t *testing.T) {
	exit := 0
	jobs := map[string]schema.JobAccountingRecord{
		"job1": {
			JobID:        "job1",
			Account:      "acct",
			Queue:        "batch",
			User:         "alice",
			JobName:      "sim",
			SubmitTime:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			StartTime:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			EndTime:      time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC),
			NHosts:       1,
			NCores:       16,
			ExitStatus:   &exit,
			ExecHostList: "n01/0+n01/1",
		},
	}

	records := []schema.MetricRecord{
		{JobID: "JOB1", Host: "n01", Event: schema.EventCPUUser, Value: 40, Timestamp: time.Date(2024, 5, 1, 12, 30, 10, 0, time.UTC)},
		{JobID: "JOB1", Host: "n01", Event: schema.EventCPUUser, Value: 60, Timestamp: time.Date(2024, 5, 1, 12, 30, 20, 0, time.UTC)},
		// outside the job window: dropped
		{JobID: "JOB1", Host: "n01", Event: schema.EventCPUUser, Value: 90, Timestamp: time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)},
		// unknown job: dropped
		{JobID: "JOB2", Host: "n02", Event: schema.EventCPUUser, Value: 10, Timestamp: time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)},
	}

	rows := Run(records, jobs)
	require.Len(t, rows, 1)
	row := rows[0]
	require.Equal(t, "job1", row.Jid)
	require.Equal(t, "n01", row.Host)
	require.Equal(t, "mixed", row.Unit)
	require.Equal(t, "COMPLETED", row.ExitCode)
	require.Equal(t, "{n01_C}", row.HostList)
	require.InDelta(t, 50.0, float64(row.ValueCPUUser), 0.001)
	require.True(t, row.ValueGPU.IsNaN())
	require.True(t, row.ValueMemUsed.IsNaN())
}

func TestRunChunksReportsNothingProducedWhenNoChunkJoins(t *testing.T) {
	jobs := map[string]schema.JobAccountingRecord{}
	chunks := [][]schema.MetricRecord{
		{{JobID: "unknown", Host: "n01", Event: schema.EventCPUUser, Value: 1, Timestamp: time.Now()}},
		nil,
	}
	rows, anyProduced := RunChunks(chunks, jobs, 2)
	require.Empty(t, rows)
	require.False(t, anyProduced)
}

func TestChooseChunkRows(t *testing.T) {
	require.Equal(t, 500_000, ChooseChunkRows(40))
	require.Equal(t, 250_000, ChooseChunkRows(20))
	require.Equal(t, 100_000, ChooseChunkRows(5))
}
