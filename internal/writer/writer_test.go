// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package writer

import (
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/archive/parquet"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
	"github.com/stretchr/testify/require"
)

func row(day string, jid string) schema.AggregatedRow {
	t, _ := time.Parse("2006-01-02", day)
	return schema.AggregatedRow{
		Time:         t,
		Jid:          jid,
		Host:         "n01",
		Unit:         "mixed",
		ExitCode:     "COMPLETED",
		HostList:     "{n01_C}",
		ValueCPUUser: schema.Float(42),
		ValueGPU:     schema.NaN,
	}
}

func TestWriteFolderPartitionsByDayAndTagsOutputFiles(t *testing.T) {
	target, err := parquet.NewFileTarget(t.TempDir())
	require.NoError(t, err)

	d := New(target, parquet.DefaultWriterConfig(), "hpc-telemetry", "v1",
		"{dataset_name}/{version}/{folder_name}/{file_name}.{format}",
		schema.ValidationConfig{MinRows: 1, MaxFileSizeGB: 2.5})

	rows := []schema.AggregatedRow{
		row("2024-05-01", "job1"),
		row("2024-05-01", "job2"),
		row("2024-05-02", "job3"),
	}

	files, err := d.WriteFolder("2024-05", rows)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byDay := map[string]schema.OutputFile{}
	for _, f := range files {
		byDay[f.Day] = f
	}
	require.Contains(t, byDay, "2024-05-01")
	require.Contains(t, byDay, "2024-05-02")

	f1 := byDay["2024-05-01"]
	require.Equal(t, "hpc-telemetry", f1.DatasetName)
	require.Equal(t, "v1", f1.Version)
	require.Equal(t, "hpc-telemetry/v1/2024-05/2024-05-01.parquet", f1.Path)
	require.False(t, f1.Chunked)
	require.NotEmpty(t, f1.Checksum)
	require.Greater(t, f1.ByteSize, int64(0))
}

func TestResolvePathSubstitutesTimestamp(t *testing.T) {
	target, err := parquet.NewFileTarget(t.TempDir())
	require.NoError(t, err)

	d := New(target, parquet.DefaultWriterConfig(), "hpc-telemetry", "v1",
		"{dataset_name}/{version}/{timestamp}/{file_name}.{format}",
		schema.ValidationConfig{MinRows: 1, MaxFileSizeGB: 2.5})

	require.Equal(t, "hpc-telemetry/v1/2024-05-01/2024-05-01", d.resolvePath("2024-05", "2024-05-01"))
}

func TestWriteFolderRejectsDayBelowMinRows(t *testing.T) {
	target, err := parquet.NewFileTarget(t.TempDir())
	require.NoError(t, err)

	d := New(target, parquet.DefaultWriterConfig(), "hpc-telemetry", "v1",
		"{dataset_name}/{version}/{folder_name}/{file_name}.{format}",
		schema.ValidationConfig{MinRows: 5, MaxFileSizeGB: 2.5})

	rows := []schema.AggregatedRow{row("2024-05-01", "job1")}
	_, err = d.WriteFolder("2024-05", rows)
	require.Error(t, err)
}

func TestWriteFolderFailsOnNoRows(t *testing.T) {
	target, err := parquet.NewFileTarget(t.TempDir())
	require.NoError(t, err)

	d := New(target, parquet.DefaultWriterConfig(), "hpc-telemetry", "v1",
		"{dataset_name}/{version}/{folder_name}/{file_name}.{format}",
		schema.ValidationConfig{MinRows: 1, MaxFileSizeGB: 2.5})

	_, err = d.WriteFolder("2024-05", nil)
	require.Error(t, err)
}
