// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/archive/parquet"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
	"github.com/stretchr/testify/require"
)

func TestGroupByPeriodMonthly(t *testing.T) {
	paths := []string{
		"ds/v1/2024-05/2024-05-01.parquet",
		"ds/v1/2024-05/2024-05-15.parquet",
		"ds/v1/2024-06/2024-06-01.parquet",
		"ds/v1/2024-06/no-date.parquet",
	}
	groups := GroupByPeriod(paths, Monthly)
	require.Len(t, groups, 2)
	require.ElementsMatch(t, []string{
		"ds/v1/2024-05/2024-05-01.parquet",
		"ds/v1/2024-05/2024-05-15.parquet",
	}, groups["2024-05"])
	require.ElementsMatch(t, []string{"ds/v1/2024-06/2024-06-01.parquet"}, groups["2024-06"])
}

func TestGroupByPeriodQuarterly(t *testing.T) {
	paths := []string{"a/2024-01-10.parquet", "b/2024-03-20.parquet", "c/2024-04-01.parquet"}
	groups := GroupByPeriod(paths, Quarterly)
	require.Len(t, groups, 2)
	require.Len(t, groups["2024-Q1"], 2)
	require.Len(t, groups["2024-Q2"], 1)
}

func writeOutputFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o640))
}

func TestBuildPeriodCreatesArchiveAndCatalogEntry(t *testing.T) {
	dataRoot := t.TempDir()
	writeOutputFile(t, dataRoot, "2024-05-01.parquet", "day-one-bytes")
	writeOutputFile(t, dataRoot, "2024-05-02.parquet", "day-two-bytes")

	source := parquet.NewFileSource(dataRoot)
	target, err := parquet.NewFileTarget(dataRoot)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.WorkingDir = t.TempDir()
	b, err := New(source, target, "archives/index.json", cfg)
	require.NoError(t, err)

	entry, err := b.BuildPeriod("2024-05", []string{"2024-05-01.parquet", "2024-05-02.parquet"})
	require.NoError(t, err)
	require.Equal(t, "2024-05", entry.Period)
	require.Equal(t, "archives/2024-05.tar.gz", entry.Path)
	require.Equal(t, 2, entry.ObjectCount)
	require.Equal(t, "2024-05-01", entry.Start)
	require.Equal(t, "2024-05-02", entry.End)
	require.NotEmpty(t, entry.Checksum)

	_, err = os.Stat(filepath.Join(dataRoot, "archives", "2024-05.tar.gz"))
	require.NoError(t, err)

	catalogData, err := os.ReadFile(filepath.Join(dataRoot, "archives", "index.json"))
	require.NoError(t, err)
	var entries []schema.ArchiveEntry
	require.NoError(t, json.Unmarshal(catalogData, &entries))
	require.Len(t, entries, 1)
	require.Equal(t, entry.Path, entries[0].Path)
}

func TestBuildPeriodSkipsRebuildWhenUnchanged(t *testing.T) {
	dataRoot := t.TempDir()
	writeOutputFile(t, dataRoot, "2024-05-01.parquet", "day-one-bytes")

	source := parquet.NewFileSource(dataRoot)
	target, err := parquet.NewFileTarget(dataRoot)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.WorkingDir = t.TempDir()
	b, err := New(source, target, "archives/index.json", cfg)
	require.NoError(t, err)

	first, err := b.BuildPeriod("2024-05", []string{"2024-05-01.parquet"})
	require.NoError(t, err)

	second, err := b.BuildPeriod("2024-05", []string{"2024-05-01.parquet"})
	require.NoError(t, err)
	require.Equal(t, first, second)

	catalogData, err := os.ReadFile(filepath.Join(dataRoot, "archives", "index.json"))
	require.NoError(t, err)
	var entries []schema.ArchiveEntry
	require.NoError(t, json.Unmarshal(catalogData, &entries))
	require.Len(t, entries, 1, "a cache hit must not append a duplicate catalog entry")
}

func TestBuildPeriodAbortsWhenOverWorkingDirBudget(t *testing.T) {
	dataRoot := t.TempDir()
	writeOutputFile(t, dataRoot, "2024-05-01.parquet", "0123456789")
	writeOutputFile(t, dataRoot, "2024-05-02.parquet", "0123456789")

	source := parquet.NewFileSource(dataRoot)
	target, err := parquet.NewFileTarget(dataRoot)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.WorkingDir = t.TempDir()
	cfg.MaxWorkingDirBytes = 15 // smaller than the two files combined
	b, err := New(source, target, "archives/index.json", cfg)
	require.NoError(t, err)

	_, err = b.BuildPeriod("2024-05", []string{"2024-05-01.parquet", "2024-05-02.parquet"})
	require.Error(t, err)
}
