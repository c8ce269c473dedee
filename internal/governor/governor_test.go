// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package governor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestLevelForThresholds(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, Critical, levelFor(4.9, 100, cfg))
	require.Equal(t, Warning, levelFor(10, 100, cfg))
	require.Equal(t, OK, levelFor(25, 100, cfg))
}

func TestLevelForMemoryThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFreeMemoryGiB = 2.0
	require.Equal(t, Critical, levelFor(25, 1.0, cfg))
	require.Equal(t, OK, levelFor(25, 3.0, cfg))
}

func TestProcessPoolSize(t *testing.T) {
	cfg := Config{CPUWorkers: 8}
	require.Equal(t, 3, ProcessPoolSize(3, cfg))
	require.Equal(t, 8, ProcessPoolSize(20, cfg))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MAX_WORKERS", "4")
	t.Setenv("MIN_FREE_DISK_GB", "10.5")
	t.Setenv("BASE_CHUNK_SIZE", "1000")

	cfg := LoadConfigFromEnv(DefaultConfig())
	require.Equal(t, 4, cfg.NetWorkers)
	require.Equal(t, 4, cfg.CPUWorkers)
	require.Equal(t, 10.5, cfg.CriticalDiskGiB)
	require.Equal(t, 1000, cfg.BaseChunkRows)
}

func TestLoadConfigFromEnvIgnoresUnparsable(t *testing.T) {
	t.Setenv("MAX_WORKERS", "not-a-number")
	base := DefaultConfig()
	cfg := LoadConfigFromEnv(base)
	require.Equal(t, base.NetWorkers, cfg.NetWorkers)
}

func TestParseMemAvailableKB(t *testing.T) {
	sample := []byte("MemTotal:       16384000 kB\nMemFree:         2048000 kB\nMemAvailable:    8192000 kB\n")
	kb, ok := parseMemAvailableKB(sample)
	require.True(t, ok)
	require.Equal(t, int64(8192000), kb)
}

func TestParseMemAvailableKBMissing(t *testing.T) {
	_, ok := parseMemAvailableKB([]byte("MemTotal: 1000 kB\n"))
	require.False(t, ok)
}

func TestChunkRowsUsesBaseOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseChunkRows = 12345
	g := New(cfg, prometheus.NewRegistry())
	require.Equal(t, 12345, g.ChunkRows())
}

func TestAwaitCapacityReturnsImmediatelyWhenHealthy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CriticalDiskGiB = -1 // always healthy regardless of real free disk
	g := New(cfg, prometheus.NewRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.AwaitCapacity(ctx, "."))
}
