// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherClaimAtMostOnce(t *testing.T) {
	w, err := newWatcher(defaultWatchConfig())
	require.NoError(t, err)
	defer w.close()

	require.True(t, w.claim("/tmp/a.csv"))
	require.False(t, w.claim("/tmp/a.csv"))
	require.True(t, w.claim("/tmp/b.csv"))
}

func TestWaitFileStableSucceedsOnceSizeStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growing.csv")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o640))

	done := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, os.WriteFile(path, []byte("ab"), 0o640))
		close(done)
	}()

	err := waitFileStable(context.Background(), path, 100*time.Millisecond)
	require.NoError(t, err)
	<-done
}

func TestWaitFileStableRespectsContextCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stuck.csv")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o640))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitFileStable(ctx, path, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitFileStableMissingFileErrors(t *testing.T) {
	err := waitFileStable(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), time.Millisecond)
	require.Error(t, err)
}

func TestProcessWatchedFileSucceedsWithinRetries(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, nil)
	require.NoError(t, err)

	srcDir := t.TempDir()
	writeFixture(t, srcDir, "accounting.csv", accountingFixture)
	cpuPath := writeFixture(t, srcDir, "cpu.csv", cpuFixture)

	w, err := newWatcher(watchConfig{StabilityDelay: time.Millisecond, MaxRetries: 2, RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	defer w.close()

	name, err := o.processWatchedFile(context.Background(), w, cpuPath)
	require.NoError(t, err)
	require.Equal(t, "cpu.csv", name)
}

func TestProcessWatchedFileExhaustsRetriesAndReturnsLastError(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, nil)
	require.NoError(t, err)

	srcDir := t.TempDir()
	// No accompanying accounting.csv: every attempt's inner join drops
	// all records, so RunSingleFile always reports the file as failed.
	cpuPath := writeFixture(t, srcDir, "cpu.csv", cpuFixture)

	w, err := newWatcher(watchConfig{StabilityDelay: time.Millisecond, MaxRetries: 2, RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	defer w.close()

	name, err := o.processWatchedFile(context.Background(), w, cpuPath)
	require.Error(t, err)
	require.Equal(t, "cpu.csv", name)
}
