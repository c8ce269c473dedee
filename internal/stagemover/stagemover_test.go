// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package stagemover

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/internal/signaldir"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
	"github.com/stretchr/testify/require"
)

func fastTestConfig() Config {
	return Config{
		StabilityWindow: 20 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		MaxInflight:     2,
		PauseInterval:   20 * time.Millisecond,
		MaxAttempts:     2,
		BackoffBase:     5 * time.Millisecond,
	}
}

func TestMoveKeyTransfersVerifiesAndCleansUp(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	sigDir, err := signaldir.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, sigDir.MarkComplete("2024-05"))

	srcPath := filepath.Join(srcDir, "2024-05-01.parquet")
	require.NoError(t, os.WriteFile(srcPath, []byte("parquet-bytes"), 0o640))

	mover := New(fastTestConfig(), sigDir)
	err = mover.MoveKey(context.Background(), "2024-05", []string{srcPath}, destDir)
	require.NoError(t, err)

	destPath := filepath.Join(destDir, "2024-05-01.parquet")
	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, "parquet-bytes", string(data))

	_, err = os.Stat(srcPath)
	require.True(t, os.IsNotExist(err))

	status, err := sigDir.CurrentStatus("2024-05")
	require.NoError(t, err)
	require.Equal(t, schema.SignalTransferred, status)
}

func TestMoveKeyWaitsForDestinationCapacity(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	sigDir, err := signaldir.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, sigDir.MarkComplete("2024-06"))

	// fill destDir to MaxInflight so the mover must wait.
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "a"), []byte("x"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "b"), []byte("x"), 0o640))

	srcPath := filepath.Join(srcDir, "2024-06-01.parquet")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0o640))

	go func() {
		time.Sleep(30 * time.Millisecond)
		os.Remove(filepath.Join(destDir, "a"))
	}()

	mover := New(fastTestConfig(), sigDir)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = mover.MoveKey(ctx, "2024-06", []string{srcPath}, destDir)
	require.NoError(t, err)
}

func TestTransferWithRetryExhaustsAndFails(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o640))

	sigDir, err := signaldir.New(t.TempDir())
	require.NoError(t, err)

	mover := New(fastTestConfig(), sigDir)
	_, err = mover.transferWithRetry(context.Background(), src, filepath.Join(dir, "no-such-parent", "sub"))
	require.Error(t, err)
}

func TestWaitStableErrorsOnMissingFile(t *testing.T) {
	sigDir, err := signaldir.New(t.TempDir())
	require.NoError(t, err)
	mover := New(fastTestConfig(), sigDir)
	err = mover.waitStable(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
