// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package signaldir

import (
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
	"github.com/stretchr/testify/require"
)

func TestMarkCompleteRemovesPriorSignals(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.MarkReady("2024-05-01"))
	require.NoError(t, d.MarkProcessing("2024-05-01"))
	require.NoError(t, d.MarkComplete("2024-05-01"))

	status, err := d.CurrentStatus("2024-05-01")
	require.NoError(t, err)
	require.Equal(t, schema.SignalComplete, status)

	ready, err := d.ListByStatus(schema.SignalReady)
	require.NoError(t, err)
	require.Empty(t, ready)

	processing, err := d.ListByStatus(schema.SignalProcessing)
	require.NoError(t, err)
	require.Empty(t, processing)
}

func TestCurrentStatusProcessingWinsOverReady(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.MarkReady("2024-06"))
	require.NoError(t, d.MarkProcessing("2024-06"))

	status, err := d.CurrentStatus("2024-06")
	require.NoError(t, err)
	require.Equal(t, schema.SignalProcessing, status)
}

func TestMarkFailedRecordsMessage(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.MarkFailed("2024-06-02", "checksum mismatch"))
	failed, err := d.ListByStatus(schema.SignalFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "checksum mismatch", failed[0].Message)
}

func TestIsStale(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.MarkReady("2024-06-03"))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.MarkProcessing("2024-06-03"))

	stale, err := d.IsStale("2024-06-03", schema.SignalProcessing, schema.SignalReady)
	require.NoError(t, err)
	require.True(t, stale, "processing should be newer than ready")

	stale, err = d.IsStale("2024-06-03", schema.SignalReady, schema.SignalProcessing)
	require.NoError(t, err)
	require.False(t, stale)
}

func TestIsStaleMissingFileIsZeroTime(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, d.MarkReady("2024-06-04"))

	stale, err := d.IsStale("2024-06-04", schema.SignalReady, schema.SignalComplete)
	require.NoError(t, err)
	require.True(t, stale)
}
