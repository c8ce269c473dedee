// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskManager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsIntervalTask(t *testing.T) {
	sch, err := New()
	require.NoError(t, err)

	ran := make(chan struct{}, 1)
	err = sch.RegisterInterval("test-task", 10*time.Millisecond, func(ctx context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	sch.Start()
	defer func() { require.NoError(t, sch.Shutdown()) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task did not run in time")
	}
}

func TestSchedulerRejectsInvalidCron(t *testing.T) {
	sch, err := New()
	require.NoError(t, err)
	defer func() { require.NoError(t, sch.Shutdown()) }()

	err = sch.RegisterCron("bad-cron", "not a cron expression", func(ctx context.Context) {})
	require.Error(t, err)
}
