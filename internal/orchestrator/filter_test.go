// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
	"github.com/stretchr/testify/require"
)

func mustParams(t *testing.T, exprStr string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(filterExprParams{Expr: exprStr})
	require.NoError(t, err)
	return raw
}

func TestBuildFilterStepsIgnoresOtherStepTypes(t *testing.T) {
	steps, err := buildFilterSteps([]schema.TransformationStep{
		{Type: "normalize_host"},
		{Type: "filter_expr", Params: mustParams(t, `value > 0`)},
	})
	require.NoError(t, err)
	require.Len(t, steps, 1)
}

func TestBuildFilterStepsRejectsInvalidExpr(t *testing.T) {
	_, err := buildFilterSteps([]schema.TransformationStep{
		{Type: "filter_expr", Params: mustParams(t, `value >`)},
	})
	require.Error(t, err)
}

func TestApplyFilterStepsDropsNonMatching(t *testing.T) {
	steps, err := buildFilterSteps([]schema.TransformationStep{
		{Type: "filter_expr", Params: mustParams(t, `event == "cpuuser" && value > 50`)},
	})
	require.NoError(t, err)

	records := []schema.MetricRecord{
		{JobID: "JOB1", Host: "n01", Event: schema.EventCPUUser, Value: 90, Timestamp: time.Now()},
		{JobID: "JOB1", Host: "n01", Event: schema.EventCPUUser, Value: 10, Timestamp: time.Now()},
		{JobID: "JOB1", Host: "n01", Event: schema.EventBlock, Value: 99, Timestamp: time.Now()},
	}

	kept := applyFilterSteps(records, steps)
	require.Len(t, kept, 1)
	require.Equal(t, 90.0, kept[0].Value)
}

func TestApplyFilterStepsNoStepsReturnsInput(t *testing.T) {
	records := []schema.MetricRecord{{JobID: "JOB1"}}
	kept := applyFilterSteps(records, nil)
	require.Equal(t, records, kept)
}

func TestApplyFilterStepsTreatsRuntimeErrorAsDropped(t *testing.T) {
	// "host" is always a string on a MetricRecord, so comparing it against
	// an int is a type mismatch expr evaluates as a runtime error rather
	// than a compile error (it can't be ruled out statically).
	steps, err := buildFilterSteps([]schema.TransformationStep{
		{Type: "filter_expr", Params: mustParams(t, `host > 1`)},
	})
	require.NoError(t, err)

	records := []schema.MetricRecord{{JobID: "JOB1", Host: "n01", Event: schema.EventCPUUser, Value: 1}}
	kept := applyFilterSteps(records, steps)
	require.Empty(t, kept)
}
