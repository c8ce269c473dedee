// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// filterExprParams is the params payload for a "filter_expr" transformation
// step (additive to the mandatory §4.3 transforms): a single boolean
// expression evaluated per record, keeping the record when it evaluates
// true.
type filterExprParams struct {
	Expr string `json:"expr"`
}

// filterStep is one compiled, ready-to-run "filter_expr" transformation.
type filterStep struct {
	source  string
	program *vm.Program
}

// buildFilterSteps compiles every "filter_expr" entry in steps, in order.
// Any other transformation type is ignored here since it belongs to the
// mandatory §4.3 pipeline, not this declarative layer.
func buildFilterSteps(steps []schema.TransformationStep) ([]filterStep, error) {
	var out []filterStep
	for _, s := range steps {
		if s.Type != "filter_expr" {
			continue
		}
		var params filterExprParams
		if err := json.Unmarshal(s.Params, &params); err != nil {
			return nil, errkind.Wrap(errkind.Configuration, "orchestrator", fmt.Errorf("filter_expr: invalid params: %w", err))
		}
		program, err := expr.Compile(params.Expr, expr.AsBool())
		if err != nil {
			return nil, errkind.Wrap(errkind.Configuration, "orchestrator", fmt.Errorf("filter_expr %q: %w", params.Expr, err))
		}
		out = append(out, filterStep{source: params.Expr, program: program})
	}
	return out, nil
}

// recordEnv builds the expr evaluation environment for one record, the
// fields a filter_expr may reference.
func recordEnv(r schema.MetricRecord) map[string]any {
	return map[string]any{
		"job_id":    r.JobID,
		"host":      r.Host,
		"event":     string(r.Event),
		"value":     r.Value,
		"units":     r.Units,
		"timestamp": r.Timestamp,
	}
}

// applyFilterSteps drops any record for which some compiled filter_expr
// evaluates false. A step that errors at runtime (a field the expression
// didn't expect) is logged and treated as non-matching for that record,
// rather than aborting the whole folder over one bad row.
func applyFilterSteps(records []schema.MetricRecord, steps []filterStep) []schema.MetricRecord {
	if len(steps) == 0 {
		return records
	}
	kept := make([]schema.MetricRecord, 0, len(records))
	for _, r := range records {
		env := recordEnv(r)
		keep := true
		for _, step := range steps {
			result, err := expr.Run(step.program, env)
			if err != nil {
				log.Warnf("orchestrator: filter_expr %q failed on record (job %s, host %s): %v", step.source, r.JobID, r.Host, err)
				keep = false
				break
			}
			if ok, _ := result.(bool); !ok {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, r)
		}
	}
	return kept
}
