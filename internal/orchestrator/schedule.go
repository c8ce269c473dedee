// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/internal/taskManager"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// staleSignalSweepInterval is how often watch mode re-checks for a
// transfer_failed signal left over from a prior crashed run, and retries
// it through the Stage Mover (§4.7's re-transfer rule, surfaced as a
// background sweep rather than only on next folder arrival).
const staleSignalSweepInterval = 5 * time.Minute

// StartSchedule wires the config's optional "schedule" cron expression
// (SPEC_FULL.md "Scheduling surface") to a periodic catalog rebuild, plus
// an unconditional stale-signal recovery sweep, and starts both. The
// caller owns the returned Scheduler's lifetime and must call Shutdown on
// it during process teardown.
func (o *Orchestrator) StartSchedule() (*taskManager.Scheduler, error) {
	sch, err := taskManager.New()
	if err != nil {
		return nil, err
	}

	if o.cfg.Schedule != "" {
		if err := sch.RegisterCron("catalog-rebuild", o.cfg.Schedule, func(ctx context.Context) {
			if err := o.BuildCatalog(); err != nil {
				log.Errorf("orchestrator: scheduled catalog rebuild failed: %v", err)
			}
		}); err != nil {
			return nil, err
		}
	}

	if err := sch.RegisterInterval("stale-signal-recovery", staleSignalSweepInterval, func(ctx context.Context) {
		o.recoverStaleTransfers(ctx)
	}); err != nil {
		return nil, err
	}

	sch.Start()
	return sch, nil
}

// recoverStaleTransfers re-attempts every folder still marked
// transfer_failed: a remote_http folder is re-fetched from scratch (the
// raw->staging hop that actually failed), a local_fs folder is re-run
// directly from its source path. This is the background counterpart to
// the Stage Mover's on-demand IsStale check, covering the case where the
// orchestrator crashed before a retry could happen on next arrival.
func (o *Orchestrator) recoverStaleTransfers(ctx context.Context) {
	files, err := o.signal.ListByStatus(schema.SignalTransferFailed)
	if err != nil {
		log.Warnf("orchestrator: stale-signal sweep: list transfer_failed signals: %v", err)
		return
	}
	for _, f := range files {
		log.Infof("orchestrator: stale-signal sweep: retrying %q", f.Key)
		var retryErr error
		if o.cfg.Source.Type == "remote_http" {
			retryErr = o.processRemoteFolder(ctx, f.Key)
		} else {
			retryErr = o.processLocalFolder(ctx, f.Key, filepath.Join(o.cfg.Source.BasePath, f.Key))
		}
		if retryErr != nil {
			log.Warnf("orchestrator: stale-signal sweep: retry %q failed: %v", f.Key, retryErr)
		}
	}
}
