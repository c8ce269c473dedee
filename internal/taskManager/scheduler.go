// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskManager wraps gocron.v2 into a small generic scheduler for
// the orchestrator's optional "schedule" config block (SPEC_FULL.md
// "Scheduling surface"): recurring catalog rebuilds and stale-signal
// recovery sweeps. Generalized from the teacher's taskManager, which used
// the same gocron.Scheduler to run its job-database retention,
// compression, and LDAP-sync services on fixed intervals.
package taskManager

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
)

// Scheduler runs named recurring tasks on either a fixed interval or a
// cron expression.
type Scheduler struct {
	s gocron.Scheduler
}

// New creates a Scheduler. It does not start running tasks until Start is
// called.
func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "taskManager", fmt.Errorf("create scheduler: %w", err))
	}
	return &Scheduler{s: s}, nil
}

// RegisterInterval runs task every d, starting d after registration.
func (sch *Scheduler) RegisterInterval(name string, d time.Duration, task func(ctx context.Context)) error {
	_, err := sch.s.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(func() {
			log.Infof("taskManager: running %q", name)
			task(context.Background())
		}),
	)
	if err != nil {
		return errkind.Wrap(errkind.Configuration, "taskManager", fmt.Errorf("register %q: %w", name, err))
	}
	return nil
}

// RegisterCron runs task on the given five-field cron expression ("§6
// Scheduling surface").
func (sch *Scheduler) RegisterCron(name, cronExpr string, task func(ctx context.Context)) error {
	_, err := sch.s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			log.Infof("taskManager: running %q", name)
			task(context.Background())
		}),
	)
	if err != nil {
		return errkind.Wrap(errkind.Configuration, "taskManager", fmt.Errorf("register %q: %w", name, err))
	}
	return nil
}

// Start begins running every registered task on its schedule.
func (sch *Scheduler) Start() {
	sch.s.Start()
}

// Shutdown stops the scheduler, waiting for any in-flight task run to
// finish.
func (sch *Scheduler) Shutdown() error {
	if err := sch.s.Shutdown(); err != nil {
		return errkind.Wrap(errkind.Configuration, "taskManager", fmt.Errorf("shutdown: %w", err))
	}
	return nil
}
