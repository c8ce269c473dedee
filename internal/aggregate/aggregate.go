// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregate implements the Join/Aggregate Engine (C5, §4.5):
// joining a month's worth of raw-transformer MetricRecords against the
// accounting table and reducing them to AggregatedRows.
package aggregate

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// ChooseChunkRows picks C_rows from the available memory budget, per
// §4.5's table (500k/250k/100k rows at >30/>15/else GiB).
func ChooseChunkRows(availableGiB float64) int {
	switch {
	case availableGiB > 30:
		return 500_000
	case availableGiB > 15:
		return 250_000
	default:
		return 100_000
	}
}

// NormalizeJoinKey applies §4.5 step 1: purely numeric ids get a "job"
// prefix, anything else is lowercased. This reconciles the differing
// case conventions the Fetcher-side transformers (§4.3, "JOB" prefix)
// and the Accounting Loader (§4.4, "job" prefix) each produce.
func NormalizeJoinKey(jobID string) string {
	if isPurelyNumeric(jobID) {
		return "job" + jobID
	}
	return strings.ToLower(jobID)
}

func isPurelyNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CanonicalizeHostList parses an exec_host string of the form
// "HOST/idx+HOST/idx+..." into the canonical "{HOST_C,HOST_C,...}" form:
// unique hostnames (dropping the "-1" sentinel), sorted, each suffixed
// "_C".
func CanonicalizeHostList(execHost string) string {
	if execHost == "" {
		return "{}"
	}
	seen := make(map[string]bool)
	var hosts []string
	for _, part := range strings.Split(execHost, "+") {
		host := part
		if idx := strings.IndexByte(part, '/'); idx >= 0 {
			host = part[:idx]
		}
		if host == "" || host == "-1" || seen[host] {
			continue
		}
		seen[host] = true
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for i := range hosts {
		hosts[i] += "_C"
	}
	return "{" + strings.Join(hosts, ",") + "}"
}

// groupKey identifies one (jid, host, time) output row.
type groupKey struct {
	jid    string
	host   string
	minute time.Time
}

// Run executes §4.5 steps 1-7 over one chunk of records against the
// shared, read-only jobs table. Rows whose jobId has no accounting match,
// or whose timestamp falls outside the job's [start, end] window, are
// dropped (inner join + window filter).
func Run(records []schema.MetricRecord, jobs map[string]schema.JobAccountingRecord) []schema.AggregatedRow {
	groups := make(map[groupKey][]schema.MetricRecord)
	for _, r := range records {
		jid := NormalizeJoinKey(r.JobID)
		job, ok := jobs[jid]
		if !ok || !job.Window(r.Timestamp) {
			continue
		}
		key := groupKey{jid: jid, host: r.Host, minute: r.Timestamp.Truncate(time.Minute)}
		groups[key] = append(groups[key], r)
	}

	rows := make([]schema.AggregatedRow, 0, len(groups))
	for key, members := range groups {
		job := jobs[key.jid]
		rows = append(rows, buildRow(key, members, job))
	}
	sortRows(rows)
	return rows
}

func buildRow(key groupKey, members []schema.MetricRecord, job schema.JobAccountingRecord) schema.AggregatedRow {
	sums := make(map[schema.Event]float64)
	counts := make(map[schema.Event]int)
	for _, m := range members {
		sums[m.Event] += m.Value
		counts[m.Event]++
	}
	mean := func(e schema.Event) schema.Float {
		if counts[e] == 0 {
			return schema.NaN
		}
		return schema.Float(sums[e] / float64(counts[e]))
	}

	return schema.AggregatedRow{
		Time:       key.minute,
		SubmitTime: job.SubmitTime,
		StartTime:  job.StartTime,
		EndTime:    job.EndTime,
		Timelimit:  float64(job.WalltimeLimitSeconds),
		NHosts:     job.NHosts,
		NCores:     job.NCores,
		Account:    job.Account,
		Queue:      job.Queue,
		Host:       key.host,
		Jid:        key.jid,
		Unit:       "mixed",
		JobName:    job.JobName,
		ExitCode:   schema.CleanExitCode(job.ExitCodeString()),
		HostList:   CanonicalizeHostList(job.ExecHostList),
		Username:   job.User,

		ValueCPUUser:               mean(schema.EventCPUUser),
		ValueGPU:                   mean(schema.EventGPU),
		ValueMemUsed:               mean(schema.EventMemUsed),
		ValueMemUsedMinusDiskcache: mean(schema.EventMemUsedMinusDiskcache),
		ValueNFS:                   mean(schema.EventNFS),
		ValueBlock:                 mean(schema.EventBlock),
	}
}

func sortRows(rows []schema.AggregatedRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Jid != b.Jid {
			return a.Jid < b.Jid
		}
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		return a.Time.Before(b.Time)
	})
}

// RunChunks processes each chunk concurrently across workers goroutines
// (§4.5's W_cpu pool, modeled as goroutines sharing the read-only jobs
// table rather than OS processes — Go's scheduler already gives
// CPU-bound work true parallelism without a process boundary). A chunk
// that panics or otherwise fails is logged and skipped; the whole run
// only fails if no chunk produced any row.
func RunChunks(chunks [][]schema.MetricRecord, jobs map[string]schema.JobAccountingRecord, workers int) ([]schema.AggregatedRow, bool) {
	if workers <= 0 {
		workers = 1
	}

	type result struct {
		rows []schema.AggregatedRow
	}
	tasks := make(chan int, len(chunks))
	results := make([]result, len(chunks))
	for i := range chunks {
		tasks <- i
	}
	close(tasks)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				results[i] = result{rows: runChunkSafely(chunks[i], jobs)}
			}
		}()
	}
	wg.Wait()

	var all []schema.AggregatedRow
	anyProduced := false
	for _, r := range results {
		if len(r.rows) > 0 {
			anyProduced = true
		}
		all = append(all, r.rows...)
	}
	sortRows(all)
	return all, anyProduced
}

func runChunkSafely(chunk []schema.MetricRecord, jobs map[string]schema.JobAccountingRecord) (rows []schema.AggregatedRow) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("aggregate: chunk panicked, skipping: %v", r)
			rows = nil
		}
	}()
	return Run(chunk, jobs)
}

// PartitionByDay groups rows by the UTC day derived from Time, for the
// Daily Writer's per-day buffering (§4.5 "Accumulation").
func PartitionByDay(rows []schema.AggregatedRow) map[string][]schema.AggregatedRow {
	out := make(map[string][]schema.AggregatedRow)
	for _, r := range rows {
		day := r.Time.Format("2006-01-02")
		out[day] = append(out[day], r)
	}
	return out
}
