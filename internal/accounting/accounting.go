// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package accounting implements the Accounting Loader (C4, §4.4): reads
// one batch-scheduler accounting CSV for a folder's period into
// deduplicated schema.JobAccountingRecord values.
package accounting

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// requiredColumns are the accounting columns the loader reads; every
// other column in the source file is ignored.
var requiredColumns = []string{
	"jobID", "qtime", "start", "end",
	"Resource_List.walltime", "Resource_List.nodect", "Resource_List.ncpus",
	"account", "queue", "jobname", "Exit_status", "user", "exec_host",
}

const recordTypeColumn = "rectype"
const endOfJobRecordType = "E"

var jobIDPrefixRe = regexp.MustCompile(`(?i)^jobid`)

func normalizeJobID(raw string) string {
	return jobIDPrefixRe.ReplaceAllString(raw, "job")
}

// Load reads path and returns one deduplicated JobAccountingRecord per
// jobID, keeping the record with the latest end time on duplicates. It
// fails with a SourceError (errkind.Source) only if the file is missing,
// structurally unreadable, or lacks a required column. A row with an
// empty jobID or an unparsable qtime/start/end is skipped; an unparsable
// walltime becomes NaN, an unparsable node or cpu count becomes 0, and
// an unparsable Exit_status becomes nil.
func Load(path string) ([]schema.JobAccountingRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Source, "accounting", fmt.Errorf("open %q: %w", path, err))
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errkind.Wrap(errkind.Source, "accounting", fmt.Errorf("parse csv %q: %w", path, err))
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, errkind.Wrap(errkind.Source, "accounting", fmt.Errorf("%q: missing required column %q", path, name))
		}
	}
	hasRecordType := false
	if _, ok := col[recordTypeColumn]; ok {
		hasRecordType = true
	}

	latest := make(map[string]schema.JobAccountingRecord)
	for _, rec := range records[1:] {
		if len(rec) < len(header) {
			continue
		}
		if hasRecordType && strings.TrimSpace(rec[col[recordTypeColumn]]) != endOfJobRecordType {
			continue
		}

		jr, ok := parseRow(rec, col)
		if !ok {
			continue
		}

		if existing, found := latest[jr.JobID]; !found || jr.EndTime.After(existing.EndTime) {
			latest[jr.JobID] = jr
		}
	}

	out := make([]schema.JobAccountingRecord, 0, len(latest))
	for _, jr := range latest {
		out = append(out, jr)
	}
	return out, nil
}

func parseRow(rec []string, col map[string]int) (schema.JobAccountingRecord, bool) {
	field := func(name string) string { return strings.TrimSpace(rec[col[name]]) }

	jobID := normalizeJobID(field("jobID"))
	if jobID == "" {
		return schema.JobAccountingRecord{}, false
	}

	submit, err1 := parseUnixOrRFC(field("qtime"))
	start, err2 := parseUnixOrRFC(field("start"))
	end, err3 := parseUnixOrRFC(field("end"))
	if err1 != nil || err2 != nil || err3 != nil {
		return schema.JobAccountingRecord{}, false
	}

	walltime, ok := parseWalltime(field("Resource_List.walltime"))
	if !ok {
		walltime = schema.NaN
	}

	nhosts, _ := strconv.ParseFloat(field("Resource_List.nodect"), 64)
	ncores, _ := strconv.ParseFloat(field("Resource_List.ncpus"), 64)

	var exitStatus *int
	if raw := field("Exit_status"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			exitStatus = &v
		}
	}

	return schema.JobAccountingRecord{
		JobID:                jobID,
		Queue:                field("queue"),
		Account:              field("account"),
		User:                 field("user"),
		JobName:              field("jobname"),
		SubmitTime:           submit,
		StartTime:            start,
		EndTime:              end,
		WalltimeLimitSeconds: walltime,
		NHosts:               nhosts,
		NCores:               ncores,
		ExitStatus:           exitStatus,
		ExecHostList:         field("exec_host"),
	}, true
}

// parseUnixOrRFC parses either a Unix epoch seconds string or an RFC3339
// timestamp, always returning UTC, matching how accounting exports vary
// between schedulers.
func parseUnixOrRFC(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseWalltime accepts HH:MM:SS, MM:SS, SS, or a bare integer number of
// seconds, per §4.4; anything else yields ok=false (null).
func parseWalltime(raw string) (schema.Float, bool) {
	if raw == "" {
		return schema.NaN, false
	}
	parts := strings.Split(raw, ":")
	var secs int64
	switch len(parts) {
	case 1:
		v, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return schema.NaN, false
		}
		secs = v
	case 2:
		m, err1 := strconv.ParseInt(parts[0], 10, 64)
		s, err2 := strconv.ParseInt(parts[1], 10, 64)
		if err1 != nil || err2 != nil {
			return schema.NaN, false
		}
		secs = m*60 + s
	case 3:
		h, err1 := strconv.ParseInt(parts[0], 10, 64)
		m, err2 := strconv.ParseInt(parts[1], 10, 64)
		s, err3 := strconv.ParseInt(parts[2], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return schema.NaN, false
		}
		secs = h*3600 + m*60 + s
	default:
		return schema.NaN, false
	}
	return schema.Float(secs), true
}
