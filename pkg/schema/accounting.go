// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"strconv"
	"time"
)

// JobAccountingRecord is one batch-scheduler accounting entry, normalized
// and deduplicated by the Accounting Loader (§4.4).
type JobAccountingRecord struct {
	JobID               string
	Queue               string
	Account             string
	User                string
	JobName             string
	SubmitTime          time.Time
	StartTime           time.Time
	EndTime             time.Time
	WalltimeLimitSeconds Float
	NHosts              float64
	NCores              float64
	ExitStatus          *int
	ExecHostList        string
}

// Window reports whether t falls within [StartTime, EndTime], inclusive,
// as required by §4.5 step 3.
func (j *JobAccountingRecord) Window(t time.Time) bool {
	return !t.Before(j.StartTime) && !t.After(j.EndTime)
}

// ExitCodeString maps ExitStatus to the frozen exitcode vocabulary of
// §4.5 step 5 / §8 scenario 4: 0 -> COMPLETED, non-null non-zero ->
// FAILED:<int>, null -> UNKNOWN. A later cleanup pass (CleanExitCode)
// strips non-letters.
func (j *JobAccountingRecord) ExitCodeString() string {
	if j.ExitStatus == nil {
		return "UNKNOWN"
	}
	if *j.ExitStatus == 0 {
		return "COMPLETED"
	}
	return "FAILED:" + strconv.Itoa(*j.ExitStatus)
}

// CleanExitCode strips every rune that is not an ASCII letter, collapsing
// "FAILED:7" and "FAILED:-11" to "FAILED" as described by the exit-status
// Open Question in §9 (resolved in DESIGN.md: numeric detail is dropped,
// matching the source's own cleanup pass).
func CleanExitCode(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			out = append(out, c)
		}
	}
	return string(out)
}
