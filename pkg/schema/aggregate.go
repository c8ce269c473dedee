// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// AggregatedRow is one (jid, host, minute) row of the published dataset,
// frozen to the column set and order of §6.
type AggregatedRow struct {
	Time      time.Time
	SubmitTime time.Time
	StartTime time.Time
	EndTime   time.Time
	Timelimit float64
	NHosts    float64
	NCores    float64
	Account   string
	Queue     string
	Host      string
	Jid       string
	Unit      string
	JobName   string
	ExitCode  string
	HostList  string
	Username  string

	ValueCPUUser                Float
	ValueGPU                    Float
	ValueMemUsed                Float
	ValueMemUsedMinusDiskcache  Float
	ValueNFS                    Float
	ValueBlock                  Float
}

// ColumnNames is the frozen, ordered output column set of §6. It is used
// both to validate written files (§8 "Schema equality") and to drive the
// columnar writer's field order.
var ColumnNames = []string{
	"time", "submit_time", "start_time", "end_time",
	"timelimit", "nhosts", "ncores",
	"account", "queue", "host", "jid", "unit", "jobname", "exitcode",
	"host_list", "username",
	"value_cpuuser", "value_gpu", "value_memused",
	"value_memused_minus_diskcache", "value_nfs", "value_block",
}

// Key identifies the (jid, host, time) triple that §3/§8 require to be
// unique within a run: exactly one AggregatedRow per key.
type RowKey struct {
	Jid  string
	Host string
	Time time.Time
}

func (r *AggregatedRow) Key() RowKey {
	return RowKey{Jid: r.Jid, Host: r.Host, Time: r.Time}
}
