// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parquet

import "github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"

// Row is the on-disk shape of one published schema.AggregatedRow. Column
// order and names mirror schema.ColumnNames exactly so a written file's
// schema can be compared against it directly (§8 "Schema equality").
// Metric value columns are nullable (§3: "metric columns are null when
// not observed") and use the byte-stream-split encoding, which suits
// runs of unrelated floats better than plain or dictionary encoding;
// everything else keeps the writer's default encoding.
type Row struct {
	Time       int64 `parquet:"time"`
	SubmitTime int64 `parquet:"submit_time"`
	StartTime  int64 `parquet:"start_time"`
	EndTime    int64 `parquet:"end_time"`

	Timelimit float64 `parquet:"timelimit"`
	NHosts    float64 `parquet:"nhosts"`
	NCores    float64 `parquet:"ncores"`

	Account  string `parquet:"account"`
	Queue    string `parquet:"queue"`
	Host     string `parquet:"host"`
	Jid      string `parquet:"jid"`
	Unit     string `parquet:"unit"`
	JobName  string `parquet:"jobname"`
	ExitCode string `parquet:"exitcode"`
	HostList string `parquet:"host_list,optional"`
	Username string `parquet:"username"`

	ValueCPUUser               *float64 `parquet:"value_cpuuser,optional,split"`
	ValueGPU                   *float64 `parquet:"value_gpu,optional,split"`
	ValueMemUsed               *float64 `parquet:"value_memused,optional,split"`
	ValueMemUsedMinusDiskcache *float64 `parquet:"value_memused_minus_diskcache,optional,split"`
	ValueNFS                   *float64 `parquet:"value_nfs,optional,split"`
	ValueBlock                 *float64 `parquet:"value_block,optional,split"`
}

// FromAggregatedRow converts the join engine's output row into its
// parquet-encoded shape. A NaN Float (§3's "not observed" sentinel)
// becomes a nil pointer, which parquet-go encodes as a null value in the
// optional column.
func FromAggregatedRow(r *schema.AggregatedRow) Row {
	return Row{
		Time:       r.Time.Unix(),
		SubmitTime: r.SubmitTime.Unix(),
		StartTime:  r.StartTime.Unix(),
		EndTime:    r.EndTime.Unix(),
		Timelimit:  r.Timelimit,
		NHosts:     r.NHosts,
		NCores:     r.NCores,
		Account:    r.Account,
		Queue:      r.Queue,
		Host:       r.Host,
		Jid:        r.Jid,
		Unit:       r.Unit,
		JobName:    r.JobName,
		ExitCode:   r.ExitCode,
		HostList:   r.HostList,
		Username:   r.Username,

		ValueCPUUser:               floatOrNil(r.ValueCPUUser),
		ValueGPU:                   floatOrNil(r.ValueGPU),
		ValueMemUsed:               floatOrNil(r.ValueMemUsed),
		ValueMemUsedMinusDiskcache: floatOrNil(r.ValueMemUsedMinusDiskcache),
		ValueNFS:                   floatOrNil(r.ValueNFS),
		ValueBlock:                 floatOrNil(r.ValueBlock),
	}
}

func floatOrNil(f schema.Float) *float64 {
	if f.IsNaN() {
		return nil
	}
	v := float64(f)
	return &v
}
