// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestCanonicalUnitsReturnsInputUnchanged(t *testing.T) {
	require.Equal(t, "GB/s", canonicalUnits("GB/s"))
	require.Equal(t, "MB/s", canonicalUnits("MB/s"))
	require.Equal(t, "GB", canonicalUnits("GB"))
	// Not a pkg/units-recognized form, but still frozen by §4.3: a failed
	// typed-unit lookup only logs, it never changes what ships on a record.
	require.Equal(t, "CPU %", canonicalUnits("CPU %"))
}

func TestCPUAggregatesAcrossTwoCores(t *testing.T) {
	dir := t.TempDir()
	csv := "user,nice,system,idle,iowait,irq,softirq,jobID,node,device,timestamp\n" +
		"100,0,0,0,0,0,0,JOB1,n01,cpu0,01/01/2024 00:00:00\n" +
		"200,0,0,100,0,0,0,JOB1,n01,cpu0,01/01/2024 00:01:00\n" +
		"100,0,0,0,0,0,0,JOB1,n01,cpu1,01/01/2024 00:00:00\n" +
		"150,0,0,50,0,0,0,JOB1,n01,cpu1,01/01/2024 00:01:00\n"
	path := writeCSV(t, dir, "cpu.csv", csv)

	records, err := CPU(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	// core0: user_delta=100, total_delta=200 -> 50%; core1: user_delta=50, total_delta=100 -> 50%
	// node aggregate: (100+50)/(200+100)*100 = 50
	require.InDelta(t, 50.0, records[0].Value, 0.001)
	require.Equal(t, "CPU %", records[0].Units)
}

func TestBlockAggregatesAcrossDevices(t *testing.T) {
	dir := t.TempDir()
	csv := "rd_sectors,wr_sectors,jobID,node,device,timestamp\n" +
		"0,0,JOB1,n01,sda,01/01/2024 00:00:00\n" +
		"1000,0,JOB1,n01,sda,01/01/2024 00:00:10\n" +
		"0,0,JOB1,n01,sdb,01/01/2024 00:00:00\n" +
		"2000,0,JOB1,n01,sdb,01/01/2024 00:00:10\n"
	path := writeCSV(t, dir, "block.csv", csv)

	records, err := Block(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	wantRate := (1000.0*512/10/float64(1<<30)) + (2000.0 * 512 / 10 / float64(1<<30))
	require.InDelta(t, wantRate, records[0].Value, 1e-9)
	require.Equal(t, "GB/s", records[0].Units)
}

func TestMemEmitsTwoRecordsPerRow(t *testing.T) {
	dir := t.TempDir()
	csv := "MemTotal,MemFree,FilePages,jobID,node,timestamp\n" +
		"1000000000,400000000,100000000,JOB1,n01,01/01/2024 00:00:00\n"
	path := writeCSV(t, dir, "mem.csv", csv)

	records, err := Mem(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var used, usedMinusCache *float64
	for i := range records {
		switch records[i].Event {
		case "memused":
			used = &records[i].Value
		case "memused_minus_diskcache":
			usedMinusCache = &records[i].Value
		}
	}
	require.NotNil(t, used)
	require.NotNil(t, usedMinusCache)
	require.InDelta(t, 600000000.0/float64(1<<30), *used, 1e-9)
	require.InDelta(t, 500000000.0/float64(1<<30), *usedMinusCache, 1e-9)
}

func TestNFSMissingColumnFailsWithSchemaError(t *testing.T) {
	dir := t.TempDir()
	csv := "jobID,node,timestamp\nJOB1,n01,01/01/2024 00:00:00\n"
	path := writeCSV(t, dir, "llite.csv", csv)

	_, err := NFS(path)
	require.Error(t, err)
}

func TestNormalizeJobID(t *testing.T) {
	require.Equal(t, "JOB12345", normalizeJobID("jobID12345"))
	require.Equal(t, "JOB12345", normalizeJobID("JOBID12345"))
}
