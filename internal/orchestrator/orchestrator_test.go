// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

const accountingFixture = "jobID,qtime,start,end,Resource_List.walltime,Resource_List.nodect,Resource_List.ncpus,account,queue,jobname,Exit_status,user,exec_host,rectype\n" +
	"JOB1,1704067100,1704067100,1704067300,01:00:00,1,16,acct,batch,test,0,alice,n01,E\n"

const cpuFixture = "user,nice,system,idle,iowait,irq,softirq,jobID,node,device,timestamp\n" +
	"100,0,0,0,0,0,0,JOB1,n01,cpu0,01/01/2024 00:00:00\n" +
	"200,0,0,100,0,0,0,JOB1,n01,cpu0,01/01/2024 00:01:00\n"

const blockFixture = "rd_sectors,wr_sectors,jobID,node,device,timestamp\n" +
	"0,0,JOB1,n01,sda,01/01/2024 00:00:00\n" +
	"1000,0,JOB1,n01,sda,01/01/2024 00:00:10\n"

const memFixture = "MemTotal,MemFree,FilePages,jobID,node,timestamp\n" +
	"1000000000,400000000,100000000,JOB1,n01,01/01/2024 00:00:00\n"

const nfsFixture = "read_bytes,write_bytes,jobID,node,timestamp\n" +
	"0,0,JOB1,n01,01/01/2024 00:00:00\n" +
	"1048576,0,JOB1,n01,01/01/2024 00:00:10\n"

func testConfig(t *testing.T) schema.PipelineConfig {
	t.Helper()
	cfg := schema.Defaults()
	cfg.Dataset = schema.DatasetConfig{Name: "testset", Version: "v1"}
	cfg.Source = schema.SourceConfig{Type: "local_fs"}
	cfg.Processing.TempDirectory = t.TempDir()
	return cfg
}

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestRunSingleFileProcessesAndPublishes(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, nil)
	require.NoError(t, err)

	srcDir := t.TempDir()
	writeFixture(t, srcDir, "accounting.csv", accountingFixture)
	cpuPath := writeFixture(t, srcDir, "cpu.csv", cpuFixture)

	result, err := o.RunSingleFile(context.Background(), cpuPath)
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	require.Equal(t, []string{"cpu.csv"}, result.Processed)
	require.Greater(t, countFiles(t, o.FinalOutputDir()), 0)

	// Re-running the same file is a no-op (§8 idempotency).
	result2, err := o.RunSingleFile(context.Background(), cpuPath)
	require.NoError(t, err)
	require.Empty(t, result2.Failed)
	require.Equal(t, []string{"cpu.csv"}, result2.Processed)
}

func TestRunSingleFileWithoutAccountingMatchFails(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, nil)
	require.NoError(t, err)

	srcDir := t.TempDir()
	cpuPath := writeFixture(t, srcDir, "cpu.csv", cpuFixture)

	// No accounting.csv alongside cpu.csv: the inner join against an
	// empty jobs table drops every record, leaving nothing to write.
	result, err := o.RunSingleFile(context.Background(), cpuPath)
	require.NoError(t, err)
	require.Contains(t, result.Failed, "cpu.csv")
	require.Empty(t, result.Processed)
}

func TestRunDirectoryProcessesFolderAndIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, nil)
	require.NoError(t, err)

	folder := t.TempDir()
	writeFixture(t, folder, "accounting.csv", accountingFixture)
	writeFixture(t, folder, "cpu.csv", cpuFixture)
	writeFixture(t, folder, "block.csv", blockFixture)
	writeFixture(t, folder, "mem.csv", memFixture)
	writeFixture(t, folder, "llite.csv", nfsFixture)

	name := filepath.Base(folder)
	result, err := o.RunDirectory(context.Background(), folder)
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	require.Equal(t, []string{name}, result.Processed)
	require.Greater(t, countFiles(t, o.FinalOutputDir()), 0)
	require.True(t, o.state.AlreadyProcessed(name))

	result2, err := o.RunDirectory(context.Background(), folder)
	require.NoError(t, err)
	require.Empty(t, result2.Failed)
	require.Equal(t, []string{name}, result2.Processed)
}

func TestRunDirectoryMissingRequiredFileFails(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, nil)
	require.NoError(t, err)

	folder := t.TempDir()
	writeFixture(t, folder, "accounting.csv", accountingFixture)
	writeFixture(t, folder, "cpu.csv", cpuFixture)
	// block.csv, mem.csv, llite.csv intentionally omitted.

	result, err := o.RunDirectory(context.Background(), folder)
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	require.Empty(t, result.Processed)
}
