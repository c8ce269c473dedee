// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package accounting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDeduplicatesByLatestEndTime(t *testing.T) {
	dir := t.TempDir()
	csv := "jobID,qtime,start,end,Resource_List.walltime,Resource_List.nodect,Resource_List.ncpus,account,queue,jobname,Exit_status,user,exec_host,rectype\n" +
		"jobID1,1000,1000,1100,01:00:00,2,16,acct,batch,test,0,alice,n01,E\n" +
		"jobID1,1000,1000,1200,01:00:00,2,16,acct,batch,test,0,alice,n01,E\n" +
		"job2,1000,1000,1100,00:30:00,1,8,acct,batch,test2,271,bob,n02,E\n"
	path := filepath.Join(dir, "accounting.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o640))

	records, err := Load(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var job1 *struct{ end int64 }
	for _, r := range records {
		if r.JobID == "job1" {
			require.Equal(t, int64(1200), r.EndTime.Unix())
			job1 = &struct{ end int64 }{}
		}
	}
	require.NotNil(t, job1)
}

func TestParseWalltimeFormats(t *testing.T) {
	cases := map[string]float64{
		"01:00:00": 3600,
		"30:00":    1800,
		"45":       45,
	}
	for raw, want := range cases {
		v, ok := parseWalltime(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, float64(v))
	}

	_, ok := parseWalltime("not-a-duration")
	require.False(t, ok)
}

func TestLoadMissingFileIsReadError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}
