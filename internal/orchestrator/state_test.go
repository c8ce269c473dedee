// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateMarkProcessedPersistsBothFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewState(dir)
	require.NoError(t, err)

	require.False(t, s.AlreadyProcessed("2024-05"))
	require.NoError(t, s.MarkProcessed("2024-05"))
	require.True(t, s.AlreadyProcessed("2024-05"))

	var status statusDoc
	require.NoError(t, readJSON(filepath.Join(dir, "status.json"), &status))
	require.Contains(t, status.ProcessedFolders, "2024-05")
	require.NotEmpty(t, status.LastUpdated)

	var versions versionDoc
	require.NoError(t, readJSON(filepath.Join(dir, "version_info.json"), &versions))
	require.Equal(t, 1, versions["2024-05"])
}

func TestStateMarkProcessedClearsPriorFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := NewState(dir)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed("2024-06"))
	require.False(t, s.AlreadyProcessed("2024-06"))

	require.NoError(t, s.MarkProcessed("2024-06"))
	require.True(t, s.AlreadyProcessed("2024-06"))

	var status statusDoc
	require.NoError(t, readJSON(filepath.Join(dir, "status.json"), &status))
	require.NotContains(t, status.FailedFolders, "2024-06")
}

func TestStateReloadsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewState(dir)
	require.NoError(t, err)
	require.NoError(t, s1.MarkProcessed("2024-07"))

	s2, err := NewState(dir)
	require.NoError(t, err)
	require.True(t, s2.AlreadyProcessed("2024-07"))
}

func TestReadJSONTreatsMissingFileAsEmpty(t *testing.T) {
	var status statusDoc
	err := readJSON(filepath.Join(t.TempDir(), "nope.json"), &status)
	require.NoError(t, err)
	require.Empty(t, status.ProcessedFolders)
}

func TestWriteJSONAtomicLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, writeJSONAtomic(path, map[string]int{"a": 1}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "doc.json", entries[0].Name())
}
