// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractFolderNames(t *testing.T) {
	html := `<html><a href="2024-01/">2024-01/</a> <a href="2024-02/">2024-02/</a> <a href="README.txt">readme</a></html>`
	got := extractFolderNames(html)
	require.ElementsMatch(t, []string{"2024-01", "2024-02"}, got)
}

func TestFetchFolderDownloadsRequiredFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "row,value\n1,2\n")
	}))
	defer srv.Close()

	f := New(srv.URL, 2)
	dest := t.TempDir()
	err := f.FetchFolder(context.Background(), "2024-01", []string{"block.csv", "cpu.csv"}, dest)
	require.NoError(t, err)

	for _, name := range []string{"block.csv", "cpu.csv"} {
		info, err := os.Stat(filepath.Join(dest, name))
		require.NoError(t, err)
		require.Greater(t, info.Size(), int64(0))
	}
}

func TestFetchFolderSkipsExistingNonEmptyFile(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, "data")
	}))
	defer srv.Close()

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "block.csv"), []byte("existing"), 0o640))

	f := New(srv.URL, 1)
	err := f.FetchFolder(context.Background(), "2024-01", []string{"block.csv"}, dest)
	require.NoError(t, err)
	require.Zero(t, calls, "existing non-empty file must not be re-downloaded")
}

func TestFetchFolderFailsOnMissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(srv.URL, 1)
	dest := t.TempDir()
	err := f.FetchFolder(context.Background(), "2024-01", []string{"cpu.csv"}, dest)
	require.Error(t, err)
}

func TestVerifyFolder(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "block.csv"), []byte("x"), 0o640))
	require.Error(t, VerifyFolder(dest, []string{"block.csv", "cpu.csv"}))

	require.NoError(t, os.WriteFile(filepath.Join(dest, "cpu.csv"), []byte("x"), 0o640))
	require.NoError(t, VerifyFolder(dest, []string{"block.csv", "cpu.csv"}))
}
