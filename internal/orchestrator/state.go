// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/internal/util"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
)

// statusDoc is the on-disk shape of status.json (§6 "Persisted state
// layout").
type statusDoc struct {
	ProcessedFolders   []string `json:"processed_folders"`
	FailedFolders      []string `json:"failed_folders"`
	LastProcessedIndex int      `json:"last_processed_index"`
	LastUpdated        string   `json:"last_updated"`
}

// versionDoc is the on-disk shape of version_info.json: a per-folder
// monotonic counter bumped each time that folder is (re)processed,
// distinguishing a stale re-run from a genuine reprocessing request.
type versionDoc map[string]int

// State tracks which folders have been processed or have failed, so a
// re-run over an already-processed folder is a no-op (§8 "Re-running the
// orchestrator on a folder already marked processed produces no new
// outputs and no state changes"). Both files are rewritten atomically via
// temp-file + rename on every mutation.
type State struct {
	mu         sync.Mutex
	dir        string
	statusPath string
	versionPath string
	status     statusDoc
	versions   versionDoc
}

// NewState loads status.json/version_info.json from dir, creating empty
// documents when neither file yet exists.
func NewState(dir string) (*State, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errkind.Wrap(errkind.State, "orchestrator", fmt.Errorf("create state dir %q: %w", dir, err))
	}
	s := &State{
		dir:         dir,
		statusPath:  filepath.Join(dir, "status.json"),
		versionPath: filepath.Join(dir, "version_info.json"),
		versions:    versionDoc{},
	}
	if err := readJSON(s.statusPath, &s.status); err != nil {
		return nil, err
	}
	if err := readJSON(s.versionPath, &s.versions); err != nil {
		return nil, err
	}
	if s.versions == nil {
		s.versions = versionDoc{}
	}
	return s, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.Wrap(errkind.State, "orchestrator", fmt.Errorf("read %q: %w", path, err))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errkind.Wrap(errkind.State, "orchestrator", fmt.Errorf("parse %q: %w", path, err))
	}
	return nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.State, "orchestrator", fmt.Errorf("marshal %q: %w", path, err))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return errkind.Wrap(errkind.State, "orchestrator", fmt.Errorf("write %q: %w", tmp, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errkind.Wrap(errkind.State, "orchestrator", fmt.Errorf("rename %q to %q: %w", tmp, path, err))
	}
	return nil
}

// AlreadyProcessed reports whether folder is already recorded as
// processed, the idempotency check the orchestrator runs before doing any
// work for a folder (§8).
func (s *State) AlreadyProcessed(folder string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.status.ProcessedFolders {
		if f == folder {
			return true
		}
	}
	return false
}

// MarkProcessed records folder as processed, removing it from the failed
// list if a prior attempt had failed, and bumps its version counter.
func (s *State) MarkProcessed(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.FailedFolders = removeString(s.status.FailedFolders, folder)
	if !util.Contains(s.status.ProcessedFolders, folder) {
		s.status.ProcessedFolders = append(s.status.ProcessedFolders, folder)
	}
	s.status.LastProcessedIndex++
	s.versions[folder]++
	return s.persist()
}

// MarkFailed records folder as failed, leaving any prior processed entry
// untouched (a previously successful folder that fails on a forced
// re-run stays "processed" for idempotency purposes; the failure is
// still visible in the summary).
func (s *State) MarkFailed(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !util.Contains(s.status.FailedFolders, folder) {
		s.status.FailedFolders = append(s.status.FailedFolders, folder)
	}
	return s.persist()
}

func (s *State) persist() error {
	s.status.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	if err := writeJSONAtomic(s.statusPath, &s.status); err != nil {
		return err
	}
	return writeJSONAtomic(s.versionPath, &s.versions)
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
