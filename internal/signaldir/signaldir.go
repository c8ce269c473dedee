// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package signaldir implements the Signal Directory (C1, §4.1): a flat
// directory of `<key>.<status>` files coordinating the pipeline's
// stages. Transitions are atomic via temp-file write + rename, the same
// pattern the teacher's filesystem archive backend used for publishing
// job-archive files.
package signaldir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// Dir is a Signal Directory rooted at a single flat path.
type Dir struct {
	path string
}

func New(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, errkind.Wrap(errkind.State, "signaldir", fmt.Errorf("create %q: %w", path, err))
	}
	return &Dir{path: path}, nil
}

func (d *Dir) filename(key string, status schema.SignalStatus) string {
	return filepath.Join(d.path, key+"."+string(status))
}

// write atomically creates or replaces the signal file for (key, status)
// with the given content, via a temp file in the same directory followed
// by a rename.
func (d *Dir) write(key string, status schema.SignalStatus, content string) error {
	dest := d.filename(key, status)
	tmp, err := os.CreateTemp(d.path, ".tmp-*")
	if err != nil {
		return errkind.Wrap(errkind.State, "signaldir", fmt.Errorf("create temp file for %q: %w", dest, err))
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errkind.Wrap(errkind.State, "signaldir", fmt.Errorf("write temp file for %q: %w", dest, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errkind.Wrap(errkind.State, "signaldir", fmt.Errorf("close temp file for %q: %w", dest, err))
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return errkind.Wrap(errkind.State, "signaldir", fmt.Errorf("rename to %q: %w", dest, err))
	}
	return nil
}

func (d *Dir) remove(key string, status schema.SignalStatus) {
	os.Remove(d.filename(key, status))
}

// Clear removes the signal file for (key, status) if present. Exported so
// the Stage Mover (§4.7) can retire a `complete` signal once its transfer
// has been durably confirmed.
func (d *Dir) Clear(key string, status schema.SignalStatus) error {
	if err := os.Remove(d.filename(key, status)); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.State, "signaldir", err)
	}
	return nil
}

// MarkReady transitions key to ready. A folder or extraction is ready
// once its source data has been fully fetched.
func (d *Dir) MarkReady(key string) error {
	return d.write(key, schema.SignalReady, "")
}

// MarkProcessing transitions key to processing, superseding any ready
// signal (per the fatal-condition rule, a stale ready alongside
// processing is not an error — processing wins).
func (d *Dir) MarkProcessing(key string) error {
	return d.write(key, schema.SignalProcessing, "")
}

// MarkComplete transitions key to complete and removes any prior
// ready/processing signals for the same key.
func (d *Dir) MarkComplete(key string) error {
	if err := d.write(key, schema.SignalComplete, ""); err != nil {
		return err
	}
	d.remove(key, schema.SignalReady)
	d.remove(key, schema.SignalProcessing)
	return nil
}

// MarkFailed transitions key to failed, recording message for later
// inspection.
func (d *Dir) MarkFailed(key, message string) error {
	return d.write(key, schema.SignalFailed, message)
}

// MarkTransferred is a terminal hand-off. Callers must only invoke this
// after verifying the corresponding output has been durably copied to
// its destination (§4.7 Stage Mover).
func (d *Dir) MarkTransferred(key string) error {
	return d.write(key, schema.SignalTransferred, "")
}

// MarkTransferFailed records that a transfer attempt for key exhausted
// its retries.
func (d *Dir) MarkTransferFailed(key, message string) error {
	return d.write(key, schema.SignalTransferFailed, message)
}

// ListByStatus returns every signal file currently in status, ordered by
// key.
func (d *Dir) ListByStatus(status schema.SignalStatus) ([]schema.SignalFile, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, errkind.Wrap(errkind.State, "signaldir", fmt.Errorf("read %q: %w", d.path, err))
	}

	suffix := "." + string(status)
	var out []schema.SignalFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		key := strings.TrimSuffix(e.Name(), suffix)
		info, err := e.Info()
		if err != nil {
			continue
		}
		msg, _ := os.ReadFile(filepath.Join(d.path, e.Name()))
		out = append(out, schema.SignalFile{
			Key:     key,
			Status:  status,
			Message: string(msg),
			Mtime:   info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// IsStale reports whether stateA's signal file for key is newer than
// stateB's (mtime(stateA) > mtime(stateB)). A missing file sorts as the
// zero time, so a state that was never reached is never "newer".
func (d *Dir) IsStale(key string, stateA, stateB schema.SignalStatus) (bool, error) {
	ta, errA := d.mtime(key, stateA)
	if errA != nil {
		return false, errA
	}
	tb, errB := d.mtime(key, stateB)
	if errB != nil {
		return false, errB
	}
	return ta.After(tb), nil
}

func (d *Dir) mtime(key string, status schema.SignalStatus) (time.Time, error) {
	info, err := os.Stat(d.filename(key, status))
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errkind.Wrap(errkind.State, "signaldir", err)
	}
	return info.ModTime(), nil
}

// CurrentStatus resolves the dominant status for key across all states
// that currently have a signal file. Per §4.1's fatal-condition rule, a
// simultaneous ready and processing signal for the same key resolves to
// processing. transferred and failed are terminal and take precedence
// over complete/processing/ready if present (a key should never actually
// carry more than one terminal signal, but resolution order stays
// defined either way).
func (d *Dir) CurrentStatus(key string) (schema.SignalStatus, error) {
	precedence := []schema.SignalStatus{
		schema.SignalTransferred,
		schema.SignalTransferFailed,
		schema.SignalFailed,
		schema.SignalComplete,
		schema.SignalProcessing,
		schema.SignalReady,
	}
	for _, status := range precedence {
		if _, err := os.Stat(d.filename(key, status)); err == nil {
			return status, nil
		} else if !os.IsNotExist(err) {
			return schema.SignalUnknown, errkind.Wrap(errkind.State, "signaldir", err)
		}
	}
	return schema.SignalUnknown, nil
}
