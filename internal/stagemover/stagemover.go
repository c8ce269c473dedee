// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stagemover implements the Stage Mover (C7, §4.7): it relocates
// a key's finished files from one stage directory to the next with an
// atomic publish, a pre/post checksum check, a stability wait before the
// source is trusted, and a rate-limited backpressure pause when the
// destination directory is already full.
package stagemover

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/cc-hpc-etl/internal/signaldir"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// Config tunes stability, rate-limiting, and retry behavior. Producer and
// receiver sides of the same move use different stability windows (§4.7),
// so there are two named defaults rather than one.
type Config struct {
	// StabilityWindow is how long a source file's size must stay
	// unchanged before it is trusted as finished writing.
	StabilityWindow time.Duration
	// PollInterval paces the stability and backpressure polling loops.
	PollInterval time.Duration
	// MaxInflight is the most files the destination directory may hold
	// before new transfers pause (MAX_INFLIGHT, default 31).
	MaxInflight int
	// PauseInterval is how long to sleep between backpressure rechecks
	// while the destination is at or above MaxInflight.
	PauseInterval time.Duration
	// MaxAttempts bounds the per-file transfer retry loop.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles each attempt.
	BackoffBase time.Duration
}

// DefaultProducerConfig is the stability/backpressure tuning for a mover
// sitting on the producing side of a stage boundary (e.g. raw fetch ->
// transform input).
func DefaultProducerConfig() Config {
	return Config{
		StabilityWindow: 3 * time.Second,
		PollInterval:    250 * time.Millisecond,
		MaxInflight:     31,
		PauseInterval:   30 * time.Second,
		MaxAttempts:     3,
		BackoffBase:     1 * time.Second,
	}
}

// DefaultReceiverConfig is the tuning for a mover sitting on the
// consuming side (e.g. day-partition output -> archive staging), which
// waits a longer stability window before trusting a written file.
func DefaultReceiverConfig() Config {
	cfg := DefaultProducerConfig()
	cfg.StabilityWindow = 5 * time.Second
	return cfg
}

// Mover moves files for one key between stage directories, coordinating
// through a Signal Directory.
type Mover struct {
	cfg     Config
	signals *signaldir.Dir
	limiter *rate.Limiter
}

func New(cfg Config, signals *signaldir.Dir) *Mover {
	return &Mover{
		cfg:     cfg,
		signals: signals,
		limiter: rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
	}
}

// MoveKey waits for every path in srcPaths to stabilize, waits for
// destDir to have spare MAX_INFLIGHT capacity, then transfers each path
// into destDir with an MD5 integrity check and per-file retry. On full
// success it marks key transferred, clears its complete signal, and
// removes the source files. On exhaustion of retries for any file it
// marks key transfer_failed and returns a TransferError, leaving sources
// in place.
func (m *Mover) MoveKey(ctx context.Context, key string, srcPaths []string, destDir string) error {
	if len(srcPaths) == 0 {
		return errkind.Wrap(errkind.Transfer, "stagemover", fmt.Errorf("move %q: no source paths", key))
	}

	if stale, err := m.signals.IsStale(key, schema.SignalComplete, schema.SignalTransferred); err != nil {
		return err
	} else if stale {
		log.Infof("stagemover: %q complete signal newer than transferred, re-transferring", key)
	}

	for _, src := range srcPaths {
		if err := m.waitStable(ctx, src); err != nil {
			return err
		}
	}
	if err := m.waitCapacity(ctx, destDir); err != nil {
		return err
	}

	moved := make([]string, 0, len(srcPaths))
	for _, src := range srcPaths {
		dest, err := m.transferWithRetry(ctx, src, destDir)
		if err != nil {
			m.rollback(moved)
			if merr := m.signals.MarkTransferFailed(key, err.Error()); merr != nil {
				log.Warnf("stagemover: failed to mark %q transfer_failed: %v", key, merr)
			}
			return err
		}
		moved = append(moved, dest)
	}

	if err := m.signals.MarkTransferred(key); err != nil {
		return err
	}
	if err := m.signals.Clear(key, schema.SignalComplete); err != nil {
		log.Warnf("stagemover: failed to clear complete signal for %q: %v", key, err)
	}
	for _, src := range srcPaths {
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			log.Warnf("stagemover: failed to remove transferred source %q: %v", src, err)
		}
	}
	log.Infof("stagemover: transferred %d file(s) for %q to %s", len(srcPaths), key, destDir)
	return nil
}

// rollback removes any destination files a partially-failed MoveKey
// already wrote, per §4.7 "mismatch -> abort and preserve source": a
// failed key leaves no partial state on the destination side either.
func (m *Mover) rollback(destPaths []string) {
	for _, p := range destPaths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warnf("stagemover: failed to roll back %q: %v", p, err)
		}
	}
}

func (m *Mover) transferWithRetry(ctx context.Context, src, destDir string) (string, error) {
	dest := filepath.Join(destDir, filepath.Base(src))

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if err := m.transferOnce(src, dest); err != nil {
			lastErr = err
			log.Warnf("stagemover: transfer %q -> %q failed (attempt %d/%d): %v", src, dest, attempt, m.cfg.MaxAttempts, err)
			if attempt == m.cfg.MaxAttempts {
				break
			}
			backoff := m.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
			backoff += time.Duration(rand.Int63n(int64(m.cfg.BackoffBase)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			continue
		}
		return dest, nil
	}
	return "", errkind.Wrap(errkind.Transfer, "stagemover", fmt.Errorf("transfer %q: %w", src, lastErr))
}

// transferOnce copies src to a temp file beside dest, renames it into
// place, then re-hashes the destination and compares it against the
// source checksum taken before the copy began.
func (m *Mover) transferOnce(src, dest string) error {
	srcSum, err := md5File(src)
	if err != nil {
		return fmt.Errorf("checksum source %q: %w", src, err)
	}

	tmp := dest + ".tmp"
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("copy %q to %q: %w", src, tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %q to %q: %w", tmp, dest, err)
	}

	destSum, err := md5File(dest)
	if err != nil {
		return fmt.Errorf("checksum destination %q: %w", dest, err)
	}
	if srcSum != destSum {
		os.Remove(dest)
		return fmt.Errorf("checksum mismatch for %q: source %s != destination %s", src, srcSum, destSum)
	}
	return nil
}

// waitStable polls path's size until it has been unchanged for at least
// StabilityWindow, so a still-being-written file is never picked up
// mid-write.
func (m *Mover) waitStable(ctx context.Context, path string) error {
	var lastSize int64 = -1
	stableSince := time.Now()

	for {
		info, err := os.Stat(path)
		if err != nil {
			return errkind.Wrap(errkind.Transfer, "stagemover", fmt.Errorf("stat %q: %w", path, err))
		}
		if info.Size() != lastSize {
			lastSize = info.Size()
			stableSince = time.Now()
		}
		if time.Since(stableSince) >= m.cfg.StabilityWindow {
			return nil
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
	}
}

// waitCapacity blocks while destDir holds at least MaxInflight entries,
// sleeping PauseInterval between rechecks (§4.7, §5 "Backpressure").
func (m *Mover) waitCapacity(ctx context.Context, destDir string) error {
	for {
		entries, err := os.ReadDir(destDir)
		if err != nil && !os.IsNotExist(err) {
			return errkind.Wrap(errkind.Transfer, "stagemover", fmt.Errorf("read %q: %w", destDir, err))
		}
		if len(entries) < m.cfg.MaxInflight {
			return nil
		}
		log.Warnf("stagemover: %s has %d entries, at or above MAX_INFLIGHT=%d, pausing", destDir, len(entries), m.cfg.MaxInflight)
		select {
		case <-time.After(m.cfg.PauseInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
