// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
)

// watchConfig tunes the watch mode of §4.9 ("subscribe to new files in a
// directory and process each after a stability delay... at most one
// processing task per file path and retries up to N_w times").
type watchConfig struct {
	StabilityDelay time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

func defaultWatchConfig() watchConfig {
	return watchConfig{
		StabilityDelay: 3 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   5 * time.Second,
	}
}

// watcher adapts the teacher's fsnotify-backed global-singleton listener
// pattern (internal/util/fswatcher.go) into a per-instance watcher scoped
// to one orchestrator run, so a test (or a second orchestrator in the
// same process) never contends over a shared global *fsnotify.Watcher.
type watcher struct {
	fsw *fsnotify.Watcher
	cfg watchConfig

	mu       sync.Mutex
	enqueued map[string]bool // at-most-once-per-path enqueueing
}

func newWatcher(cfg watchConfig) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "orchestrator", err)
	}
	return &watcher{fsw: fsw, cfg: cfg, enqueued: make(map[string]bool)}, nil
}

func (w *watcher) close() error {
	return w.fsw.Close()
}

// RunWatch adds sourceDir to the watcher and processes every file that
// appears under it after its stability delay has elapsed, each in its own
// goroutine, so several files can be in progress at once.
// A file already enqueued (including one currently being retried) is
// never enqueued a second time even if it generates further write events.
func (o *Orchestrator) RunWatch(ctx context.Context, sourceDir string) (Result, error) {
	w, err := newWatcher(defaultWatchConfig())
	if err != nil {
		return Result{}, err
	}
	defer w.close()

	if err := w.fsw.Add(sourceDir); err != nil {
		return Result{}, errkind.Wrap(errkind.Configuration, "orchestrator", err)
	}

	result := Result{Failed: map[string]error{}}
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	log.Infof("orchestrator: watching %q for new files", sourceDir)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return result, nil

		case err, ok := <-w.fsw.Errors:
			if !ok {
				wg.Wait()
				return result, nil
			}
			log.Warnf("orchestrator: watch error on %q: %v", sourceDir, err)

		case event, ok := <-w.fsw.Events:
			if !ok {
				wg.Wait()
				return result, nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			path := event.Name
			if !w.claim(path) {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				name, err := o.processWatchedFile(ctx, w, path)
				resultMu.Lock()
				defer resultMu.Unlock()
				if err != nil {
					result.Failed[name] = err
					log.Errorf("orchestrator: watched file %q failed after retries: %v", path, err)
					return
				}
				result.Processed = append(result.Processed, name)
			}()
		}
	}
}

// claim marks path as enqueued, returning false if it already was.
func (w *watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enqueued[path] {
		return false
	}
	w.enqueued[path] = true
	return true
}

// processWatchedFile waits for path to stop changing size, then runs it
// through RunSingleFile, making up to MaxRetries attempts in total with a
// fixed backoff (§4.9 "retries up to N_w times with configurable backoff").
func (o *Orchestrator) processWatchedFile(ctx context.Context, w *watcher, path string) (string, error) {
	name := filepath.Base(path)
	if err := waitFileStable(ctx, path, w.cfg.StabilityDelay); err != nil {
		return name, err
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		result, err := o.RunSingleFile(ctx, path)
		if err == nil && len(result.Failed) == 0 {
			return name, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = result.Failed[name]
		}
		log.Warnf("orchestrator: watched file %q failed (attempt %d/%d): %v", path, attempt, w.cfg.MaxRetries, lastErr)
		select {
		case <-time.After(w.cfg.RetryBackoff):
		case <-ctx.Done():
			return name, ctx.Err()
		}
	}
	return name, lastErr
}

func waitFileStable(ctx context.Context, path string, delay time.Duration) error {
	var lastSize int64 = -1
	stableSince := time.Now()
	for {
		info, err := os.Stat(path)
		if err != nil {
			return errkind.Wrap(errkind.Source, "orchestrator", err)
		}
		if info.Size() != lastSize {
			lastSize = info.Size()
			stableSince = time.Now()
		}
		if time.Since(stableSince) >= delay {
			return nil
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
