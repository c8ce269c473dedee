// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command hpcetl drives the Orchestrator (C9, §4.9) in one of its four
// modes: one-shot discovery, single file, single directory, or watch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ClusterCockpit/cc-hpc-etl/internal/orchestrator"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/runtimeEnv"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// logLevels maps the §6 CLI surface's log-level vocabulary onto
// pkg/log's own, distinct one.
var logLevels = map[string]string{
	"DEBUG":   "debug",
	"INFO":    "info",
	"WARNING": "warn",
	"ERROR":   "err",
}

func main() {
	cliInit()
	os.Exit(run())
}

// run contains everything that would otherwise live in main, so it can
// return an exit code instead of calling os.Exit from deep inside mode
// dispatch (§6 "Exit codes: 0 success, 1 failure or no files processed,
// 130 interrupted").
func run() int {
	if flagConfigFile == "" {
		fmt.Fprintln(os.Stderr, "hpcetl: -config is required")
		return 1
	}

	lvl, ok := logLevels[strings.ToUpper(flagLogLevel)]
	if !ok {
		fmt.Fprintf(os.Stderr, "hpcetl: invalid -log-level %q\n", flagLogLevel)
		return 1
	}
	log.SetLogLevel(lvl)
	if flagLogFile != "" {
		f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hpcetl: open -log-file: %v\n", err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
	}

	// A .env file beside -config is loaded before the config itself, the
	// same order the teacher loads "./.env" before its own config.json.
	envPath := filepath.Join(filepath.Dir(flagConfigFile), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("hpcetl: loading %q failed: %v", envPath, err)
	}

	cfg, err := loadConfig(flagConfigFile)
	if err != nil {
		log.Fatalf("hpcetl: %v", err)
	}
	if flagSource != "" {
		if cfg.Source.Type == "remote_http" {
			cfg.Source.BaseURL = flagSource
		} else {
			cfg.Source.BasePath = flagSource
		}
	}

	if err := runtimeEnv.DropPrivileges(os.Getenv("HPCETL_USER"), os.Getenv("HPCETL_GROUP")); err != nil {
		log.Fatalf("hpcetl: dropping privileges: %v", err)
	}

	o, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Fatalf("hpcetl: %v", err)
	}

	sch, err := o.StartSchedule()
	if err != nil {
		log.Fatalf("hpcetl: %v", err)
	}
	defer func() {
		if err := sch.Shutdown(); err != nil {
			log.Warnf("hpcetl: scheduler shutdown: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		<-sigs
		log.Info("hpcetl: received shutdown signal, finishing in-flight folder...")
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		close(interrupted)
		cancel()
	}()

	result, err := dispatch(ctx, o)
	select {
	case <-interrupted:
		return 130
	default:
	}
	if err != nil {
		log.Errorf("hpcetl: %v", err)
		return 1
	}

	if len(result.Processed) > 0 {
		if err := o.BuildCatalog(); err != nil {
			log.Errorf("hpcetl: catalog rebuild: %v", err)
		}
	}

	printSummary(result)
	runtimeEnv.SystemdNotifiy(true, "idle")
	return result.ExitCode()
}

// dispatch picks exactly one of the four modes named on the command
// line. -watch takes precedence, then -file, then -folder; with none of
// those set, the orchestrator runs one-shot discovery driven entirely by
// the config's source block.
func dispatch(ctx context.Context, o *orchestrator.Orchestrator) (orchestrator.Result, error) {
	switch {
	case flagWatch:
		dir := flagSourceDir
		if dir == "" {
			fmt.Fprintln(os.Stderr, "hpcetl: -watch requires -source-dir")
			return orchestrator.Result{}, fmt.Errorf("missing -source-dir")
		}
		return o.RunWatch(ctx, dir)
	case flagFile != "":
		return o.RunSingleFile(ctx, flagFile)
	case flagFolder != "":
		return o.RunDirectory(ctx, flagFolder)
	default:
		return o.RunOneShot(ctx)
	}
}

// loadConfig reads and schema-validates raw config.json, then decodes it
// on top of schema.Defaults() so fields the file omits keep their
// default value (the same pre-seed-then-decode shape as the teacher's
// own ProgramConfig handling).
func loadConfig(path string) (schema.PipelineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return schema.PipelineConfig{}, fmt.Errorf("read config: %w", err)
	}
	if err := schema.ValidateConfig(raw); err != nil {
		return schema.PipelineConfig{}, fmt.Errorf("validate config: %w", err)
	}
	cfg := schema.Defaults()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return schema.PipelineConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func printSummary(r orchestrator.Result) {
	log.Infof("hpcetl: processed %d folder(s)/file(s)", len(r.Processed))
	if len(r.Failed) == 0 {
		return
	}
	log.Warnf("hpcetl: %d failure(s):", len(r.Failed))
	for name, err := range r.Failed {
		log.Warnf("  %s: %v", name, err)
	}
}
