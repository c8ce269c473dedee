// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command archivecli inspects a catalog's archives/index.json without
// standing up the external query service: list the archives a Catalog
// Builder run (C8, §4.8) has produced, or verify each archive's bytes
// still match the checksum recorded at build time.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/archive/parquet"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

const catalogPath = "archives/index.json"

func main() {
	var (
		srcPath        string
		flagConfigFile string
		verify         bool
	)

	flag.StringVar(&srcPath, "s", "./var/output/final", "Specify the output store root to inspect. Ignored if -config is set")
	flag.StringVar(&flagConfigFile, "config", "", "Specify a pipeline `config.json` to resolve the configured output target instead of -s")
	flag.BoolVar(&verify, "verify", false, "Re-read each archive and confirm its sha256 still matches the catalog entry")
	flag.Parse()

	source, err := resolveSource(srcPath, flagConfigFile)
	if err != nil {
		log.Fatal(err)
	}

	raw, err := source.ReadFile(catalogPath)
	if err != nil {
		log.Fatalf("read %s: %v", catalogPath, err)
	}

	var entries []schema.ArchiveEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Fatalf("%s is not valid JSON: %v", catalogPath, err)
	}

	mismatches := 0
	for _, e := range entries {
		fmt.Printf("%-10s %-30s %10d bytes  objects=%-4d [%s .. %s]\n",
			e.Period, e.Path, e.Size, e.ObjectCount, e.Start, e.End)
		if !verify {
			continue
		}
		if err := verifyEntry(source, e); err != nil {
			fmt.Printf("  MISMATCH: %v\n", err)
			mismatches++
			continue
		}
		fmt.Printf("  OK: checksum matches\n")
	}

	if mismatches > 0 {
		os.Exit(1)
	}
}

func verifyEntry(source parquet.Source, e schema.ArchiveEntry) error {
	data, err := source.ReadFile(e.Path)
	if err != nil {
		return fmt.Errorf("read %q: %w", e.Path, err)
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if got != e.Checksum {
		return fmt.Errorf("%q: checksum %s does not match catalog entry %s", e.Path, got, e.Checksum)
	}
	return nil
}

// resolveSource opens the output store's read side: a pipeline config's
// configured target if -config is given (local or S3, same convention
// the orchestrator builds its own catalog store from), otherwise the
// local directory named by -s.
func resolveSource(srcPath, configFile string) (parquet.Source, error) {
	if configFile == "" {
		return parquet.NewFileSource(srcPath), nil
	}

	raw, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", configFile, err)
	}
	if err := schema.ValidateConfig(raw); err != nil {
		return nil, fmt.Errorf("%q: %w", configFile, err)
	}
	cfg := schema.Defaults()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%q: %w", configFile, err)
	}

	target := cfg.Output.Target
	if target.Kind != "s3" {
		root := cfg.Processing.TempDirectory
		if root == "" {
			root = schema.Defaults().Processing.TempDirectory
		}
		return parquet.NewFileSource(filepath.Join(root, "output")), nil
	}

	return parquet.NewS3Source(parquet.S3TargetConfig{
		Endpoint:     target.Endpoint,
		Bucket:       target.Bucket,
		Region:       target.Region,
		UsePathStyle: target.UsePathStyle,
		AccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
	})
}
