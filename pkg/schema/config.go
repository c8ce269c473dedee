// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "encoding/json"

// PipelineConfig is the declarative configuration of §6, decoded from the
// --config JSON file. Field names/json tags mirror the recognized keys
// verbatim so the file on disk reads exactly like the spec's table.
type PipelineConfig struct {
	Dataset DatasetConfig `json:"dataset"`
	Source  SourceConfig  `json:"source"`

	Processing     ProcessingConfig      `json:"processing"`
	Output         OutputConfig          `json:"output"`
	Transformations []TransformationStep `json:"transformations"`
	Validation     ValidationConfig      `json:"validation"`

	// Schedule is additive to §6 (see SPEC_FULL.md "Scheduling surface"):
	// a five-field cron expression that triggers periodic catalog
	// rebuilds, in every run mode.
	Schedule string `json:"schedule,omitempty"`
}

type DatasetConfig struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Version string `json:"version"`
}

type SourceConfig struct {
	Type          string   `json:"type"` // remote_http | local_fs | globus
	BaseURL       string   `json:"base_url,omitempty"`
	BasePath      string   `json:"base_path,omitempty"`
	EndpointID    string   `json:"endpoint_id,omitempty"`
	FolderPattern string   `json:"folder_pattern,omitempty"`
	FilePatterns  []string `json:"file_patterns,omitempty"`
}

type ProcessingConfig struct {
	MaxWorkers     int     `json:"max_workers"`
	BatchSize      int     `json:"batch_size"`
	MemoryLimitGB  float64 `json:"memory_limit_gb"`
	TempDirectory  string  `json:"temp_directory"`
}

type ChunkingConfig struct {
	Enabled        bool    `json:"enabled"`
	MaxSizeGB      float64 `json:"max_size_gb"`
	MinRowsPerChunk int    `json:"min_rows_per_chunk"`
}

type OutputConfig struct {
	Format       string         `json:"format"` // parquet | csv
	Compression  string         `json:"compression"`
	Chunking     ChunkingConfig `json:"chunking"`
	PathTemplate string         `json:"path_template"`

	// Target selects where PathTemplate resolves to; additive, see
	// SPEC_FULL.md "Cloud object-store target".
	Target S3TargetConfig `json:"target,omitempty"`
}

type S3TargetConfig struct {
	Kind         string `json:"kind"` // "fs" (default) | "s3"
	Bucket       string `json:"bucket,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	Region       string `json:"region,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty"`
}

// TransformationStep is one entry of the transformations list of §6.
type TransformationStep struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

type ValidationConfig struct {
	MinRows      int     `json:"min_rows"`
	MaxFileSizeGB float64 `json:"max_file_size_gb"`
}

// Defaults mirrors the teacher's convention of a package-level default
// config value (internal/config.Keys) seeded before a user config is
// decoded on top of it.
func Defaults() PipelineConfig {
	return PipelineConfig{
		Processing: ProcessingConfig{
			MaxWorkers:    8,
			BatchSize:     500_000,
			MemoryLimitGB: 0,
			TempDirectory: "./var/tmp",
		},
		Output: OutputConfig{
			Format:      "parquet",
			Compression: "snappy",
			Chunking: ChunkingConfig{
				Enabled:         true,
				MaxSizeGB:       2.0,
				MinRowsPerChunk: 500_000,
			},
			PathTemplate: "{dataset_name}/{version}/{folder_name}/{file_name}.{format}",
			Target:       S3TargetConfig{Kind: "fs"},
		},
		Validation: ValidationConfig{
			MinRows:       1,
			MaxFileSizeGB: 2.5,
		},
	}
}
