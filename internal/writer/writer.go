// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package writer drives the Daily Writer (C6, §4.6): it groups a
// folder's AggregatedRows by day, resolves each day's output path from
// the configured path template, and hands the rows to
// pkg/archive/parquet.DayWriter.
package writer

import (
	"fmt"
	"strings"

	"github.com/ClusterCockpit/cc-hpc-etl/internal/aggregate"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/archive/parquet"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// Driver ties a parquet.DayWriter to the declarative output
// configuration of §6.
type Driver struct {
	day        *parquet.DayWriter
	dataset    string
	version    string
	pathTmpl   string
	validation schema.ValidationConfig
}

func New(target parquet.Target, writerCfg parquet.WriterConfig, dataset, version, pathTemplate string, validation schema.ValidationConfig) *Driver {
	return &Driver{
		day:        parquet.NewDayWriter(target, writerCfg),
		dataset:    dataset,
		version:    version,
		pathTmpl:   pathTemplate,
		validation: validation,
	}
}

// WriteFolder partitions rows by day and writes each day partition,
// returning one OutputFile per day (or per chunk, for days the Daily
// Writer splits). A day whose row count falls below MinRows is rejected
// with a SchemaError before any bytes are written. A day written as a
// single file larger than MaxFileSizeGB is rejected with a SchemaError
// after it was written; that file is left in the target.
func (d *Driver) WriteFolder(folderName string, rows []schema.AggregatedRow) ([]schema.OutputFile, error) {
	byDay := aggregate.PartitionByDay(rows)
	if len(byDay) == 0 {
		return nil, errkind.Wrap(errkind.Write, "writer", fmt.Errorf("folder %q: no rows to write", folderName))
	}

	var out []schema.OutputFile
	for day, dayRows := range byDay {
		if len(dayRows) < d.validation.MinRows {
			return out, errkind.Wrap(errkind.Schema, "writer",
				fmt.Errorf("day %s: %d rows below minimum %d", day, len(dayRows), d.validation.MinRows))
		}

		pathPrefix := d.resolvePath(folderName, day)
		files, err := d.day.WriteDay(pathPrefix, dayRows)
		if err != nil {
			return out, err
		}
		for i := range files {
			files[i].DatasetName = d.dataset
			files[i].Version = d.version
			files[i].Day = day
			if float64(files[i].ByteSize) > d.validation.MaxFileSizeGB*(1<<30) && !files[i].Chunked {
				return out, errkind.Wrap(errkind.Schema, "writer",
					fmt.Errorf("day %s: file size %d bytes exceeds max_file_size_gb=%.2f without chunking",
						day, files[i].ByteSize, d.validation.MaxFileSizeGB))
			}
		}
		out = append(out, files...)
	}
	return out, nil
}

func (d *Driver) resolvePath(folderName, day string) string {
	path := d.pathTmpl
	replacer := strings.NewReplacer(
		"{dataset_name}", d.dataset,
		"{version}", d.version,
		"{folder_name}", folderName,
		"{file_name}", day,
		"{timestamp}", day,
		"{format}", "parquet",
	)
	path = replacer.Replace(path)
	return strings.TrimSuffix(path, ".parquet")
}
