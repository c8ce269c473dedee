// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transform

import (
	"fmt"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// Func is the shape every per-file transformer satisfies.
type Func func(path string) ([]schema.MetricRecord, error)

// ByRequiredFile maps a required source filename (§6
// RequiredFolderFiles) to the transformer that consumes it.
var ByRequiredFile = map[string]Func{
	"block.csv": Block,
	"cpu.csv":   CPU,
	"mem.csv":   Mem,
	"llite.csv": NFS,
}

// RunFolder applies every transformer to its matching file under dir,
// concatenating the long-form records. It stops at the first file that
// is missing (a SchemaError) or whose transformer fails (that
// transformer's error) and returns no records at all in that case.
func RunFolder(dir string, files map[string]string) ([]schema.MetricRecord, error) {
	var all []schema.MetricRecord
	for name, fn := range ByRequiredFile {
		path, ok := files[name]
		if !ok {
			return nil, errkind.Wrap(errkind.Schema, "transform", fmt.Errorf("missing source file %q in %q", name, dir))
		}
		records, err := fn(path)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}
