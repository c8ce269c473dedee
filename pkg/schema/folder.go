// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// RequiredFolderFiles are the per-folder input files a FolderBatch (§3)
// must contain before a folder is considered downloaded.
var RequiredFolderFiles = []string{"block.csv", "cpu.csv", "mem.csv", "llite.csv"}

// FolderBatch describes one monthly input folder discovered by the
// Fetcher (§4.2).
type FolderBatch struct {
	Name          string // "YYYY-MM"
	SourceURL     string
	RequiredFiles []string
	AccountingPath string
}
