// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// OutputFile describes one written day-partition file, or one part of a
// chunked day partition (§4.6).
type OutputFile struct {
	DatasetName string
	Version     string
	Day         string // "YYYY-MM-DD"
	Path        string // path relative to the target's root
	Part        int    // 0 if the day is a single file
	Chunked     bool
	ByteSize    int64
	Checksum    string // md5 hex, per Stage Mover integrity check (§4.7)
}

// ArchiveEntry is one row of the catalog JSON (§6, §4.8).
type ArchiveEntry struct {
	Period      string `json:"period"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	Start       string `json:"start"`
	End         string `json:"end"`
	ObjectCount int    `json:"object_count"`
}
