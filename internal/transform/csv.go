// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transform implements the Raw→Metric Transformers (C3, §4.3):
// block, cpuuser, mem and nfs, each turning one source CSV file into a
// long-form slice of schema.MetricRecord.
package transform

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
)

// tolerantEncodings are attempted in order, matching §4.3's "attempt
// encodings in order: latin1, ISO-8859-1, utf-8". latin1 (ISO-8859-1
// under its other common name) maps every byte value, so in practice
// the first attempt always succeeds; the list is kept in this order
// anyway since that is the documented, and observed, behavior of the
// pipeline this was distilled from.
var tolerantEncodings = []encoding.Encoding{
	charmap.ISO8859_1,
	charmap.ISO8859_1,
	unicode.UTF8,
}

func decodeTolerant(raw []byte) []byte {
	for _, enc := range tolerantEncodings {
		decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
		if err == nil {
			return decoded
		}
	}
	return raw
}

const timestampLayout = "01/02/2006 15:04:05"

var jobIDPrefixRe = regexp.MustCompile(`(?i)^jobid`)

// normalizeJobID replaces a case-insensitive "jobID" prefix with "JOB",
// per §4.3.
func normalizeJobID(raw string) string {
	return jobIDPrefixRe.ReplaceAllString(raw, "JOB")
}

// row is one parsed, type-coerced CSV record shared by all four
// transformers.
type row struct {
	jobID     string
	node      string
	device    string // empty when the source has no per-device column
	timestamp time.Time
	values    map[string]float64
}

// readRows loads path, decodes it tolerantly, and parses every record
// whose required string and numeric columns are all present and valid.
// numericCols lists columns coerced to float64 in row.values; deviceCol
// may be empty when the file has no device dimension (mem, nfs).
func readRows(path string, numericCols []string, deviceCol string) ([]row, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Source, "transform", fmt.Errorf("read %q: %w", path, err))
	}
	decoded := decodeTolerant(raw)

	reader := csv.NewReader(strings.NewReader(string(decoded)))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errkind.Wrap(errkind.Schema, "transform", fmt.Errorf("parse csv %q: %w", path, err))
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	required := append([]string{"jobID", "node", "timestamp"}, numericCols...)
	if deviceCol != "" {
		required = append(required, deviceCol)
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, errkind.Wrap(errkind.Schema, "transform", fmt.Errorf("%q: missing required column %q", path, name))
		}
	}

	rows := make([]row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < len(header) {
			continue
		}

		jobID := strings.TrimSpace(rec[col["jobID"]])
		node := strings.TrimSpace(rec[col["node"]])
		if jobID == "" || node == "" {
			continue
		}

		ts, err := time.Parse(timestampLayout, strings.TrimSpace(rec[col["timestamp"]]))
		if err != nil {
			continue
		}

		values := make(map[string]float64, len(numericCols))
		ok := true
		for _, name := range numericCols {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col[name]]), 64)
			if err != nil {
				ok = false
				break
			}
			values[name] = v
		}
		if !ok {
			continue
		}

		device := ""
		if deviceCol != "" {
			device = strings.TrimSpace(rec[col[deviceCol]])
			if device == "" {
				continue
			}
		}

		rows = append(rows, row{
			jobID:     normalizeJobID(jobID),
			node:      node,
			device:    device,
			timestamp: ts,
			values:    values,
		})
	}
	return rows, nil
}
