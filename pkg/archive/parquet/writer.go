// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parquet

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"syscall"

	pq "github.com/parquet-go/parquet-go"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

const bytesPerGiB = 1 << 30

// WriterConfig tunes the Daily Writer's chunking and retry behavior
// (§4.6). The zero value is not usable; start from DefaultWriterConfig.
type WriterConfig struct {
	// MaxBytesPerFile is the day-partition size above which the writer
	// splits into multiple _chunk_NNN files.
	MaxBytesPerFile int64
	// MinRowsPerChunk floors the size of any split chunk so a huge day
	// does not fragment into thousands of tiny files.
	MinRowsPerChunk int
	// RowGroupSize is the approximate number of rows per parquet row
	// group.
	RowGroupSize int
	// MaxAttempts bounds the write-retry loop.
	MaxAttempts int
	// MinFreeBytes is the free-space floor checked before each write
	// attempt; falling short is a ResourceError (§7) for that attempt.
	MinFreeBytes int64
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		MaxBytesPerFile: int64(2.0 * bytesPerGiB),
		MinRowsPerChunk: 500_000,
		RowGroupSize:    100_000,
		MaxAttempts:     2,
		MinFreeBytes:    int64(3.0 * bytesPerGiB),
	}
}

// DayWriter publishes one day-partition of AggregatedRows as one or more
// sorted, snappy-compressed parquet files (§4.6). It mirrors the
// teacher's ParquetWriter batching shape, generalized from a job-archive
// retention writer to the dataset's day-partition output.
type DayWriter struct {
	target Target
	cfg    WriterConfig
}

func NewDayWriter(target Target, cfg WriterConfig) *DayWriter {
	return &DayWriter{target: target, cfg: cfg}
}

// WriteDay sorts rows by (jid, host, time) and writes them under
// pathPrefix, which should already have had the dataset/version/folder
// path template (§6) applied minus the file extension. It returns one
// OutputFile per chunk actually written (a single-element slice when the
// day fits in one file).
func (w *DayWriter) WriteDay(pathPrefix string, rows []schema.AggregatedRow) ([]schema.OutputFile, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Jid != rows[j].Jid {
			return rows[i].Jid < rows[j].Jid
		}
		if rows[i].Host != rows[j].Host {
			return rows[i].Host < rows[j].Host
		}
		return rows[i].Time.Before(rows[j].Time)
	})

	chunks := w.planChunks(rows)
	out := make([]schema.OutputFile, 0, len(chunks))
	for i, chunk := range chunks {
		name := pathPrefix + ".parquet"
		part := 0
		if len(chunks) > 1 {
			part = i
			name = fmt.Sprintf("%s_chunk_%03d.parquet", pathPrefix, i)
		}
		of, err := w.writeChunkWithRetry(name, chunk)
		if err != nil {
			return out, err
		}
		of.Part = part
		of.Chunked = len(chunks) > 1
		out = append(out, of)
	}
	return out, nil
}

// planChunks splits rows into day-partition chunks so that no chunk
// exceeds MaxBytesPerFile, while never producing a chunk smaller than
// MinRowsPerChunk unless the whole day is smaller than that floor.
func (w *DayWriter) planChunks(rows []schema.AggregatedRow) [][]schema.AggregatedRow {
	total := estimateRowsetBytes(rows)
	if total <= w.cfg.MaxBytesPerFile || len(rows) <= w.cfg.MinRowsPerChunk {
		return [][]schema.AggregatedRow{rows}
	}

	avgBytes := total / int64(len(rows))
	rowsPerChunk := int(w.cfg.MaxBytesPerFile / avgBytes)
	if rowsPerChunk < w.cfg.MinRowsPerChunk {
		rowsPerChunk = w.cfg.MinRowsPerChunk
	}

	numChunks := int(math.Ceil(float64(len(rows)) / float64(rowsPerChunk)))
	chunks := make([][]schema.AggregatedRow, 0, numChunks)
	for start := 0; start < len(rows); start += rowsPerChunk {
		end := start + rowsPerChunk
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

func (w *DayWriter) writeChunkWithRetry(name string, chunk []schema.AggregatedRow) (schema.OutputFile, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if free, ok := w.freeBytes(); ok && free < w.cfg.MinFreeBytes {
			lastErr = errkind.Wrap(errkind.Resource, "writer",
				fmt.Errorf("only %d bytes free, need %d before writing %q", free, w.cfg.MinFreeBytes, name))
			log.Warnf("DayWriter: %v (attempt %d/%d)", lastErr, attempt, w.cfg.MaxAttempts)
			continue
		}

		of, err := w.writeChunk(name, chunk)
		if err == nil {
			return of, nil
		}
		lastErr = err
		log.Warnf("DayWriter: write %q failed (attempt %d/%d): %v", name, attempt, w.cfg.MaxAttempts, err)
	}
	return schema.OutputFile{}, errkind.Wrap(errkind.Write, "writer", fmt.Errorf("write %q: %w", name, lastErr))
}

func (w *DayWriter) writeChunk(name string, chunk []schema.AggregatedRow) (schema.OutputFile, error) {
	data, err := encodeRows(chunk, w.cfg.RowGroupSize)
	if err != nil {
		return schema.OutputFile{}, fmt.Errorf("encode %q: %w", name, err)
	}

	if err := w.target.WriteFile(name, data); err != nil {
		return schema.OutputFile{}, fmt.Errorf("write %q: %w", name, err)
	}

	if err := validateWritten(data, len(chunk)); err != nil {
		return schema.OutputFile{}, fmt.Errorf("validate %q: %w", name, err)
	}

	log.Infof("DayWriter: wrote %s (%d rows, %d bytes)", name, len(chunk), len(data))
	return schema.OutputFile{
		Path:     name,
		ByteSize: int64(len(data)),
		Checksum: md5Hex(data),
	}, nil
}

func encodeRows(rows []schema.AggregatedRow, rowGroupSize int) ([]byte, error) {
	pqRows := make([]Row, len(rows))
	for i := range rows {
		pqRows[i] = FromAggregatedRow(&rows[i])
	}

	var buf bytes.Buffer
	writer := pq.NewGenericWriter[Row](&buf,
		pq.Compression(&pq.Snappy),
		pq.SortingWriterConfig(pq.SortingColumns(
			pq.Ascending("jid"),
			pq.Ascending("host"),
			pq.Ascending("time"),
		)),
		pq.MaxRowsPerRowGroup(int64(rowGroupSize)),
	)

	if _, err := writer.Write(pqRows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// validateWritten re-opens the just-written bytes, checks its schema
// carries every expected column, and checks the row count against what
// was handed to the encoder (§4.6 "schema must include all required
// columns" / "sample-read row count check"), catching truncated or
// corrupted writes before the Stage Mover ever sees the file.
func validateWritten(data []byte, wantRows int) error {
	reader := pq.NewGenericReader[Row](bytes.NewReader(data))
	defer reader.Close()

	got := make(map[string]bool)
	for _, f := range reader.Schema().Fields() {
		got[f.Name()] = true
	}
	for _, name := range schema.ColumnNames {
		if !got[name] {
			return fmt.Errorf("schema missing expected column %q", name)
		}
	}

	if n := int(reader.NumRows()); n != wantRows {
		return fmt.Errorf("row count mismatch: wrote %d, file reports %d", wantRows, n)
	}
	return nil
}

func estimateRowsetBytes(rows []schema.AggregatedRow) int64 {
	var total int64
	for i := range rows {
		total += estimateRowBytes(&rows[i])
	}
	return total
}

func estimateRowBytes(r *schema.AggregatedRow) int64 {
	size := int64(22 * 8) // eight bytes for each of the 22 output columns
	size += int64(len(r.Account) + len(r.Queue) + len(r.Host) + len(r.Jid) +
		len(r.Unit) + len(r.JobName) + len(r.ExitCode) + len(r.HostList) + len(r.Username))
	return size
}

// freeBytes reports free space on the target's root, when the target is
// a local FileTarget. S3 targets have no local disk budget to check.
func (w *DayWriter) freeBytes() (int64, bool) {
	ft, ok := w.target.(*FileTarget)
	if !ok {
		return 0, false
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(ft.Root(), &stat); err != nil {
		return 0, false
	}
	return int64(stat.Bavail) * int64(stat.Bsize), true
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
