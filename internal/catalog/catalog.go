// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package catalog implements the Catalog Builder (C8, §4.8): it groups
// finalized day-partition output files by period (month or quarter),
// folds each group into a compressed archive, and appends one entry per
// archive to a single catalog JSON.
package catalog

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/ClusterCockpit/cc-hpc-etl/internal/util"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/archive/parquet"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/schema"
)

// Granularity selects which period key files are grouped by.
type Granularity string

const (
	Monthly   Granularity = "month"
	Quarterly Granularity = "quarter"
)

const bytesPerGiB = 1 << 30

var dayRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// Config tunes the Catalog Builder's staging budget.
type Config struct {
	// WorkingDir is where each period's constituent files are staged
	// before being folded into a compressed archive.
	WorkingDir string
	// MaxWorkingDirBytes is D_max (§4.8): the cumulative staged size a
	// single period build may not exceed.
	MaxWorkingDirBytes int64
	// CacheSize bounds how many recently-built periods' fingerprints are
	// remembered, so a rerun over an unchanged period skips rework.
	CacheSize int
}

func DefaultConfig() Config {
	return Config{
		MaxWorkingDirBytes: 28 * bytesPerGiB,
		CacheSize:          256,
	}
}

type cacheRecord struct {
	fingerprint string
	entry       schema.ArchiveEntry
}

// Builder folds finalized output files into period archives and keeps a
// single catalog JSON current. source/target both address the same
// backing store (local directory or S3 bucket); Source supplies reads
// (listing finalized files, re-reading the existing catalog), Target
// supplies the atomic writes (the archive itself, the rewritten catalog).
type Builder struct {
	source      parquet.Source
	target      parquet.Target
	catalogPath string
	cfg         Config
	cache       *lru.Cache[string, cacheRecord]
}

// Source returns the backing store's read side, so a caller that only
// holds a Builder (the orchestrator) can still list and re-read finalized
// files without keeping its own separate handle to the same store.
func (b *Builder) Source() parquet.Source { return b.source }

// Target returns the backing store's write side, for the same reason as
// Source.
func (b *Builder) Target() parquet.Target { return b.target }

func New(source parquet.Source, target parquet.Target, catalogPath string, cfg Config) (*Builder, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1
	}
	cache, err := lru.New[string, cacheRecord](cfg.CacheSize)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "catalog", fmt.Errorf("create checksum cache: %w", err))
	}
	return &Builder{source: source, target: target, catalogPath: catalogPath, cfg: cfg, cache: cache}, nil
}

// GroupByPeriod buckets file paths by the period key their embedded
// YYYY-MM-DD date falls into. A path with no recognizable date is
// skipped and logged, since it cannot belong to any period archive.
func GroupByPeriod(paths []string, g Granularity) map[string][]string {
	groups := make(map[string][]string)
	for _, p := range paths {
		day, ok := extractDay(p)
		if !ok {
			log.Warnf("catalog: %q has no embedded date, skipping", p)
			continue
		}
		groups[periodKey(day, g)] = append(groups[periodKey(day, g)], p)
	}
	for key := range groups {
		sort.Strings(groups[key])
	}
	return groups
}

func periodKey(day time.Time, g Granularity) string {
	if g == Quarterly {
		quarter := (int(day.Month())-1)/3 + 1
		return fmt.Sprintf("%04d-Q%d", day.Year(), quarter)
	}
	return day.Format("2006-01")
}

func extractDay(p string) (time.Time, bool) {
	m := dayRe.FindString(filepath.Base(p))
	if m == "" {
		return time.Time{}, false
	}
	day, err := time.Parse("2006-01-02", m)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// BuildPeriod stages every path in the group, checking the cumulative
// staged size against MaxWorkingDirBytes after each file, then folds the
// staging directory into one gzip-compressed tar archive, uploads it,
// and appends its entry to the catalog JSON. A period whose file set is
// unchanged since the last successful build is skipped and its cached
// entry is returned instead.
func (b *Builder) BuildPeriod(period string, paths []string) (schema.ArchiveEntry, error) {
	if len(paths) == 0 {
		return schema.ArchiveEntry{}, errkind.Wrap(errkind.Source, "catalog", fmt.Errorf("period %q: no files", period))
	}

	fp := fingerprint(paths)
	if rec, ok := b.cache.Get(period); ok && rec.fingerprint == fp {
		log.Infof("catalog: period %s unchanged since last build, skipping", period)
		return rec.entry, nil
	}

	stagingDir, err := os.MkdirTemp(b.cfg.WorkingDir, "catalog-"+sanitize(period)+"-")
	if err != nil {
		return schema.ArchiveEntry{}, errkind.Wrap(errkind.Resource, "catalog", fmt.Errorf("create staging dir: %w", err))
	}
	defer os.RemoveAll(stagingDir)

	var cumulative int64
	var earliest, latest time.Time
	for _, p := range paths {
		data, err := b.source.ReadFile(p)
		if err != nil {
			return schema.ArchiveEntry{}, errkind.Wrap(errkind.Source, "catalog", fmt.Errorf("read %q: %w", p, err))
		}
		cumulative += int64(len(data))
		if cumulative > b.cfg.MaxWorkingDirBytes {
			return schema.ArchiveEntry{}, errkind.Wrap(errkind.Resource, "catalog",
				fmt.Errorf("period %q: staging %q would exceed max working directory size %d bytes", period, p, b.cfg.MaxWorkingDirBytes))
		}
		if err := os.WriteFile(filepath.Join(stagingDir, filepath.Base(p)), data, 0o640); err != nil {
			return schema.ArchiveEntry{}, errkind.Wrap(errkind.Resource, "catalog", fmt.Errorf("stage %q: %w", p, err))
		}
		if day, ok := extractDay(p); ok {
			if earliest.IsZero() || day.Before(earliest) {
				earliest = day
			}
			if latest.IsZero() || day.After(latest) {
				latest = day
			}
		}
	}

	log.Debugf("catalog: period %s staged %.2f MB in %s", period, util.DiskUsage(stagingDir), stagingDir)

	archiveData, err := buildTarGz(stagingDir)
	if err != nil {
		return schema.ArchiveEntry{}, errkind.Wrap(errkind.Write, "catalog", fmt.Errorf("build archive for %q: %w", period, err))
	}

	sum := sha256.Sum256(archiveData)
	archivePath := path.Join("archives", period+".tar.gz")
	if err := b.target.WriteFile(archivePath, archiveData); err != nil {
		return schema.ArchiveEntry{}, errkind.Wrap(errkind.Write, "catalog", fmt.Errorf("upload %q: %w", archivePath, err))
	}

	entry := schema.ArchiveEntry{
		Period:      period,
		Path:        archivePath,
		Size:        int64(len(archiveData)),
		Checksum:    hex.EncodeToString(sum[:]),
		Start:       earliest.Format("2006-01-02"),
		End:         latest.Format("2006-01-02"),
		ObjectCount: len(paths),
	}

	if err := b.appendCatalogEntry(entry); err != nil {
		return entry, err
	}
	b.cache.Add(period, cacheRecord{fingerprint: fp, entry: entry})
	log.Infof("catalog: built %s (%d objects, %d bytes)", archivePath, len(paths), len(archiveData))
	return entry, nil
}

func buildTarGz(stagingDir string) ([]byte, error) {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(stagingDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read staged %q: %w", e.Name(), err)
		}
		hdr := &tar.Header{Name: e.Name(), Mode: 0o640, Size: int64(len(data))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write tar header for %q: %w", e.Name(), err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("write tar body for %q: %w", e.Name(), err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// appendCatalogEntry reads the existing catalog (treating any read
// failure as "no catalog yet"), appends entry, and writes the whole
// array back atomically via the Target.
func (b *Builder) appendCatalogEntry(entry schema.ArchiveEntry) error {
	var entries []schema.ArchiveEntry
	if existing, err := b.source.ReadFile(b.catalogPath); err == nil {
		if jerr := json.Unmarshal(existing, &entries); jerr != nil {
			log.Warnf("catalog: existing catalog at %q is not valid JSON, starting fresh: %v", b.catalogPath, jerr)
			entries = nil
		}
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.Write, "catalog", fmt.Errorf("marshal catalog: %w", err))
	}
	if err := b.target.WriteFile(b.catalogPath, data); err != nil {
		return errkind.Wrap(errkind.Write, "catalog", fmt.Errorf("write catalog: %w", err))
	}
	return nil
}

func fingerprint(paths []string) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

func sanitize(period string) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(period)
}
