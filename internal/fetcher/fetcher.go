// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fetcher implements the Fetcher (C2, §4.2): folder discovery
// over an HTTP index and a worker pool that downloads a folder's
// required files to a local staging directory. The worker pool is the
// same bounded-channel-plus-WaitGroup shape as the teacher's archiving
// worker (internal/archiver), generalized from one background worker to
// W_net concurrent workers.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-hpc-etl/pkg/errkind"
	"github.com/ClusterCockpit/cc-hpc-etl/pkg/log"
)

var folderNameRe = regexp.MustCompile(`^\d{4}-\d{2}/?$`)

const downloadChunkSize = 8 * 1024

// Fetcher discovers and downloads source folders from an HTTP index.
type Fetcher struct {
	BaseURL string
	Client  *http.Client
	Workers int
}

func New(baseURL string, workers int) *Fetcher {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Fetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 60 * time.Second},
		Workers: workers,
	}
}

// DefaultWorkers mirrors §4.2's W_net default of min(cpu, 8).
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// DiscoverFolders fetches the HTTP index at the Fetcher's base URL and
// returns the candidate folder names matching ^\d{4}-\d{2}/?$, sorted
// chronologically.
func (f *Fetcher) DiscoverFolders(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/", nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Source, "fetcher", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.Source, "fetcher", fmt.Errorf("fetch index %s: %w", f.BaseURL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Wrap(errkind.Source, "fetcher", fmt.Errorf("fetch index %s: status %d", f.BaseURL, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Source, "fetcher", fmt.Errorf("read index %s: %w", f.BaseURL, err))
	}

	folders := extractFolderNames(string(body))
	sort.Strings(folders)
	return folders, nil
}

// extractFolderNames scans an HTML (or plain-text) directory listing for
// tokens matching the folder name pattern. href values and bare text
// tokens are both accepted since index servers vary in markup.
func extractFolderNames(html string) []string {
	hrefRe := regexp.MustCompile(`href="([^"]+)"`)
	seen := make(map[string]bool)
	var out []string

	add := func(candidate string) {
		candidate = strings.TrimRight(candidate, "/")
		if folderNameRe.MatchString(candidate + "/") && !seen[candidate] {
			seen[candidate] = true
			out = append(out, candidate)
		}
	}

	for _, m := range hrefRe.FindAllStringSubmatch(html, -1) {
		add(m[1])
	}
	for _, tok := range strings.Fields(html) {
		add(tok)
	}
	return out
}

// downloadTask is one required file to fetch for a folder.
type downloadTask struct {
	fileName string
}

// FetchFolder downloads every file in requiredFiles for the named folder
// into destDir, using up to f.Workers concurrent downloads. It returns a
// SourceError (errkind.Source) if any required file cannot be fetched
// after retries.
func (f *Fetcher) FetchFolder(ctx context.Context, folder string, requiredFiles []string, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return errkind.Wrap(errkind.Source, "fetcher", fmt.Errorf("create staging dir %q: %w", destDir, err))
	}

	tasks := make(chan downloadTask, len(requiredFiles))
	for _, name := range requiredFiles {
		tasks <- downloadTask{fileName: name}
	}
	close(tasks)

	errs := make(chan error, len(requiredFiles))
	var wg sync.WaitGroup
	for i := 0; i < f.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				errs <- f.downloadOne(ctx, folder, task.fileName, destDir)
			}
		}()
	}
	wg.Wait()
	close(errs)

	var failures []string
	for err := range errs {
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return errkind.Wrap(errkind.Source, "fetcher",
			fmt.Errorf("folder %q: %d file(s) failed: %s", folder, len(failures), strings.Join(failures, "; ")))
	}
	return nil
}

func (f *Fetcher) downloadOne(ctx context.Context, folder, fileName, destDir string) error {
	dest := filepath.Join(destDir, fileName)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		log.Debugf("fetcher: %s/%s already staged, skipping download", folder, fileName)
		return nil
	}

	url := fmt.Sprintf("%s/%s/%s", f.BaseURL, folder, fileName)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * time.Second
			delay += time.Duration(rand.Int63n(int64(time.Second)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := f.streamDownload(ctx, url, dest); err != nil {
			lastErr = err
			log.Warnf("fetcher: download %s failed (attempt %d/3): %v", url, attempt+1, err)
			os.Remove(dest)
			continue
		}
		return nil
	}
	return fmt.Errorf("%s: %w", url, lastErr)
}

func (f *Fetcher) streamDownload(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	buf := make([]byte, downloadChunkSize)
	written, copyErr := io.CopyBuffer(out, resp.Body, buf)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}
	if written == 0 {
		os.Remove(tmp)
		return fmt.Errorf("zero-byte response")
	}
	return os.Rename(tmp, dest)
}

// VerifyFolder checks that every required file is present and non-empty
// in dir, the Fetcher's success criterion for a folder (§4.2).
func VerifyFolder(dir string, requiredFiles []string) error {
	for _, name := range requiredFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return errkind.Wrap(errkind.Source, "fetcher", fmt.Errorf("missing required file %q: %w", name, err))
		}
		if info.Size() == 0 {
			return errkind.Wrap(errkind.Source, "fetcher", fmt.Errorf("required file %q is empty", name))
		}
	}
	return nil
}
