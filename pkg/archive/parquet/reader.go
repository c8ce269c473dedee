// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parquet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	pq "github.com/parquet-go/parquet-go"
)

// ReadFile reads all Row entries out of parquet-encoded bytes. Used by
// the Catalog Builder (§4.8) to re-open finalized day-partition files
// before folding them into a compressed period archive.
func ReadFile(data []byte) ([]Row, error) {
	file, err := pq.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := pq.NewGenericReader[Row](file)
	defer reader.Close()

	rows := make([]Row, file.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return rows[:n], nil
}

// Source abstracts listing and reading already-published output files,
// mirroring Target but for the read side. The Catalog Builder (C8) lists
// a period's files and reads each one back to build its archive.
type Source interface {
	ListFiles(prefix string) ([]string, error)
	ReadFile(path string) ([]byte, error)
}

// FileSource lists and reads files under a local filesystem root.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (fs *FileSource) ListFiles(prefix string) ([]string, error) {
	var out []string
	root := fs.path
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files under %q: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

func (fs *FileSource) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(fs.path, filepath.FromSlash(path)))
}

// S3Source lists and reads objects from an S3-compatible object store.
type S3Source struct {
	client *s3.Client
	bucket string
}

func NewS3Source(cfg S3TargetConfig) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 source: empty bucket name")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("S3 source: load AWS config: %w", err)
	}

	opts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}

	client := s3.NewFromConfig(awsCfg, opts)
	return &S3Source{client: client, bucket: cfg.Bucket}, nil
}

func (ss *S3Source) ListFiles(prefix string) ([]string, error) {
	ctx := context.Background()
	paginator := s3.NewListObjectsV2Paginator(ss.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(ss.bucket),
		Prefix: aws.String(prefix),
	})

	var out []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 source: list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				out = append(out, *obj.Key)
			}
		}
	}
	return out, nil
}

func (ss *S3Source) ReadFile(path string) ([]byte, error) {
	ctx := context.Background()
	result, err := ss.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ss.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("S3 source: get object %q: %w", path, err)
	}
	defer result.Body.Close()
	return io.ReadAll(result.Body)
}
