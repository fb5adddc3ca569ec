// Copyright 2025 Google LLC.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

const uploadAttempts = 5

// parseGCSURL splits gs://bucket/prefix into its bucket and object prefix.
func parseGCSURL(s string) (bucket, prefix string, err error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse gcs url: %w", err)
	}
	if u.Scheme != "gs" || u.Host == "" {
		return "", "", fmt.Errorf("%q is not a gs://bucket/prefix url", s)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// artifactFiles returns the regular files under dir, relative to dir, in
// lexical order.
func artifactFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

// uploadArtifacts copies every file of workDir to <url>/<suite>/.
func uploadArtifacts(ctx context.Context, logger *zap.Logger, artifactsURL, suite, workDir string) error {
	bucket, prefix, err := parseGCSURL(artifactsURL)
	if err != nil {
		return err
	}
	files, err := artifactFiles(workDir)
	if err != nil {
		return fmt.Errorf("could not list %s: %w", workDir, err)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create cloud storage client: %w", err)
	}
	defer client.Close()

	for _, rel := range files {
		object := path.Join(prefix, suite, rel)
		logger.Debug("uploading artifact", zap.String("bucket", bucket), zap.String("object", object))
		if err := uploadFile(ctx, client, bucket, object, filepath.Join(workDir, rel)); err != nil {
			return err
		}
	}
	logger.Info("artifacts uploaded", zap.Int("files", len(files)), zap.String("url", artifactsURL))
	return nil
}

// uploadFile writes the file at src to gs://bucket/object. Each attempt
// reads the file from the start.
func uploadFile(ctx context.Context, client *storage.Client, bucket, object, src string) error {
	upload := func() error {
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		dst := client.Bucket(bucket).Object(object).NewWriter(ctx)
		if _, err := io.Copy(dst, f); err != nil {
			dst.Close()
			return fmt.Errorf("failed to write to gcs: %w", err)
		}
		if err := dst.Close(); err != nil {
			return fmt.Errorf("failed to close gcs writer: %w", err)
		}
		return nil
	}

	var uploadErr error
	for i := 1; i <= uploadAttempts; i++ {
		if uploadErr = upload(); uploadErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("uploading %s: %w", object, ctx.Err())
		case <-time.After(time.Duration(i) * time.Second):
		}
	}
	return fmt.Errorf("uploading %s after %d attempts: %w", object, uploadAttempts, uploadErr)
}
