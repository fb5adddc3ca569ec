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

// Package diagnostics collects the state of a guest into a tarball for
// troubleshooting failed runs.
package diagnostics

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/LIS/lis-guest-tests/utils"
	"go.uber.org/zap"
)

// ArchiveName is the default file name of the diagnostics tarball.
const ArchiveName = "diagnostics.tar.gz"

const defaultCommandTimeout = 30 * time.Second

// Command is a command whose output is collected as <Name>.txt.
type Command struct {
	Name string
	Path string
	Args []string
}

// File is a file collected as <Name>.
type File struct {
	Name string
	Path string
}

// Source produces the content of <Name> in Go code.
type Source struct {
	Name    string
	Collect func(ctx context.Context) ([]byte, error)
}

// Collector describes what to collect. Failures of a single item are stored
// in the archive as <name>.err and never stop the collection.
type Collector struct {
	Commands []Command
	Files    []File
	Sources  []Source
	// CommandTimeout bounds each command. Zero means 30 seconds.
	CommandTimeout time.Duration
	Logger         *zap.Logger
}

// DefaultCollector collects kernel, vmbus, disk, network and agent state.
func DefaultCollector(logger *zap.Logger) *Collector {
	return &Collector{
		Commands: []Command{
			{Name: "uname", Path: "uname", Args: []string{"-a"}},
			{Name: "lsmod", Path: "lsmod"},
			{Name: "dmesg", Path: "dmesg"},
			{Name: "lsvmbus", Path: "lsvmbus", Args: []string{"-vv"}},
			{Name: "lsblk", Path: "lsblk", Args: []string{"-o", "NAME,SIZE,TYPE,MOUNTPOINT,FSTYPE"}},
			{Name: "ip_addr", Path: "ip", Args: []string{"addr"}},
			{Name: "ip_route", Path: "ip", Args: []string{"route"}},
			{Name: "journal", Path: "journalctl", Args: []string{"-b", "--no-pager"}},
		},
		Files: []File{
			{Name: "os-release", Path: "/etc/os-release"},
			{Name: "cpuinfo", Path: "/proc/cpuinfo"},
			{Name: "meminfo", Path: "/proc/meminfo"},
			{Name: "waagent.log", Path: "/var/log/waagent.log"},
			{Name: "cloud-init.log", Path: "/var/log/cloud-init.log"},
		},
		Sources: []Source{
			{Name: "imds_instance.json", Collect: func(ctx context.Context) ([]byte, error) {
				s, err := utils.GetMetadataJSON(ctx, "instance")
				return []byte(s), err
			}},
		},
		Logger: logger,
	}
}

type archive struct {
	tw  *tar.Writer
	now time.Time
}

func (a *archive) add(name string, content []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(content)),
		ModTime: a.now,
	}
	if err := a.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := a.tw.Write(content)
	return err
}

// Collect writes the diagnostics tarball to dest. The returned error is only
// about writing the archive.
func (c *Collector) Collect(ctx context.Context, dest string) (err error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := c.CommandTimeout
	if timeout == 0 {
		timeout = defaultCommandTimeout
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	zw := gzip.NewWriter(f)
	a := &archive{tw: tar.NewWriter(zw), now: time.Now()}

	var failed int
	addResult := func(name string, content []byte, collectErr error) error {
		if collectErr != nil {
			failed++
			logger.Warn("diagnostics item failed", zap.String("item", name), zap.Error(collectErr))
			msg := collectErr.Error()
			if len(content) > 0 {
				msg += "\n" + string(content)
			}
			return a.add(name+".err", []byte(msg))
		}
		return a.add(name, content)
	}

	for _, cmd := range c.Commands {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		status, runErr := utils.RunCmd(cctx, cmd.Path, cmd.Args...)
		cancel()
		if err := addResult(cmd.Name+".txt", []byte(status.Combined()), runErr); err != nil {
			return err
		}
	}
	for _, file := range c.Files {
		b, readErr := os.ReadFile(file.Path)
		if err := addResult(file.Name, b, readErr); err != nil {
			return err
		}
	}
	for _, src := range c.Sources {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		b, srcErr := src.Collect(cctx)
		cancel()
		if err := addResult(src.Name, b, srcErr); err != nil {
			return err
		}
	}

	logger.Info("diagnostics collected", zap.String("archive", dest), zap.Int("failed_items", failed))
	if err := a.tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing gzip: %w", err)
	}
	return nil
}

// ErrEmptyArchive is returned by ReadArchive for an archive with no entries.
var ErrEmptyArchive = errors.New("diagnostics archive is empty")

// ReadArchive returns the entries of a diagnostics tarball by name.
func ReadArchive(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	entries := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		entries[hdr.Name] = b
	}
	if len(entries) == 0 {
		return nil, ErrEmptyArchive
	}
	return entries, nil
}
