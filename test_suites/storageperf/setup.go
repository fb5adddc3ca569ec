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

// Package storageperf is a suite measuring the IO performance of the data
// disks of the guest with fio.
package storageperf

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/perf"
)

// Name is the name of the test package. It must match the directory name.
var Name = "storageperf"

// RequiredConstants is empty, every storageperf constant has a default.
var RequiredConstants []string

var blockSizeRe = regexp.MustCompile(`^[0-9]+[KkMm]$`)

type config struct {
	modes      []string
	blockSizes []string
	ioDepths   []int
	numJobs    int
	runtime    time.Duration
	// raid stripes the data disks together when there is more than one.
	raid bool
	// filesystem, when set, formats a lone data disk and runs fio on a file.
	filesystem string
	platform   string
}

// filesystems are the FIO_FILESYSTEM values a lone data disk can be
// formatted with.
var filesystems = []string{"ext4", "xfs"}

// target is what fio reads and writes: a block device, or a file of size
// on a mounted filesystem.
type target struct {
	filename string
	size     string
}

func loadConfig(c *guesttest.Constants) (config, error) {
	cfg := config{
		modes:      c.List("FIO_MODES"),
		blockSizes: c.List("FIO_BLOCK_SIZES"),
		filesystem: c.String("FIO_FILESYSTEM", ""),
		platform:   c.String("PLATFORM", "Azure"),
	}
	if cfg.filesystem != "" && !slices.Contains(filesystems, cfg.filesystem) {
		return config{}, fmt.Errorf("FIO_FILESYSTEM: unknown filesystem %q, want one of %s", cfg.filesystem, strings.Join(filesystems, ", "))
	}
	if len(cfg.modes) == 0 {
		cfg.modes = perf.FioModes
	}
	if len(cfg.blockSizes) == 0 {
		cfg.blockSizes = []string{"4K", "1024K"}
	}
	for _, m := range cfg.modes {
		if !slices.Contains(perf.FioModes, m) {
			return config{}, fmt.Errorf("FIO_MODES: unknown mode %q, want one of %s", m, strings.Join(perf.FioModes, ", "))
		}
	}
	for _, bs := range cfg.blockSizes {
		if !blockSizeRe.MatchString(bs) {
			return config{}, fmt.Errorf("FIO_BLOCK_SIZES: %q is not a block size such as 4K", bs)
		}
	}
	var err error
	if cfg.ioDepths, err = c.Ints("FIO_IODEPTHS", []int{1, 4, 16, 64, 256}); err != nil {
		return config{}, err
	}
	for _, d := range cfg.ioDepths {
		if d < 1 {
			return config{}, fmt.Errorf("FIO_IODEPTHS: queue depth %d is not positive", d)
		}
	}
	if cfg.numJobs, err = c.Int("FIO_NUMJOBS", 1); err != nil {
		return config{}, err
	}
	if cfg.runtime, err = c.Duration("FIO_RUNTIME", 120*time.Second); err != nil {
		return config{}, err
	}
	if cfg.raid, err = c.Bool("RAID", true); err != nil {
		return config{}, err
	}
	return cfg, nil
}

// jobs expands the configuration into one fio job per mode, block size and
// queue depth, in that nesting order.
func (cfg config) jobs(tgt target) []perf.FioJob {
	var jobs []perf.FioJob
	for _, mode := range cfg.modes {
		for _, bs := range cfg.blockSizes {
			for _, depth := range cfg.ioDepths {
				jobs = append(jobs, perf.FioJob{
					Name:      fmt.Sprintf("%s_%s_iodepth_%d", mode, strings.ToLower(bs), depth),
					Filename:  tgt.filename,
					Size:      tgt.size,
					Mode:      mode,
					BlockSize: bs,
					IODepth:   depth,
					NumJobs:   cfg.numJobs,
					Runtime:   cfg.runtime,
				})
			}
		}
	}
	return jobs
}

// fioFileSize sizes the fio file to leave a fifth of avail bytes free.
func fioFileSize(avail uint64) string {
	return fmt.Sprintf("%dM", avail/5*4>>20)
}

// Setup validates the constants of a storageperf run.
func Setup(c *guesttest.Constants) error {
	_, err := loadConfig(c)
	return err
}
