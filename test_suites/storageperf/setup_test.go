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

package storageperf

import (
	"testing"
	"time"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/perf"
	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		want    config
		wantErr bool
	}{
		{
			name: "defaults",
			want: config{
				modes:      perf.FioModes,
				blockSizes: []string{"4K", "1024K"},
				ioDepths:   []int{1, 4, 16, 64, 256},
				numJobs:    1,
				runtime:    120 * time.Second,
				raid:       true,
				platform:   "Azure",
			},
		},
		{
			name: "overrides",
			values: map[string]string{
				"FIO_MODES":       "randread randwrite",
				"FIO_BLOCK_SIZES": "8k",
				"FIO_IODEPTHS":    "32",
				"FIO_RUNTIME":     "10s",
				"RAID":            "no",
				"FIO_FILESYSTEM":  "xfs",
			},
			want: config{
				modes:      []string{"randread", "randwrite"},
				blockSizes: []string{"8k"},
				ioDepths:   []int{32},
				numJobs:    1,
				runtime:    10 * time.Second,
				filesystem: "xfs",
				platform:   "Azure",
			},
		},
		{name: "bad_mode", values: map[string]string{"FIO_MODES": "readwrite"}, wantErr: true},
		{name: "bad_block_size", values: map[string]string{"FIO_BLOCK_SIZES": "4KB"}, wantErr: true},
		{name: "zero_depth", values: map[string]string{"FIO_IODEPTHS": "0"}, wantErr: true},
		{name: "bad_raid", values: map[string]string{"RAID": "maybe"}, wantErr: true},
		{name: "bad_filesystem", values: map[string]string{"FIO_FILESYSTEM": "vfat"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := guesttest.NewConstants(tc.values)
			got, err := loadConfig(c)
			if (err != nil) != tc.wantErr {
				t.Fatalf("loadConfig(%v) = %v, want error %v", tc.values, err, tc.wantErr)
			}
			if (Setup(c) != nil) != tc.wantErr {
				t.Errorf("Setup(%v) disagrees with loadConfig", tc.values)
			}
			if tc.wantErr {
				return
			}
			if diff := cmp.Diff(tc.want, got, cmp.AllowUnexported(config{})); diff != "" {
				t.Errorf("loadConfig(%v) returned an unexpected diff (-want +got):\n%s", tc.values, diff)
			}
		})
	}
}

func TestJobs(t *testing.T) {
	cfg := config{
		modes:      []string{"read", "randwrite"},
		blockSizes: []string{"4K"},
		ioDepths:   []int{1, 64},
		numJobs:    2,
		runtime:    time.Minute,
	}
	jobs := cfg.jobs(target{filename: "/dev/md0"})
	var names []string
	for _, j := range jobs {
		names = append(names, j.Name)
		if j.Filename != "/dev/md0" || j.Size != "" || j.NumJobs != 2 || j.Runtime != time.Minute {
			t.Errorf("job %s = %+v, want filename /dev/md0, 2 jobs, 1m runtime", j.Name, j)
		}
	}
	want := []string{"read_4k_iodepth_1", "read_4k_iodepth_64", "randwrite_4k_iodepth_1", "randwrite_4k_iodepth_64"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("jobs() names diff (-want +got):\n%s", diff)
	}
}

func TestJobsFileTarget(t *testing.T) {
	cfg := config{modes: []string{"write"}, blockSizes: []string{"4K"}, ioDepths: []int{1}, numJobs: 1}
	jobs := cfg.jobs(target{filename: "/mnt/fio/fiodata", size: "800M"})
	if len(jobs) != 1 || jobs[0].Filename != "/mnt/fio/fiodata" || jobs[0].Size != "800M" {
		t.Errorf("jobs(file target) = %+v, want one job on /mnt/fio/fiodata sized 800M", jobs)
	}
}

func TestFioFileSize(t *testing.T) {
	tests := map[uint64]string{
		1000 << 20: "800M",
		10 << 30:   "8192M",
		0:          "0M",
	}
	for avail, want := range tests {
		if got := fioFileSize(avail); got != want {
			t.Errorf("fioFileSize(%d) = %q, want %q", avail, got, want)
		}
	}
}
