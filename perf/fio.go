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

package perf

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FioModes are the access patterns the storage suite measures.
var FioModes = []string{"read", "randread", "write", "randwrite"}

// FioJob describes one fio run.
type FioJob struct {
	Name      string
	Filename  string
	Mode      string
	BlockSize string
	IODepth   int
	NumJobs   int
	Runtime   time.Duration
	// Size bounds the file fio lays out when Filename is not a device.
	Size string
}

// FioArgs returns the fio command line for job.
func FioArgs(job FioJob) []string {
	numJobs := job.NumJobs
	if numJobs < 1 {
		numJobs = 1
	}
	args := []string{
		"--ioengine=libaio",
		"--filename=" + job.Filename,
		"--readwrite=" + job.Mode,
		"--iodepth=" + strconv.Itoa(job.IODepth),
		"--name=" + job.Name,
		"--runtime=" + strconv.Itoa(int(job.Runtime.Seconds())),
		"--bs=" + job.BlockSize,
		"--numjobs=" + strconv.Itoa(numJobs),
		"--direct=1",
		"--group_reporting",
		"--time_based",
		"--output-format=json",
	}
	if job.Size != "" {
		args = append(args, "--size="+job.Size)
	}
	return args
}

type fioLatency struct {
	Mean       float64            `json:"mean"`
	Percentile map[string]float64 `json:"percentile"`
}

type fioDirection struct {
	IOBytes int64      `json:"io_bytes"`
	IOPS    float64    `json:"iops"`
	BW      float64    `json:"bw"`
	ClatNs  fioLatency `json:"clat_ns"`
}

type fioOutput struct {
	Jobs []struct {
		JobName string       `json:"jobname"`
		Error   int          `json:"error"`
		Read    fioDirection `json:"read"`
		Write   fioDirection `json:"write"`
	} `json:"jobs"`
}

// FioResult holds the metrics of one direction of one fio job.
type FioResult struct {
	JobName   string
	Direction string
	IOPS      float64
	// BandwidthKiB is in KiB/s.
	BandwidthKiB    float64
	MeanLatencyUsec float64
	P99LatencyUsec  float64
}

// ParseFio parses fio JSON output. Directions that moved no data are left
// out.
func ParseFio(out []byte) ([]FioResult, error) {
	doc, err := extractJSON(out)
	if err != nil {
		return nil, fmt.Errorf("fio: %w", err)
	}
	var o fioOutput
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("fio: could not parse report: %w", err)
	}
	var results []FioResult
	for _, job := range o.Jobs {
		if job.Error != 0 {
			return nil, fmt.Errorf("fio: job %s failed with error %d", job.JobName, job.Error)
		}
		for _, d := range []struct {
			name string
			dir  fioDirection
		}{{"read", job.Read}, {"write", job.Write}} {
			if d.dir.IOBytes == 0 && d.dir.IOPS == 0 {
				continue
			}
			results = append(results, FioResult{
				JobName:         job.JobName,
				Direction:       d.name,
				IOPS:            d.dir.IOPS,
				BandwidthKiB:    d.dir.BW,
				MeanLatencyUsec: d.dir.ClatNs.Mean / 1000,
				P99LatencyUsec:  d.dir.ClatNs.Percentile["99.000000"] / 1000,
			})
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("fio: no results in report")
	}
	return results, nil
}

// FioRecords converts the results of job into perf records named after the
// mode, block size, queue depth and direction.
func FioRecords(m Meta, job FioJob, results []FioResult) []Record {
	m = m.With(m.TestCaseName, ToolFio, "")
	numJobs := job.NumJobs
	if numJobs < 1 {
		numJobs = 1
	}
	prefix := fmt.Sprintf("%s_bs_%s_iodepth_%d_numjob_%d", job.Mode, strings.ToLower(job.BlockSize), job.IODepth, numJobs)
	var recs []Record
	for _, r := range results {
		p := prefix + "_" + r.Direction
		recs = append(recs,
			m.Record(p+"_iops", r.IOPS, "IOPS", HigherIsBetter),
			m.Record(p+"_bandwidth", r.BandwidthKiB, "KiB/s", HigherIsBetter),
			m.Record(p+"_mean_latency", r.MeanLatencyUsec, "us", LowerIsBetter),
			m.Record(p+"_p99_latency", r.P99LatencyUsec, "us", LowerIsBetter),
		)
	}
	return recs
}
