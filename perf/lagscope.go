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
	"errors"
	"regexp"
	"strconv"
)

// LagscopeServerArgs returns the arguments of a lagscope receiver bound to ip,
// or to every address when ip is empty.
func LagscopeServerArgs(ip string) []string {
	return []string{"-r" + ip}
}

// LagscopeClientArgs returns the arguments of a lagscope sender doing pings
// round trips to server and printing percentiles.
func LagscopeClientArgs(server string, pings int) []string {
	return []string{"-s" + server, "-n" + strconv.Itoa(pings), "-P"}
}

var (
	lagscopeStatsRe = regexp.MustCompile(`Minimum = ([\d.]+)us, Maximum = ([\d.]+)us, Average = ([\d.]+)us`)
	lagscopeP95Re   = regexp.MustCompile(`(?m)^\s*95%\s+(\d+)`)
	lagscopeP99Re   = regexp.MustCompile(`(?m)^\s*99%\s+(\d+)`)
)

// LagscopeResult holds latencies in microseconds.
type LagscopeResult struct {
	MinUsec float64
	MaxUsec float64
	AvgUsec float64
	P95Usec float64
	P99Usec float64
}

// ParseLagscope parses the ping statistics of a lagscope sender.
// Percentiles are zero unless lagscope ran with -P.
func ParseLagscope(out string) (LagscopeResult, error) {
	m := lagscopeStatsRe.FindStringSubmatch(out)
	if m == nil {
		return LagscopeResult{}, errors.New("lagscope: no ping statistics in output")
	}
	var r LagscopeResult
	var err error
	for i, dst := range []*float64{&r.MinUsec, &r.MaxUsec, &r.AvgUsec} {
		if *dst, err = strconv.ParseFloat(m[i+1], 64); err != nil {
			return LagscopeResult{}, err
		}
	}
	r.P95Usec, _ = findFloat(lagscopeP95Re, out)
	r.P99Usec, _ = findFloat(lagscopeP99Re, out)
	return r, nil
}

// Records converts r into perf records.
func (r LagscopeResult) Records(m Meta) []Record {
	m = m.With(m.TestCaseName, ToolLagscope, "TCP")
	recs := []Record{
		m.Record("min_latency_us", r.MinUsec, "us", LowerIsBetter),
		m.Record("max_latency_us", r.MaxUsec, "us", LowerIsBetter),
		m.Record("average_latency_us", r.AvgUsec, "us", LowerIsBetter),
	}
	if r.P95Usec > 0 {
		recs = append(recs,
			m.Record("latency95_percentile_us", r.P95Usec, "us", LowerIsBetter),
			m.Record("latency99_percentile_us", r.P99Usec, "us", LowerIsBetter),
		)
	}
	return recs
}
