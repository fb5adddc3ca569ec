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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultIperf3Port is the port iperf3 servers listen on.
const DefaultIperf3Port = 5201

// Iperf3Options configures an iperf3 client run.
type Iperf3Options struct {
	Server   string
	Port     int
	Duration time.Duration
	// Parallel is the number of streams, -P.
	Parallel int
	UDP      bool
	// Bandwidth is the target rate for UDP, "0" meaning unlimited.
	Bandwidth string
	// BufferLength is the read/write buffer size in bytes, -l.
	BufferLength int
	IPv6         bool
}

// Iperf3ServerArgs returns the arguments of a one-off iperf3 server reporting
// in JSON.
func Iperf3ServerArgs(port int) []string {
	return []string{"-s", "-p", strconv.Itoa(port), "-1", "-J"}
}

// Iperf3ClientArgs returns the arguments of an iperf3 client run.
func Iperf3ClientArgs(o Iperf3Options) []string {
	port := o.Port
	if port == 0 {
		port = DefaultIperf3Port
	}
	args := []string{"-c", o.Server, "-p", strconv.Itoa(port), "-J"}
	if o.Duration > 0 {
		args = append(args, "-t", strconv.Itoa(int(o.Duration.Seconds())))
	}
	if o.Parallel > 1 {
		args = append(args, "-P", strconv.Itoa(o.Parallel))
	}
	if o.UDP {
		bw := o.Bandwidth
		if bw == "" {
			bw = "0"
		}
		args = append(args, "-u", "-b", bw)
	}
	if o.BufferLength > 0 {
		args = append(args, "-l", strconv.Itoa(o.BufferLength))
	}
	if o.IPv6 {
		args = append(args, "-6")
	}
	return args
}

type iperf3Sum struct {
	BitsPerSecond float64 `json:"bits_per_second"`
	Retransmits   int64   `json:"retransmits"`
	JitterMs      float64 `json:"jitter_ms"`
	LostPercent   float64 `json:"lost_percent"`
}

type iperf3Output struct {
	Start struct {
		TestStart struct {
			Protocol   string `json:"protocol"`
			NumStreams int    `json:"num_streams"`
		} `json:"test_start"`
	} `json:"start"`
	Intervals []struct {
		Streams []struct {
			SndCwnd float64 `json:"snd_cwnd"`
		} `json:"streams"`
	} `json:"intervals"`
	End struct {
		SumSent     *iperf3Sum `json:"sum_sent"`
		SumReceived *iperf3Sum `json:"sum_received"`
		Sum         *iperf3Sum `json:"sum"`
	} `json:"end"`
	Error string `json:"error"`
}

// Iperf3Result holds the metrics of one iperf3 run.
type Iperf3Result struct {
	Protocol       string
	Streams        int
	ThroughputGbps float64
	Retransmits    int64
	AvgCwndKB      float64
	MaxCwndKB      float64
	JitterMs       float64
	LostPercent    float64
}

// extractJSON strips anything the tool printed around its JSON document.
func extractJSON(out []byte) ([]byte, error) {
	start := bytes.IndexByte(out, '{')
	end := bytes.LastIndexByte(out, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON document in output")
	}
	return out[start : end+1], nil
}

// ParseIperf3 parses the JSON report of an iperf3 client or server.
func ParseIperf3(out []byte) (Iperf3Result, error) {
	doc, err := extractJSON(out)
	if err != nil {
		return Iperf3Result{}, fmt.Errorf("iperf3: %w", err)
	}
	var o iperf3Output
	if err := json.Unmarshal(doc, &o); err != nil {
		return Iperf3Result{}, fmt.Errorf("iperf3: could not parse report: %w", err)
	}
	if o.Error != "" {
		return Iperf3Result{}, fmt.Errorf("iperf3: %s", o.Error)
	}
	r := Iperf3Result{
		Protocol: strings.ToUpper(o.Start.TestStart.Protocol),
		Streams:  o.Start.TestStart.NumStreams,
	}
	switch {
	case r.Protocol == "UDP" && o.End.Sum != nil:
		r.ThroughputGbps = o.End.Sum.BitsPerSecond / 1e9
		r.JitterMs = o.End.Sum.JitterMs
		r.LostPercent = o.End.Sum.LostPercent
	case o.End.SumReceived != nil:
		r.ThroughputGbps = o.End.SumReceived.BitsPerSecond / 1e9
	default:
		return Iperf3Result{}, errors.New("iperf3: report has no summary")
	}
	if o.End.SumSent != nil {
		r.Retransmits = o.End.SumSent.Retransmits
	}

	var total float64
	var n int
	for _, interval := range o.Intervals {
		if len(interval.Streams) == 0 {
			continue
		}
		cwnd := interval.Streams[0].SndCwnd / 1024
		total += cwnd
		n++
		if cwnd > r.MaxCwndKB {
			r.MaxCwndKB = cwnd
		}
	}
	if n > 0 {
		r.AvgCwndKB = total / float64(n)
	}
	return r, nil
}

// Records converts r into perf records.
func (r Iperf3Result) Records(m Meta) []Record {
	m = m.With(m.TestCaseName, ToolIperf3, r.Protocol)
	recs := []Record{
		m.Record("throughput_in_gbps", r.ThroughputGbps, "Gbps", HigherIsBetter),
	}
	if r.Protocol == "UDP" {
		return append(recs,
			m.Record("lost_percent", r.LostPercent, "%", LowerIsBetter),
			m.Record("jitter_ms", r.JitterMs, "ms", LowerIsBetter),
		)
	}
	return append(recs,
		m.Record("retransmitted_segments", float64(r.Retransmits), "count", LowerIsBetter),
		m.Record("congestion_windowsize_kb", r.AvgCwndKB, "KB", RelativityNA),
		m.Record("max_congestion_windowsize_kb", r.MaxCwndKB, "KB", RelativityNA),
	)
}
