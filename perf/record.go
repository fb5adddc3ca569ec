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

// Package perf builds benchmark tool command lines, parses their output into
// perf records and publishes the records.
package perf

import (
	"context"
	"time"

	"github.com/LIS/lis-guest-tests/utils"
	"github.com/google/uuid"
)

// Relativity tells whether a larger metric value is an improvement.
type Relativity string

const (
	HigherIsBetter Relativity = "HigherIsBetter"
	LowerIsBetter  Relativity = "LowerIsBetter"
	RelativityNA   Relativity = "NA"
)

// Tool names used in records.
const (
	ToolIperf3   = "iperf3"
	ToolNtttcp   = "ntttcp"
	ToolLagscope = "lagscope"
	ToolFio      = "fio"
)

// Record is one metric of one benchmark run.
type Record struct {
	RunID            string
	TestCaseName     string
	Tool             string
	Platform         string
	Location         string
	VMSize           string
	DistroVersion    string
	KernelVersion    string
	LISVersion       string
	ProtocolType     string
	MetricName       string
	MetricValue      float64
	MetricUnit       string
	MetricRelativity Relativity
	CreatedAt        time.Time
}

// Meta holds the fields shared by every record of a run.
type Meta struct {
	RunID         string
	TestCaseName  string
	Tool          string
	Platform      string
	Location      string
	VMSize        string
	DistroVersion string
	KernelVersion string
	LISVersion    string
	ProtocolType  string
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// DetectMeta fills the environment fields of a Meta from the running guest.
// Fields that cannot be detected are left empty.
func DetectMeta(ctx context.Context, platform string) Meta {
	m := Meta{RunID: NewRunID(), Platform: platform}
	if d, err := utils.GetDistro(); err == nil {
		m.DistroVersion = d.String()
	}
	if r, err := utils.KernelRelease(); err == nil {
		m.KernelVersion = r
	}
	if v, err := utils.ModuleVersion(ctx, "hv_vmbus"); err == nil {
		m.LISVersion = v
	}
	if info, err := utils.GetInstanceInfo(ctx); err == nil {
		m.Location = info.Location
		m.VMSize = info.VMSize
	}
	return m
}

// With returns a copy of m for a test case, tool and protocol.
func (m Meta) With(testCase, tool, protocol string) Meta {
	m.TestCaseName = testCase
	m.Tool = tool
	m.ProtocolType = protocol
	return m
}

// Record returns a record of one metric carrying the fields of m.
func (m Meta) Record(name string, value float64, unit string, rel Relativity) Record {
	return Record{
		RunID:            m.RunID,
		TestCaseName:     m.TestCaseName,
		Tool:             m.Tool,
		Platform:         m.Platform,
		Location:         m.Location,
		VMSize:           m.VMSize,
		DistroVersion:    m.DistroVersion,
		KernelVersion:    m.KernelVersion,
		LISVersion:       m.LISVersion,
		ProtocolType:     m.ProtocolType,
		MetricName:       name,
		MetricValue:      value,
		MetricUnit:       unit,
		MetricRelativity: rel,
		CreatedAt:        time.Now().UTC(),
	}
}
