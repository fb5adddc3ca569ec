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
	"github.com/prometheus/client_golang/prometheus"
)

// MetricName is the gauge every record is exported under.
const MetricName = "lisa_perf_metric"

var metricLabels = []string{"test_case", "tool", "metric", "unit", "protocol"}

// WriteTextfile writes records in the Prometheus text exposition format, for
// node_exporter's textfile collector. A later record with the same labels
// replaces an earlier one.
func WriteTextfile(path string, records []Record) error {
	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: MetricName,
		Help: "LISA guest benchmark result.",
	}, metricLabels)
	reg.MustRegister(gauge)
	for _, r := range records {
		gauge.WithLabelValues(r.TestCaseName, r.Tool, r.MetricName, r.MetricUnit, r.ProtocolType).Set(r.MetricValue)
	}
	return prometheus.WriteToTextfile(path, reg)
}
