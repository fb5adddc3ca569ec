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
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table renders records as a text table.
func Table(records []Record) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Test case", "Tool", "Protocol", "Metric", "Value", "Unit"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Value", Align: text.AlignRight},
	})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.TestCaseName,
			r.Tool,
			r.ProtocolType,
			r.MetricName,
			strconv.FormatFloat(r.MetricValue, 'f', -1, 64),
			r.MetricUnit,
		})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}
