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

package guesttest

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jstemmer/go-junit-report/v2/junit"
)

// RenderResults renders every test case of suites as a text table with a
// totals footer.
func RenderResults(suites junit.Testsuites) string {
	t := table.NewWriter()
	t.SetTitle("Test results")
	t.AppendHeader(table.Row{"Suite", "Test", "Result", "Time (s)"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Result", Align: text.AlignCenter},
		{Name: "Time (s)", Align: text.AlignRight},
	})

	var passed, failed, skipped int
	for _, suite := range suites.Suites {
		for _, tc := range suite.Testcases {
			r := TestcaseResult(tc)
			switch r {
			case ResultPass:
				passed++
			case ResultFail:
				failed++
			case ResultSkip:
				skipped++
			}
			t.AppendRow(table.Row{suite.Name, tc.Name, string(r), tc.Time})
		}
		t.AppendSeparator()
	}
	t.AppendFooter(table.Row{"", "Total", fmt.Sprintf("%d passed, %d failed, %d skipped", passed, failed, skipped), ""})
	style := table.StyleLight
	style.Format.Footer = text.FormatDefault
	t.SetStyle(style)
	return t.Render()
}
