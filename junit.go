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
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jstemmer/go-junit-report/v2/junit"
	"github.com/jstemmer/go-junit-report/v2/parser/gotest"
)

// JUnitFileName is the default name of the junit report in a work dir.
const JUnitFileName = "junit.xml"

// ConvertToTestSuite merges the `go test -v` outputs in results into one
// junit test suite named name.
func ConvertToTestSuite(results []string, name string) junit.Testsuite {
	ts := junit.Testsuite{Name: name}
	var seconds float64
	for _, result := range results {
		tcs, err := ConvertToTestCase(result)
		if err != nil {
			ts.AddTestcase(junit.Testcase{
				Name:      "ParseOutput",
				Classname: name,
				Error:     &junit.Result{Message: "could not parse test output", Data: err.Error()},
			})
			continue
		}
		for _, tc := range tcs {
			tc.Classname = name
			if f, err := strconv.ParseFloat(tc.Time, 64); err == nil {
				seconds += f
			}
			ts.AddTestcase(tc)
		}
	}
	ts.Time = fmt.Sprintf("%.3f", seconds)
	return ts
}

// ConvertToTestCase parses a single `go test -v` output into test cases.
func ConvertToTestCase(in string) ([]junit.Testcase, error) {
	report, err := gotest.NewParser().Parse(strings.NewReader(in))
	if err != nil {
		return nil, err
	}
	var tcs []junit.Testcase
	for _, suite := range junit.CreateFromReport(report, "").Suites {
		tcs = append(tcs, suite.Testcases...)
	}
	return tcs, nil
}

// WriteJUnit writes suites to path as indented XML.
func WriteJUnit(path string, suites junit.Testsuites) error {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := suites.WriteXML(&buf); err != nil {
		return fmt.Errorf("could not encode junit report: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// ReadJUnit parses a junit report written by WriteJUnit.
func ReadJUnit(data []byte) (junit.Testsuites, error) {
	var suites junit.Testsuites
	if err := xml.Unmarshal(data, &suites); err != nil {
		return suites, fmt.Errorf("could not decode junit report: %w", err)
	}
	return suites, nil
}
