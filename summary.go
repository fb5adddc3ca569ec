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
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jstemmer/go-junit-report/v2/junit"
)

// Result is the verdict of a single test case as recorded in the summary.
type Result string

const (
	// ResultPass marks a passing test case.
	ResultPass Result = "PASS"
	// ResultFail marks a failing or erroring test case.
	ResultFail Result = "FAIL"
	// ResultSkip marks a skipped test case.
	ResultSkip Result = "SKIP"

	// SummaryFileName is the default name of the summary file.
	SummaryFileName = "Summary.log"
)

// Summary appends one line per result to a summary file. It is safe for
// concurrent use.
type Summary struct {
	path string
	mu   sync.Mutex
}

// NewSummary returns a Summary appending to path.
func NewSummary(path string) *Summary {
	return &Summary{path: path}
}

// Path returns the file the summary is written to.
func (s *Summary) Path() string {
	return s.path
}

func (s *Summary) appendLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strings.TrimRight(line, "\n") + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LogResult records the verdict for test case name.
func (s *Summary) LogResult(name string, r Result) error {
	return s.appendLine(fmt.Sprintf("%s: %s", name, r))
}

// LogSummary records a free-form informational line.
func (s *Summary) LogSummary(format string, args ...any) error {
	return s.appendLine(fmt.Sprintf(format, args...))
}

// LogSuite records the verdict of every test case in suite.
func (s *Summary) LogSuite(suite junit.Testsuite) error {
	for _, tc := range suite.Testcases {
		if err := s.LogResult(tc.Name, TestcaseResult(tc)); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the lines written so far.
func (s *Summary) Read() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// TestcaseResult maps a junit test case to its summary verdict.
func TestcaseResult(tc junit.Testcase) Result {
	switch {
	case tc.Failure != nil, tc.Error != nil:
		return ResultFail
	case tc.Skipped != nil:
		return ResultSkip
	}
	return ResultPass
}
