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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jstemmer/go-junit-report/v2/junit"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input   string
		want    State
		wantErr bool
	}{
		{input: "TestRunning", want: StateRunning},
		{input: "TestCompleted\n", want: StateCompleted},
		{input: "  TestAborted  ", want: StateAborted},
		{input: "TestFailed", want: StateFailed},
		{input: "TestSkipped", want: StateSkipped},
		{input: "TestPassed", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%q", tc.input), func(t *testing.T) {
			got, err := ParseState(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseState(%q) = %v, want error %v", tc.input, err, tc.wantErr)
			}
			if tc.wantErr && !errors.Is(err, ErrUnknownState) {
				t.Errorf("ParseState(%q) error = %v, want ErrUnknownState", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("ParseState(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestWriteStateLastWriteWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	for _, s := range []State{StateRunning, StateFailed, StateCompleted} {
		if err := WriteState(path, s); err != nil {
			t.Fatalf("WriteState(%q, %s) = %v, want nil", path, s, err)
		}
	}
	got, err := ReadState(path)
	if err != nil {
		t.Fatalf("ReadState(%q) = %v, want nil", path, err)
	}
	if got != StateCompleted {
		t.Errorf("ReadState(%q) = %s, want %s", path, got, StateCompleted)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("work dir holds %d entries after writes, want 1", len(entries))
	}
}

func TestWriteStateRejectsUnknownToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	if err := WriteState(path, State("TestMaybe")); err == nil {
		t.Errorf("WriteState(%q, TestMaybe) = nil, want error", path)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("state file exists after rejected write: %v", err)
	}
}

func TestTerminal(t *testing.T) {
	if StateRunning.Terminal() {
		t.Errorf("StateRunning.Terminal() = true, want false")
	}
	for _, s := range []State{StateCompleted, StateAborted, StateFailed, StateSkipped} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
}

func TestDeriveState(t *testing.T) {
	pass := junit.Testcase{Name: "TestA"}
	fail := junit.Testcase{Name: "TestB", Failure: &junit.Result{}}
	skip := junit.Testcase{Name: "TestC", Skipped: &junit.Result{}}
	suite := func(tcs ...junit.Testcase) junit.Testsuite {
		var ts junit.Testsuite
		for _, tc := range tcs {
			ts.AddTestcase(tc)
		}
		return ts
	}
	exitErr := errors.New("exit status 1")

	tests := []struct {
		name   string
		suite  junit.Testsuite
		runErr error
		want   State
	}{
		{name: "all_pass", suite: suite(pass, pass), want: StateCompleted},
		{name: "pass_and_skip", suite: suite(pass, skip), want: StateCompleted},
		{name: "one_failure", suite: suite(pass, fail), runErr: exitErr, want: StateFailed},
		{name: "all_skipped", suite: suite(skip, skip), want: StateSkipped},
		{name: "nothing_ran", suite: suite(), want: StateSkipped},
		{name: "binary_did_not_start", suite: suite(), runErr: exitErr, want: StateAborted},
		{name: "timeout", suite: suite(pass), runErr: fmt.Errorf("%w: deadline", ErrRunTimeout), want: StateAborted},
		{name: "crash_after_pass", suite: suite(pass), runErr: exitErr, want: StateAborted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveState(tc.suite, tc.runErr); got != tc.want {
				t.Errorf("DeriveState(%d tests, %v) = %s, want %s", tc.suite.Tests, tc.runErr, got, tc.want)
			}
		})
	}
}
