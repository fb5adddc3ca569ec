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

// Package guesttest holds the pieces shared by the in-guest runner and the
// host launcher: the state file, the summary and runtime logs, the constants
// file and the junit conversion of test binary output.
package guesttest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jstemmer/go-junit-report/v2/junit"
)

// State is a token written to the state file for the orchestrator.
type State string

const (
	// StateRunning is written before a suite starts.
	StateRunning State = "TestRunning"
	// StateCompleted means the suite ran and every test passed.
	StateCompleted State = "TestCompleted"
	// StateAborted means the suite could not run to completion.
	StateAborted State = "TestAborted"
	// StateFailed means at least one test failed.
	StateFailed State = "TestFailed"
	// StateSkipped means the suite does not apply to this guest.
	StateSkipped State = "TestSkipped"

	// StateFileName is the default name of the state file in a work dir.
	StateFileName = "state.txt"
)

// ErrUnknownState is returned when a state file holds an unexpected token.
var ErrUnknownState = errors.New("unknown state token")

var allStates = []State{StateRunning, StateCompleted, StateAborted, StateFailed, StateSkipped}

// Terminal reports whether no further state transitions are expected.
func (s State) Terminal() bool {
	return s != StateRunning
}

func (s State) String() string {
	return string(s)
}

// ParseState converts a token read from a state file into a State.
func ParseState(token string) (State, error) {
	token = strings.TrimSpace(token)
	for _, s := range allStates {
		if token == string(s) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, token)
}

// WriteState replaces the content of the state file at path with s. The
// write goes through a temporary file so readers never observe a partial
// token.
func WriteState(path string, s State) error {
	if _, err := ParseState(string(s)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("could not create temporary state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(string(s) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write state %s: %w", s, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadState returns the token currently stored in the state file at path.
func ReadState(path string) (State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return ParseState(string(b))
}

// DeriveState maps the outcome of a suite run to its final state token.
func DeriveState(suite junit.Testsuite, runErr error) State {
	switch {
	case runErr != nil && len(suite.Testcases) == 0:
		return StateAborted
	case errors.Is(runErr, ErrRunTimeout):
		return StateAborted
	case suite.Failures > 0 || suite.Errors > 0:
		return StateFailed
	case runErr != nil:
		// A non-zero exit with no failing case means the binary died
		// outside of a test.
		return StateAborted
	case suite.Tests == 0 || suite.Skipped == suite.Tests:
		return StateSkipped
	}
	return StateCompleted
}
