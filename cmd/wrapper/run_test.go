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

package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/LIS/lis-guest-tests"
	"go.uber.org/zap"
)

const (
	passingOutput = `=== RUN   TestHyperVModules
--- PASS: TestHyperVModules (0.01s)
=== RUN   TestLISVersion
    lismodules_linux_test.go:98: no LIS packages installed, the guest uses the kernel drivers
--- SKIP: TestLISVersion (0.00s)
PASS`
	failingOutput = `=== RUN   TestStaticIP
    network_linux_test.go:104: eth1 cannot reach 10.0.1.11
--- FAIL: TestStaticIP (4.00s)
=== RUN   TestMTU
--- PASS: TestMTU (0.10s)
FAIL`
)

// fakeSuite writes a suite binary to dir that prints output and exits with
// code.
func fakeSuite(t *testing.T, dir, name, output string, code int) {
	t.Helper()
	script := "#!/bin/sh\ncat <<'EOF'\n" + output + "\nEOF\nexit " + string(rune('0'+code)) + "\n"
	if err := os.WriteFile(filepath.Join(dir, name+".test"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
}

func testOptions(t *testing.T, suite string) options {
	t.Helper()
	testDir := t.TempDir()
	constPath := filepath.Join(testDir, guesttest.ConstantsFileName)
	if err := os.WriteFile(constPath, []byte("PEER_IP=10.0.0.5\nNIC=eth0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	workDir := filepath.Join(testDir, suite)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		t.Fatal(err)
	}
	return options{
		suite:     suite,
		testDir:   testDir,
		workDir:   workDir,
		constants: constPath,
		timeout:   time.Minute,
		overrides: map[string]string{"NIC": "eth1"},
	}
}

func readState(t *testing.T, workDir string) guesttest.State {
	t.Helper()
	s, err := guesttest.ReadState(filepath.Join(workDir, guesttest.StateFileName))
	if err != nil {
		t.Fatalf("guesttest.ReadState() = %v, want nil", err)
	}
	return s
}

func TestRun(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("fake suites are shell scripts")
	}
	tests := []struct {
		name   string
		output string
		code   int
		want   guesttest.State
		// wantSummary is a line expected in Summary.log.
		wantSummary string
	}{
		{name: "passing", output: passingOutput, want: guesttest.StateCompleted, wantSummary: "TestLISVersion: SKIP"},
		{name: "failing", output: failingOutput, code: 1, want: guesttest.StateFailed, wantSummary: "TestStaticIP: FAIL"},
		{name: "no_output", output: "", code: 2, want: guesttest.StateAborted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := testOptions(t, "lismodules")
			fakeSuite(t, o.testDir, o.suite, tc.output, tc.code)

			got, err := run(context.Background(), zap.NewNop(), o)
			if err != nil {
				t.Fatalf("run() = %v, want nil", err)
			}
			if got != tc.want {
				t.Errorf("run() state = %s, want %s", got, tc.want)
			}
			if s := readState(t, o.workDir); s != tc.want {
				t.Errorf("state file = %s, want %s", s, tc.want)
			}
			for _, f := range []string{guesttest.JUnitFileName, guesttest.SummaryFileName, "lismodules.log"} {
				if _, err := os.Stat(filepath.Join(o.workDir, f)); err != nil {
					t.Errorf("%s was not written: %v", f, err)
				}
			}
			c, err := guesttest.LoadConstants(filepath.Join(o.workDir, guesttest.ConstantsFileName))
			if err != nil {
				t.Fatalf("effective constants: %v", err)
			}
			if nic := c.String("NIC", ""); nic != "eth1" {
				t.Errorf("effective NIC = %q, want the override eth1", nic)
			}
			if tc.wantSummary == "" {
				return
			}
			summary, err := os.ReadFile(filepath.Join(o.workDir, guesttest.SummaryFileName))
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(summary), tc.wantSummary) {
				t.Errorf("Summary.log does not contain %q:\n%s", tc.wantSummary, summary)
			}
		})
	}
}

func TestRunMissingBinary(t *testing.T) {
	o := testOptions(t, "network")
	got, err := run(context.Background(), zap.NewNop(), o)
	if err != nil {
		t.Fatalf("run() = %v, want nil", err)
	}
	if got != guesttest.StateAborted {
		t.Errorf("run() state = %s, want %s", got, guesttest.StateAborted)
	}
	if s := readState(t, o.workDir); s != guesttest.StateAborted {
		t.Errorf("state file = %s, want %s", s, guesttest.StateAborted)
	}
}

func TestRunCancelledCollectsDiagnostics(t *testing.T) {
	o := testOptions(t, "network")
	o.diagnostics = true
	var collected bool
	var collectErr error
	orig := collectDiagnostics
	collectDiagnostics = func(ctx context.Context, _ *zap.Logger, _ string) {
		collected = true
		collectErr = ctx.Err()
	}
	t.Cleanup(func() { collectDiagnostics = orig })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, _ := run(ctx, zap.NewNop(), o)
	if got != guesttest.StateAborted {
		t.Errorf("run(cancelled) state = %s, want %s", got, guesttest.StateAborted)
	}
	if !collected {
		t.Fatalf("run(cancelled) did not collect diagnostics")
	}
	if collectErr != nil {
		t.Errorf("diagnostics context err = %v, want a live context", collectErr)
	}
}

func TestRunMissingConstants(t *testing.T) {
	o := testOptions(t, "network")
	o.constants = filepath.Join(o.testDir, "missing.sh")
	if _, err := run(context.Background(), zap.NewNop(), o); err == nil {
		t.Errorf("run(missing constants) = nil, want error")
	}
	if s := readState(t, o.workDir); s != guesttest.StateAborted {
		t.Errorf("state file = %s, want %s", s, guesttest.StateAborted)
	}
}

func TestParseOnOff(t *testing.T) {
	for in, want := range map[string]bool{"on": true, "off": false} {
		if got, err := parseOnOff(in); err != nil || got != want {
			t.Errorf("parseOnOff(%q) = %v, %v, want %v, nil", in, got, err, want)
		}
	}
	if _, err := parseOnOff("yes"); err == nil {
		t.Errorf("parseOnOff(yes) err = nil, want error")
	}
}
