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

// Wrapper is the binary executed inside the guest. It runs one compiled
// suite, records its state and results in a work dir and uploads them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/LIS/lis-guest-tests"
	"go.uber.org/zap"
)

var (
	suite           = flag.String("suite", "", "name of the suite to run, the binary is <test_dir>/<suite>.test")
	testDir         = flag.String("test_dir", ".", "directory holding the compiled suite binaries")
	workDir         = flag.String("work_dir", "", "directory receiving the state, logs and results, defaults to <test_dir>/<suite>")
	constants       = flag.String("constants", "", "constants file of the run, defaults to <test_dir>/"+guesttest.ConstantsFileName)
	runFilter       = flag.String("run", "", "regular expression selecting the tests to run")
	skipFilter      = flag.String("skip", "", "regular expression selecting the tests to skip")
	timeout         = flag.Duration("timeout", 2*time.Hour, "timeout of the suite binary")
	diagnosticsMode = flag.String("diagnostics", "on", "collect diagnostics when the suite fails or aborts (on|off)")
	artifactsURL    = flag.String("artifacts_url", "", "gs://bucket/prefix receiving the work dir when set")
	debug           = flag.Bool("debug", false, "log at debug level")
	overrides       = guesttest.KeyValueFlag{}
)

func init() {
	flag.Var(overrides, "set", "KEY=value overriding a constant, may be repeated")
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("%q is neither on nor off", s)
}

func main() {
	flag.Parse()
	if *suite == "" {
		fmt.Fprintln(os.Stderr, "-suite is required")
		os.Exit(2)
	}
	collect, err := parseOnOff(*diagnosticsMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-diagnostics: %v\n", err)
		os.Exit(2)
	}
	o := options{
		suite:        *suite,
		testDir:      *testDir,
		workDir:      *workDir,
		constants:    *constants,
		run:          *runFilter,
		skip:         *skipFilter,
		timeout:      *timeout,
		overrides:    overrides,
		diagnostics:  collect,
		artifactsURL: *artifactsURL,
	}
	if o.workDir == "" {
		o.workDir = filepath.Join(o.testDir, o.suite)
	}
	if o.constants == "" {
		o.constants = filepath.Join(o.testDir, guesttest.ConstantsFileName)
	}
	if err := os.MkdirAll(o.workDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "could not create work dir: %v\n", err)
		os.Exit(1)
	}

	logger, err := guesttest.NewLogger(filepath.Join(o.workDir, guesttest.RuntimeLogFileName), *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := run(ctx, logger, o)
	if err != nil {
		logger.Error("suite run failed", zap.String("suite", o.suite), zap.Error(err))
	}
	logger.Info("suite finished", zap.String("suite", o.suite), zap.Stringer("state", state))
	if err != nil {
		logger.Sync()
		os.Exit(1)
	}
}
