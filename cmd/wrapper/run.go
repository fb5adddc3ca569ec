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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/diagnostics"
	"github.com/jstemmer/go-junit-report/v2/junit"
	"go.uber.org/zap"
)

// finishTimeout bounds diagnostics collection and artifact upload once the
// suite is done.
const finishTimeout = 15 * time.Minute

// options is the parsed command line of the wrapper.
type options struct {
	suite        string
	testDir      string
	workDir      string
	constants    string
	run          string
	skip         string
	timeout      time.Duration
	overrides    map[string]string
	diagnostics  bool
	artifactsURL string
}

// binaryPath returns the compiled suite of o.
func (o options) binaryPath() string {
	return filepath.Join(o.testDir, o.suite+".test")
}

// run executes the suite of o and returns its final state. The state file
// always ends up holding a terminal state, TestAborted when run fails
// before the suite results are known.
func run(ctx context.Context, logger *zap.Logger, o options) (state guesttest.State, err error) {
	statePath := filepath.Join(o.workDir, guesttest.StateFileName)
	if err := guesttest.WriteState(statePath, guesttest.StateRunning); err != nil {
		return guesttest.StateAborted, err
	}
	logger.Info("suite started", zap.String("suite", o.suite), zap.String("work_dir", o.workDir))

	defer func() {
		if !state.Terminal() || state == "" {
			state = guesttest.StateAborted
		}
		if werr := guesttest.WriteState(statePath, state); werr != nil {
			err = errors.Join(err, werr)
		}
		// The run context may already be cancelled by a signal.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()
		if o.diagnostics && (state == guesttest.StateFailed || state == guesttest.StateAborted) {
			collectDiagnostics(fctx, logger, o.workDir)
		}
		if o.artifactsURL != "" {
			logger.Sync()
			if uerr := uploadArtifacts(fctx, logger, o.artifactsURL, o.suite, o.workDir); uerr != nil {
				err = errors.Join(err, uerr)
			}
		}
	}()

	constPath, err := writeConstants(logger, o)
	if err != nil {
		return guesttest.StateAborted, err
	}

	rawLog, err := os.Create(filepath.Join(o.workDir, o.suite+".log"))
	if err != nil {
		return guesttest.StateAborted, err
	}
	defer rawLog.Close()

	logger.Debug("running suite binary", zap.String("path", o.binaryPath()))
	out, runErr := guesttest.RunTestBinary(ctx, o.binaryPath(), guesttest.RunOptions{
		Run:           o.run,
		Skip:          o.skip,
		Timeout:       o.timeout,
		ConstantsFile: constPath,
		Dir:           o.workDir,
		Output:        rawLog,
	})
	if runErr != nil {
		logger.Warn("suite binary exited with an error", zap.Error(runErr))
	}

	suite := guesttest.ConvertToTestSuite([]string{out}, o.suite)
	if err := writeResults(logger, o.workDir, suite); err != nil {
		return guesttest.StateAborted, err
	}
	return guesttest.DeriveState(suite, runErr), nil
}

// writeConstants writes the constants of o, overrides applied, to the work
// dir and returns its path.
func writeConstants(logger *zap.Logger, o options) (string, error) {
	c, err := guesttest.LoadConstants(o.constants)
	if err != nil {
		return "", fmt.Errorf("could not load constants: %w", err)
	}
	c.Merge(o.overrides)
	logger.Debug("suite constants", zap.Strings("keys", c.Keys()))
	path := filepath.Join(o.workDir, guesttest.ConstantsFileName)
	if err := c.Write(path); err != nil {
		return "", fmt.Errorf("could not write constants: %w", err)
	}
	return path, nil
}

func writeResults(logger *zap.Logger, workDir string, suite junit.Testsuite) error {
	var suites junit.Testsuites
	suites.AddSuite(suite)
	if err := guesttest.WriteJUnit(filepath.Join(workDir, guesttest.JUnitFileName), suites); err != nil {
		return err
	}
	summary := guesttest.NewSummary(filepath.Join(workDir, guesttest.SummaryFileName))
	if err := summary.LogSuite(suite); err != nil {
		return fmt.Errorf("could not write summary: %w", err)
	}
	tbl := guesttest.RenderResults(suites)
	if err := summary.LogSummary("%s", tbl); err != nil {
		return fmt.Errorf("could not write summary: %w", err)
	}
	fmt.Println(tbl)
	logger.Info("results written",
		zap.Int("tests", suite.Tests),
		zap.Int("failures", suite.Failures),
		zap.Int("errors", suite.Errors),
		zap.Int("skipped", suite.Skipped))
	return nil
}

// collectDiagnostics is a variable so tests can observe the collection.
var collectDiagnostics = func(ctx context.Context, logger *zap.Logger, workDir string) {
	dest := filepath.Join(workDir, diagnostics.ArchiveName)
	if err := diagnostics.DefaultCollector(logger).Collect(ctx, dest); err != nil {
		logger.Error("could not collect diagnostics", zap.Error(err))
		return
	}
	entries, err := diagnostics.ReadArchive(dest)
	if err != nil {
		logger.Warn("diagnostics archive is unusable", zap.String("path", dest), zap.Error(err))
		return
	}
	logger.Info("diagnostics collected", zap.String("path", dest), zap.Int("entries", len(entries)))
}
