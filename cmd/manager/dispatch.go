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
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/utils"
	"github.com/jstemmer/go-junit-report/v2/junit"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const wrapperName = "wrapper"

// suiteRun is a selected suite with its effective constants.
type suiteRun struct {
	name      string
	constants *guesttest.Constants
}

// dispatcher runs suites on guests over ssh.
type dispatcher struct {
	plan   plan
	key    []byte
	suites []suiteRun
	logger *zap.Logger
}

// layout is where a suite lives on the guest.
type layout struct {
	root string
	name string
}

func (l layout) binary() string    { return path.Join(l.root, l.name+".test") }
func (l layout) constants() string { return path.Join(l.root, l.name+"."+guesttest.ConstantsFileName) }
func (l layout) workDir() string   { return path.Join(l.root, l.name) }
func (l layout) state() string     { return path.Join(l.workDir(), guesttest.StateFileName) }
func (l layout) junit() string     { return path.Join(l.workDir(), guesttest.JUnitFileName) }
func (l layout) log() string       { return l.workDir() + ".log" }

// wrapperCommand returns the shell command starting the wrapper for l in
// the background. Its output goes to l.log().
func wrapperCommand(l layout, timeout time.Duration, sudo bool) string {
	prefix := ""
	if sudo {
		prefix = "sudo -n "
	}
	wrapper := utils.ShellCommand(path.Join(l.root, wrapperName),
		"-suite", l.name,
		"-test_dir", l.root,
		"-work_dir", l.workDir(),
		"-constants", l.constants(),
		"-timeout", timeout.String())
	return fmt.Sprintf("%s%s && nohup %s%s > %s 2>&1 < /dev/null &",
		prefix, utils.ShellCommand("rm", "-rf", l.workDir()), prefix, wrapper, l.log())
}

// prepareCommand returns the shell command creating root, owned by the ssh
// user so suites can be uploaded to it.
func prepareCommand(root string, sudo bool) string {
	if !sudo {
		return utils.ShellCommand("mkdir", "-p", root)
	}
	return fmt.Sprintf("sudo -n %s && sudo -n chown \"$(id -u)\" %s", utils.ShellCommand("mkdir", "-p", root), root)
}

// aliveCheckEvery is how many polls pass between checks that the wrapper
// still runs.
const aliveCheckEvery = 3

// pollState reads the state through read every interval until it is
// terminal. A state file that cannot be read yet counts as not started.
// Every aliveCheckEvery polls, alive reports whether the wrapper still runs;
// a wrapper gone without a terminal state fails the wait early.
func pollState(ctx context.Context, read func(context.Context) (string, error), alive func(context.Context) error, interval time.Duration) (guesttest.State, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for polls := 1; ; polls++ {
		s, ok, err := readState(ctx, read)
		if err != nil {
			return "", err
		}
		if ok && s.Terminal() {
			return s, nil
		}
		if alive != nil && polls%aliveCheckEvery == 0 && ctx.Err() == nil {
			if aerr := alive(ctx); aerr != nil {
				// The wrapper writes its final state right before exiting.
				if s, ok, err := readState(ctx, read); err == nil && ok && s.Terminal() {
					return s, nil
				}
				return guesttest.StateRunning, fmt.Errorf("wrapper stopped without a final state: %w", aerr)
			}
		}
		select {
		case <-ctx.Done():
			return guesttest.StateRunning, fmt.Errorf("waiting for a terminal state: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// readState reads and parses the state file. ok is false while it cannot be
// read.
func readState(ctx context.Context, read func(context.Context) (string, error)) (s guesttest.State, ok bool, err error) {
	content, rerr := read(ctx)
	if rerr != nil {
		return "", false, nil
	}
	s, err = guesttest.ParseState(content)
	return s, err == nil, err
}

// aliveCommand exits 0 while the wrapper of l runs. The bracket keeps pgrep
// from matching the shell running it.
func aliveCommand(l layout) string {
	return "pgrep -f " + utils.ShellCommand("[-]work_dir "+l.workDir())
}

// wrapperAlive returns the liveness check of the wrapper of l. When the
// wrapper is gone the error carries the tail of its log.
func wrapperAlive(remote *utils.Remote, l layout) func(context.Context) error {
	return func(ctx context.Context) error {
		status, err := remote.Run(ctx, aliveCommand(l))
		if err == nil {
			return nil
		}
		if status.Exitcode != 1 {
			// pgrep itself failed, or the connection did.
			return nil
		}
		log, err := remote.ReadFile(ctx, l.log())
		if err != nil {
			return fmt.Errorf("wrapper is not running and %s is unreadable: %v", l.log(), err)
		}
		return fmt.Errorf("wrapper is not running, %s:\n%s", l.log(), logTail(log, 20))
	}
}

// logTail returns the last n lines of log.
func logTail(log string, n int) string {
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// failedSuite is the junit suite recorded when name could not run on host.
func failedSuite(host, name string, err error) junit.Testsuite {
	ts := junit.Testsuite{Name: suiteName(host, name)}
	ts.AddTestcase(junit.Testcase{
		Name:      "Dispatch",
		Classname: ts.Name,
		Error:     &junit.Result{Message: "suite did not complete", Data: err.Error()},
	})
	return ts
}

func suiteName(host, name string) string {
	return host + "/" + name
}

// runHost uploads the wrapper and suites to host and runs the suites one
// after the other. It returns one junit suite per suite, including the ones
// that could not run.
func (d *dispatcher) runHost(ctx context.Context, host string) []junit.Testsuite {
	logger := d.logger.With(zap.String("host", host))
	var results []junit.Testsuite
	fail := func(err error) []junit.Testsuite {
		for _, s := range d.suites[len(results):] {
			results = append(results, failedSuite(host, s.name, err))
		}
		return results
	}

	remote, err := utils.DialRemote(ctx, d.plan.SSHUser, host, d.key)
	if err != nil {
		logger.Error("could not connect", zap.Error(err))
		return fail(err)
	}
	defer remote.Close()

	root := d.plan.RemotePath
	if _, err := remote.Run(ctx, prepareCommand(root, d.plan.Sudo)); err != nil {
		return fail(fmt.Errorf("could not create %s: %w", root, err))
	}
	if err := remote.Upload(ctx, filepath.Join(d.plan.LocalPath, wrapperName), path.Join(root, wrapperName), 0755); err != nil {
		return fail(fmt.Errorf("could not upload the wrapper: %w", err))
	}

	for _, s := range d.suites {
		ts, err := d.runSuite(ctx, logger, remote, host, layout{root: root, name: s.name}, s.constants)
		if err != nil {
			logger.Error("suite did not complete", zap.String("suite", s.name), zap.Error(err))
			ts = failedSuite(host, s.name, err)
		}
		results = append(results, ts)
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
	}
	return results
}

func (d *dispatcher) runSuite(ctx context.Context, logger *zap.Logger, remote *utils.Remote, host string, l layout, c *guesttest.Constants) (junit.Testsuite, error) {
	if err := remote.Upload(ctx, filepath.Join(d.plan.LocalPath, l.name+".test"), l.binary(), 0755); err != nil {
		return junit.Testsuite{}, fmt.Errorf("could not upload suite: %w", err)
	}
	env, err := godotenv.Marshal(c.Map())
	if err != nil {
		return junit.Testsuite{}, err
	}
	env += "\n"
	if err := remote.UploadReader(ctx, strings.NewReader(env), l.constants(), 0644); err != nil {
		return junit.Testsuite{}, fmt.Errorf("could not upload constants: %w", err)
	}

	logger.Info("starting suite", zap.String("suite", l.name))
	if _, err := remote.Run(ctx, wrapperCommand(l, d.plan.Timeout, d.plan.Sudo)); err != nil {
		return junit.Testsuite{}, fmt.Errorf("could not start the wrapper: %w", err)
	}

	// The wrapper needs time after the suite timeout to collect and upload.
	pctx, cancel := context.WithTimeout(ctx, d.plan.Timeout+10*time.Minute)
	defer cancel()
	state, err := pollState(pctx, func(ctx context.Context) (string, error) {
		return remote.ReadFile(ctx, l.state())
	}, wrapperAlive(remote, l), d.plan.PollInterval)
	if err != nil {
		return junit.Testsuite{}, err
	}
	logger.Info("suite finished", zap.String("suite", l.name), zap.Stringer("state", state))

	report, err := remote.ReadFile(ctx, l.junit())
	if err != nil {
		return junit.Testsuite{}, fmt.Errorf("could not fetch junit report: %w", err)
	}
	suites, err := guesttest.ReadJUnit([]byte(report))
	if err != nil {
		return junit.Testsuite{}, err
	}
	if len(suites.Suites) == 0 {
		return junit.Testsuite{}, errors.New("junit report has no suite")
	}
	ts := suites.Suites[0]
	ts.Name = suiteName(host, l.name)
	return ts, nil
}

// readKey reads the private key used for every host.
func readKey(p string) ([]byte, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		p = filepath.Join(home, p[2:])
	}
	return os.ReadFile(p)
}
