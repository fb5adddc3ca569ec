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

// Manager dispatches the guest test suites to running VMs over ssh, waits
// for their results and writes an aggregated junit report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/test_suites/cvm"
	"github.com/LIS/lis-guest-tests/test_suites/disk"
	"github.com/LIS/lis-guest-tests/test_suites/linuxconfig"
	"github.com/LIS/lis-guest-tests/test_suites/lismodules"
	"github.com/LIS/lis-guest-tests/test_suites/network"
	"github.com/LIS/lis-guest-tests/test_suites/networkperf"
	"github.com/LIS/lis-guest-tests/test_suites/packages"
	"github.com/LIS/lis-guest-tests/test_suites/rdma"
	"github.com/LIS/lis-guest-tests/test_suites/storageperf"
	"github.com/jstemmer/go-junit-report/v2/junit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath    = flag.String("config", "", "YAML run plan, flags override its values")
	hosts         = flag.String("hosts", "", "comma separated list of guests to test")
	sshUser       = flag.String("ssh_user", "", "user to connect to the guests as")
	sshKey        = flag.String("ssh_key", "", "private key to connect to the guests with")
	suiteNames    = flag.String("suites", "", "comma separated list of suites to run, defaults to all")
	filter        = flag.String("filter", "", "only run test suites matching filter")
	exclude       = flag.String("exclude", "", "skip test suites matching filter")
	localPath     = flag.String("local_path", "", "directory holding the wrapper and the compiled suites")
	remotePath    = flag.String("remote_path", "", "directory on the guests receiving the wrapper and suites")
	parallelCount = flag.Int("parallel_count", 0, "number of guests tested at the same time")
	timeout       = flag.Duration("timeout", 0, "timeout of each suite")
	pollInterval  = flag.Duration("poll_interval", 0, "interval between two reads of a suite state")
	outPath       = flag.String("out_path", "junit.xml", "junit xml path")
	setExitStatus = flag.Bool("set_exit_status", true, "Exit with non-zero exit code if test suites are failing")
	debug         = flag.Bool("debug", false, "log at debug level")
	overrides     = guesttest.KeyValueFlag{}
)

func init() {
	flag.Var(overrides, "set", "KEY=value overriding a constant of every suite, may be repeated")
}

var testPackages = []testPackage{
	{cvm.Name, cvm.Setup},
	{disk.Name, disk.Setup},
	{linuxconfig.Name, linuxconfig.Setup},
	{lismodules.Name, lismodules.Setup},
	{network.Name, network.Setup},
	{networkperf.Name, networkperf.Setup},
	{packages.Name, packages.Setup},
	{rdma.Name, rdma.Setup},
	{storageperf.Name, storageperf.Setup},
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// applyFlags overrides the values of p with the flags given on the command
// line.
func applyFlags(p plan) plan {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hosts":
			p.Hosts = splitList(*hosts)
		case "ssh_user":
			p.SSHUser = *sshUser
		case "ssh_key":
			p.SSHKey = *sshKey
		case "suites":
			p.Suites = splitList(*suiteNames)
		case "filter":
			p.Filter = *filter
		case "exclude":
			p.Exclude = *exclude
		case "local_path":
			p.LocalPath = *localPath
		case "remote_path":
			p.RemotePath = *remotePath
		case "parallel_count":
			p.ParallelCount = *parallelCount
		case "timeout":
			p.Timeout = *timeout
		case "poll_interval":
			p.PollInterval = *pollInterval
		}
	})
	return p
}

func main() {
	flag.Parse()
	logger, err := guesttest.NewLogger("", *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	p := defaultPlan()
	if *configPath != "" {
		if p, err = loadPlan(*configPath); err != nil {
			logger.Fatal("could not load run plan", zap.String("path", *configPath), zap.Error(err))
		}
	}
	p = applyFlags(p)
	if err := p.validate(); err != nil {
		logger.Fatal("invalid run plan", zap.Error(err))
	}

	selected, err := selectSuites(testPackages, p.Suites, p.Filter, p.Exclude)
	if err != nil {
		logger.Fatal("could not select suites", zap.Error(err))
	}
	if len(selected) == 0 {
		logger.Fatal("no suites to run")
	}
	var runs []suiteRun
	for _, tp := range selected {
		c := p.constants(tp.name, overrides)
		if err := tp.setup(c); err != nil {
			logger.Fatal("suite setup failed", zap.String("suite", tp.name), zap.Error(err))
		}
		runs = append(runs, suiteRun{name: tp.name, constants: c})
		logger.Info("suite selected", zap.String("suite", tp.name))
	}

	key, err := readKey(p.SSHKey)
	if err != nil {
		logger.Fatal("could not read ssh key", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := &dispatcher{plan: p, key: key, suites: runs, logger: logger}
	start := time.Now()
	suites := d.run(ctx)
	logger.Info("all hosts done", zap.Duration("elapsed", time.Since(start)))

	if err := guesttest.WriteJUnit(*outPath, suites); err != nil {
		logger.Fatal("failed to write junit report", zap.Error(err))
	}
	fmt.Println(guesttest.RenderResults(suites))

	if *setExitStatus && (suites.Errors != 0 || suites.Failures != 0) {
		logger.Sync()
		stop()
		os.Exit(1)
	}
}

// run tests every host of the plan, at most ParallelCount at a time, and
// aggregates their suites in host order.
func (d *dispatcher) run(ctx context.Context) junit.Testsuites {
	perHost := make([][]junit.Testsuite, len(d.plan.Hosts))
	var g errgroup.Group
	g.SetLimit(d.plan.ParallelCount)
	for i, host := range d.plan.Hosts {
		g.Go(func() error {
			perHost[i] = d.runHost(ctx, host)
			return nil
		})
	}
	g.Wait()

	var suites junit.Testsuites
	for _, results := range perHost {
		for _, ts := range results {
			suites.AddSuite(ts)
		}
	}
	return suites
}
