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
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/LIS/lis-guest-tests"
	"gopkg.in/yaml.v3"
)

// plan is a test run: which suites run on which guests and with which
// constants. It is read from YAML and completed from the command line.
type plan struct {
	Hosts   []string `yaml:"hosts"`
	SSHUser string   `yaml:"ssh_user"`
	SSHKey  string   `yaml:"ssh_key"`

	Suites  []string `yaml:"suites"`
	Filter  string   `yaml:"filter"`
	Exclude string   `yaml:"exclude"`

	LocalPath     string        `yaml:"local_path"`
	RemotePath    string        `yaml:"remote_path"`
	ParallelCount int           `yaml:"parallel_count"`
	Timeout       time.Duration `yaml:"timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Sudo          bool          `yaml:"sudo"`

	// Constants apply to every suite, SuiteConstants to one suite on top.
	Constants      map[string]string            `yaml:"constants"`
	SuiteConstants map[string]map[string]string `yaml:"suite_constants"`
}

func defaultPlan() plan {
	return plan{
		LocalPath:     ".",
		RemotePath:    "/var/lib/lis-guest-tests",
		ParallelCount: 5,
		Timeout:       2 * time.Hour,
		PollInterval:  30 * time.Second,
		Sudo:          true,
	}
}

// parsePlan decodes a YAML plan on top of the defaults.
func parsePlan(data []byte) (plan, error) {
	p := defaultPlan()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return plan{}, fmt.Errorf("could not parse plan: %w", err)
	}
	return p, nil
}

func loadPlan(path string) (plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return plan{}, err
	}
	return parsePlan(data)
}

func (p plan) validate() error {
	switch {
	case len(p.Hosts) == 0:
		return fmt.Errorf("no hosts to run on")
	case p.SSHUser == "" || p.SSHKey == "":
		return fmt.Errorf("an ssh user and key are required")
	case p.ParallelCount < 1:
		return fmt.Errorf("parallel count %d, want at least 1", p.ParallelCount)
	case p.Timeout <= 0:
		return fmt.Errorf("timeout %v, want more than zero", p.Timeout)
	case p.PollInterval <= 0:
		return fmt.Errorf("poll interval %v, want more than zero", p.PollInterval)
	}
	return nil
}

// constants returns the constants of suite, overrides applied last.
func (p plan) constants(suite string, overrides map[string]string) *guesttest.Constants {
	c := guesttest.NewConstants(p.Constants)
	c.Merge(p.SuiteConstants[suite])
	c.Merge(overrides)
	return c
}

// testPackage is a suite the manager knows how to dispatch.
type testPackage struct {
	name  string
	setup func(*guesttest.Constants) error
}

// selectSuites returns the packages named in names, or all of them when
// names is empty, matching filter and not matching exclude.
func selectSuites(packages []testPackage, names []string, filter, exclude string) ([]testPackage, error) {
	var filterRegex, excludeRegex *regexp.Regexp
	var err error
	if filter != "" {
		if filterRegex, err = regexp.Compile(filter); err != nil {
			return nil, fmt.Errorf("filter not valid: %w", err)
		}
	}
	if exclude != "" {
		if excludeRegex, err = regexp.Compile(exclude); err != nil {
			return nil, fmt.Errorf("exclude not valid: %w", err)
		}
	}
	for _, n := range names {
		if !slices.ContainsFunc(packages, func(tp testPackage) bool { return tp.name == n }) {
			return nil, fmt.Errorf("unknown suite %q", n)
		}
	}
	var selected []testPackage
	for _, tp := range packages {
		if len(names) > 0 && !slices.Contains(names, tp.name) {
			continue
		}
		if filterRegex != nil && !filterRegex.MatchString(tp.name) {
			continue
		}
		if excludeRegex != nil && excludeRegex.MatchString(tp.name) {
			continue
		}
		selected = append(selected, tp)
	}
	return selected, nil
}
