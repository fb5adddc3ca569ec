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

// Package lismodules is a suite checking the Hyper-V guest drivers and
// daemons: modules, initrd contents, VMBus devices and time sync.
package lismodules

import (
	"fmt"
	"strings"

	"github.com/LIS/lis-guest-tests"
)

// Name is the name of the test package. It must match the directory name.
var Name = "lismodules"

// RequiredConstants is empty, every constant of the suite has a default.
var RequiredConstants []string

var defaultReloadModules = []string{"hv_netvsc", "hv_utils", "hv_balloon"}

type config struct {
	// lisVersion is the expected version of LIS modules installed from RPMs.
	lisVersion    string
	reloadModules []string
	reloadCount   int
	generation    int
	cvm           bool
	platform      string
}

func loadConfig(c *guesttest.Constants) (config, error) {
	cfg := config{
		lisVersion:    c.String("LIS_VERSION", ""),
		reloadModules: c.List("RELOAD_MODULES"),
		platform:      c.String("PLATFORM", "Azure"),
	}
	if len(cfg.reloadModules) == 0 {
		cfg.reloadModules = defaultReloadModules
	}
	for _, m := range cfg.reloadModules {
		// Unloading the bus or storage driver takes the guest down with it.
		if m == "hv_vmbus" || m == "hv_storvsc" {
			return config{}, fmt.Errorf("RELOAD_MODULES: %s cannot be reloaded on a running guest", m)
		}
	}
	var err error
	if cfg.reloadCount, err = c.Int("RELOAD_COUNT", 10); err != nil {
		return config{}, err
	}
	if cfg.reloadCount < 1 {
		return config{}, fmt.Errorf("RELOAD_COUNT=%d, want at least 1", cfg.reloadCount)
	}
	if cfg.generation, err = c.Int("VM_GENERATION", 2); err != nil {
		return config{}, err
	}
	if cfg.generation != 1 && cfg.generation != 2 {
		return config{}, fmt.Errorf("VM_GENERATION=%d, want 1 or 2", cfg.generation)
	}
	if cfg.cvm, err = c.Bool("CVM", false); err != nil {
		return config{}, err
	}
	if strings.ContainsAny(cfg.lisVersion, " \t") {
		return config{}, fmt.Errorf("LIS_VERSION %q contains spaces", cfg.lisVersion)
	}
	return cfg, nil
}

// Setup validates the constants of a lismodules run.
func Setup(c *guesttest.Constants) error {
	_, err := loadConfig(c)
	return err
}
