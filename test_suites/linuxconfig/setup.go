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

// Package linuxconfig is a suite verifying an image is prepared for the
// cloud: sshd keepalive, locked root, serial console and boot parameters.
package linuxconfig

import (
	"fmt"

	"github.com/LIS/lis-guest-tests"
)

// Name is the name of the test package. It must match the directory name.
var Name = "linuxconfig"

// RequiredConstants is empty, every constant of the suite has a default.
var RequiredConstants []string

type config struct {
	maxClientAlive int
	rootDelay      int
	// prepared images have the root history moved aside by waagent
	// -deprovision, which leaves /root/default_bash_history behind.
	checkHistory bool
}

func loadConfig(c *guesttest.Constants) (config, error) {
	var cfg config
	var err error
	if cfg.maxClientAlive, err = c.Int("CLIENT_ALIVE_MAX", 180); err != nil {
		return config{}, err
	}
	if cfg.maxClientAlive < 1 {
		return config{}, fmt.Errorf("CLIENT_ALIVE_MAX=%d, want at least 1", cfg.maxClientAlive)
	}
	if cfg.rootDelay, err = c.Int("ROOT_DELAY", 300); err != nil {
		return config{}, err
	}
	if cfg.rootDelay < 0 {
		return config{}, fmt.Errorf("ROOT_DELAY=%d, want 0 or more", cfg.rootDelay)
	}
	if cfg.checkHistory, err = c.Bool("CHECK_BASH_HISTORY", true); err != nil {
		return config{}, err
	}
	return cfg, nil
}

// Setup validates the constants of a linuxconfig run.
func Setup(c *guesttest.Constants) error {
	_, err := loadConfig(c)
	return err
}
