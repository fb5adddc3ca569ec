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

// Package packages is a suite for testing package installation through the
// distro package manager.
package packages

import (
	"fmt"
	"strings"

	"github.com/LIS/lis-guest-tests"
)

// Name is the name of the test package. It must match the directory name.
var Name = "packages"

// RequiredConstants must be set in the constants file of a packages run.
var RequiredConstants = []string{"PACKAGES"}

// Setup validates the constants of a packages run.
func Setup(c *guesttest.Constants) error {
	if err := c.Require(RequiredConstants...); err != nil {
		return err
	}
	for _, pkg := range c.List("PACKAGES") {
		if strings.HasPrefix(pkg, "-") {
			return fmt.Errorf("PACKAGES: %q looks like an option, not a package", pkg)
		}
	}
	if local := c.String("LOCAL_PACKAGE", ""); local != "" && !strings.HasSuffix(local, ".rpm") && !strings.HasSuffix(local, ".deb") {
		return fmt.Errorf("LOCAL_PACKAGE=%q, want a .rpm or .deb file", local)
	}
	_, err := c.Bool("REMOVE_PACKAGES", true)
	return err
}
