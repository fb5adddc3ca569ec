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

// Package disk is a suite for testing the disk layout of an Azure guest.
package disk

import (
	"fmt"

	"github.com/LIS/lis-guest-tests"
)

// Name is the name of the test package. It must match the directory name.
var Name = "disk"

// RequiredConstants is empty, the disk suite reads the agent config instead.
var RequiredConstants []string

// DefaultRootDeviceTimeout is the SCSI timeout, in seconds, the Azure udev
// rules set on the OS disk.
const DefaultRootDeviceTimeout = 300

// Setup validates the constants of a disk run.
func Setup(c *guesttest.Constants) error {
	timeout, err := c.Int("ROOT_DEVICE_TIMEOUT", DefaultRootDeviceTimeout)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		return fmt.Errorf("ROOT_DEVICE_TIMEOUT=%d, want a positive number of seconds", timeout)
	}
	_, err = c.Bool("EXPECT_RESOURCE_DISK", true)
	return err
}
