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

package utils

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// VmbusChannel is one channel of a VMBus device and the CPU it targets.
type VmbusChannel struct {
	RelID     int
	TargetCPU int
}

// VmbusDevice is a device offered on the VMBus, as listed by lsvmbus -vv.
type VmbusDevice struct {
	ID       int
	ClassID  string
	DeviceID string
	Name     string
	Channels []VmbusChannel
}

// VMBus device names used by the channel checks.
const (
	VmbusNetworkAdapter = "Synthetic network adapter"
	VmbusSCSIController = "Synthetic SCSI Controller"
)

var (
	vmbusHeader  = regexp.MustCompile(`^VMBUS ID\s+(\d+):\s+Class_ID = \{?([^}\s]+)\}?\s+-\s+\[?(.+?)\]?$`)
	vmbusDevice  = regexp.MustCompile(`^Device_ID = \{?([^}\s]+)\}?$`)
	vmbusChannel = regexp.MustCompile(`^Rel_ID=(\d+), target_cpu=(\d+)$`)
)

// ParseLsvmbus parses the output of lsvmbus -vv.
func ParseLsvmbus(out string) ([]VmbusDevice, error) {
	var devs []VmbusDevice
	var cur *VmbusDevice
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := vmbusHeader.FindStringSubmatch(line); m != nil {
			id, _ := strconv.Atoi(m[1])
			devs = append(devs, VmbusDevice{ID: id, ClassID: m[2], Name: m[3]})
			cur = &devs[len(devs)-1]
			continue
		}
		if cur == nil {
			if strings.HasPrefix(line, "VMBUS ID") {
				return nil, fmt.Errorf("malformed lsvmbus device line %q", line)
			}
			continue
		}
		if m := vmbusDevice.FindStringSubmatch(line); m != nil {
			cur.DeviceID = m[1]
			continue
		}
		if m := vmbusChannel.FindStringSubmatch(line); m != nil {
			rel, _ := strconv.Atoi(m[1])
			cpu, _ := strconv.Atoi(m[2])
			cur.Channels = append(cur.Channels, VmbusChannel{RelID: rel, TargetCPU: cpu})
		}
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no vmbus devices in lsvmbus output")
	}
	for _, d := range devs {
		if d.DeviceID == "" {
			return nil, fmt.Errorf("vmbus device %d (%s) has no Device_ID", d.ID, d.Name)
		}
	}
	return devs, nil
}

// Lsvmbus lists the VMBus devices of the guest.
func Lsvmbus(ctx context.Context) ([]VmbusDevice, error) {
	status, err := RunCmd(ctx, "lsvmbus", "-vv")
	if err != nil {
		return nil, fmt.Errorf("lsvmbus: %w: %s", err, status.Stderr)
	}
	return ParseLsvmbus(status.Stdout)
}

// ExpectedVmbusChannels returns the channel count the host offers a device
// named name on a guest with cpus vCPUs. ok is false for devices without a
// fixed count. Network adapters get one channel per vCPU up to 8. SCSI
// controllers get one per four vCPUs up to 64, or one per vCPU up to 64
// when the VM uses MANA NICs.
func ExpectedVmbusChannels(name string, cpus int, mana bool) (n int, ok bool) {
	switch name {
	case VmbusNetworkAdapter:
		return min(cpus, 8), true
	case VmbusSCSIController:
		if mana {
			return min(cpus, 64), true
		}
		return (min(cpus, 256) + 3) / 4, true
	}
	return 0, false
}
