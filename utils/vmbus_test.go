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
	"testing"

	"github.com/google/go-cmp/cmp"
)

const lsvmbusOutput = `VMBUS ID  1: Class_ID = {525074dc-8985-46e2-8057-a307dc18a502} - [Dynamic Memory]
	Device_ID = {1eccfd72-4b41-45ef-b73a-4a6e44c12924}
	Sysfs path: /sys/bus/vmbus/devices/1eccfd72-4b41-45ef-b73a-4a6e44c12924
	Rel_ID=1, target_cpu=0

VMBUS ID 14: Class_ID = {f8615163-df3e-46c5-913f-f2d2f965ed0e} - Synthetic network adapter
	Device_ID = {000d3a6e-4548-000d-3a6e-4548000d3a6e}
	Sysfs path: /sys/bus/vmbus/devices/000d3a6e-4548-000d-3a6e-4548000d3a6e
	Rel_ID=14, target_cpu=0
	Rel_ID=17, target_cpu=1
	Rel_ID=18, target_cpu=2
	Rel_ID=19, target_cpu=3

VMBUS ID 15: Class_ID = {ba6163d9-04a1-4d29-b605-72e2ffb1dc7f} - Synthetic SCSI Controller
	Device_ID = {f8b3781b-1e82-4818-a1c3-63d806ec15bb}
	Sysfs path: /sys/bus/vmbus/devices/f8b3781b-1e82-4818-a1c3-63d806ec15bb
	Rel_ID=15, target_cpu=0
`

func TestParseLsvmbus(t *testing.T) {
	devs, err := ParseLsvmbus(lsvmbusOutput)
	if err != nil {
		t.Fatalf("ParseLsvmbus() = %v, want nil", err)
	}
	want := []VmbusDevice{
		{
			ID:       1,
			ClassID:  "525074dc-8985-46e2-8057-a307dc18a502",
			DeviceID: "1eccfd72-4b41-45ef-b73a-4a6e44c12924",
			Name:     "Dynamic Memory",
			Channels: []VmbusChannel{{RelID: 1, TargetCPU: 0}},
		},
		{
			ID:       14,
			ClassID:  "f8615163-df3e-46c5-913f-f2d2f965ed0e",
			DeviceID: "000d3a6e-4548-000d-3a6e-4548000d3a6e",
			Name:     VmbusNetworkAdapter,
			Channels: []VmbusChannel{{14, 0}, {17, 1}, {18, 2}, {19, 3}},
		},
		{
			ID:       15,
			ClassID:  "ba6163d9-04a1-4d29-b605-72e2ffb1dc7f",
			DeviceID: "f8b3781b-1e82-4818-a1c3-63d806ec15bb",
			Name:     VmbusSCSIController,
			Channels: []VmbusChannel{{15, 0}},
		},
	}
	if diff := cmp.Diff(want, devs); diff != "" {
		t.Errorf("ParseLsvmbus() returned an unexpected diff (-want +got):\n%s", diff)
	}
}

func TestParseLsvmbusErrors(t *testing.T) {
	for name, out := range map[string]string{
		"empty":        "",
		"warning":      "WARNING: lsvmbus not found for kernel 4.4.0-65\n",
		"no_device_id": "VMBUS ID  2: Class_ID = {32412632-86cb-44a2-9b5c-50d1417354f5} - Synthetic IDE Controller\n",
	} {
		if _, err := ParseLsvmbus(out); err == nil {
			t.Errorf("ParseLsvmbus(%s) err = nil, want error", name)
		}
	}
}

func TestExpectedVmbusChannels(t *testing.T) {
	tests := []struct {
		name   string
		cpus   int
		mana   bool
		want   int
		wantOK bool
	}{
		{VmbusNetworkAdapter, 2, false, 2, true},
		{VmbusNetworkAdapter, 64, false, 8, true},
		{VmbusSCSIController, 2, false, 1, true},
		{VmbusSCSIController, 16, false, 4, true},
		{VmbusSCSIController, 416, false, 64, true},
		{VmbusSCSIController, 16, true, 16, true},
		{VmbusSCSIController, 128, true, 64, true},
		{"Heartbeat", 8, false, 0, false},
	}
	for _, tc := range tests {
		n, ok := ExpectedVmbusChannels(tc.name, tc.cpus, tc.mana)
		if n != tc.want || ok != tc.wantOK {
			t.Errorf("ExpectedVmbusChannels(%q, %d, %v) = %d, %v, want %d, %v", tc.name, tc.cpus, tc.mana, n, ok, tc.want, tc.wantOK)
		}
	}
}
