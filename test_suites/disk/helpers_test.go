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

package disk

import (
	"testing"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/utils"
)

func TestRootFstabUUID(t *testing.T) {
	tests := []struct {
		name   string
		fstab  string
		want   string
		wantOK bool
	}{
		{
			name:   "uuid",
			fstab:  "UUID=0b5e9d8c-2a57-4f7e-9a53-6f0c1d2e3f40 / ext4 defaults,discard 1 1\nUUID=1111 /boot ext4 defaults 1 2\n",
			want:   "0b5e9d8c-2a57-4f7e-9a53-6f0c1d2e3f40",
			wantOK: true,
		},
		{
			name:   "quoted_uuid",
			fstab:  `UUID="abcd-1234" / xfs defaults 0 0`,
			want:   "abcd-1234",
			wantOK: true,
		},
		{
			name:  "label",
			fstab: "LABEL=cloudimg-rootfs / ext4 defaults 0 1\n",
		},
		{
			name:  "no_root",
			fstab: "/dev/sdb1 /mnt auto defaults,nofail 0 2\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := rootFstabUUID(utils.ParseFstab(tc.fstab))
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("rootFstabUUID() = (%q, %v), want (%q, %v)", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestRootMountDevice(t *testing.T) {
	mounts := utils.ParseFstab("rootfs / rootfs rw 0 0\n/dev/sda1 / ext4 rw,relatime 0 0\n/dev/sdb1 /mnt ext4 rw 0 0\n")
	if got, ok := rootMountDevice(mounts); !ok || got != "/dev/sda1" {
		t.Errorf("rootMountDevice() = (%q, %v), want (/dev/sda1, true)", got, ok)
	}
	if got, ok := rootMountDevice(nil); ok {
		t.Errorf("rootMountDevice(nil) = %q, want none", got)
	}
}

func TestParseDeviceTimeout(t *testing.T) {
	if got, err := parseDeviceTimeout("300\n"); err != nil || got != 300 {
		t.Errorf("parseDeviceTimeout(300) = (%d, %v), want (300, nil)", got, err)
	}
	if _, err := parseDeviceTimeout(""); err == nil {
		t.Errorf("parseDeviceTimeout(empty) err = nil")
	}
}

func TestSetup(t *testing.T) {
	tests := map[string]struct {
		values  map[string]string
		wantErr bool
	}{
		"defaults":         {},
		"custom_timeout":   {values: map[string]string{"ROOT_DEVICE_TIMEOUT": "180"}},
		"negative_timeout": {values: map[string]string{"ROOT_DEVICE_TIMEOUT": "-1"}, wantErr: true},
		"bad_bool":         {values: map[string]string{"EXPECT_RESOURCE_DISK": "sometimes"}, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if err := Setup(guesttest.NewConstants(tc.values)); (err != nil) != tc.wantErr {
				t.Errorf("Setup(%v) = %v, want error %v", tc.values, err, tc.wantErr)
			}
		})
	}
}
