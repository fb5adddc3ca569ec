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

package rdma

import (
	"testing"

	"github.com/LIS/lis-guest-tests"
	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig(t *testing.T) {
	base := map[string]string{"PEER_IP": "10.0.0.5", "SSH_USER": "hpcadmin", "SSH_KEY_FILE": "/root/.ssh/id_rsa"}
	tests := []struct {
		name    string
		extra   map[string]string
		want    config
		wantErr bool
	}{
		{
			name: "defaults",
			want: config{peer: "10.0.0.5", sshUser: "hpcadmin", sshKeyFile: "/root/.ssh/id_rsa", peerIB: "10.0.0.5", imbPath: "IMB-MPI1", platform: "Azure"},
		},
		{
			name:  "ib_address",
			extra: map[string]string{"PEER_IB_IP": "172.16.1.5", "GID_INDEX": "3", "HPC_IMAGE": "yes"},
			want:  config{peer: "10.0.0.5", sshUser: "hpcadmin", sshKeyFile: "/root/.ssh/id_rsa", peerIB: "172.16.1.5", gidIndex: 3, imbPath: "IMB-MPI1", hpcImage: true, platform: "Azure"},
		},
		{name: "bad_ib_address", extra: map[string]string{"PEER_IB_IP": "ib-peer"}, wantErr: true},
		{name: "negative_gid", extra: map[string]string{"GID_INDEX": "-1"}, wantErr: true},
		{name: "missing_user", extra: map[string]string{"SSH_USER": ""}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := guesttest.NewConstants(base)
			c.Merge(tc.extra)
			got, err := loadConfig(c)
			if (err != nil) != tc.wantErr {
				t.Fatalf("loadConfig() = %v, want error %v", err, tc.wantErr)
			}
			if (Setup(c) != nil) != tc.wantErr {
				t.Errorf("Setup() disagrees with loadConfig")
			}
			if diff := cmp.Diff(tc.want, got, cmp.AllowUnexported(config{})); !tc.wantErr && diff != "" {
				t.Errorf("loadConfig() returned an unexpected diff (-want +got):\n%s", diff)
			}
		})
	}
}
