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

// Package rdma validates the InfiniBand RDMA stack of HPC guests against a
// peer VM.
package rdma

import (
	"fmt"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/utils"
)

// Name is the name of the test package. It must match the directory name.
var Name = "rdma"

// RequiredConstants must be set in the constants file of an rdma run.
var RequiredConstants = []string{"PEER_IP", "SSH_USER", "SSH_KEY_FILE"}

type config struct {
	peer       string
	sshUser    string
	sshKeyFile string
	// peerIB is the address of the peer's IB interface. Defaults to peer.
	peerIB   string
	gidIndex int
	imbPath  string
	// hpcImage enables the checks that only hold on Azure HPC images.
	hpcImage bool
	platform string
}

func loadConfig(c *guesttest.Constants) (config, error) {
	if err := c.Require(RequiredConstants...); err != nil {
		return config{}, err
	}
	cfg := config{
		peer:       c.String("PEER_IP", ""),
		sshUser:    c.String("SSH_USER", ""),
		sshKeyFile: c.String("SSH_KEY_FILE", ""),
		imbPath:    c.String("IMB_MPI1_PATH", "IMB-MPI1"),
		platform:   c.String("PLATFORM", "Azure"),
	}
	cfg.peerIB = c.String("PEER_IB_IP", cfg.peer)
	if err := utils.CheckIP(cfg.peerIB); err != nil {
		return config{}, fmt.Errorf("PEER_IB_IP: %w", err)
	}
	var err error
	if cfg.gidIndex, err = c.Int("GID_INDEX", 0); err != nil {
		return config{}, err
	}
	if cfg.gidIndex < 0 {
		return config{}, fmt.Errorf("GID_INDEX=%d, want a non-negative index", cfg.gidIndex)
	}
	if cfg.hpcImage, err = c.Bool("HPC_IMAGE", false); err != nil {
		return config{}, err
	}
	return cfg, nil
}

// Setup validates the constants of an rdma run.
func Setup(c *guesttest.Constants) error {
	_, err := loadConfig(c)
	return err
}
