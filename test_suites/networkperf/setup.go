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

// Package networkperf is a suite measuring network throughput and latency
// between the guest and a peer VM.
package networkperf

import (
	"fmt"
	"time"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/utils"
)

// Name is the name of the test package. It must match the directory name.
var Name = "networkperf"

// RequiredConstants must be set in the constants file of a networkperf run.
var RequiredConstants = []string{"PEER_IP", "SSH_USER", "SSH_KEY_FILE"}

var (
	defaultParallel = []int{1, 8}
	defaultThreads  = []int{1, 8, 64}
)

// config is the parsed form of the constants of a run.
type config struct {
	// peer is the ssh address of the peer, peerTestIP the address used for
	// the measured traffic (defaults to peer).
	peer       string
	peerTestIP string
	sshUser    string
	sshKeyFile string
	platform   string

	duration       time.Duration
	iperf3Port     int
	iperf3Parallel []int
	udpBandwidth   string
	ntttcpThreads  []int
	lagscopePings  int
	nic            string

	// minThroughputGbps fails the TCP throughput tests below it. Zero only
	// records the results.
	minThroughputGbps float64
}

func loadConfig(c *guesttest.Constants) (config, error) {
	if err := c.Require(RequiredConstants...); err != nil {
		return config{}, err
	}
	cfg := config{
		peer:         c.String("PEER_IP", ""),
		sshUser:      c.String("SSH_USER", ""),
		sshKeyFile:   c.String("SSH_KEY_FILE", ""),
		platform:     c.String("PLATFORM", "Azure"),
		udpBandwidth: c.String("IPERF3_UDP_BANDWIDTH", "0"),
		nic:          c.String("NIC", "eth0"),
	}
	cfg.peerTestIP = c.String("PEER_TEST_IP", cfg.peer)
	for _, ip := range []string{cfg.peer, cfg.peerTestIP} {
		if err := utils.CheckIP(ip); err != nil {
			return config{}, err
		}
	}
	var err error
	if cfg.duration, err = c.Duration("TEST_DURATION", 60*time.Second); err != nil {
		return config{}, err
	}
	if cfg.iperf3Port, err = c.Int("IPERF3_PORT", 5201); err != nil {
		return config{}, err
	}
	if cfg.iperf3Parallel, err = c.Ints("IPERF3_PARALLEL", defaultParallel); err != nil {
		return config{}, err
	}
	if cfg.ntttcpThreads, err = c.Ints("NTTTCP_THREADS", defaultThreads); err != nil {
		return config{}, err
	}
	if cfg.lagscopePings, err = c.Int("LAGSCOPE_PINGS", 1000); err != nil {
		return config{}, err
	}
	if cfg.minThroughputGbps, err = c.Float("MIN_THROUGHPUT_GBPS", 0); err != nil {
		return config{}, err
	}
	for _, n := range append(append([]int{}, cfg.iperf3Parallel...), cfg.ntttcpThreads...) {
		if n < 1 {
			return config{}, fmt.Errorf("connection counts must be positive, got %d", n)
		}
	}
	return cfg, nil
}

// Setup validates the constants of a networkperf run.
func Setup(c *guesttest.Constants) error {
	_, err := loadConfig(c)
	return err
}
