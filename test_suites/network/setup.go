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

// Package network is a suite for testing network configuration of a
// synthetic NIC: static addressing, VLANs, bridges and MTU.
package network

import (
	"fmt"
	"net"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/utils"
)

// Name is the name of the test package. It must match the directory name.
var Name = "network"

// RequiredConstants must be set in the constants file of a network run. The
// test NIC must not carry the ssh connection to the guest, its address is
// replaced during the run.
var RequiredConstants = []string{"TEST_NIC", "STATIC_IP", "NETMASK", "PEER_TEST_IP"}

type config struct {
	nic string
	// nicMAC, when set, must be the hardware address of nic.
	nicMAC     string
	staticIP   string
	netmask    string
	peerTestIP string

	vlanID     int
	vlanIP     string
	vlanPeerIP string
	bridgeIP   string
	mtus       []int
}

func loadConfig(c *guesttest.Constants) (config, error) {
	if err := c.Require(RequiredConstants...); err != nil {
		return config{}, err
	}
	cfg := config{
		nic:        c.String("TEST_NIC", ""),
		nicMAC:     c.String("TEST_NIC_MAC", ""),
		staticIP:   c.String("STATIC_IP", ""),
		netmask:    c.String("NETMASK", ""),
		peerTestIP: c.String("PEER_TEST_IP", ""),
		vlanIP:     c.String("VLAN_IP", ""),
		vlanPeerIP: c.String("VLAN_PEER_IP", ""),
		bridgeIP:   c.String("BRIDGE_IP", ""),
	}
	if cfg.nicMAC != "" {
		if _, err := net.ParseMAC(cfg.nicMAC); err != nil {
			return config{}, fmt.Errorf("TEST_NIC_MAC: %w", err)
		}
	}
	if _, err := utils.ToPrefix(cfg.staticIP, cfg.netmask); err != nil {
		return config{}, fmt.Errorf("STATIC_IP/NETMASK: %w", err)
	}
	for key, ip := range map[string]string{"STATIC_IP": cfg.staticIP, "PEER_TEST_IP": cfg.peerTestIP, "VLAN_IP": cfg.vlanIP, "VLAN_PEER_IP": cfg.vlanPeerIP, "BRIDGE_IP": cfg.bridgeIP} {
		if ip == "" {
			continue
		}
		if err := utils.CheckIPv4(ip); err != nil {
			return config{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	var err error
	if cfg.vlanID, err = c.Int("VLAN_ID", 2); err != nil {
		return config{}, err
	}
	if cfg.vlanID < 1 || cfg.vlanID > maxVlanID {
		return config{}, fmt.Errorf("VLAN_ID=%d, want 1-%d", cfg.vlanID, maxVlanID)
	}
	if cfg.mtus, err = c.Ints("MTU_VALUES", []int{1500, 4000, 9000}); err != nil {
		return config{}, err
	}
	for _, m := range cfg.mtus {
		if m < minMTU || m > maxMTU {
			return config{}, fmt.Errorf("MTU_VALUES: %d is outside %d-%d", m, minMTU, maxMTU)
		}
	}
	return cfg, nil
}

const (
	// MTU bounds accepted by hv_netvsc.
	minMTU = 68
	maxMTU = 65521

	maxVlanID = 4094
)

// Setup validates the constants of a network run.
func Setup(c *guesttest.Constants) error {
	_, err := loadConfig(c)
	return err
}
