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

//go:build linux

package utils

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/vishvananda/netlink"
)

const (
	// SyntheticNICDriver is the kernel driver of Hyper-V synthetic NICs.
	SyntheticNICDriver = "hv_netvsc"
	// MaxVlanID is the largest valid 802.1Q VLAN id.
	MaxVlanID = 4094
)

func linkByName(ifName string) (netlink.Link, error) {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("could not find interface %s: %w", ifName, err)
	}
	return link, nil
}

func toNetlinkAddr(ip, netmask string) (*netlink.Addr, error) {
	prefix, err := ToPrefix(ip, netmask)
	if err != nil {
		return nil, err
	}
	return netlink.ParseAddr(prefix.String())
}

// SetIPStatic replaces every IPv4 address of ifName with ip/netmask and
// brings the link up.
func SetIPStatic(ifName, ip, netmask string) error {
	link, err := linkByName(ifName)
	if err != nil {
		return err
	}
	addr, err := toNetlinkAddr(ip, netmask)
	if err != nil {
		return err
	}
	if err := FlushIPv4(ifName); err != nil {
		return err
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("could not add %s to %s: %w", addr, ifName, err)
	}
	return netlink.LinkSetUp(link)
}

// FlushIPv4 removes every IPv4 address from ifName.
func FlushIPv4(ifName string) error {
	link, err := linkByName(ifName)
	if err != nil {
		return err
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("could not list addresses of %s: %w", ifName, err)
	}
	for _, a := range addrs {
		if err := netlink.AddrDel(link, &a); err != nil {
			return fmt.Errorf("could not remove %s from %s: %w", a.IPNet, ifName, err)
		}
	}
	return nil
}

// InterfaceIPv4 returns the IPv4 addresses of ifName in CIDR form.
func InterfaceIPv4(ifName string) ([]string, error) {
	link, err := linkByName(ifName)
	if err != nil {
		return nil, err
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range addrs {
		out = append(out, a.IPNet.String())
	}
	return out, nil
}

// VlanName returns the conventional name of VLAN id on parent.
func VlanName(parent string, vlanID int) string {
	return fmt.Sprintf("%s.%d", parent, vlanID)
}

// linkOps is the part of netlink that creates and configures links.
type linkOps interface {
	LinkByName(name string) (netlink.Link, error)
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetMaster(link, master netlink.Link) error
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
}

type netlinkOps struct{}

func (netlinkOps) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }
func (netlinkOps) LinkAdd(link netlink.Link) error              { return netlink.LinkAdd(link) }
func (netlinkOps) LinkDel(link netlink.Link) error              { return netlink.LinkDel(link) }
func (netlinkOps) LinkSetUp(link netlink.Link) error            { return netlink.LinkSetUp(link) }
func (netlinkOps) LinkSetMaster(link, master netlink.Link) error {
	return netlink.LinkSetMaster(link, master)
}
func (netlinkOps) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrAdd(link, addr)
}

// rollback deletes link when *err is set, so a half configured link does not
// survive a failed setup.
func rollback(ops linkOps, link netlink.Link, err *error) {
	if *err == nil {
		return
	}
	if derr := ops.LinkDel(link); derr != nil {
		*err = errors.Join(*err, fmt.Errorf("could not delete %s: %w", link.Attrs().Name, derr))
	}
}

// CreateVlan creates VLAN vlanID on parent, assigns ip/netmask to it and
// brings it up. It returns the name of the VLAN interface. The VLAN is
// deleted again when any step after its creation fails.
func CreateVlan(parent string, vlanID int, ip, netmask string) (string, error) {
	return createVlan(netlinkOps{}, parent, vlanID, ip, netmask)
}

func createVlan(ops linkOps, parent string, vlanID int, ip, netmask string) (name string, err error) {
	if vlanID < 0 || vlanID > MaxVlanID {
		return "", fmt.Errorf("vlan id %d out of range 0-%d", vlanID, MaxVlanID)
	}
	parentLink, err := ops.LinkByName(parent)
	if err != nil {
		return "", fmt.Errorf("could not find interface %s: %w", parent, err)
	}
	addr, err := toNetlinkAddr(ip, netmask)
	if err != nil {
		return "", err
	}
	attrs := netlink.NewLinkAttrs()
	attrs.Name = VlanName(parent, vlanID)
	attrs.ParentIndex = parentLink.Attrs().Index
	vlan := &netlink.Vlan{LinkAttrs: attrs, VlanId: vlanID}
	if err := ops.LinkAdd(vlan); err != nil {
		return "", fmt.Errorf("could not create vlan %s: %w", attrs.Name, err)
	}
	defer rollback(ops, vlan, &err)
	if err := ops.AddrAdd(vlan, addr); err != nil {
		return "", fmt.Errorf("could not add %s to %s: %w", addr, attrs.Name, err)
	}
	if err := ops.LinkSetUp(parentLink); err != nil {
		return "", err
	}
	if err := ops.LinkSetUp(vlan); err != nil {
		return "", fmt.Errorf("could not bring up %s: %w", attrs.Name, err)
	}
	return attrs.Name, nil
}

// RemoveVlan deletes VLAN vlanID on parent.
func RemoveVlan(parent string, vlanID int) error {
	return deleteLink(VlanName(parent, vlanID))
}

// SetupBridge creates bridge name, enslaves members, assigns ip/netmask when
// ip is non-empty and brings everything up. The bridge is deleted again,
// releasing its members, when any step after its creation fails.
func SetupBridge(name, ip, netmask string, members ...string) error {
	return setupBridge(netlinkOps{}, name, ip, netmask, members...)
}

func setupBridge(ops linkOps, name, ip, netmask string, members ...string) (err error) {
	var addr *netlink.Addr
	if ip != "" {
		if addr, err = toNetlinkAddr(ip, netmask); err != nil {
			return err
		}
	}
	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	bridge := &netlink.Bridge{LinkAttrs: attrs}
	if err := ops.LinkAdd(bridge); err != nil {
		return fmt.Errorf("could not create bridge %s: %w", name, err)
	}
	defer rollback(ops, bridge, &err)
	for _, m := range members {
		link, err := ops.LinkByName(m)
		if err != nil {
			return fmt.Errorf("could not find interface %s: %w", m, err)
		}
		if err := ops.LinkSetMaster(link, bridge); err != nil {
			return fmt.Errorf("could not add %s to bridge %s: %w", m, name, err)
		}
		if err := ops.LinkSetUp(link); err != nil {
			return err
		}
	}
	if addr != nil {
		if err := ops.AddrAdd(bridge, addr); err != nil {
			return fmt.Errorf("could not add %s to %s: %w", addr, name, err)
		}
	}
	return ops.LinkSetUp(bridge)
}

// BridgeMembers returns the names of the interfaces enslaved to bridge.
func BridgeMembers(bridge string) ([]string, error) {
	br, err := linkByName(bridge)
	if err != nil {
		return nil, err
	}
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}
	var members []string
	for _, l := range links {
		if l.Attrs().MasterIndex == br.Attrs().Index {
			members = append(members, l.Attrs().Name)
		}
	}
	return members, nil
}

// RemoveBridge releases the members of bridge and deletes it.
func RemoveBridge(bridge string) error {
	members, err := BridgeMembers(bridge)
	if err != nil {
		return err
	}
	for _, m := range members {
		link, err := linkByName(m)
		if err != nil {
			return err
		}
		if err := netlink.LinkSetNoMaster(link); err != nil {
			return fmt.Errorf("could not release %s from %s: %w", m, bridge, err)
		}
	}
	return deleteLink(bridge)
}

func deleteLink(name string) error {
	link, err := linkByName(name)
	if err != nil {
		return err
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("could not delete %s: %w", name, err)
	}
	return nil
}

// SetMTU changes the MTU of ifName.
func SetMTU(ifName string, mtu int) error {
	link, err := linkByName(ifName)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("could not set mtu %d on %s: %w", mtu, ifName, err)
	}
	return nil
}

// MTU returns the current MTU of ifName.
func MTU(ifName string) (int, error) {
	link, err := linkByName(ifName)
	if err != nil {
		return 0, err
	}
	return link.Attrs().MTU, nil
}

// SetLinkState brings ifName up or down.
func SetLinkState(ifName string, up bool) error {
	link, err := linkByName(ifName)
	if err != nil {
		return err
	}
	if up {
		return netlink.LinkSetUp(link)
	}
	return netlink.LinkSetDown(link)
}

// InterfaceDriver returns the kernel driver bound to ifName, or an empty
// string for virtual interfaces.
func InterfaceDriver(ifName string) (string, error) {
	target, err := os.Readlink(filepath.Join("/sys/class/net", ifName, "device", "driver"))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return filepath.Base(target), nil
}

// SyntheticInterfaces returns the interfaces driven by hv_netvsc.
func SyntheticInterfaces() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range links {
		name := l.Attrs().Name
		driver, err := InterfaceDriver(name)
		if err != nil {
			return nil, err
		}
		if driver == SyntheticNICDriver {
			names = append(names, name)
		}
	}
	return names, nil
}

// DefaultRoute returns the interface name and gateway of the IPv4 default
// route.
func DefaultRoute() (string, net.IP, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", nil, fmt.Errorf("could not list routes: %w", err)
	}
	for _, r := range routes {
		if r.Dst != nil && !strings.HasSuffix(r.Dst.String(), "/0") {
			continue
		}
		link, err := netlink.LinkByIndex(r.LinkIndex)
		if err != nil {
			return "", nil, err
		}
		return link.Attrs().Name, r.Gw, nil
	}
	return "", nil, errors.New("no default route found")
}
