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
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// skipInterfaces are virtual interfaces never used as test NICs.
var skipInterfaces = []string{"docker", "virbr", "veth", "lo"}

// CheckIP returns an error unless addr is a valid IPv4 or IPv6 address.
func CheckIP(addr string) error {
	if _, err := netip.ParseAddr(addr); err != nil {
		return fmt.Errorf("invalid ip address %q: %w", addr, err)
	}
	return nil
}

// CheckIPv4 returns an error unless addr is a dotted quad IPv4 address.
func CheckIPv4(addr string) error {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return fmt.Errorf("invalid ipv4 address %q", addr)
	}
	return nil
}

// CheckIPv6 returns an error unless addr is an IPv6 address.
func CheckIPv6(addr string) error {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is6() || ip.Is4In6() {
		return fmt.Errorf("invalid ipv6 address %q", addr)
	}
	return nil
}

// NetmaskToCidr converts a dotted quad netmask such as 255.255.255.0 into its
// prefix length. Non contiguous masks are rejected.
func NetmaskToCidr(netmask string) (int, error) {
	if err := CheckIPv4(netmask); err != nil {
		return 0, fmt.Errorf("invalid netmask %q", netmask)
	}
	ip := net.ParseIP(netmask).To4()
	ones, bits := net.IPMask(ip).Size()
	if bits == 0 {
		return 0, fmt.Errorf("netmask %q is not contiguous", netmask)
	}
	return ones, nil
}

// CidrToNetmask converts a prefix length into a dotted quad netmask.
func CidrToNetmask(prefix int) (string, error) {
	if prefix < 0 || prefix > 32 {
		return "", fmt.Errorf("invalid ipv4 prefix length %d", prefix)
	}
	return net.IP(net.CIDRMask(prefix, 32)).String(), nil
}

// ToPrefix combines an address and a netmask or prefix length ("24" or
// "255.255.255.0") into a netip.Prefix.
func ToPrefix(addr, netmask string) (netip.Prefix, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid ip address %q: %w", addr, err)
	}
	var bits int
	if n, err := strconv.Atoi(strings.TrimPrefix(netmask, "/")); err == nil {
		bits = n
	} else if bits, err = NetmaskToCidr(netmask); err != nil {
		return netip.Prefix{}, err
	}
	p := netip.PrefixFrom(ip, bits)
	if !p.IsValid() {
		return netip.Prefix{}, fmt.Errorf("invalid prefix length %d for %s", bits, addr)
	}
	return p, nil
}

// GetInterfaceByMAC returns the interface with the specified MAC address.
func GetInterfaceByMAC(mac string) (net.Interface, error) {
	hwaddr, err := net.ParseMAC(mac)
	if err != nil {
		return net.Interface{}, err
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		return net.Interface{}, err
	}

	for _, iface := range interfaces {
		if iface.HardwareAddr.String() == hwaddr.String() {
			return iface, nil
		}
	}
	return net.Interface{}, fmt.Errorf("no interface found with MAC %s", mac)
}

// ParseInterfaceIPv4 parses the interface's IPv4 address.
func ParseInterfaceIPv4(iface net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet.IP, nil
		}
	}
	return nil, fmt.Errorf("no ipv4 address found for interface %s", iface.Name)
}

// FilterLoopbackVirtualInterfaces filters the list of interfaces to contain
// only the actual NICs, removing the loopback and virtual interfaces listed
// in skipInterfaces.
func FilterLoopbackVirtualInterfaces(ifaces []net.Interface) []net.Interface {
	var filtered []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		skip := false
		for _, skipIface := range skipInterfaces {
			if strings.HasPrefix(strings.ToLower(iface.Name), skipIface) {
				skip = true
				break
			}
		}
		if !skip {
			filtered = append(filtered, iface)
		}
	}
	return filtered
}

// Ping sends count ICMP echo requests to addr from ifName. An empty ifName
// lets the kernel choose the route.
func Ping(ctx context.Context, ifName, addr string, count int) error {
	args := []string{"-c", strconv.Itoa(count), "-W", "2"}
	if ifName != "" {
		args = append(args, "-I", ifName)
	}
	if CheckIPv6(addr) == nil {
		args = append(args, "-6")
	}
	args = append(args, addr)
	status, err := RunCmd(ctx, "ping", args...)
	if err != nil {
		return fmt.Errorf("ping %s via %q: %v\n%s", addr, ifName, err, status.Stdout)
	}
	return nil
}
