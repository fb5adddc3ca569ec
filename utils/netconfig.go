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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedDistro is returned when no network config layout is known
// for a distro.
var ErrUnsupportedDistro = errors.New("unsupported distro")

// NetworkConfig describes the persistent configuration of one interface.
// DHCP wins over Address when both are set.
type NetworkConfig struct {
	Interface string
	DHCP      bool
	Address   string
	// Netmask is a dotted quad mask or a prefix length.
	Netmask string
	Gateway string
	DNS     []string
	MTU     int
}

func (c NetworkConfig) validate() error {
	if c.Interface == "" {
		return errors.New("network config has no interface")
	}
	if c.DHCP {
		return nil
	}
	if _, err := ToPrefix(c.Address, c.Netmask); err != nil {
		return fmt.Errorf("static config for %s: %w", c.Interface, err)
	}
	return nil
}

func (c NetworkConfig) prefix() string {
	p, err := ToPrefix(c.Address, c.Netmask)
	if err != nil {
		return ""
	}
	return p.String()
}

func (c NetworkConfig) dottedNetmask() string {
	p, err := ToPrefix(c.Address, c.Netmask)
	if err != nil {
		return c.Netmask
	}
	mask, _ := CidrToNetmask(p.Bits())
	return mask
}

// RenderIfcfg renders a Red Hat style ifcfg file.
func RenderIfcfg(c NetworkConfig) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	env := map[string]string{
		"DEVICE":    c.Interface,
		"ONBOOT":    "yes",
		"TYPE":      "Ethernet",
		"BOOTPROTO": "dhcp",
	}
	if !c.DHCP {
		env["BOOTPROTO"] = "static"
		env["IPADDR"] = c.Address
		env["NETMASK"] = c.dottedNetmask()
		if c.Gateway != "" {
			env["GATEWAY"] = c.Gateway
		}
	}
	for i, dns := range c.DNS {
		env[fmt.Sprintf("DNS%d", i+1)] = dns
	}
	if c.MTU > 0 {
		env["MTU"] = fmt.Sprint(c.MTU)
	}
	out, err := godotenv.Marshal(env)
	if err != nil {
		return "", err
	}
	return out + "\n", nil
}

// RenderSuseIfcfg renders a wicked style ifcfg file.
func RenderSuseIfcfg(c NetworkConfig) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	env := map[string]string{
		"STARTMODE": "auto",
		"BOOTPROTO": "dhcp",
	}
	if !c.DHCP {
		env["BOOTPROTO"] = "static"
		env["IPADDR"] = c.prefix()
	}
	if c.MTU > 0 {
		env["MTU"] = fmt.Sprint(c.MTU)
	}
	out, err := godotenv.Marshal(env)
	if err != nil {
		return "", err
	}
	return out + "\n", nil
}

// RenderDebianInterfaces renders an ifupdown stanza.
func RenderDebianInterfaces(c NetworkConfig) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "auto %s\n", c.Interface)
	if c.DHCP {
		fmt.Fprintf(&sb, "iface %s inet dhcp\n", c.Interface)
	} else {
		fmt.Fprintf(&sb, "iface %s inet static\n", c.Interface)
		fmt.Fprintf(&sb, "    address %s\n", c.Address)
		fmt.Fprintf(&sb, "    netmask %s\n", c.dottedNetmask())
		if c.Gateway != "" {
			fmt.Fprintf(&sb, "    gateway %s\n", c.Gateway)
		}
	}
	if len(c.DNS) > 0 {
		fmt.Fprintf(&sb, "    dns-nameservers %s\n", strings.Join(c.DNS, " "))
	}
	if c.MTU > 0 {
		fmt.Fprintf(&sb, "    mtu %d\n", c.MTU)
	}
	return sb.String(), nil
}

type netplanDropin struct {
	Network netplanNetwork `yaml:"network"`
}

type netplanNetwork struct {
	Version   int                        `yaml:"version"`
	Ethernets map[string]netplanEthernet `yaml:"ethernets,omitempty"`
}

// https://netplan.readthedocs.io/en/stable/netplan-yaml/#properties-for-device-type-ethernets
type netplanEthernet struct {
	DHCPv4      *bool               `yaml:"dhcp4,omitempty"`
	Addresses   []string            `yaml:"addresses,omitempty"`
	Routes      []netplanRoute      `yaml:"routes,omitempty"`
	Nameservers *netplanNameservers `yaml:"nameservers,omitempty"`
	MTU         int                 `yaml:"mtu,omitempty"`
}

type netplanRoute struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

type netplanNameservers struct {
	Addresses []string `yaml:"addresses"`
}

// RenderNetplan renders a netplan drop-in for c.
func RenderNetplan(c NetworkConfig) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	dhcp := c.DHCP
	eth := netplanEthernet{DHCPv4: &dhcp, MTU: c.MTU}
	if !c.DHCP {
		eth.Addresses = []string{c.prefix()}
		if c.Gateway != "" {
			eth.Routes = []netplanRoute{{To: "default", Via: c.Gateway}}
		}
	}
	if len(c.DNS) > 0 {
		eth.Nameservers = &netplanNameservers{Addresses: c.DNS}
	}
	dropin := netplanDropin{Network: netplanNetwork{
		Version:   2,
		Ethernets: map[string]netplanEthernet{c.Interface: eth},
	}}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(dropin); err != nil {
		return "", fmt.Errorf("could not encode netplan config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type nmConfig struct {
	Connection nmConnection `ini:"connection"`
	Ethernet   nmEthernet   `ini:"ethernet"`
	IPv4       nmIPv4Config `ini:"ipv4"`
	IPv6       nmIPv6Config `ini:"ipv6"`
}

type nmConnection struct {
	ID            string `ini:"id"`
	UUID          string `ini:"uuid"`
	ConnType      string `ini:"type"`
	InterfaceName string `ini:"interface-name"`
}

type nmEthernet struct {
	MTU int `ini:"mtu,omitempty"`
}

type nmIPv4Config struct {
	Method   string `ini:"method"`
	Address1 string `ini:"address1,omitempty"`
	DNS      string `ini:"dns,omitempty"`
}

type nmIPv6Config struct {
	Method string `ini:"method"`
}

// RenderNMKeyfile renders a NetworkManager keyfile connection for c.
func RenderNMKeyfile(c NetworkConfig) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	cfg := &nmConfig{
		Connection: nmConnection{
			ID:            c.Interface,
			UUID:          uuid.NewString(),
			ConnType:      "ethernet",
			InterfaceName: c.Interface,
		},
		Ethernet: nmEthernet{MTU: c.MTU},
		IPv4:     nmIPv4Config{Method: "auto"},
		IPv6:     nmIPv6Config{Method: "ignore"},
	}
	if !c.DHCP {
		cfg.IPv4.Method = "manual"
		cfg.IPv4.Address1 = c.prefix()
		if c.Gateway != "" {
			cfg.IPv4.Address1 += "," + c.Gateway
		}
	}
	if len(c.DNS) > 0 {
		cfg.IPv4.DNS = strings.Join(c.DNS, ";") + ";"
	}
	return renderINI(cfg)
}

type networkdConfig struct {
	Match   networkdMatchConfig
	Network networkdNetworkConfig
	Link    *networkdLinkConfig `ini:",omitempty"`
}

type networkdMatchConfig struct {
	Name string
}

type networkdNetworkConfig struct {
	DHCP    string `ini:"DHCP,omitempty"`
	Address string `ini:"Address,omitempty"`
	Gateway string `ini:"Gateway,omitempty"`
	DNS     string `ini:"DNS,omitempty"`
}

type networkdLinkConfig struct {
	MTUBytes int
}

// RenderNetworkd renders a systemd-networkd .network file for c.
func RenderNetworkd(c NetworkConfig) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	cfg := &networkdConfig{Match: networkdMatchConfig{Name: c.Interface}}
	if c.DHCP {
		cfg.Network.DHCP = "ipv4"
	} else {
		cfg.Network.Address = c.prefix()
		cfg.Network.Gateway = c.Gateway
	}
	cfg.Network.DNS = strings.Join(c.DNS, " ")
	if c.MTU > 0 {
		cfg.Link = &networkdLinkConfig{MTUBytes: c.MTU}
	}
	return renderINI(cfg)
}

func renderINI(v any) (string, error) {
	// Values such as NetworkManager dns lists contain ';' and must not be
	// quoted as inline comments.
	f := ini.Empty(ini.LoadOptions{IgnoreInlineComment: true})
	if err := f.ReflectFrom(v); err != nil {
		return "", fmt.Errorf("could not render ini: %w", err)
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// NetworkConfigPath returns where the persistent config of iface lives on d
// and the renderer producing it.
func NetworkConfigPath(d Distro, iface string) (string, func(NetworkConfig) (string, error), error) {
	switch {
	case d.IsUbuntu() && d.MajorVersion() >= 18:
		return filepath.Join("/etc/netplan", fmt.Sprintf("60-%s.yaml", iface)), RenderNetplan, nil
	case d.IsDebianFamily():
		return filepath.Join("/etc/network/interfaces.d", iface), RenderDebianInterfaces, nil
	case d.IsRHELFamily() && d.MajorVersion() >= 9:
		return filepath.Join("/etc/NetworkManager/system-connections", iface+".nmconnection"), RenderNMKeyfile, nil
	case d.IsRHELFamily():
		return filepath.Join("/etc/sysconfig/network-scripts", "ifcfg-"+iface), RenderIfcfg, nil
	case d.IsSUSE():
		return filepath.Join("/etc/sysconfig/network", "ifcfg-"+iface), RenderSuseIfcfg, nil
	case d.IsMariner(), d.IsCoreOS():
		return filepath.Join("/etc/systemd/network", fmt.Sprintf("60-%s.network", iface)), RenderNetworkd, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedDistro, d)
}

// WriteNetworkConfig writes the persistent configuration of c.Interface in
// the layout d uses and returns the file written.
func WriteNetworkConfig(d Distro, c NetworkConfig) (string, error) {
	path, render, err := NetworkConfigPath(d, c.Interface)
	if err != nil {
		return "", err
	}
	content, err := render(c)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	// NetworkManager ignores keyfiles readable by others.
	mode := os.FileMode(0644)
	if strings.HasSuffix(path, ".nmconnection") {
		mode = 0600
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return "", fmt.Errorf("could not write %s: %w", path, err)
	}
	return path, nil
}

const (
	// DebianInterfaces is the main ifupdown configuration.
	DebianInterfaces = "/etc/network/interfaces"
	// debianInterfacesSource makes ifupdown read the per interface files.
	debianInterfacesSource = "source /etc/network/interfaces.d/*"

	interfacesSourcedRe = `^\s*source(-directory)?\s+/etc/network/interfaces\.d`
	sourceCommentedRe   = `^\s*#\s*source\s+/etc/network/interfaces\.d/\*\s*$`
	sourceLineRe        = `^source /etc/network/interfaces\.d/\*$`
)

// SourceInterfacesDir makes the ifupdown configuration at path read
// interfaces.d, enabling a commented out source line or appending one. The
// returned undo reverts the edit.
func SourceInterfacesDir(path string) (undo func() error, err error) {
	n, err := CountMatchingLinesInFile(path, interfacesSourcedRe)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if n > 0 {
		return func() error { return nil }, nil
	}
	n, err = ReplaceMatchingLines(path, sourceCommentedRe, debianInterfacesSource)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if n > 0 {
		return func() error {
			_, err := ReplaceMatchingLines(path, sourceLineRe, "# "+debianInterfacesSource)
			return err
		}, nil
	}
	if err := AppendText(path, debianInterfacesSource); err != nil {
		return nil, err
	}
	return func() error {
		_, err := RemoveMatchingLines(path, sourceLineRe)
		return err
	}, nil
}
