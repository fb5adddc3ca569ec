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

// Package acceleratorutils provides common utility functions for RDMA and
// InfiniBand tests.
package acceleratorutils

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/LIS/lis-guest-tests/utils"
)

// PingpongTools are the ibverbs pingpong tests run between two nodes.
var PingpongTools = []string{"ibv_rc_pingpong", "ibv_uc_pingpong", "ibv_ud_pingpong"}

// PortActive is the ibv_devinfo state of a usable port.
const PortActive = "PORT_ACTIVE"

// sysInfiniband lists the IB devices; a var so tests can point it elsewhere.
var sysInfiniband = "/sys/class/infiniband"

// IBPort is one port of an HCA as reported by ibv_devinfo.
type IBPort struct {
	Number    int
	State     string
	LinkLayer string
	ActiveMTU string
}

// IBDevice is one HCA as reported by ibv_devinfo.
type IBDevice struct {
	Name      string
	Transport string
	FWVersion string
	Ports     []IBPort
}

// ActivePorts returns the ports in PORT_ACTIVE state.
func (d IBDevice) ActivePorts() []IBPort {
	var active []IBPort
	for _, p := range d.Ports {
		if p.State == PortActive {
			active = append(active, p)
		}
	}
	return active
}

// devinfoValue returns the first word of an ibv_devinfo value such as
// "PORT_ACTIVE (4)".
func devinfoValue(v string) string {
	f := strings.Fields(v)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// ParseIbvDevinfo parses the output of ibv_devinfo.
func ParseIbvDevinfo(out string) []IBDevice {
	var devs []IBDevice
	var dev *IBDevice
	var port *IBPort
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "hca_id":
			devs = append(devs, IBDevice{Name: value})
			dev, port = &devs[len(devs)-1], nil
			continue
		}
		if dev == nil {
			continue
		}
		switch key {
		case "transport":
			dev.Transport = strings.TrimSpace(strings.Split(value, "(")[0])
		case "fw_ver":
			dev.FWVersion = value
		case "port":
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			dev.Ports = append(dev.Ports, IBPort{Number: n})
			port = &dev.Ports[len(dev.Ports)-1]
		case "state":
			if port != nil {
				port.State = devinfoValue(value)
			}
		case "active_mtu":
			if port != nil {
				port.ActiveMTU = devinfoValue(value)
			}
		case "link_layer":
			if port != nil {
				port.LinkLayer = value
			}
		}
	}
	return devs
}

// IBDevices runs ibv_devinfo and returns the devices found.
func IBDevices(ctx context.Context) ([]IBDevice, error) {
	status, err := utils.RunCmd(ctx, "ibv_devinfo")
	if err != nil {
		return nil, err
	}
	devs := ParseIbvDevinfo(status.Stdout)
	if len(devs) == 0 {
		return nil, errors.New("ibv_devinfo reported no devices")
	}
	return devs, nil
}

// SysfsIBDevices lists the devices under /sys/class/infiniband.
func SysfsIBDevices() ([]string, error) {
	entries, err := os.ReadDir(sysInfiniband)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// IBInterfaces returns the IPoIB interfaces (link type infiniband) sorted by
// name.
func IBInterfaces() ([]net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var ib []net.Interface
	for _, iface := range ifaces {
		// ARPHRD_INFINIBAND
		b, err := os.ReadFile(filepath.Join("/sys/class/net", iface.Name, "type"))
		if err == nil && strings.TrimSpace(string(b)) == "32" {
			ib = append(ib, iface)
		}
	}
	sort.Slice(ib, func(i, j int) bool { return ib[i].Name < ib[j].Name })
	return ib, nil
}

// ibverbsPackages maps package managers to the package that ships the
// ibv_* tools.
var ibverbsPackages = map[utils.PackageManager]string{
	utils.Apt:    "ibverbs-utils",
	utils.Yum:    "libibverbs-utils",
	utils.Dnf:    "libibverbs-utils",
	utils.Zypper: "libibverbs-utils",
	utils.Tdnf:   "rdma-core",
}

// InstallIbVerbsUtils installs the ibverbs utilities if they are not already
// part of the image.
func InstallIbVerbsUtils(ctx context.Context, t *testing.T) {
	t.Helper()
	if utils.CheckLinuxCmdExists("ibv_devinfo") {
		return
	}
	pm, err := utils.DetectPackageManager()
	if err != nil {
		t.Fatalf("utils.DetectPackageManager() = %v, want nil", err)
	}
	if err := utils.InstallPackage(ctx, ibverbsPackages[pm]); err != nil {
		t.Fatalf("utils.InstallPackage(%s) = %v, want nil", ibverbsPackages[pm], err)
	}
}

// PingpongArgs returns the arguments of an ibv_*_pingpong invocation on dev
// port 1 with a fixed gid index. The client passes the server address.
func PingpongArgs(dev string, gidIndex int, server string) []string {
	args := []string{"-d", dev, "-i", "1", "-g", strconv.Itoa(gidIndex)}
	if server != "" {
		args = append(args, server)
	}
	return args
}

// IsConnectError reports whether output from a pingpong or MPI client shows
// that the server side was not listening yet.
func IsConnectError(output, target string) bool {
	return strings.Contains(output, "Couldn't connect to "+target) ||
		strings.Contains(output, "Connection refused")
}

// RunRDMAClientCommand executes a RDMA test command targeting the host
// address. The host must run the server side of the same command. It retries
// on connection errors, as the client might be ready before the host.
func RunRDMAClientCommand(ctx context.Context, t *testing.T, command string, args []string, target string) string {
	t.Helper()
	for {
		status, err := utils.RunCmd(ctx, command, args...)
		out := status.Combined()
		if err == nil {
			t.Logf("%s output:\n%s", command, out)
			return out
		}
		// Client may be ready before host, retry connection errors.
		if IsConnectError(out, target) {
			select {
			case <-ctx.Done():
				t.Logf("%s output:\n%s", command, out)
				t.Fatalf("context expired before connecting to host: %v\nlast %q error was: %v", ctx.Err(), command, err)
			case <-time.After(time.Second):
			}
			continue
		}

		t.Logf("%s output:\n%s", command, out)
		t.Fatalf("utils.RunCmd(%s) failed unexpectedly; err %v", command, err)
	}
}

// IMBPingpongArgs returns mpirun arguments for an IMB-MPI1 pingpong between
// hosts, one rank per host. A single host runs intra-node with two ranks.
func IMBPingpongArgs(imbPath string, hosts ...string) []string {
	if len(hosts) <= 1 {
		return []string{"--allow-run-as-root", "-np", "2", imbPath, "pingpong"}
	}
	return []string{
		"--allow-run-as-root",
		"--host", strings.Join(hosts, ","),
		"-np", strconv.Itoa(len(hosts)),
		"--map-by", "node",
		imbPath, "pingpong",
	}
}

// IMBRow is one message size line of an IMB pingpong table.
type IMBRow struct {
	Bytes       int64
	Repetitions int64
	LatencyUsec float64
	MBps        float64
}

// ParseIMBPingpong parses the result table printed by IMB-MPI1 pingpong:
// "#bytes #repetitions t[usec] Mbytes/sec".
func ParseIMBPingpong(out string) ([]IMBRow, error) {
	var rows []IMBRow
	inTable := false
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#bytes") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 4 {
			if len(rows) > 0 {
				break
			}
			continue
		}
		b, err1 := strconv.ParseInt(f[0], 10, 64)
		reps, err2 := strconv.ParseInt(f[1], 10, 64)
		lat, err3 := strconv.ParseFloat(f[2], 64)
		mbps, err4 := strconv.ParseFloat(f[3], 64)
		if err := errors.Join(err1, err2, err3, err4); err != nil {
			if len(rows) > 0 {
				break
			}
			continue
		}
		rows = append(rows, IMBRow{Bytes: b, Repetitions: reps, LatencyUsec: lat, MBps: mbps})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no IMB pingpong results found")
	}
	return rows, nil
}
