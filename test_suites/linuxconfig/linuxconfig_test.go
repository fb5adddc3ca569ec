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

package linuxconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/utils"
)

const (
	sshdConfigPath = "/etc/ssh/sshd_config"
	shadowPath     = "/etc/shadow"
	sudoersPath    = "/etc/sudoers"
	cmdlinePath    = "/proc/cmdline"
)

// History files checked in order; waagent -deprovision moves the root
// history to the first one.
var bashHistoryFiles = []string{"/root/default_bash_history", "/root/.bash_history"}

func guestConfig(t *testing.T) config {
	t.Helper()
	utils.LinuxOnly(t)
	cfg, err := loadConfig(guesttest.GuestConstants(t, RequiredConstants...))
	if err != nil {
		t.Fatalf("loadConfig() = %v, want nil", err)
	}
	return cfg
}

func distro(t *testing.T) utils.Distro {
	t.Helper()
	d, err := utils.GetDistro()
	if err != nil {
		t.Fatalf("utils.GetDistro() = %v, want nil", err)
	}
	return d
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile(%s) = %v, want nil", path, err)
	}
	return string(b)
}

func TestSSHDClientAliveInterval(t *testing.T) {
	cfg := guestConfig(t)
	utils.RootOnly(t)
	n, err := clientAliveInterval(readFile(t, sshdConfigPath), cfg.maxClientAlive)
	if err != nil {
		t.Fatalf("%s: %v", sshdConfigPath, err)
	}
	t.Logf("ClientAliveInterval is %d", n)
}

func TestRootPasswordLocked(t *testing.T) {
	guestConfig(t)
	utils.RootOnly(t)
	locked, err := rootPasswordLocked(readFile(t, shadowPath))
	if err != nil {
		t.Fatalf("%s: %v", shadowPath, err)
	}
	if !locked {
		t.Error("root has a usable password in /etc/shadow")
	}
}

func TestSerialConsoleLast(t *testing.T) {
	guestConfig(t)
	cmdline := readFile(t, cmdlinePath)
	if got := lastConsole(cmdline); got != "ttyS0" {
		t.Errorf("last console of %q = %q, want ttyS0", cmdline, got)
	}
}

func TestRootBashHistoryEmpty(t *testing.T) {
	cfg := guestConfig(t)
	if !cfg.checkHistory {
		t.Skip("CHECK_BASH_HISTORY is off")
	}
	utils.RootOnly(t)
	for _, f := range bashHistoryFiles {
		fi, err := os.Stat(f)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			t.Fatalf("os.Stat(%s) = %v, want nil", f, err)
		}
		if fi.Size() != 0 {
			t.Errorf("%s is not empty:\n%s", f, readFile(t, f))
		}
		return
	}
	t.Log("no root bash history")
}

func TestSudoersTargetpw(t *testing.T) {
	guestConfig(t)
	utils.RootOnly(t)
	if targetpwActive(readFile(t, sudoersPath)) {
		t.Errorf("%s has an uncommented Defaults targetpw", sudoersPath)
	}
}

func TestGrubParameters(t *testing.T) {
	cfg := guestConfig(t)
	utils.RootOnly(t)
	d := distro(t)
	var content string
	switch d.Family {
	case utils.FamilyCoreOS:
		// The boot partition is not mounted on CoreOS.
		content = readFile(t, cmdlinePath)
	case utils.FamilyDebian:
		files := []string{readFile(t, "/etc/default/grub")}
		extra, _ := filepath.Glob("/etc/default/grub.d/*.cfg")
		for _, f := range extra {
			files = append(files, readFile(t, f))
		}
		content = grubCmdline(files...)
	default:
		for _, f := range grubFiles(d) {
			if utils.Exists(f, utils.TypeFile) {
				content = readFile(t, f)
				t.Logf("checking %s", f)
				break
			}
		}
		if content == "" {
			t.Fatalf("none of %q exists", grubFiles(d))
		}
	}
	for _, p := range grubProblems(content, cfg.rootDelay) {
		t.Errorf("boot parameters: %s", p)
	}
}

func TestNetworkManagerAbsent(t *testing.T) {
	guestConfig(t)
	d := distro(t)
	if !networkManagerConflicts(d) {
		t.Skipf("NetworkManager does not conflict with the agent on %s %s", d.ID, d.Version)
	}
	if utils.IsPackageInstalled(utils.Context(t), "NetworkManager") {
		t.Errorf("NetworkManager is installed on %s %s", d.ID, d.Version)
	}
}

func TestPersistentNetRulesRemoved(t *testing.T) {
	guestConfig(t)
	d := distro(t)
	rules := persistentNetRules(d)
	if rules == nil {
		t.Skipf("no persistent net rules on %s", d.Family)
	}
	for _, f := range rules {
		if utils.Exists(f, utils.TypeFile) {
			t.Errorf("%s is present, NIC names will follow the MAC address", f)
		}
	}
}
