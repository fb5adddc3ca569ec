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

package lismodules

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/utils"
	"github.com/google/go-cmp/cmp"
)

// expectedVmbusDevices returns the VMBus device names every guest is
// offered. Confidential VMs get no input devices or KVP.
func expectedVmbusDevices(generation int, cvm bool) []string {
	names := []string{
		"Operating system shutdown",
		"Time Synchronization",
		"Heartbeat",
		utils.VmbusNetworkAdapter,
		utils.VmbusSCSIController,
	}
	if cvm {
		return names
	}
	names = append(names, "Data Exchange", "Synthetic mouse", "Synthetic keyboard")
	if generation == 1 {
		names = append(names, "Synthetic IDE Controller")
	}
	return names
}

// optionalModules returns the modules of hvModules a guest may lack.
func optionalModules(cfg config) []string {
	if cfg.cvm {
		return []string{"hid_hyperv", "hyperv_keyboard", "hv_balloon"}
	}
	return nil
}

// moduleConfigs maps each Hyper-V driver to the kernel config symbol
// building it.
var moduleConfigs = map[string]string{
	"hv_vmbus":        "CONFIG_HYPERV",
	"hv_netvsc":       "CONFIG_HYPERV_NET",
	"hv_storvsc":      "CONFIG_HYPERV_STORAGE",
	"hv_utils":        "CONFIG_HYPERV_UTILS",
	"hv_balloon":      "CONFIG_HYPERV_BALLOON",
	"hid_hyperv":      "CONFIG_HID_HYPERV_MOUSE",
	"hyperv_keyboard": "CONFIG_HYPERV_KEYBOARD",
}

// unconfiguredModules returns the modules of mods the kernel config neither
// builds in nor builds as a module, leaving out optional ones.
func unconfiguredModules(kconfig map[string]string, mods, optional []string) []string {
	var missing []string
	for _, m := range mods {
		if slices.Contains(optional, m) {
			continue
		}
		switch kconfig[moduleConfigs[m]] {
		case "y", "m":
		default:
			missing = append(missing, m)
		}
	}
	return missing
}

// optionalInitrdModules returns the modules of initrdModules the initrd may
// lack. Azure guests load the mouse driver after boot.
func optionalInitrdModules(cfg config) []string {
	if strings.EqualFold(cfg.platform, "Azure") {
		return []string{"hid_hyperv"}
	}
	return nil
}

// hypervPTPDevice returns the name of the PTP clock backed by the host.
// Accelerated networking adds more PTP clocks, so the device number varies.
func hypervPTPDevice(classDir string) (string, error) {
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(classDir, e.Name(), "clock_name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) == "hyperv" {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("no clock named hyperv under %s", classDir)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(guesttest.NewConstants(nil))
	if err != nil {
		t.Fatalf("loadConfig(defaults) = %v, want nil", err)
	}
	want := config{reloadModules: defaultReloadModules, reloadCount: 10, generation: 2, platform: "Azure"}
	if diff := cmp.Diff(want, cfg, cmp.AllowUnexported(config{})); diff != "" {
		t.Errorf("loadConfig(defaults) returned an unexpected diff (-want +got):\n%s", diff)
	}

	tests := []struct {
		name    string
		values  map[string]string
		wantErr bool
	}{
		{name: "lis", values: map[string]string{"LIS_VERSION": "4.3.5", "RELOAD_MODULES": "hv_netvsc", "RELOAD_COUNT": "100"}},
		{name: "gen1_cvm", values: map[string]string{"VM_GENERATION": "1", "CVM": "yes"}},
		{name: "reload_vmbus", values: map[string]string{"RELOAD_MODULES": "hv_utils,hv_vmbus"}, wantErr: true},
		{name: "zero_reloads", values: map[string]string{"RELOAD_COUNT": "0"}, wantErr: true},
		{name: "gen3", values: map[string]string{"VM_GENERATION": "3"}, wantErr: true},
		{name: "bad_cvm", values: map[string]string{"CVM": "maybe"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := Setup(guesttest.NewConstants(tc.values)); (err != nil) != tc.wantErr {
				t.Errorf("Setup(%v) = %v, want error %v", tc.values, err, tc.wantErr)
			}
		})
	}
}

func TestExpectedVmbusDevices(t *testing.T) {
	gen2 := expectedVmbusDevices(2, false)
	if len(gen2) != 8 {
		t.Errorf("expectedVmbusDevices(2, false) = %q, want 8 devices", gen2)
	}
	gen1 := expectedVmbusDevices(1, false)
	if gen1[len(gen1)-1] != "Synthetic IDE Controller" {
		t.Errorf("expectedVmbusDevices(1, false) = %q, want the IDE controller", gen1)
	}
	want := []string{"Operating system shutdown", "Time Synchronization", "Heartbeat", utils.VmbusNetworkAdapter, utils.VmbusSCSIController}
	if diff := cmp.Diff(want, expectedVmbusDevices(1, true)); diff != "" {
		t.Errorf("expectedVmbusDevices(1, true) returned an unexpected diff (-want +got):\n%s", diff)
	}
}

func TestOptionalModules(t *testing.T) {
	if got := optionalModules(config{generation: 2}); len(got) != 0 {
		t.Errorf("optionalModules(gen2) = %q, want none", got)
	}
	if got := optionalModules(config{cvm: true}); len(got) != 3 {
		t.Errorf("optionalModules(cvm) = %q, want 3 modules", got)
	}
	if got := optionalInitrdModules(config{platform: "azure"}); !cmp.Equal(got, []string{"hid_hyperv"}) {
		t.Errorf("optionalInitrdModules(azure) = %q, want [hid_hyperv]", got)
	}
	if got := optionalInitrdModules(config{platform: "HyperV"}); len(got) != 0 {
		t.Errorf("optionalInitrdModules(HyperV) = %q, want none", got)
	}
}

func TestHypervPTPDevice(t *testing.T) {
	dir := t.TempDir()
	for name, clock := range map[string]string{"ptp0": "mlx5_ptp\n", "ptp1": "hyperv\n"} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name, "clock_name"), []byte(clock), 0644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := hypervPTPDevice(dir)
	if err != nil || got != "ptp1" {
		t.Errorf("hypervPTPDevice() = %q, %v, want ptp1, nil", got, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ptp1", "clock_name"), []byte("kvm\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got, err := hypervPTPDevice(dir); err == nil || !strings.Contains(err.Error(), "hyperv") {
		t.Errorf("hypervPTPDevice(no hyperv clock) = %q, %v, want error", got, err)
	}
	if _, err := hypervPTPDevice(filepath.Join(dir, "missing")); err == nil {
		t.Errorf("hypervPTPDevice(missing dir) err = nil")
	}
}

func TestUnconfiguredModules(t *testing.T) {
	kconfig := utils.ParseKernelConfig(`CONFIG_HYPERV=y
CONFIG_HYPERV_NET=m
CONFIG_HYPERV_STORAGE=m
CONFIG_HYPERV_UTILS=m
# CONFIG_HYPERV_BALLOON is not set
CONFIG_HYPERV_KEYBOARD=m
`)
	mods := []string{"hv_vmbus", "hv_netvsc", "hv_storvsc", "hv_utils", "hv_balloon", "hid_hyperv", "hyperv_keyboard"}
	got := unconfiguredModules(kconfig, mods, nil)
	if diff := cmp.Diff([]string{"hv_balloon", "hid_hyperv"}, got); diff != "" {
		t.Errorf("unconfiguredModules() diff (-want +got):\n%s", diff)
	}
	if got := unconfiguredModules(kconfig, mods, []string{"hid_hyperv", "hv_balloon"}); len(got) != 0 {
		t.Errorf("unconfiguredModules(optional) = %v, want none", got)
	}
	for _, m := range mods {
		if moduleConfigs[m] == "" {
			t.Errorf("no kernel config symbol for %s", m)
		}
	}
}
