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
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ModuleState is the state of a kernel module on the running system.
type ModuleState int

const (
	// ModuleMissing means the module is neither loaded nor built in.
	ModuleMissing ModuleState = iota
	// ModuleLoaded means the module is loaded.
	ModuleLoaded
	// ModuleBuiltin means the module is compiled into the kernel.
	ModuleBuiltin
)

func (s ModuleState) String() string {
	switch s {
	case ModuleLoaded:
		return "loaded"
	case ModuleBuiltin:
		return "built-in"
	default:
		return "missing"
	}
}

// Root of the module and boot trees. Variables so tests can point them at
// a fixture tree.
var (
	modulesDir  = "/lib/modules"
	bootDir     = "/boot"
	procModules = "/proc/modules"
)

// KernelRelease returns the running kernel release, as uname -r prints it.
func KernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// ParseModinfo parses modinfo output into a field map. Fields repeated by
// modinfo, such as alias or parm, keep their first value.
func ParseModinfo(out string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, seen := fields[key]; seen || key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(val)
	}
	return fields
}

// ModuleVersion returns the version field reported by modinfo for name.
// Modules without a version field return an empty string.
func ModuleVersion(ctx context.Context, name string) (string, error) {
	status, err := RunCmd(ctx, "modinfo", name)
	if err != nil {
		return "", err
	}
	return ParseModinfo(status.Stdout)["version"], nil
}

// normalizeModule maps dashes to underscores the way the kernel does.
func normalizeModule(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// ParseProcModules returns the module names listed in /proc/modules content.
func ParseProcModules(content string) map[string]bool {
	mods := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			mods[normalizeModule(fields[0])] = true
		}
	}
	return mods
}

// LoadedModules returns the set of loaded modules.
func LoadedModules() (map[string]bool, error) {
	b, err := os.ReadFile(procModules)
	if err != nil {
		return nil, err
	}
	return ParseProcModules(string(b)), nil
}

// ParseBuiltinModules parses modules.builtin, which lists one module path
// per line, e.g. kernel/drivers/hv/hv_vmbus.ko.
func ParseBuiltinModules(content string) map[string]bool {
	mods := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		mods[moduleNameFromPath(line)] = true
	}
	return mods
}

func moduleNameFromPath(p string) string {
	base := path.Base(p)
	for _, ext := range []string{".xz", ".zst", ".gz"} {
		base = strings.TrimSuffix(base, ext)
	}
	return normalizeModule(strings.TrimSuffix(base, ".ko"))
}

// BuiltinModules returns the modules compiled into kernel release.
func BuiltinModules(release string) (map[string]bool, error) {
	b, err := os.ReadFile(filepath.Join(modulesDir, release, "modules.builtin"))
	if err != nil {
		return nil, err
	}
	return ParseBuiltinModules(string(b)), nil
}

// ParseKernelConfig parses a kernel .config into option values. Options
// set to "is not set" are omitted.
func ParseKernelConfig(content string) map[string]string {
	cfg := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		cfg[key] = strings.Trim(val, `"`)
	}
	return cfg
}

// KernelConfig reads /boot/config-<release>.
func KernelConfig(release string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Join(bootDir, "config-"+release))
	if err != nil {
		return nil, err
	}
	return ParseKernelConfig(string(b)), nil
}

// IsModuleBuiltin reports whether module name is compiled into kernel
// release, by modules.builtin.
func IsModuleBuiltin(release, name string) (bool, error) {
	mods, err := BuiltinModules(release)
	if err != nil {
		return false, err
	}
	return mods[normalizeModule(name)], nil
}

// ModuleStatus reports whether name is loaded, built in or missing.
func ModuleStatus(release, name string) (ModuleState, error) {
	loaded, err := LoadedModules()
	if err != nil {
		return ModuleMissing, err
	}
	if loaded[normalizeModule(name)] {
		return ModuleLoaded, nil
	}
	builtin, err := IsModuleBuiltin(release, name)
	if err != nil && !os.IsNotExist(err) {
		return ModuleMissing, err
	}
	if builtin {
		return ModuleBuiltin, nil
	}
	return ModuleMissing, nil
}

// InitrdPath returns the initramfs image of kernel release, trying the
// naming used by dracut and initramfs-tools.
func InitrdPath(release string) (string, error) {
	for _, name := range []string{
		"initramfs-" + release + ".img",
		"initrd.img-" + release,
		"initrd-" + release,
	} {
		p := filepath.Join(bootDir, name)
		if Exists(p, TypeFile) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no initrd found for kernel %s in %s", release, bootDir)
}

// InitrdModules returns the kernel modules packed into the initrd of
// release. It uses lsinitrd or lsinitramfs when available and falls back to
// reading the archive directly.
func InitrdModules(ctx context.Context, release string) (map[string]bool, error) {
	initrd, err := InitrdPath(release)
	if err != nil {
		return nil, err
	}
	var files []string
	switch {
	case CheckLinuxCmdExists("lsinitrd"):
		status, err := RunCmd(ctx, "lsinitrd", initrd)
		if err != nil {
			return nil, err
		}
		files = strings.Split(status.Stdout, "\n")
	case CheckLinuxCmdExists("lsinitramfs"):
		status, err := RunCmd(ctx, "lsinitramfs", initrd)
		if err != nil {
			return nil, err
		}
		files = strings.Split(status.Stdout, "\n")
	default:
		f, err := os.Open(initrd)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if files, err = ListInitrd(f); err != nil {
			return nil, fmt.Errorf("could not list %s: %w", initrd, err)
		}
	}
	return modulesFromListing(files), nil
}

func modulesFromListing(lines []string) map[string]bool {
	mods := make(map[string]bool)
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		// lsinitrd prints ls -l style lines; the path is the last field.
		p := fields[len(fields)-1]
		if strings.Contains(p, ".ko") {
			mods[moduleNameFromPath(p)] = true
		}
	}
	return mods
}

// ReloadModule unloads and loads name again.
func ReloadModule(ctx context.Context, name string) error {
	if _, err := RunCmd(ctx, "modprobe", "-r", name); err != nil {
		return fmt.Errorf("could not unload %s: %w", name, err)
	}
	if _, err := RunCmd(ctx, "modprobe", name); err != nil {
		return fmt.Errorf("could not load %s: %w", name, err)
	}
	return nil
}
