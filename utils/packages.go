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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// PackageManager is the command used to manage packages on the guest.
type PackageManager string

// Supported package managers.
const (
	Apt    PackageManager = "apt-get"
	Yum    PackageManager = "yum"
	Dnf    PackageManager = "dnf"
	Zypper PackageManager = "zypper"
	Tdnf   PackageManager = "tdnf"
)

var (
	// ErrPackageManagersNotFound is the error message returned when an object is not found.
	ErrPackageManagersNotFound = fmt.Errorf("no supported package managers found")
	// ErrPackageNotFound is returned when the repositories do not provide a package.
	ErrPackageNotFound = errors.New("package not found in repositories")

	// Detection order. yum stays ahead of dnf since older EL images ship a
	// dnf shim that is not usable.
	packageManagers = []PackageManager{Apt, Yum, Dnf, Zypper, Tdnf}

	zypperInstalledRe = regexp.MustCompile(`Installing: .*done`)
	yumErrorRe        = regexp.MustCompile(`(?m)^Error: Nothing to do`)
	yumNothingRe      = regexp.MustCompile(`(?m)^Nothing to do`)
)

// DetectPackageManager returns the first supported package manager found.
func DetectPackageManager() (PackageManager, error) {
	for _, pm := range packageManagers {
		if CheckLinuxCmdExists(string(pm)) {
			return pm, nil
		}
	}
	return "", ErrPackageManagersNotFound
}

func (pm PackageManager) installArgs(pkg string) []string {
	switch pm {
	case Zypper:
		return []string{"--non-interactive", "--no-gpg-checks", "install", pkg}
	default:
		return []string{"install", "-y", pkg}
	}
}

func (pm PackageManager) removeArgs(pkgs []string) []string {
	switch pm {
	case Zypper:
		return append([]string{"--non-interactive", "remove"}, pkgs...)
	default:
		return append([]string{"remove", "-y"}, pkgs...)
	}
}

func (pm PackageManager) refreshArgs() []string {
	switch pm {
	case Apt:
		return []string{"update"}
	case Zypper:
		return []string{"--non-interactive", "--gpg-auto-import-keys", "refresh"}
	default:
		return []string{"makecache", "-y"}
	}
}

func (pm PackageManager) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, string(pm), args...)
	if pm == Apt {
		cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")
	}
	return cmd
}

// InstallPackage installs the given packages on the guest, one at a time, and
// checks the package manager's output for each of them.
//
// It supports apt, yum, dnf, zypper and tdnf package managers. Returns
// ErrPackageManagersNotFound if none of the package managers are found.
func InstallPackage(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return fmt.Errorf("no packages to install")
	}
	pm, err := DetectPackageManager()
	if err != nil {
		return err
	}
	var errs []error
	for _, pkg := range packages {
		out, runErr := pm.command(ctx, pm.installArgs(pkg)...).CombinedOutput()
		if err := classifyInstallOutput(pm, pkg, string(out), runErr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// classifyInstallOutput decides whether installing pkg succeeded, based on
// the output of the package manager and its exit error. Failure markers are
// checked before success markers. For apt, yum, dnf and zypper an output
// without any known marker is a failure; tdnf falls back to the exit status.
func classifyInstallOutput(pm PackageManager, pkg, output string, runErr error) error {
	failed := func() error {
		return fmt.Errorf("%s install %s failed: %v\n%s", pm, pkg, runErr, output)
	}
	switch pm {
	case Apt:
		switch {
		case strings.Contains(output, "E: Unable to locate package"):
			return fmt.Errorf("%s: %w", pkg, ErrPackageNotFound)
		case strings.Contains(output, pkg+" is already the newest version"):
			return nil
		case strings.Contains(output, "Setting up "+pkg+" ("), strings.Contains(output, "Setting up "+pkg+":"):
			return nil
		}
		return failed()
	case Yum, Dnf:
		switch {
		case strings.Contains(output, "No package "+pkg+" available"),
			strings.Contains(output, "No match for argument: "+pkg),
			strings.Contains(output, "Unable to find a match"):
			return fmt.Errorf("%s: %w", pkg, ErrPackageNotFound)
		case yumErrorRe.MatchString(output):
			return failed()
		case strings.Contains(output, "Complete!"),
			strings.Contains(output, "already installed"),
			yumNothingRe.MatchString(output):
			return nil
		}
		return failed()
	case Zypper:
		switch {
		case strings.Contains(output, "No provider of '"+pkg+"' found"),
			strings.Contains(output, "'"+pkg+"' not found in package names"):
			return fmt.Errorf("%s: %w", pkg, ErrPackageNotFound)
		case strings.Contains(output, "'"+pkg+"' is already installed"),
			zypperInstalledRe.MatchString(output):
			return nil
		}
		return failed()
	case Tdnf:
		if strings.Contains(output, "No matching packages") {
			return fmt.Errorf("%s: %w", pkg, ErrPackageNotFound)
		}
	}
	if runErr != nil {
		return failed()
	}
	return nil
}

// UpdateRepos refreshes the package metadata, retrying on failure.
func UpdateRepos(ctx context.Context) error {
	pm, err := DetectPackageManager()
	if err != nil {
		return err
	}
	return Retry(ctx, 3, 10*time.Second, func() error {
		out, err := pm.command(ctx, pm.refreshArgs()...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s %v: %v\n%s", pm, pm.refreshArgs(), err, out)
		}
		return nil
	})
}

// RemovePackage removes the given packages.
func RemovePackage(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return fmt.Errorf("no packages to remove")
	}
	pm, err := DetectPackageManager()
	if err != nil {
		return err
	}
	if out, err := pm.command(ctx, pm.removeArgs(packages)...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s remove %v: %v\n%s", pm, packages, err, out)
	}
	return nil
}

// InstallLocalPackage installs a .deb or .rpm file already on the guest.
func InstallLocalPackage(ctx context.Context, path string) error {
	var name string
	var args []string
	switch filepath.Ext(path) {
	case ".deb":
		name, args = "dpkg", []string{"-i", path}
	case ".rpm":
		name, args = "rpm", []string{"-ivh", "--nodeps", path}
	default:
		return fmt.Errorf("unsupported package file %s", path)
	}
	_, err := RunCmd(ctx, name, args...)
	return err
}

// IsPackageInstalled reports whether pkg is installed.
func IsPackageInstalled(ctx context.Context, pkg string) bool {
	if CheckLinuxCmdExists("dpkg-query") {
		status, err := RunCmd(ctx, "dpkg-query", "-W", "-f=${Status}", pkg)
		return err == nil && strings.Contains(status.Stdout, "install ok installed")
	}
	if CheckLinuxCmdExists("rpm") {
		_, err := RunCmd(ctx, "rpm", "-q", pkg)
		return err == nil
	}
	return false
}

// InstalledPackages lists installed package names matching substr.
func InstalledPackages(ctx context.Context, substr string) ([]string, error) {
	var status ProcessStatus
	var err error
	switch {
	case CheckLinuxCmdExists("rpm"):
		status, err = RunCmd(ctx, "rpm", "-qa")
	case CheckLinuxCmdExists("dpkg-query"):
		status, err = RunCmd(ctx, "dpkg-query", "-W", "-f=${Package}\n")
	default:
		return nil, ErrPackageManagersNotFound
	}
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, line := range strings.Split(status.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.Contains(line, substr) {
			pkgs = append(pkgs, line)
		}
	}
	return pkgs, nil
}
