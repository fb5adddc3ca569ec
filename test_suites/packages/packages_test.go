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

package packages

import (
	"slices"
	"testing"

	"github.com/LIS/lis-guest-tests"
	"github.com/LIS/lis-guest-tests/utils"
)

// installedByTest holds the packages TestInstallPackages installed, so that
// TestRemovePackages leaves preinstalled packages alone.
var installedByTest []string

// expectedManagers returns the package managers a distro family ships.
func expectedManagers(d utils.Distro) []utils.PackageManager {
	switch d.Family {
	case utils.FamilyDebian:
		return []utils.PackageManager{utils.Apt}
	case utils.FamilyRHEL:
		return []utils.PackageManager{utils.Yum, utils.Dnf}
	case utils.FamilySUSE:
		return []utils.PackageManager{utils.Zypper}
	case utils.FamilyMariner:
		return []utils.PackageManager{utils.Tdnf, utils.Dnf}
	}
	return nil
}

func TestPackageManagerDetected(t *testing.T) {
	guesttest.GuestConstants(t)
	d, err := utils.GetDistro()
	if err != nil {
		t.Fatalf("utils.GetDistro() = %v, want nil", err)
	}
	want := expectedManagers(d)
	if len(want) == 0 {
		t.Skipf("%s has no package manager", d)
	}
	pm, err := utils.DetectPackageManager()
	if err != nil {
		t.Fatalf("utils.DetectPackageManager() = %v, want nil", err)
	}
	if !slices.Contains(want, pm) {
		t.Errorf("utils.DetectPackageManager() on %s = %s, want one of %v", d, pm, want)
	}
}

func TestUpdateRepos(t *testing.T) {
	guesttest.GuestConstants(t)
	utils.RootOnly(t)
	if err := utils.UpdateRepos(utils.Context(t)); err != nil {
		t.Fatalf("utils.UpdateRepos() = %v, want nil", err)
	}
}

func TestInstallPackages(t *testing.T) {
	c := guesttest.GuestConstants(t, RequiredConstants...)
	utils.RootOnly(t)
	for _, pkg := range c.List("PACKAGES") {
		t.Run(pkg, func(t *testing.T) {
			ctx := utils.Context(t)
			if utils.IsPackageInstalled(ctx, pkg) {
				t.Logf("%s is already installed", pkg)
				return
			}
			if err := utils.InstallPackage(ctx, pkg); err != nil {
				t.Fatalf("utils.InstallPackage(%s) = %v, want nil", pkg, err)
			}
			if !utils.IsPackageInstalled(ctx, pkg) {
				t.Fatalf("%s is not installed after utils.InstallPackage", pkg)
			}
			installedByTest = append(installedByTest, pkg)
		})
	}
}

func TestInstallLocalPackage(t *testing.T) {
	c := guesttest.GuestConstants(t)
	utils.RootOnly(t)
	path := c.String("LOCAL_PACKAGE", "")
	if path == "" {
		t.Skip("LOCAL_PACKAGE is not set")
	}
	if !utils.Exists(path, utils.TypeFile) {
		t.Fatalf("LOCAL_PACKAGE %s does not exist", path)
	}
	if err := utils.InstallLocalPackage(utils.Context(t), path); err != nil {
		t.Fatalf("utils.InstallLocalPackage(%s) = %v, want nil", path, err)
	}
}

func TestRemovePackages(t *testing.T) {
	c := guesttest.GuestConstants(t, RequiredConstants...)
	utils.RootOnly(t)
	if remove, _ := c.Bool("REMOVE_PACKAGES", true); !remove {
		t.Skip("REMOVE_PACKAGES is off")
	}
	if len(installedByTest) == 0 {
		t.Skip("no package was installed by this run")
	}
	ctx := utils.Context(t)
	if err := utils.RemovePackage(ctx, installedByTest...); err != nil {
		t.Fatalf("utils.RemovePackage(%v) = %v, want nil", installedByTest, err)
	}
	for _, pkg := range installedByTest {
		if utils.IsPackageInstalled(ctx, pkg) {
			t.Errorf("%s is still installed after utils.RemovePackage", pkg)
		}
	}
}
