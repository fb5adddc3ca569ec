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

// Package exceptions provides utilities for checking if a distro matches a
// list of exceptions. Distros are identified by their key, such as
// "ubuntu-2204", "rhel-8" or "sles-15".
package exceptions

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/LIS/lis-guest-tests/utils"
)

// ExceptionType represents the type of exception.
type ExceptionType int

const (
	// Equal checks if the value is equal to the threshold.
	Equal ExceptionType = iota
	// NotEqual checks if the value is not equal to the threshold.
	NotEqual
	// GreaterThan checks if the value is greater than the threshold.
	GreaterThan
	// LessThan checks if the value is less than the threshold.
	LessThan
	// GreaterThanOrEqualTo checks if the value is greater than or equal to the threshold.
	GreaterThanOrEqualTo
	// LessThanOrEqualTo checks if the value is less than or equal to the threshold.
	LessThanOrEqualTo
)

const (
	// DistroUbuntu matches all Ubuntu releases.
	DistroUbuntu = "ubuntu"
	// DistroDebian matches Debian.
	DistroDebian = "debian"
	// DistroRHEL matches Red Hat Enterprise Linux.
	DistroRHEL = "rhel"
	// DistroCentOS matches CentOS.
	DistroCentOS = "centos"
	// DistroOracle matches Oracle Linux.
	DistroOracle = "oracle"
	// DistroAlmaLinux matches AlmaLinux.
	DistroAlmaLinux = "almalinux"
	// DistroRocky matches Rocky Linux.
	DistroRocky = "rocky"
	// DistroSLES matches SUSE Linux Enterprise Server.
	DistroSLES = "sles"
	// DistroOpenSUSE matches openSUSE.
	DistroOpenSUSE = "opensuse"
	// DistroCoreOS matches CoreOS and Flatcar.
	DistroCoreOS = "coreos"
	// DistroMariner matches CBL-Mariner and Azure Linux.
	DistroMariner = "mariner"
)

var (
	elDistros   = []string{DistroRHEL, DistroCentOS, DistroOracle, DistroAlmaLinux, DistroRocky}
	suseDistros = []string{DistroSLES, DistroOpenSUSE}

	// DistroEL matches all enterprise linux distros.
	DistroEL = "(" + strings.Join(elDistros, "|") + ")"
	// DistroSUSE matches SLES and openSUSE.
	DistroSUSE = "(" + strings.Join(suseDistros, "|") + ")"
)

// Exception represents an exception.
type Exception struct {
	// Match is the regex to match the distro id, anchored at both ends.
	Match string
	// Version is the version of the distro for the exception. "rhel-8" has
	// the version 8, "ubuntu-2204" has the version 2204.
	//
	// A version of 0 means that the exception applies to all versions.
	Version int
	// Type is the type of exception. If unspecified, the default is Equal.
	Type ExceptionType
}

func compile(expr string) (*regexp.Regexp, bool) {
	// Anchored so that "rhel" does not match "rhel-sap" ids.
	regex, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compile regex: %v\n", err)
		return nil, false
	}
	return regex, true
}

// HasMatch returns true if the distro key matches any of the exceptions.
func HasMatch(key string, exceptions []Exception) bool {
	id, version := splitKey(key)
	for _, exception := range exceptions {
		regex, ok := compile(exception.Match)
		if !ok {
			return false
		}
		if !regex.MatchString(id) {
			continue
		}
		if exception.Version == 0 || checkException(version, exception) {
			return true
		}
	}
	return false
}

// DistroHasMatch is HasMatch for a detected distro.
func DistroHasMatch(d utils.Distro, exceptions []Exception) bool {
	return HasMatch(d.Key(), exceptions)
}

// splitKey splits "ubuntu-2204" into its id and numeric version. Ids may
// themselves contain dashes; the version is the last integer part.
func splitKey(key string) (string, int) {
	i := strings.LastIndex(key, "-")
	if i < 0 {
		return key, 0
	}
	v, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return key, 0
	}
	return key[:i], v
}

// checkException checks if the version matches the exception.
func checkException(version int, exception Exception) bool {
	switch exception.Type {
	case GreaterThan:
		return version > exception.Version
	case LessThan:
		return version < exception.Version
	case NotEqual:
		return version != exception.Version
	case GreaterThanOrEqualTo:
		return version >= exception.Version
	case LessThanOrEqualTo:
		return version <= exception.Version
	default:
		return version == exception.Version
	}
}
