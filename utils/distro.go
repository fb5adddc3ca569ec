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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Family groups distros sharing a package manager and network config layout.
type Family string

// Supported distro families.
const (
	FamilyDebian  Family = "debian"
	FamilyRHEL    Family = "rhel"
	FamilySUSE    Family = "suse"
	FamilyCoreOS  Family = "coreos"
	FamilyMariner Family = "mariner"
	FamilyUnknown Family = "unknown"
)

// Distro describes the running Linux distribution.
type Distro struct {
	// ID is the normalized distro identifier, e.g. ubuntu, rhel, sles, oracle.
	ID string
	// Version is VERSION_ID, e.g. "22.04" or "8.6".
	Version string
	// Name is the human readable name.
	Name   string
	Family Family
}

// ErrDistroNotDetected is returned when no release file identifies the distro.
var ErrDistroNotDetected = errors.New("could not detect distro")

var (
	idAliases = map[string]string{
		"ol":                  "oracle",
		"redhat":              "rhel",
		"sles_sap":            "sles",
		"opensuse-leap":       "opensuse",
		"opensuse-tumbleweed": "opensuse",
		"azurelinux":          "mariner",
		"flatcar":             "coreos",
	}

	familyByID = map[string]Family{
		"ubuntu":    FamilyDebian,
		"debian":    FamilyDebian,
		"rhel":      FamilyRHEL,
		"centos":    FamilyRHEL,
		"oracle":    FamilyRHEL,
		"fedora":    FamilyRHEL,
		"almalinux": FamilyRHEL,
		"rocky":     FamilyRHEL,
		"sles":      FamilySUSE,
		"opensuse":  FamilySUSE,
		"coreos":    FamilyCoreOS,
		"mariner":   FamilyMariner,
	}

	// Checked in order against legacy release files.
	legacyPatterns = []struct {
		re *regexp.Regexp
		id string
	}{
		{regexp.MustCompile(`Ubuntu`), "ubuntu"},
		{regexp.MustCompile(`SUSE Linux`), "sles"},
		{regexp.MustCompile(`openSUSE`), "opensuse"},
		{regexp.MustCompile(`(?i)centos`), "centos"},
		{regexp.MustCompile(`Oracle`), "oracle"},
		{regexp.MustCompile(`Red Hat`), "rhel"},
		{regexp.MustCompile(`Fedora`), "fedora"},
		{regexp.MustCompile(`Debian`), "debian"},
		{regexp.MustCompile(`CoreOS|Flatcar`), "coreos"},
		{regexp.MustCompile(`Mariner|Azure Linux`), "mariner"},
	}
	versionRe = regexp.MustCompile(`(\d+(\.\d+)?)`)
)

// GetDistro detects the distro of the running system.
func GetDistro() (Distro, error) {
	return DetectDistro("/")
}

// DetectDistro detects the distro of the filesystem rooted at root, reading
// os-release first and legacy /etc/*-release files after.
func DetectDistro(root string) (Distro, error) {
	for _, p := range []string{"etc/os-release", "usr/lib/os-release"} {
		b, err := os.ReadFile(filepath.Join(root, p))
		if err != nil {
			continue
		}
		if d, err := ParseOSRelease(string(b)); err == nil {
			return d, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(root, "etc", "*-release"))
	if err != nil {
		return Distro{}, err
	}
	var sb strings.Builder
	for _, m := range matches {
		if b, err := os.ReadFile(m); err == nil {
			sb.Write(b)
			sb.WriteString("\n")
		}
	}
	return parseLegacyRelease(sb.String())
}

// ParseOSRelease parses the content of an os-release file.
func ParseOSRelease(content string) (Distro, error) {
	fields, err := godotenv.Unmarshal(content)
	if err != nil {
		return Distro{}, fmt.Errorf("could not parse os-release: %w", err)
	}
	id := strings.ToLower(fields["ID"])
	if id == "" {
		return Distro{}, ErrDistroNotDetected
	}
	if alias, ok := idAliases[id]; ok {
		id = alias
	}
	name := fields["PRETTY_NAME"]
	if name == "" {
		name = fields["NAME"]
	}
	d := Distro{ID: id, Version: fields["VERSION_ID"], Name: name, Family: familyOf(id, fields["ID_LIKE"])}
	return d, nil
}

func parseLegacyRelease(content string) (Distro, error) {
	for _, p := range legacyPatterns {
		if !p.re.MatchString(content) {
			continue
		}
		d := Distro{ID: p.id, Name: strings.TrimSpace(strings.SplitN(content, "\n", 2)[0]), Family: familyOf(p.id, "")}
		if m := versionRe.FindString(content); m != "" {
			d.Version = m
		}
		return d, nil
	}
	return Distro{}, ErrDistroNotDetected
}

func familyOf(id, idLike string) Family {
	if f, ok := familyByID[id]; ok {
		return f
	}
	for _, like := range strings.Fields(idLike) {
		if like == "suse" {
			return FamilySUSE
		}
		if f, ok := familyByID[like]; ok {
			return f
		}
	}
	return FamilyUnknown
}

// MajorVersion returns the integer major version, or 0 if unknown.
func (d Distro) MajorVersion() int {
	major, _, _ := strings.Cut(d.Version, ".")
	v, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return v
}

// Key returns a compact identifier used for exception matching, such as
// "ubuntu-2204" or "rhel-8".
func (d Distro) Key() string {
	if d.Version == "" {
		return d.ID
	}
	if d.ID == "ubuntu" {
		return d.ID + "-" + strings.ReplaceAll(d.Version, ".", "")
	}
	return fmt.Sprintf("%s-%d", d.ID, d.MajorVersion())
}

func (d Distro) String() string {
	return strings.TrimSpace(d.ID + " " + d.Version)
}

// IsUbuntu reports whether d is Ubuntu.
func (d Distro) IsUbuntu() bool { return d.ID == "ubuntu" }

// IsDebianFamily reports whether d uses apt and dpkg.
func (d Distro) IsDebianFamily() bool { return d.Family == FamilyDebian }

// IsRHELFamily reports whether d is an enterprise linux or Fedora.
func (d Distro) IsRHELFamily() bool { return d.Family == FamilyRHEL }

// IsSUSE reports whether d is SLES or openSUSE.
func (d Distro) IsSUSE() bool { return d.Family == FamilySUSE }

// IsCoreOS reports whether d is CoreOS or Flatcar.
func (d Distro) IsCoreOS() bool { return d.Family == FamilyCoreOS }

// IsMariner reports whether d is CBL-Mariner or Azure Linux.
func (d Distro) IsMariner() bool { return d.Family == FamilyMariner }
