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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"golang.org/x/sys/unix"
)

const (
	// DefaultResourceDiskMountPoint is where waagent mounts the resource disk
	// unless configured otherwise.
	DefaultResourceDiskMountPoint = "/mnt/resource"
	// CloudInitResourceDiskMountPoint is where cloud-init mounts the resource
	// disk.
	CloudInitResourceDiskMountPoint = "/mnt"
	// RAIDDevice is the md device created over data disks.
	RAIDDevice = "/dev/md0"
)

var (
	// Checked in order; CoreOS and Flatcar keep the agent config under oem.
	waagentConfPaths = []string{"/etc/waagent.conf", "/usr/share/oem/waagent.conf"}
	// Symlinks to data disks by LUN, created by the Azure udev rules.
	azureDataDiskGlob = "/dev/disk/azure/scsi1/lun*"
	procMounts        = "/proc/mounts"
	procSwaps         = "/proc/swaps"
	systemRoot        = "/"

	// ErrNoOSDisk is returned when no block device holds the root filesystem.
	ErrNoOSDisk = errors.New("could not find the os disk")
)

// BlockDeviceList gives full information about blockdevices, from the output of lsblk.
type BlockDeviceList struct {
	BlockDevices []BlockDevice `json:"blockdevices,omitempty"`
}

// BlockDevice defines information about a single partition or disk in the output of lsblk.
type BlockDevice struct {
	Name string `json:"name,omitempty"`
	// on some OSes, size is a string, and on some OSes, size is a number.
	// This allows both to be parsed
	Size       json.Number `json:"size,omitempty"`
	Type       string      `json:"type,omitempty"`
	MountPoint string      `json:"mountpoint,omitempty"`
	// PKName is the parent kernel device name of partitions and volumes.
	PKName string `json:"pkname,omitempty"`
	FSType string `json:"fstype,omitempty"`
}

// SizeBytes returns the size of the device in bytes, or 0 if unknown.
func (b BlockDevice) SizeBytes() int64 {
	n, err := b.Size.Int64()
	if err != nil {
		return 0
	}
	return n
}

// Path returns the /dev path of the device.
func (b BlockDevice) Path() string {
	return "/dev/" + b.Name
}

// ParseLsblkJSON parses the output of lsblk -b -l --json.
func ParseLsblkJSON(out []byte) ([]BlockDevice, error) {
	var list BlockDeviceList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("could not parse lsblk output: %w", err)
	}
	return list.BlockDevices, nil
}

// ParseLsblkText parses lsblk -b -l -n -o NAME,SIZE,TYPE,MOUNTPOINT,PKNAME
// output from lsblk versions without json support. Empty trailing columns
// are dropped by lsblk, so they stay empty here too.
func ParseLsblkText(out string) []BlockDevice {
	var devs []BlockDevice
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if _, err := strconv.ParseInt(fields[1], 10, 64); err != nil {
			continue
		}
		dev := BlockDevice{Name: fields[0], Size: json.Number(fields[1]), Type: fields[2]}
		rest := fields[3:]
		if len(rest) > 0 && (strings.HasPrefix(rest[0], "/") || rest[0] == "[SWAP]") {
			dev.MountPoint, rest = rest[0], rest[1:]
		}
		if len(rest) > 0 {
			dev.PKName = rest[0]
		}
		devs = append(devs, dev)
	}
	return devs
}

// BlockDevices lists block devices and partitions as a flat list.
func BlockDevices(ctx context.Context) ([]BlockDevice, error) {
	if !CheckLinuxCmdExists("lsblk") {
		return nil, fmt.Errorf("could not find lsblk")
	}
	status, err := RunCmd(ctx, "lsblk", "-b", "-l", "-o", "NAME,SIZE,TYPE,MOUNTPOINT,PKNAME,FSTYPE", "--json")
	if err == nil {
		return ParseLsblkJSON([]byte(status.Stdout))
	}
	// execute lsblk without json as a backup
	status, textErr := RunCmd(ctx, "lsblk", "-b", "-l", "-n", "-o", "NAME,SIZE,TYPE,MOUNTPOINT,PKNAME")
	if textErr != nil {
		return nil, fmt.Errorf("failed to execute lsblk with and without json: %v, %v", err, textErr)
	}
	return ParseLsblkText(status.Stdout), nil
}

func deviceByName(devs []BlockDevice, name string) (BlockDevice, bool) {
	for _, d := range devs {
		if d.Name == name {
			return d, true
		}
	}
	return BlockDevice{}, false
}

// diskOf follows PKName links from dev up to the whole disk.
func diskOf(devs []BlockDevice, dev BlockDevice) (BlockDevice, bool) {
	for i := 0; i < len(devs); i++ {
		if dev.Type == "disk" {
			return dev, true
		}
		parent, ok := deviceByName(devs, dev.PKName)
		if !ok {
			return BlockDevice{}, false
		}
		dev = parent
	}
	return BlockDevice{}, false
}

func diskMountedAt(devs []BlockDevice, mountPoint string) (BlockDevice, bool) {
	for _, d := range devs {
		if d.MountPoint == mountPoint {
			return diskOf(devs, d)
		}
	}
	return BlockDevice{}, false
}

// OSDisk returns the disk holding the root filesystem.
func OSDisk(devs []BlockDevice) (BlockDevice, error) {
	if d, ok := diskMountedAt(devs, "/"); ok {
		return d, nil
	}
	return BlockDevice{}, ErrNoOSDisk
}

// GetOSDisk returns the /dev path of the disk holding the root filesystem.
func GetOSDisk(ctx context.Context) (string, error) {
	devs, err := BlockDevices(ctx)
	if err != nil {
		return "", err
	}
	d, err := OSDisk(devs)
	if err != nil {
		return "", err
	}
	return d.Path(), nil
}

// FilterDataDisks returns the disks that are neither the OS disk nor the
// resource disk mounted at resourceMount, sorted by name.
func FilterDataDisks(devs []BlockDevice, resourceMount string) []BlockDevice {
	exclude := make(map[string]bool)
	if d, ok := diskMountedAt(devs, "/"); ok {
		exclude[d.Name] = true
	}
	if d, ok := diskMountedAt(devs, resourceMount); ok {
		exclude[d.Name] = true
	}
	var disks []BlockDevice
	for _, d := range devs {
		if d.Type != "disk" || exclude[d.Name] {
			continue
		}
		if strings.HasPrefix(d.Name, "sr") || strings.HasPrefix(d.Name, "fd") {
			continue
		}
		disks = append(disks, d)
	}
	sort.Slice(disks, func(i, j int) bool { return disks[i].Name < disks[j].Name })
	return disks
}

// DataDisks returns the /dev paths of attached data disks. The Azure LUN
// symlinks are preferred; lsblk is used when they are missing.
func DataDisks(ctx context.Context) ([]string, error) {
	links, err := filepath.Glob(azureDataDiskGlob)
	if err != nil {
		return nil, err
	}
	var disks []string
	for _, l := range links {
		// Skip partition links such as lun0-part1.
		if strings.Contains(filepath.Base(l), "-part") {
			continue
		}
		target, err := filepath.EvalSymlinks(l)
		if err != nil {
			return nil, err
		}
		disks = append(disks, target)
	}
	if len(disks) > 0 {
		sort.Strings(disks)
		return disks, nil
	}
	devs, err := BlockDevices(ctx)
	if err != nil {
		return nil, err
	}
	mount, err := ResourceDiskMountPoint()
	if err != nil {
		mount = DefaultResourceDiskMountPoint
	}
	for _, d := range FilterDataDisks(devs, mount) {
		disks = append(disks, d.Path())
	}
	return disks, nil
}

// WaagentConfig loads the Azure Linux agent configuration.
func WaagentConfig() (*ini.File, string, error) {
	for _, p := range waagentConfPaths {
		if !Exists(p, TypeFile) {
			continue
		}
		cfg, err := ini.Load(p)
		if err != nil {
			return nil, p, fmt.Errorf("could not parse %s: %w", p, err)
		}
		return cfg, p, nil
	}
	return nil, "", fmt.Errorf("waagent.conf not found in %v: %w", waagentConfPaths, os.ErrNotExist)
}

// WaagentOption returns option key of the agent config, or def when unset.
func WaagentOption(cfg *ini.File, key, def string) string {
	k := cfg.Section("").Key(key)
	if k.String() == "" {
		return def
	}
	return k.String()
}

// WaagentFlag reports whether the yes/no option key of the agent config is
// enabled. Unset options are disabled.
func WaagentFlag(cfg *ini.File, key string) bool {
	return yesValue(WaagentOption(cfg, key, "n"))
}

// CloudInitEnabled reports whether cloud-init provisioned the system below
// root: it wrote var/log/cloud-init.log and linked var/lib/cloud/instance to
// the current instance directory.
func CloudInitEnabled(root string) bool {
	if _, err := os.Stat(filepath.Join(root, "var/log/cloud-init.log")); err != nil {
		return false
	}
	fi, err := os.Lstat(filepath.Join(root, "var/lib/cloud/instance"))
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}

// ResourceDiskMountPointFrom returns where the resource disk is mounted.
// cloud-init mounts it at /mnt, otherwise the agent config decides.
func ResourceDiskMountPointFrom(cfg *ini.File, cloudInit bool) string {
	if cloudInit {
		return CloudInitResourceDiskMountPoint
	}
	if cfg == nil {
		return DefaultResourceDiskMountPoint
	}
	return WaagentOption(cfg, "ResourceDisk.MountPoint", DefaultResourceDiskMountPoint)
}

// ResourceDiskMountPoint returns where the resource disk should be mounted
// on this VM.
func ResourceDiskMountPoint() (string, error) {
	cloudInit := CloudInitEnabled(systemRoot)
	cfg, _, err := WaagentConfig()
	if errors.Is(err, os.ErrNotExist) {
		return ResourceDiskMountPointFrom(nil, cloudInit), nil
	}
	if err != nil {
		return "", err
	}
	return ResourceDiskMountPointFrom(cfg, cloudInit), nil
}

func yesValue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true", "1":
		return true
	}
	return false
}

// PartitionName returns the name of partition n of disk, e.g. /dev/sdc1 or
// /dev/nvme0n1p1.
func PartitionName(disk string, n int) (string, error) {
	if disk == "" {
		return "", errors.New("empty disk name")
	}
	if n < 1 {
		return "", fmt.Errorf("invalid partition number %d", n)
	}
	if last := disk[len(disk)-1]; last >= '0' && last <= '9' {
		return fmt.Sprintf("%sp%d", disk, n), nil
	}
	return fmt.Sprintf("%s%d", disk, n), nil
}

// fdiskScript creates one primary partition spanning the disk.
const fdiskScript = "n\np\n1\n\n\nw\n"

// PartitionDisk creates a single primary partition over disk and returns
// the partition device.
func PartitionDisk(ctx context.Context, disk string) (string, error) {
	part, err := PartitionName(disk, 1)
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, "fdisk", disk)
	cmd.Stdin = strings.NewReader(fdiskScript)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("fdisk %s: %v\n%s", disk, err, out)
	}
	// Let udev create the partition node.
	if CheckLinuxCmdExists("partprobe") {
		if status, err := RunCmd(ctx, "partprobe", disk); err != nil {
			return "", fmt.Errorf("partprobe %s: %v\n%s", disk, err, status.Stderr)
		}
	}
	return part, nil
}

// RAID0Args returns the mdadm arguments creating a RAID0 array over devices.
func RAID0Args(devices []string) []string {
	args := []string{"--create", RAIDDevice, "--level=0", fmt.Sprintf("--raid-devices=%d", len(devices)), "--force", "--run"}
	return append(args, devices...)
}

// CreateRAID0 stripes devices into /dev/md0.
func CreateRAID0(ctx context.Context, devices []string) (string, error) {
	if len(devices) < 2 {
		return "", fmt.Errorf("raid0 needs at least 2 devices, got %d", len(devices))
	}
	if _, err := RunCmd(ctx, "mdadm", RAID0Args(devices)...); err != nil {
		return "", err
	}
	return RAIDDevice, nil
}

// StopRAID stops the md device.
func StopRAID(ctx context.Context, device string) error {
	_, err := RunCmd(ctx, "mdadm", "--stop", device)
	return err
}

// MakeFilesystem formats device with fstype.
func MakeFilesystem(ctx context.Context, device, fstype string) error {
	force := "-F"
	if fstype == "xfs" || fstype == "btrfs" {
		force = "-f"
	}
	_, err := RunCmd(ctx, "mkfs."+fstype, force, device)
	return err
}

// Mount mounts device at dir, creating dir when needed.
func Mount(ctx context.Context, device, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if _, err := RunCmd(ctx, "mount", device, dir); err != nil {
		return err
	}
	mounted, err := IsMounted(dir)
	if err != nil {
		return err
	}
	if !mounted {
		return fmt.Errorf("%s is not mounted at %s after mount", device, dir)
	}
	return nil
}

// Unmount unmounts dir.
func Unmount(dir string) error {
	if err := unix.Unmount(dir, 0); err != nil {
		return fmt.Errorf("umount %s: %w", dir, err)
	}
	return nil
}

// DiskUsage returns the total and available bytes of the filesystem at path.
func DiskUsage(path string) (total, avail uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Blocks * uint64(st.Bsize), st.Bavail * uint64(st.Bsize), nil
}

// FstabEntry is one line of fstab or /proc/mounts.
type FstabEntry struct {
	Device     string
	MountPoint string
	FSType     string
	Options    []string
	Dump       int
	Pass       int
}

// ParseFstab parses fstab formatted content, skipping comments.
func ParseFstab(content string) []FstabEntry {
	var entries []FstabEntry
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		e := FstabEntry{Device: fields[0], MountPoint: fields[1], FSType: fields[2]}
		if len(fields) > 3 {
			e.Options = strings.Split(fields[3], ",")
		}
		if len(fields) > 4 {
			e.Dump, _ = strconv.Atoi(fields[4])
		}
		if len(fields) > 5 {
			e.Pass, _ = strconv.Atoi(fields[5])
		}
		entries = append(entries, e)
	}
	return entries
}

// Mounts returns the mounted filesystems.
func Mounts() ([]FstabEntry, error) {
	b, err := os.ReadFile(procMounts)
	if err != nil {
		return nil, err
	}
	return ParseFstab(string(b)), nil
}

// IsMounted reports whether a filesystem is mounted at dir.
func IsMounted(dir string) (bool, error) {
	mounts, err := Mounts()
	if err != nil {
		return false, err
	}
	dir = filepath.Clean(dir)
	for _, m := range mounts {
		if m.MountPoint == dir {
			return true, nil
		}
	}
	return false, nil
}

// SwapDevices parses /proc/swaps content into the active swap devices.
func SwapDevices(content string) []string {
	var devs []string
	lines := strings.Split(content, "\n")
	for _, line := range lines[1:] {
		if fields := strings.Fields(line); len(fields) > 0 {
			devs = append(devs, fields[0])
		}
	}
	return devs
}

// SwapEnabled reports whether any swap device or file is active.
func SwapEnabled() (bool, error) {
	b, err := os.ReadFile(procSwaps)
	if err != nil {
		return false, err
	}
	return len(SwapDevices(string(b))) > 0, nil
}

// BlkidUUID returns the filesystem UUID of device.
func BlkidUUID(ctx context.Context, device string) (string, error) {
	status, err := RunCmd(ctx, "blkid", "-s", "UUID", "-o", "value", device)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(status.Stdout), nil
}
