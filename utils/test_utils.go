// Copyright 2024 Google LLC.
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

// Package utils contains commonly needed utility functions for test suites
// inside the guest: distro detection, package installation, network and disk
// configuration, kernel module inspection and remote execution on peer VMs.
package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"
)

// ProcessStatus holds stdout, stderr and the exit code from an external command call.
type ProcessStatus struct {
	Stdout   string
	Stderr   string
	Exitcode int
}

// Combined returns stdout followed by stderr.
func (p ProcessStatus) Combined() string {
	if p.Stderr == "" {
		return p.Stdout
	}
	return p.Stdout + p.Stderr
}

// RunCmd runs name with args and returns its output. A non-zero exit is
// reported both in Exitcode and as an error.
func RunCmd(ctx context.Context, name string, args ...string) (ProcessStatus, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	status := ProcessStatus{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Exitcode = exitErr.ExitCode()
		} else {
			status.Exitcode = -1
		}
		return status, fmt.Errorf("%s %s: %v: %s", name, strings.Join(args, " "), err, strings.TrimSpace(status.Stderr))
	}
	return status, nil
}

// RunShell runs command through sh -c.
func RunShell(ctx context.Context, command string) (ProcessStatus, error) {
	return RunCmd(ctx, "sh", "-c", command)
}

// CheckLinuxCmdExists checks that a command exists on the linux image, and is executable.
func CheckLinuxCmdExists(cmd string) bool {
	cmdPath, err := exec.LookPath(cmd)
	// returns nil prior to go 1.19, exec.ErrDot after
	if errors.Is(err, exec.ErrDot) || err == nil {
		cmdFileInfo, err := os.Stat(cmdPath)
		if err == nil {
			return cmdFileInfo.Mode()&0111 != 0
		}
	}
	return false
}

// LinuxOnly skips tests not on Linux.
func LinuxOnly(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("test only runs on linux")
	}
}

// RootOnly skips tests when not running as root.
func RootOnly(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("test requires root")
	}
}

// Context returns a context to be used by test implementations, it handles
// the context cancellation based on the test's timeout(deadline), if no timeout
// is defined (or the deadline can't be assessed) then a plain background context
// is returned.
func Context(t *testing.T) context.Context {
	// If the test has a deadline defined use it as a last resort
	// context cancelation.
	if deadline, ok := t.Deadline(); ok {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		t.Cleanup(cancel)
		return ctx
	}

	// If there's not deadline defined then we just use a
	// plain background context as we won't need to cancel it.
	return context.Background()
}

// Retry calls fn up to attempts times, sleeping interval between failed
// attempts. It returns the last error, or the context error if ctx ends
// first.
func Retry(ctx context.Context, attempts int, interval time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

// FileType represents the type of file to check.
type FileType int

const (
	// TypeFile represents a file.
	TypeFile FileType = iota
	// TypeDir represents a directory.
	TypeDir
)

// Exists checks if a file or directory exists.
func Exists(path string, fileType FileType) bool {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return false
	}

	switch fileType {
	case TypeFile:
		return !fileInfo.IsDir()
	case TypeDir:
		return fileInfo.IsDir()
	default:
		return false
	}
}

// RunningProcess returns the first of names with a running process. It
// returns an empty string when none runs.
func RunningProcess(ctx context.Context, names ...string) (string, error) {
	status, err := RunCmd(ctx, "ps", "-e", "-o", "command")
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if processListContains(status.Stdout, name) {
			return name, nil
		}
	}
	return "", nil
}

// processListContains reports whether any line of `ps -o command` output
// runs processName, either by bare name or by path.
func processListContains(psOutput, processName string) bool {
	for _, process := range strings.Split(psOutput, "\n") {
		fields := strings.Fields(process)
		if len(fields) == 0 {
			continue
		}
		cmd := fields[0]
		if cmd == processName || strings.HasSuffix(cmd, "/"+processName) {
			return true
		}
	}
	return false
}

// CopyFile copies a file from the source to the destination.
func CopyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destination.Close()

	_, err = io.Copy(destination, source)
	return err
}
