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

package guesttest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// ErrRunTimeout is returned when a suite binary outlives its timeout.
var ErrRunTimeout = errors.New("suite run timed out")

// RunOptions configure a suite binary invocation.
type RunOptions struct {
	// Run and Skip are regular expressions passed as -test.run and -test.skip.
	Run  string
	Skip string
	// Timeout bounds the whole binary. Zero means no timeout.
	Timeout time.Duration
	// ConstantsFile is exported to the binary through ConstantsEnv.
	ConstantsFile string
	// Dir is the working directory of the binary.
	Dir string
	// Output receives a copy of the binary's output as it is produced.
	Output io.Writer
}

// Args returns the command line arguments of a test binary for o.
func (o RunOptions) Args() []string {
	args := []string{"-test.v"}
	if o.Run != "" {
		args = append(args, "-test.run", o.Run)
	}
	if o.Skip != "" {
		args = append(args, "-test.skip", o.Skip)
	}
	if o.Timeout > 0 {
		args = append(args, "-test.timeout", o.Timeout.String())
	}
	return args
}

// RunTestBinary runs the compiled test binary at path and returns its
// combined output. A non-zero exit is returned as an error alongside the
// output, since failing tests also exit non-zero.
func RunTestBinary(ctx context.Context, path string, opts RunOptions) (string, error) {
	if opts.Timeout > 0 {
		// Leave the binary's own -test.timeout a chance to fire first so its
		// panic trace lands in the output.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout+time.Minute)
		defer cancel()
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, opts.Args()...)
	cmd.Dir = opts.Dir
	cmd.Env = os.Environ()
	if opts.ConstantsFile != "" {
		cmd.Env = append(cmd.Env, ConstantsEnv+"="+opts.ConstantsFile)
	}
	var w io.Writer = &out
	if opts.Output != nil {
		w = io.MultiWriter(&out, opts.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	if ctx.Err() != nil {
		return out.String(), fmt.Errorf("%w: %v", ErrRunTimeout, ctx.Err())
	}
	if err != nil && bytes.Contains(out.Bytes(), []byte("panic: test timed out after")) {
		return out.String(), fmt.Errorf("%w: %v", ErrRunTimeout, err)
	}
	if err != nil {
		return out.String(), fmt.Errorf("%s: %w", path, err)
	}
	return out.String(), nil
}
