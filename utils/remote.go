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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const sshDialTimeout = 30 * time.Second

// CreateClient creates an ssh client to connect to host as user, authenticating
// with the private key in pembytes. host is "address:port".
func CreateClient(user, host string, pembytes []byte) (*ssh.Client, error) {
	// generate signer instance from plain key
	signer, err := ssh.ParsePrivateKey(pembytes)
	if err != nil {
		return nil, fmt.Errorf("parsing plain private key failed %v", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:    user,
		Auth:    []ssh.AuthMethod{ssh.PublicKeys(signer)},
		Timeout: sshDialTimeout,
	}
	// Test VMs are created fresh for every run, there is no known host key.
	sshConfig.HostKeyCallback = ssh.InsecureIgnoreHostKey()

	client, err := ssh.Dial("tcp", host, sshConfig)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Remote runs commands and copies files on a peer VM over ssh.
type Remote struct {
	Host   string
	client *ssh.Client
}

// DialRemote connects to host, retrying while sshd comes up.
func DialRemote(ctx context.Context, user, host string, pembytes []byte) (*Remote, error) {
	if !strings.Contains(host, ":") {
		host += ":22"
	}
	var client *ssh.Client
	err := Retry(ctx, 10, 10*time.Second, func() error {
		var err error
		client, err = CreateClient(user, host, pembytes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", host, err)
	}
	return &Remote{Host: host, client: client}, nil
}

// DialRemoteKeyFile is DialRemote with the private key read from keyFile.
func DialRemoteKeyFile(ctx context.Context, user, host, keyFile string) (*Remote, error) {
	pem, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("could not read ssh key: %w", err)
	}
	return DialRemote(ctx, user, host, pem)
}

// Close closes the connection.
func (r *Remote) Close() error {
	return r.client.Close()
}

func exitCode(err error) int {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	if err != nil {
		return -1
	}
	return 0
}

// Run runs cmd on the remote host and waits for it. The remote process is
// killed when ctx ends.
func (r *Remote) Run(ctx context.Context, cmd string) (ProcessStatus, error) {
	p, err := r.Start(cmd)
	if err != nil {
		return ProcessStatus{}, err
	}
	return p.Wait(ctx)
}

// RemoteProcess is a command started in the background on a remote host.
type RemoteProcess struct {
	cmd     string
	session *ssh.Session
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	// done is closed once the session has exited and err is set.
	done chan struct{}
	err  error
}

// Start starts cmd on the remote host without waiting for it. Callers must
// call Wait or Stop.
func (r *Remote) Start(cmd string) (*RemoteProcess, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create ssh session to %s: %v", r.Host, err)
	}
	p := &RemoteProcess{cmd: cmd, session: session, done: make(chan struct{})}
	session.Stdout = &p.stdout
	session.Stderr = &p.stderr
	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start %q on %s: %v", cmd, r.Host, err)
	}
	go func() {
		p.err = session.Wait()
		close(p.done)
	}()
	return p, nil
}

// Wait waits for the process to exit, or kills it when ctx ends first.
func (p *RemoteProcess) Wait(ctx context.Context) (ProcessStatus, error) {
	defer p.session.Close()
	var err error
	select {
	case <-p.done:
		err = p.err
	case <-ctx.Done():
		p.Stop()
		err = ctx.Err()
	}
	status := ProcessStatus{Stdout: p.stdout.String(), Stderr: p.stderr.String(), Exitcode: exitCode(err)}
	if err != nil {
		return status, fmt.Errorf("remote %q: %v: %s", p.cmd, err, strings.TrimSpace(status.Stderr))
	}
	return status, nil
}

// Stop kills the process and releases the session.
func (p *RemoteProcess) Stop() {
	p.session.Signal(ssh.SIGKILL)
	p.session.Close()
	<-p.done
}

// sftpClient opens an sftp session over the connection. The session is
// closed when ctx ends or done is called.
func (r *Remote) sftpClient(ctx context.Context) (c *sftp.Client, done func(), err error) {
	c, err = sftp.NewClient(r.client)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start sftp on %s: %v", r.Host, err)
	}
	stop := context.AfterFunc(ctx, func() { c.Close() })
	return c, func() {
		stop()
		c.Close()
	}, nil
}

// Upload copies the local file to remotePath with mode.
func (r *Remote) Upload(ctx context.Context, local, remotePath string, mode os.FileMode) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.UploadReader(ctx, f, remotePath, mode)
}

// UploadReader copies src to remotePath with mode.
func (r *Remote) UploadReader(ctx context.Context, src io.Reader, remotePath string, mode os.FileMode) error {
	c, done, err := r.sftpClient(ctx)
	if err != nil {
		return err
	}
	defer done()
	if err := putFile(c, src, remotePath, mode); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("upload to %s:%s: %w", r.Host, remotePath, err)
	}
	return nil
}

// ReadFile returns the content of remotePath.
func (r *Remote) ReadFile(ctx context.Context, remotePath string) (string, error) {
	c, done, err := r.sftpClient(ctx)
	if err != nil {
		return "", err
	}
	defer done()
	b, err := getFile(c, remotePath)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read %s:%s: %w", r.Host, remotePath, err)
	}
	return string(b), nil
}

// putFile writes src to p, truncating an existing file, and sets its mode.
func putFile(c *sftp.Client, src io.Reader, p string, mode os.FileMode) error {
	f, err := c.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return c.Chmod(p, mode.Perm())
}

func getFile(c *sftp.Client, p string) ([]byte, error) {
	f, err := c.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellCommand joins name and args into a command line for Remote.Run,
// quoting the arguments that need it.
func ShellCommand(name string, args ...string) string {
	parts := []string{name}
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t'\"$\\|&;<>()*?`") {
			a = shellQuote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
