// Copyright 2025 AUTHORS
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

// Package transport is the outbound SSH client used to reach a gate: a
// pooled, reference-counted set of connections keyed by
// (host, port, user, auth fingerprint), an SFTP client for staging gate
// archives and shadow-action file transfer, and a PTY-backed interactive
// shell convenience.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// DialTimeout bounds the TCP+handshake phase of Dial.
const DialTimeout = 30 * time.Second

// Key identifies a pooled connection. Two hosts that otherwise differ
// only by variable mapping but share address/port/user/auth share a
// connection.
type Key struct {
	Host string
	Port int
	User string
	Auth string // fingerprint of the auth method(s) in use
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%d#%s", k.User, k.Host, k.Port, k.Auth)
}

// Conn is a pooled, reference-counted SSH connection.
type Conn struct {
	key    Key
	client *ssh.Client

	mu       sync.Mutex
	refs     int
	closedAt time.Time
}

// Client wraps the underlying *ssh.Client for callers that need direct
// access (e.g. to open additional channels).
func (c *Conn) Client() *ssh.Client { return c.client }

// Run executes a single command on a fresh session over this connection
// and returns its captured stdout/stderr.
func (c *Conn) Run(cmd string, stdin io.Reader) (stdout, stderr []byte, err error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, nil, &Error{Kind: RemoteExecFailed, Host: c.key.Host, err: fmt.Errorf("open session: %w", err)}
	}
	defer sess.Close()

	var outBuf, errBuf bytes.Buffer
	sess.Stdout = &outBuf
	sess.Stderr = &errBuf
	sess.Stdin = stdin

	if err := sess.Run(cmd); err != nil {
		return outBuf.Bytes(), errBuf.Bytes(), &Error{Kind: RemoteExecFailed, Host: c.key.Host, err: err}
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

// SFTP opens a new SFTP client over this connection. Callers must Close
// it when finished; it does not hold the connection's reference count.
func (c *Conn) SFTP() (*sftp.Client, error) {
	cl, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, &Error{Kind: SFTPFailed, Host: c.key.Host, err: err}
	}
	return cl, nil
}

// Shell opens an interactive PTY session wired to localIn/localOut, and
// blocks until the remote shell exits. The remote PTY is sized cols x
// rows once, at start; later local terminal size changes are not
// propagated.
func (c *Conn) Shell(localIn io.Reader, localOut io.Writer, cols, rows int) error {
	sess, err := c.client.NewSession()
	if err != nil {
		return &Error{Kind: RemoteExecFailed, Host: c.key.Host, err: fmt.Errorf("open session: %w", err)}
	}
	defer sess.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm", rows, cols, modes); err != nil {
		return fmt.Errorf("transport: request pty: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		return fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return fmt.Errorf("transport: stdout pipe: %w", err)
	}
	sess.Stderr = localOut

	if err := sess.Shell(); err != nil {
		return fmt.Errorf("transport: start shell: %w", err)
	}

	done := make(chan struct{})
	go func() {
		io.Copy(stdin, localIn)
		close(done)
	}()
	go func() {
		io.Copy(localOut, stdout)
	}()

	err = sess.Wait()
	<-done
	return err
}

// LocalPTYSize reports the current size of the controlling terminal
// attached to f, for callers that want to size Shell's remote PTY to
// match their local one.
func LocalPTYSize(f *os.File) (cols, rows int, err error) {
	ws, err := pty.GetsizeFull(f)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Cols), int(ws.Rows), nil
}
