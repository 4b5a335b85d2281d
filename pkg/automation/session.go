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

package automation

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	homedir "github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/fleetgate/fleetgate/pkg/gatebuild"
	"github.com/fleetgate/fleetgate/pkg/gatesession"
	"github.com/fleetgate/fleetgate/pkg/inventory"
	"github.com/fleetgate/fleetgate/pkg/transport"
)

// Acquire implements dispatch.SessionProvider: it returns a ready gate
// session for h, reusing an idle one from the host's pool or spawning a
// fresh gate when none is idle, bounded by the host's weighted semaphore
// (PerHost concurrent sessions).
func (c *Context) Acquire(ctx context.Context, h *inventory.Host) (*gatesession.Session, error) {
	hs := c.hostState(h)
	if err := hs.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("automation: acquiring session slot for %s: %w", h.Name, err)
	}

	hs.mu.Lock()
	if n := len(hs.idle); n > 0 {
		live := hs.idle[n-1]
		hs.idle = hs.idle[:n-1]
		hs.mu.Unlock()
		return live.sess, nil
	}
	hs.mu.Unlock()

	live, err := c.spawnSession(ctx, h)
	if err != nil {
		hs.sem.Release(1)
		return nil, err
	}
	c.livesMu.Lock()
	c.lives[live.sess] = live
	c.livesMu.Unlock()
	return live.sess, nil
}

// Release returns sess to its host's idle pool for reuse by a later
// dispatch, and frees the semaphore permit Acquire took.
func (c *Context) Release(h *inventory.Host, sess *gatesession.Session) {
	hs := c.hostState(h)
	c.livesMu.Lock()
	live, ok := c.lives[sess]
	c.livesMu.Unlock()
	if ok {
		hs.mu.Lock()
		hs.idle = append(hs.idle, live)
		hs.mu.Unlock()
	}
	hs.sem.Release(1)
}

// Poison discards sess: it is never returned to the idle pool, its
// underlying pooled connection reference is released, and the
// semaphore permit Acquire took is freed. The raw SSH connection itself
// may live on in the transport pool for other sessions on the same
// host; only this gate process's session is considered unrecoverable.
func (c *Context) Poison(h *inventory.Host, sess *gatesession.Session) {
	hs := c.hostState(h)
	c.livesMu.Lock()
	live, ok := c.lives[sess]
	delete(c.lives, sess)
	c.livesMu.Unlock()
	if ok {
		sess.Close(context.Background())
		c.pool.Release(live.conn)
	}
	hs.sem.Release(1)
}

// Dial implements shadow.Dialer: it hands a shadow action a pooled
// transport connection to h, independent of any gate session.
func (c *Context) Dial(ctx context.Context, h *inventory.Host) (*transport.Conn, func(), error) {
	conn, err := c.dialPooled(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { c.pool.Release(conn) }, nil
}

// spawnSession builds (or reuses a cached) gate archive for h's target
// interpreter, stages it over SFTP, decompresses and spawns it remotely,
// and completes the handshake, yielding a ready gatesession.Session.
func (c *Context) spawnSession(ctx context.Context, h *inventory.Host) (*liveSession, error) {
	archivePath, _, err := c.builder.Build(gatebuild.GateBuildConfig{
		ModuleNames:       c.registry.ClassicNames(),
		ModuleSearchRoots: c.cfg.ModuleSearchRoots,
		Dependencies:      c.cfg.Dependencies,
		TargetInterpreter: h.Interpreter,
	})
	if err != nil {
		return nil, fmt.Errorf("automation: building gate archive for %s: %w", h.Name, err)
	}
	zstPath, err := gatebuild.CompressForTransfer(archivePath)
	if err != nil {
		return nil, fmt.Errorf("automation: compressing gate archive for %s: %w", h.Name, err)
	}

	conn, err := c.dialPooled(ctx, h)
	if err != nil {
		return nil, err
	}

	// The archive itself is an estargz-wrapped tar blob (entry point,
	// modules/, helpers/ as internal entries), not a standalone
	// executable. The remote side decompresses the zstd transfer
	// envelope back into that blob, then untars just the entry-point
	// entry into a runnable file. The blob's remote path is passed to
	// the spawned entry point, which opens it only to log what it
	// bundles: classic modules arrive inline with each request, and FTL
	// requests resolve against the entry point's compiled-in registry.
	remoteZst := "/tmp/fleetgate-gate-" + filepath.Base(zstPath)
	remoteArchive := remoteZst[:len(remoteZst)-len(".zst")]
	remoteBin := remoteArchive + ".bin"
	if err := sftpUpload(conn, zstPath, remoteZst); err != nil {
		c.pool.Release(conn)
		return nil, fmt.Errorf("automation: staging gate archive to %s: %w", h.Name, err)
	}

	installCmd := fmt.Sprintf(
		"zstd -d -f -o %s %s && tar -xzf %s -O entrypoint > %s && chmod 0755 %s",
		remoteArchive, remoteZst, remoteArchive, remoteBin, remoteBin,
	)
	if _, stderr, err := conn.Run(installCmd, nil); err != nil {
		c.pool.Release(conn)
		return nil, fmt.Errorf("automation: installing gate on %s: %w (%s)", h.Name, err, stderr)
	}

	sshSess, err := conn.Client().NewSession()
	if err != nil {
		c.pool.Release(conn)
		return nil, fmt.Errorf("automation: opening gate process session on %s: %w", h.Name, err)
	}
	stdin, err := sshSess.StdinPipe()
	if err != nil {
		sshSess.Close()
		c.pool.Release(conn)
		return nil, fmt.Errorf("automation: gate stdin pipe on %s: %w", h.Name, err)
	}
	stdout, err := sshSess.StdoutPipe()
	if err != nil {
		sshSess.Close()
		c.pool.Release(conn)
		return nil, fmt.Errorf("automation: gate stdout pipe on %s: %w", h.Name, err)
	}
	if err := sshSess.Start(remoteBin + " " + remoteArchive); err != nil {
		sshSess.Close()
		c.pool.Release(conn)
		return nil, fmt.Errorf("automation: starting gate process on %s: %w", h.Name, err)
	}

	stream := gatesession.Stream{Reader: stdout, Writer: stdin, Closer: sshSess}
	sess := gatesession.New(stream, 0)
	if err := sess.Handshake(ctx, map[string]any{"fleetgate_version": 1}); err != nil {
		c.pool.Release(conn)
		return nil, fmt.Errorf("automation: handshake with gate on %s: %w", h.Name, err)
	}

	return &liveSession{sess: sess, conn: conn}, nil
}

// dialPooled resolves h's SSH client config and acquires a pooled
// transport connection, the shared plumbing behind both Dial and
// spawnSession.
func (c *Context) dialPooled(ctx context.Context, h *inventory.Host) (*transport.Conn, error) {
	clientConfig, err := sshClientConfig(h)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
	key := transport.Key{
		Host: h.Address,
		Port: h.Port,
		User: h.User,
		Auth: transport.AuthFingerprint([]byte(h.Auth.Password), []byte(h.Auth.PrivateKeyPath), []byte(h.Auth.Passphrase)),
	}
	return c.pool.Acquire(ctx, key, addr, clientConfig)
}

// sshClientConfig builds an *ssh.ClientConfig from h's Auth: password or
// private-key authentication, and host-key verification against
// known_hosts unless the host explicitly opts out. A run never silently
// trusts an unrecognized host key.
func sshClientConfig(h *inventory.Host) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if h.Auth.Password != "" {
		methods = append(methods, ssh.Password(h.Auth.Password))
	}
	if h.Auth.PrivateKeyPath != "" {
		signer, err := loadPrivateKey(h.Auth.PrivateKeyPath, h.Auth.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("automation: loading private key for %s: %w", h.Name, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("automation: host %s has no usable SSH credentials", h.Name)
	}

	hostKeyCallback, err := hostKeyCallback(h)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            h.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         transport.DialTimeout,
	}, nil
}

func loadPrivateKey(path, passphrase string) (ssh.Signer, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(bs, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(bs)
}

// sftpUpload copies localPath to remotePath over conn's SFTP subsystem.
func sftpUpload(conn *transport.Conn, localPath, remotePath string) error {
	cl, err := conn.SFTP()
	if err != nil {
		return err
	}
	defer cl.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := cl.Create(remotePath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func hostKeyCallback(h *inventory.Host) (ssh.HostKeyCallback, error) {
	if h.Auth.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := h.Auth.KnownHostsPath
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("automation: resolving default known_hosts path: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("automation: loading known_hosts %q: %w", path, err)
	}
	return cb, nil
}
