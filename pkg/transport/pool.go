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

package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"sort"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool is a reference-counted set of live SSH connections, keyed by
// (host, port, user, auth fingerprint). Two dispatches against the same
// endpoint with the same auth share one underlying TCP connection.
type Pool struct {
	// closeParallelism bounds how many connections CloseAll tears down
	// concurrently.
	closeParallelism int64

	mu    sync.Mutex
	conns map[Key]*Conn
}

// NewPool returns an empty connection pool. closeParallelism bounds
// concurrent teardown in CloseAll; 0 means unbounded.
func NewPool(closeParallelism int64) *Pool {
	return &Pool{closeParallelism: closeParallelism, conns: map[Key]*Conn{}}
}

// AuthFingerprint derives a stable Key component from the list of
// authentication methods in use, so two otherwise-identical endpoints
// configured with different keys never share a connection.
func AuthFingerprint(material ...[]byte) string {
	h := sha256.New()
	for _, m := range material {
		h.Write(m)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Acquire returns a pooled connection for key, dialing a new one if none
// exists. An existing entry is reused without checking that its
// connection is still alive. The caller must call Release when done
// with it.
func (p *Pool) Acquire(ctx context.Context, key Key, addr string, clientConfig *ssh.ClientConfig) (*Conn, error) {
	p.mu.Lock()
	if c, ok := p.conns[key]; ok {
		c.mu.Lock()
		c.refs++
		c.mu.Unlock()
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := dial(ctx, key, addr, clientConfig)
	if err != nil {
		return nil, err
	}
	c.refs = 1

	p.mu.Lock()
	if existing, ok := p.conns[key]; ok {
		// Lost a race with a concurrent Acquire; keep theirs, drop ours.
		p.mu.Unlock()
		c.client.Close()
		existing.mu.Lock()
		existing.refs++
		existing.mu.Unlock()
		return existing, nil
	}
	p.conns[key] = c
	p.mu.Unlock()
	return c, nil
}

// Release drops a reference to c. It does not close the connection;
// connections are only closed by CloseAll or CloseIdle, so a burst of
// dispatches against the same host can keep reusing one link.
func (p *Pool) Release(c *Conn) {
	c.mu.Lock()
	if c.refs > 0 {
		c.refs--
	}
	c.mu.Unlock()
}

// CloseIdle closes and evicts every connection with zero outstanding
// references.
func (p *Pool) CloseIdle() error {
	p.mu.Lock()
	var idle []Key
	for k, c := range p.conns {
		c.mu.Lock()
		if c.refs == 0 {
			idle = append(idle, k)
		}
		c.mu.Unlock()
	}
	conns := make([]*Conn, 0, len(idle))
	for _, k := range idle {
		conns = append(conns, p.conns[k])
		delete(p.conns, k)
	}
	p.mu.Unlock()
	return p.closeAll(conns)
}

// CloseAll closes every pooled connection regardless of reference count,
// used on automation-context exit.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.conns))
	for k, c := range p.conns {
		conns = append(conns, c)
		delete(p.conns, k)
	}
	p.mu.Unlock()
	return p.closeAll(conns)
}

func (p *Pool) closeAll(conns []*Conn) error {
	sort.Slice(conns, func(i, j int) bool { return conns[i].key.String() < conns[j].key.String() })

	var eg errgroup.Group
	var sem *semaphore.Weighted
	if p.closeParallelism > 0 {
		sem = semaphore.NewWeighted(p.closeParallelism)
	}
	ctx := context.Background()
	for _, c := range conns {
		c := c
		eg.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
			}
			return c.client.Close()
		})
	}
	return eg.Wait()
}

func dial(ctx context.Context, key Key, addr string, clientConfig *ssh.ClientConfig) (*Conn, error) {
	d := net.Dialer{Timeout: DialTimeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		kind := HostUnreachable
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = ConnectTimeout
		}
		return nil, &Error{Kind: kind, Host: key.Host, Address: addr, User: key.User, err: err}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientConfig)
	if err != nil {
		netConn.Close()
		return nil, &Error{
			Kind: AuthFailed, Host: key.Host, Address: addr, User: key.User, err: err,
			Suggestions: []string{
				"check that the configured key is authorized for this user on the remote host",
				"verify the host key is trusted (known_hosts or configured callback)",
			},
		}
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	return &Conn{key: key, client: client}, nil
}
