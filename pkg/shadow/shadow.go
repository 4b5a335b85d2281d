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

// Package shadow implements the native actions that must run
// controller-side because they read local files or write to the
// controller: copy, template, fetch, ping, and wait_for_connection.
package shadow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/fleetgate/fleetgate/pkg/inventory"
	"github.com/fleetgate/fleetgate/pkg/transport"
)

// Dialer obtains a pooled transport connection for a host. Implemented by
// pkg/automation so shadow actions never depend on pool construction
// details.
type Dialer interface {
	Dial(ctx context.Context, h *inventory.Host) (*transport.Conn, func(), error)
}

// Executor runs the five native shadow actions.
type Executor struct {
	Dialer Dialer
	// Dispatch routes "ping" through the full local/remote dispatch
	// stack, per spec; set by pkg/automation, which builds the dispatcher
	// and imports this package, so this package cannot import it back.
	Dispatch func(ctx context.Context, h *inventory.Host, moduleName string, args map[string]any) (map[string]any, error)
}

// RunShadow implements pkg/dispatch.ShadowExecutor.
func (e *Executor) RunShadow(ctx context.Context, name string, inv *inventory.Inventory, h *inventory.Host, args map[string]any) (map[string]any, error) {
	switch name {
	case "copy":
		return e.Copy(ctx, h, args)
	case "template":
		return e.Template(ctx, h, args)
	case "fetch":
		return e.Fetch(ctx, h, args)
	case "ping":
		return e.Ping(ctx, h)
	case "wait_for_connection":
		return e.WaitForConnection(ctx, h, args)
	default:
		return nil, fmt.Errorf("shadow: %q is not a shadow action", name)
	}
}

// Copy implements the copy shadow action: write content (from src or
// content) to dest, idempotently. For remote hosts the write is staged
// to a temp path over SFTP, chmod/chown'd, then atomically renamed onto
// dest, mirroring the teacher's stage-then-install-then-rename pattern.
func (e *Executor) Copy(ctx context.Context, h *inventory.Host, args map[string]any) (map[string]any, error) {
	dest, _ := args["dest"].(string)
	if dest == "" {
		return nil, fmt.Errorf("shadow: copy requires dest")
	}
	content, err := copyContent(args)
	if err != nil {
		return nil, err
	}

	if h.Conn == inventory.ConnLocal {
		return e.copyLocal(dest, content, args)
	}
	return e.copyRemote(ctx, h, dest, content, args)
}

func copyContent(args map[string]any) ([]byte, error) {
	if c, ok := args["content"]; ok {
		s, ok := c.(string)
		if !ok {
			return nil, fmt.Errorf("shadow: copy content must be a string")
		}
		return []byte(s), nil
	}
	src, ok := args["src"].(string)
	if !ok || src == "" {
		return nil, fmt.Errorf("shadow: copy requires src or content")
	}
	bs, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("shadow: read src %s: %w", src, err)
	}
	return bs, nil
}

func (e *Executor) copyLocal(dest string, content []byte, args map[string]any) (map[string]any, error) {
	existing, err := os.ReadFile(dest)
	if err == nil && bytes.Equal(existing, content) {
		return map[string]any{"changed": false}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("shadow: mkdir for %s: %w", dest, err)
	}
	tmp := dest + ".fleetgate-tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return nil, fmt.Errorf("shadow: write temp file: %w", err)
	}
	if err := applyModeOwner(tmp, args, localChmod, nil); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("shadow: rename into place: %w", err)
	}
	return map[string]any{"changed": true}, nil
}

func (e *Executor) copyRemote(ctx context.Context, h *inventory.Host, dest string, content []byte, args map[string]any) (map[string]any, error) {
	conn, release, err := e.Dialer.Dial(ctx, h)
	if err != nil {
		return nil, err
	}
	defer release()

	cl, err := conn.SFTP()
	if err != nil {
		return nil, err
	}
	defer cl.Close()

	if unchanged, err := remoteContentEqual(cl, dest, content); err == nil && unchanged {
		return map[string]any{"changed": false}, nil
	}

	tmp := dest + ".fleetgate-tmp"
	f, err := cl.Create(tmp)
	if err != nil {
		return nil, &transport.Error{Kind: transport.SFTPFailed, Host: h.Name}
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return nil, fmt.Errorf("shadow: write remote temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("shadow: close remote temp file: %w", err)
	}
	if err := applyModeOwner(tmp, args, nil, cl); err != nil {
		return nil, err
	}
	if err := cl.Rename(tmp, dest); err != nil {
		return nil, fmt.Errorf("shadow: rename into place: %w", err)
	}
	return map[string]any{"changed": true}, nil
}

// remoteContentEqual implements the byte-for-byte read-back idempotence
// check: copy is a no-op iff the bytes already at dest equal content.
func remoteContentEqual(cl *sftp.Client, dest string, content []byte) (bool, error) {
	f, err := cl.Open(dest)
	if err != nil {
		return false, err
	}
	defer f.Close()
	existing, err := io.ReadAll(f)
	if err != nil {
		return false, err
	}
	return bytes.Equal(existing, content), nil
}

func localChmod(path string, mode os.FileMode) error { return os.Chmod(path, mode) }

func applyModeOwner(path string, args map[string]any, chmod func(string, os.FileMode) error, remote *sftp.Client) error {
	if m, ok := args["mode"]; ok {
		mode, err := parseMode(m)
		if err != nil {
			return err
		}
		if chmod != nil {
			if err := chmod(path, mode); err != nil {
				return fmt.Errorf("shadow: chmod: %w", err)
			}
		} else if remote != nil {
			if err := remote.Chmod(path, mode); err != nil {
				return fmt.Errorf("shadow: remote chmod: %w", err)
			}
		}
	}
	owner, hasOwner := args["owner"]
	group, hasGroup := args["group"]
	if hasOwner || hasGroup {
		uid, gid := -1, -1
		if hasOwner {
			uid, _ = strconv.Atoi(fmt.Sprint(owner))
		}
		if hasGroup {
			gid, _ = strconv.Atoi(fmt.Sprint(group))
		}
		if remote != nil {
			if err := remote.Chown(path, uid, gid); err != nil {
				return fmt.Errorf("shadow: remote chown: %w", err)
			}
		} else if chmod != nil {
			if err := os.Chown(path, uid, gid); err != nil {
				return fmt.Errorf("shadow: chown: %w", err)
			}
		}
	}
	return nil
}

func parseMode(v any) (os.FileMode, error) {
	switch m := v.(type) {
	case string:
		n, err := strconv.ParseUint(m, 8, 32)
		if err != nil {
			return 0, fmt.Errorf("shadow: invalid mode %q: %w", m, err)
		}
		return os.FileMode(n), nil
	case float64:
		return os.FileMode(uint32(m)), nil
	default:
		return 0, fmt.Errorf("shadow: invalid mode %v", v)
	}
}

// Template renders a Jinja-like template collaborator's output and
// reuses Copy's write contract. The rendering itself is delegated to an
// external Render function, treated as a pure text-transform collaborator
// per spec.
var Render = func(srcPath string, vars map[string]any) ([]byte, error) {
	return os.ReadFile(srcPath) // default: no-op rendering, pass-through
}

func (e *Executor) Template(ctx context.Context, h *inventory.Host, args map[string]any) (map[string]any, error) {
	src, _ := args["src"].(string)
	if src == "" {
		return nil, fmt.Errorf("shadow: template requires src")
	}
	rendered, err := Render(src, args)
	if err != nil {
		return nil, fmt.Errorf("shadow: render template: %w", err)
	}
	copyArgs := map[string]any{}
	for k, v := range args {
		copyArgs[k] = v
	}
	delete(copyArgs, "src")
	copyArgs["content"] = string(rendered)
	return e.Copy(ctx, h, copyArgs)
}

// Fetch reads remote src and writes it to the controller, under dest
// directly (flat=true) or under dest/<host>/<normalized src> otherwise.
func (e *Executor) Fetch(ctx context.Context, h *inventory.Host, args map[string]any) (map[string]any, error) {
	src, _ := args["src"].(string)
	dest, _ := args["dest"].(string)
	if src == "" || dest == "" {
		return nil, fmt.Errorf("shadow: fetch requires src and dest")
	}
	flat, _ := args["flat"].(bool)

	localDest := dest
	if !flat {
		normalized := strings.TrimPrefix(filepath.ToSlash(src), "/")
		localDest = filepath.Join(dest, h.Name, filepath.FromSlash(normalized))
	}
	if err := os.MkdirAll(filepath.Dir(localDest), 0755); err != nil {
		return nil, fmt.Errorf("shadow: mkdir for fetch dest: %w", err)
	}

	var content []byte
	var err error
	if h.Conn == inventory.ConnLocal {
		content, err = os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("shadow: read local src: %w", err)
		}
	} else {
		conn, release, derr := e.Dialer.Dial(ctx, h)
		if derr != nil {
			return nil, derr
		}
		defer release()
		cl, serr := conn.SFTP()
		if serr != nil {
			return nil, serr
		}
		defer cl.Close()
		f, oerr := cl.Open(src)
		if oerr != nil {
			return nil, fmt.Errorf("shadow: open remote src: %w", oerr)
		}
		defer f.Close()
		content, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("shadow: read remote src: %w", err)
		}
	}

	if err := os.WriteFile(localDest, content, 0644); err != nil {
		return nil, fmt.Errorf("shadow: write fetch dest: %w", err)
	}
	return map[string]any{"changed": true, "dest": localDest}, nil
}

// Ping executes "echo pong" through the full dispatch stack; success iff
// stdout trimmed equals "pong".
func (e *Executor) Ping(ctx context.Context, h *inventory.Host) (map[string]any, error) {
	out, err := e.Dispatch(ctx, h, "command", map[string]any{"cmd": "echo pong"})
	if err != nil {
		return nil, err
	}
	stdout, _ := out["stdout"].(string)
	if strings.TrimSpace(stdout) != "pong" {
		return map[string]any{"failed": true, "msg": fmt.Sprintf("unexpected ping reply: %q", stdout)}, nil
	}
	return map[string]any{"changed": false, "ping": "pong"}, nil
}

// WaitForConnection polls a TCP connect to (host, port) with an initial
// delay, inter-retry sleep, and an overall timeout.
func (e *Executor) WaitForConnection(ctx context.Context, h *inventory.Host, args map[string]any) (map[string]any, error) {
	delay := durationArg(args, "delay", 0)
	sleep := durationArg(args, "sleep", time.Second)
	timeout := durationArg(args, "timeout", 5*time.Minute)
	port := h.Port
	if p, ok := args["port"]; ok {
		port = int(toFloat(p))
	}
	addr := net.JoinHostPort(h.Address, strconv.Itoa(port))

	start := time.Now()
	deadline := start.Add(timeout)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for {
		d := net.Dialer{Timeout: sleep}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return map[string]any{"elapsed": time.Since(start).Seconds(), "changed": false}, nil
		}
		if time.Now().After(deadline) {
			return map[string]any{"failed": true, "msg": fmt.Sprintf("timed out waiting for %s: %v", addr, err)}, nil
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func durationArg(args map[string]any, key string, def time.Duration) time.Duration {
	v, ok := args[key]
	if !ok {
		return def
	}
	return time.Duration(toFloat(v) * float64(time.Second))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
