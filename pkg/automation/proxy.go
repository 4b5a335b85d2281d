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
	"strings"

	"github.com/fleetgate/fleetgate/pkg/dispatch"
)

// Target is the common surface of everything Proxy can resolve a name
// to: a callable dispatch against whatever the name selected.
type Target interface {
	Call(ctx context.Context, moduleName string, args map[string]any) ([]dispatch.Result, error)
}

// Proxy resolves name to a Target: a host/group proxy if the inventory
// knows the name (after dash/underscore normalization), else a
// namespace proxy, for addressing a dotted fully-qualified module name
// one segment at a time before the final Call.
func (c *Context) Proxy(name string) Target {
	if _, ok := c.inv.Host(name); ok {
		return &HostProxy{ctx: c, target: name}
	}
	if _, ok := c.inv.Group(name); ok {
		return &HostProxy{ctx: c, target: name}
	}
	return &NamespaceProxy{ctx: c, prefix: name}
}

// HostProxy addresses a single host or group. Calling it dispatches a
// module by name; its named methods dispatch the five shadow actions
// directly, the way a caller who already knows which action they want
// would prefer over going through Call.
type HostProxy struct {
	ctx    *Context
	target string
}

// Call dispatches moduleName against the proxy's target.
func (p *HostProxy) Call(ctx context.Context, moduleName string, args map[string]any) ([]dispatch.Result, error) {
	return p.ctx.Run(ctx, p.target, moduleName, args, nil)
}

func (p *HostProxy) Copy(ctx context.Context, args map[string]any) ([]dispatch.Result, error) {
	return p.Call(ctx, "copy", args)
}

func (p *HostProxy) Template(ctx context.Context, args map[string]any) ([]dispatch.Result, error) {
	return p.Call(ctx, "template", args)
}

func (p *HostProxy) Fetch(ctx context.Context, args map[string]any) ([]dispatch.Result, error) {
	return p.Call(ctx, "fetch", args)
}

func (p *HostProxy) Ping(ctx context.Context) ([]dispatch.Result, error) {
	return p.Call(ctx, "ping", nil)
}

func (p *HostProxy) WaitForConnection(ctx context.Context, args map[string]any) ([]dispatch.Result, error) {
	return p.Call(ctx, "wait_for_connection", args)
}

// NamespaceProxy accumulates dotted segments of a fully-qualified
// module name (e.g. "apt.package" built from Proxy("apt").Segment
// ("package")) until Call runs it against the host or group bound by
// With, or against "all" when no target is bound.
type NamespaceProxy struct {
	ctx    *Context
	prefix string
	target string
}

// Segment extends the namespace by one more dotted component, returning
// a new proxy so the original is left unmodified.
func (p *NamespaceProxy) Segment(name string) *NamespaceProxy {
	return &NamespaceProxy{ctx: p.ctx, prefix: p.prefix + "." + name, target: p.target}
}

// With binds the host or group this namespace's module call will run
// against.
func (p *NamespaceProxy) With(target string) *NamespaceProxy {
	return &NamespaceProxy{ctx: p.ctx, prefix: p.prefix, target: target}
}

// Call dispatches the accumulated dotted name as a module call. moduleName,
// if non-empty, is appended as one more segment first, so a namespace
// proxy for "apt" can be called directly with "package" instead of
// requiring a prior Segment("package").
func (p *NamespaceProxy) Call(ctx context.Context, moduleName string, args map[string]any) ([]dispatch.Result, error) {
	full := p.prefix
	if moduleName != "" {
		full = strings.TrimSuffix(full, ".") + "." + moduleName
	}
	target := p.target
	if target == "" {
		target = "all"
	}
	return p.ctx.Run(ctx, target, full, args, nil)
}
