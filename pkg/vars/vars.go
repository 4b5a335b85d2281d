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

// Package vars resolves module arguments: deferred symbolic references
// against a host's variable set, and the module/host-args/ref precedence
// merge used before a module is dispatched.
package vars

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetgate/fleetgate/pkg/inventory"
)

// SymbolicRef is a deferred lookup of a dotted path under a host's
// variables. It carries no inventory reference of its own; Deref supplies
// the host at resolution time, which is what makes it reusable across
// every host a module fans out to.
type SymbolicRef struct {
	Head string // top-level variable name
	Path []string
}

// ParseRef parses "head.a.b.c" into a SymbolicRef. A bare "head" with no
// dots yields an empty Path.
func ParseRef(expr string) SymbolicRef {
	parts := strings.Split(expr, ".")
	return SymbolicRef{Head: parts[0], Path: parts[1:]}
}

func (r SymbolicRef) String() string {
	if len(r.Path) == 0 {
		return r.Head
	}
	return r.Head + "." + strings.Join(r.Path, ".")
}

// Deref resolves r against vars, a host's already-merged variable map. It
// is pure: vars is never mutated, and the same ref against the same map
// always yields the same result.
func (r SymbolicRef) Deref(vars map[string]any) (any, error) {
	cur, ok := vars[r.Head]
	if !ok {
		return nil, fmt.Errorf("vars: %q is not defined", r.Head)
	}
	for i, seg := range r.Path {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, fmt.Errorf("vars: %q has no field %q", r.partial(i), seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("vars: %q is not a valid index into %q", seg, r.partial(i))
			}
			cur = v[idx]
		default:
			return nil, fmt.Errorf("vars: %q is a scalar, cannot descend into %q", r.partial(i), seg)
		}
	}
	return cur, nil
}

func (r SymbolicRef) partial(uptoExclusive int) string {
	if uptoExclusive == 0 {
		return r.Head
	}
	return r.Head + "." + strings.Join(r.Path[:uptoExclusive], ".")
}

// DerefAll walks args recursively, replacing every SymbolicRef it finds
// with its dereferenced value against vars. Maps and slices are copied,
// never mutated in place, so the caller's original args tree remains
// reusable across hosts.
func DerefAll(args map[string]any, hostVars map[string]any) (map[string]any, error) {
	out, err := derefValue(args, hostVars)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func derefValue(v any, hostVars map[string]any) (any, error) {
	switch t := v.(type) {
	case SymbolicRef:
		return t.Deref(hostVars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			rv, err := derefValue(vv, hostVars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			rv, err := derefValue(vv, hostVars)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// Merge produces the final argument map handed to a module invocation for
// host h, combining three layers in increasing precedence:
//
//  1. moduleArgs   - the literal arguments written at the call site
//  2. derefArgs    - moduleArgs after SymbolicRef entries are resolved
//     against the host's merged variables
//  3. hostArgs     - a per-host override map, when the call site supplied
//     one (e.g. a host_vars-style per-target override)
//
// Merge never mutates any of its inputs.
func Merge(inv *inventory.Inventory, h *inventory.Host, moduleArgs map[string]any, hostArgs map[string]any) (map[string]any, error) {
	hostVars := inv.Vars(h)
	deref, err := DerefAll(moduleArgs, hostVars)
	if err != nil {
		return nil, fmt.Errorf("vars: resolving args for host %s: %w", h.Name, err)
	}
	merged := make(map[string]any, len(deref)+len(hostArgs))
	for k, v := range deref {
		merged[k] = v
	}
	for k, v := range hostArgs {
		merged[k] = v
	}
	return merged, nil
}
