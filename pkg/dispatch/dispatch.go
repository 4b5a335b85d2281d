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

package dispatch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetgate/fleetgate/pkg/gatesession"
	"github.com/fleetgate/fleetgate/pkg/inventory"
	"github.com/fleetgate/fleetgate/pkg/transport"
	"github.com/fleetgate/fleetgate/pkg/vars"
)

// SessionProvider obtains a ready GateSession for a host, building and
// staging a gate archive and performing the handshake as needed. It is
// implemented by pkg/automation, which owns the gate cache and transport
// pool; pkg/dispatch only consumes the interface so it never depends on
// gatebuild or transport wiring details.
type SessionProvider interface {
	Acquire(ctx context.Context, h *inventory.Host) (*gatesession.Session, error)
	// Poison is called instead of Release when the session must not be
	// returned to the pool (transport/protocol error, cancellation).
	Poison(h *inventory.Host, sess *gatesession.Session)
	Release(h *inventory.Host, sess *gatesession.Session)
}

// ShadowExecutor runs native shadow actions (copy, template, fetch,
// ping, wait_for_connection). Implemented by pkg/shadow; declared here to
// keep the dependency direction shadow -> dispatch, not the reverse.
type ShadowExecutor interface {
	RunShadow(ctx context.Context, name string, inv *inventory.Inventory, h *inventory.Host, args map[string]any) (map[string]any, error)
}

// Dispatcher resolves and executes one module call across a set of hosts.
type Dispatcher struct {
	Inventory   *inventory.Inventory
	Registry    *Registry
	Sessions    SessionProvider
	Shadow      ShadowExecutor
	Retry       RetryPolicy
	Concurrency int64 // global fan-out window; 0 means DefaultConcurrency

	// PerHost documents the per-host concurrent-session cap (default 1);
	// it is enforced by SessionProvider.Acquire, not here, since the
	// provider is what actually owns how many sessions exist per host.
	PerHost int64
}

const (
	DefaultConcurrency = 10
	MaxConcurrency     = 100
)

// Run resolves target to hosts and dispatches moduleName with moduleArgs
// to every one of them, honoring the bounded concurrency windows. It
// returns one Result per host, in no particular order.
func (d *Dispatcher) Run(ctx context.Context, target, moduleName string, moduleArgs map[string]any, hostArgs map[string]map[string]any) ([]Result, error) {
	hosts, err := d.Inventory.Resolve(target)
	if err != nil {
		return nil, err
	}

	n := d.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	if n > MaxConcurrency {
		n = MaxConcurrency
	}

	results := make([]Result, len(hosts))
	var eg errgroup.Group
	eg.SetLimit(int(n))
	for i, h := range hosts {
		i, h := i, h
		eg.Go(func() error {
			results[i] = d.dispatchOneHost(ctx, h, moduleName, moduleArgs, hostArgs[h.Name])
			return nil // each host is an independent failure domain; never abort the group
		})
	}
	eg.Wait()
	return results, nil
}

func (d *Dispatcher) dispatchOneHost(ctx context.Context, h *inventory.Host, moduleName string, moduleArgs map[string]any, perHostArgs map[string]any) Result {
	if IsShadowAction(moduleName) {
		merged, err := vars.Merge(d.Inventory, h, moduleArgs, perHostArgs)
		if err != nil {
			return Failure(h.Name, moduleName, err, 1)
		}
		out, err := d.Shadow.RunShadow(ctx, moduleName, d.Inventory, h, merged)
		if err != nil {
			return Failure(h.Name, moduleName, err, 1)
		}
		return Synthesize(h.Name, moduleName, out, 1)
	}

	kind, err := d.Registry.Resolve(moduleName)
	if err != nil {
		return Failure(h.Name, moduleName, err, 1)
	}

	retry := d.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(retry.Delay(attempt)):
			case <-ctx.Done():
				return Failure(h.Name, moduleName, ctx.Err(), attempt)
			}
		}

		merged, err := vars.Merge(d.Inventory, h, moduleArgs, perHostArgs)
		if err != nil {
			return Failure(h.Name, moduleName, err, attempt)
		}

		out, err := d.invoke(ctx, h, kind, moduleName, merged)
		if err == nil {
			return Synthesize(h.Name, moduleName, out, attempt)
		}

		lastErr = err
		var terr *transport.Error
		if !errors.As(err, &terr) || !terr.Kind.Transient() {
			// Not a transient transport failure: module-reported
			// failures, ModuleNotFound, and auth/exec errors never retry.
			return Failure(h.Name, moduleName, err, attempt)
		}
	}
	return Failure(h.Name, moduleName, lastErr, retry.MaxAttempts)
}

func (d *Dispatcher) invoke(ctx context.Context, h *inventory.Host, kind Kind, moduleName string, args map[string]any) (map[string]any, error) {
	if h.Conn == inventory.ConnLocal {
		if kind == KindFTL {
			fn, _ := d.Registry.LookupFTL(moduleName)
			return InvokeFTLLocal(ctx, fn, args)
		}
		bs, _ := d.Registry.LookupClassic(moduleName)
		return InvokeClassicLocal(ctx, ClassifyClassic(bs), bs, args)
	}

	sess, err := d.Sessions.Acquire(ctx, h)
	if err != nil {
		return nil, err
	}

	var moduleBytes []byte
	if kind == KindClassic {
		moduleBytes, _ = d.Registry.LookupClassic(moduleName)
	}

	out, err := InvokeRemote(ctx, sess, kind, moduleName, moduleBytes, args)
	if err != nil {
		d.Sessions.Poison(h, sess)
		return nil, err
	}
	d.Sessions.Release(h, sess)
	return out, nil
}
