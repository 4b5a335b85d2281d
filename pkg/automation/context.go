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

// Package automation is the context façade a run is built around: it
// owns the transport pool, the gate builder and cache, one reused gate
// session per host, the dispatcher, and the results accumulator, and
// exposes the host/group/module proxy surface described by spec.md
// §4.10. It implements dispatch.SessionProvider and shadow.Dialer so
// pkg/dispatch and pkg/shadow never depend on connection or build
// plumbing directly.
package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"tailscale.com/syncs"
	"tailscale.com/util/set"

	"github.com/fleetgate/fleetgate/pkg/dispatch"
	"github.com/fleetgate/fleetgate/pkg/gatebuild"
	"github.com/fleetgate/fleetgate/pkg/gatesession"
	"github.com/fleetgate/fleetgate/pkg/inventory"
	"github.com/fleetgate/fleetgate/pkg/metrics"
	"github.com/fleetgate/fleetgate/pkg/progress"
	"github.com/fleetgate/fleetgate/pkg/shadow"
	"github.com/fleetgate/fleetgate/pkg/state"
	"github.com/fleetgate/fleetgate/pkg/transport"
)

// Config configures a Context.
type Config struct {
	Inventory *inventory.Inventory
	Registry  *dispatch.Registry

	// CacheDir and HelperSearchPaths feed the gate builder; see
	// gatebuild.Builder.
	CacheDir          string
	ModuleSearchRoots []string
	HelperSearchPaths []string
	Dependencies      []string
	EntryPoint        []byte
	EntryPointPath    string

	// StateFile, if set, names the durable state document the context
	// loads at entry and keeps current as hosts are added: its hosts are
	// merged into Inventory (creating groups as needed), and AddHost
	// writes through to both in a single call.
	StateFile string

	// Concurrency is the global fan-out window; PerHost is the
	// concurrent-session cap per host. Both default as documented on
	// dispatch.Dispatcher.
	Concurrency int64
	PerHost     int64

	// ClosePoolParallelism bounds how many connections Close tears down
	// concurrently.
	ClosePoolParallelism int64

	// GracePeriod bounds how long Close waits for in-flight dispatches
	// to drain cooperatively before the pool is force-closed.
	GracePeriod time.Duration

	Metrics *metrics.Recorder
}

const defaultPerHost = 1
const defaultGracePeriod = 5 * time.Second

// Context is one run's façade over dispatch, transport, and the gate
// build/cache.
type Context struct {
	cfg      Config
	inv      *inventory.Inventory
	registry *dispatch.Registry
	pool     *transport.Pool
	builder  *gatebuild.Builder
	dispatch *dispatch.Dispatcher
	shadow   *shadow.Executor
	results  *ResultAccumulator
	metrics  *metrics.Recorder
	state    *state.Store

	runCtx context.Context
	cancel context.CancelFunc
	wg     syncs.WaitGroup

	sinksMu sync.Mutex
	sinks   set.HandleSet[progress.Sink]

	hostsMu sync.Mutex
	hosts   map[string]*hostState

	livesMu sync.Mutex
	lives   map[*gatesession.Session]*liveSession
}

// New builds a Context ready to dispatch against cfg.Inventory. If
// cfg.StateFile is set, the state document is loaded and its hosts are
// merged into cfg.Inventory before the dispatcher is built, so a run
// sees hosts recorded by earlier add_host calls without needing them
// re-declared in the inventory file.
func New(cfg Config) (*Context, error) {
	if cfg.PerHost <= 0 {
		cfg.PerHost = defaultPerHost
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c := &Context{
		cfg:      cfg,
		inv:      cfg.Inventory,
		registry: cfg.Registry,
		pool:     transport.NewPool(cfg.ClosePoolParallelism),
		builder: &gatebuild.Builder{
			CacheDir:          cfg.CacheDir,
			HelperSearchPaths: cfg.HelperSearchPaths,
			EntryPoint:        cfg.EntryPoint,
			EntryPointPath:    cfg.EntryPointPath,
		},
		results: &ResultAccumulator{},
		metrics: cfg.Metrics,
		runCtx:  runCtx,
		cancel:  cancel,
		hosts:   map[string]*hostState{},
		lives:   map[*gatesession.Session]*liveSession{},
	}

	if cfg.StateFile != "" {
		store, err := state.Open(cfg.StateFile)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("automation: opening state file %s: %w", cfg.StateFile, err)
		}
		c.state = store
		c.mergeStateHosts()
	}

	c.shadow = &shadow.Executor{Dialer: c, Dispatch: c.dispatchModule}
	c.dispatch = &dispatch.Dispatcher{
		Inventory:   cfg.Inventory,
		Registry:    cfg.Registry,
		Sessions:    c,
		Shadow:      c.shadow,
		Concurrency: cfg.Concurrency,
		PerHost:     cfg.PerHost,
	}
	return c, nil
}

// mergeStateHosts replays every host recorded in c.state into c.inv,
// creating any groups the record names. An inventory-declared host of
// the same name wins: the inventory file is the operator's source of
// truth, and the state file only fills in hosts it doesn't already know.
func (c *Context) mergeStateHosts() {
	for _, hr := range c.state.HostRecords() {
		if _, ok := c.inv.Host(hr.Name); ok {
			continue
		}
		if err := c.inv.AddHost(&inventory.Host{
			Name:    hr.Name,
			Address: hr.Address,
			User:    hr.User,
			Port:    hr.Port,
			Vars:    hr.Extras,
		}); err != nil {
			continue
		}
		for _, g := range hr.Groups {
			c.inv.AddGroup(&inventory.Group{Name: g, Hosts: []string{hr.Name}})
		}
	}
}

// AddHost adds name to the inventory and, if a state file is configured,
// persists it there in the same call, so a process restart against the
// same state file reconstructs the same host (spec's add_host contract).
func (c *Context) AddHost(name, address, user string, port int, groups []string, extras map[string]any) error {
	if err := c.inv.AddHost(&inventory.Host{
		Name:    name,
		Address: address,
		User:    user,
		Port:    port,
		Vars:    extras,
	}); err != nil {
		return err
	}
	for _, g := range groups {
		c.inv.AddGroup(&inventory.Group{Name: g, Hosts: []string{name}})
	}
	if c.state == nil {
		return nil
	}
	if err := c.state.AddHost(name, address, user, port, groups, extras); err != nil {
		return fmt.Errorf("automation: persisting host %s to state: %w", name, err)
	}
	return nil
}

// Run dispatches moduleName with moduleArgs across target, accumulating
// and returning the results, and emitting execution_start, host_start and
// host_complete events to the registered sinks. No host_retry events are
// emitted: retries happen inside the dispatcher, and a host's attempt
// count reaches the sinks only as the Attempt field of its host_complete.
// The dispatch is tracked by Close and is canceled when Close runs.
func (c *Context) Run(ctx context.Context, target, moduleName string, moduleArgs map[string]any, hostArgs map[string]map[string]any) ([]dispatch.Result, error) {
	c.wg.Add(1)
	defer c.wg.Done()
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	stopAfter := context.AfterFunc(c.runCtx, cancelRun)
	defer stopAfter()

	started := time.Now()
	c.emit(progress.Event{Type: progress.TypeExecutionStart, Time: started, Module: moduleName})

	if hosts, err := c.inv.Resolve(target); err == nil {
		for _, h := range hosts {
			c.emit(progress.Event{Type: progress.TypeHostStart, Time: time.Now(), Host: h.Name, Module: moduleName})
		}
	}

	results, err := c.dispatch.Run(ctx, target, moduleName, moduleArgs, hostArgs)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		c.results.Add(r)
		c.emitResult(r)
	}

	c.metrics.RecordRun(len(results), countFailed(results), time.Since(started))
	return results, nil
}

func countFailed(results []dispatch.Result) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}

func (c *Context) emitResult(r dispatch.Result) {
	typ := progress.TypeHostComplete
	msg := ""
	if r.Error != nil {
		msg = r.Error.Error()
	}
	c.emit(progress.Event{
		Type: typ, Time: time.Now(), Host: r.Host, Module: r.Module,
		Attempt: r.Attempt, Message: msg,
	})
}

// dispatchModule routes a single module call through the full dispatch
// stack for one host; used by shadow.Executor.Dispatch to drive "ping"
// (spec.md §4.7) through the same path a direct module call takes.
func (c *Context) dispatchModule(ctx context.Context, h *inventory.Host, moduleName string, args map[string]any) (map[string]any, error) {
	results, err := c.dispatch.Run(ctx, h.Name, moduleName, args, nil)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("automation: dispatching %s to %s produced no result", moduleName, h.Name)
	}
	r := results[0]
	if r.Error != nil {
		return nil, r.Error
	}
	return r.Output, nil
}

// Results returns the run's accumulator.
func (c *Context) Results() *ResultAccumulator { return c.results }

// AddSink registers a progress sink; events from this point on are
// broadcast to it until RemoveSink is called. Mirrors the teacher's
// set.HandleSet-based listener registry idiom.
func (c *Context) AddSink(s progress.Sink) set.Handle {
	c.sinksMu.Lock()
	defer c.sinksMu.Unlock()
	return c.sinks.Add(s)
}

// RemoveSink unregisters a previously added sink.
func (c *Context) RemoveSink(h set.Handle) {
	c.sinksMu.Lock()
	defer c.sinksMu.Unlock()
	delete(c.sinks, h)
}

func (c *Context) emit(e progress.Event) {
	c.sinksMu.Lock()
	defer c.sinksMu.Unlock()
	for _, s := range c.sinks {
		s.Emit(e)
	}
}

// Close drains outstanding dispatch work, closes every pooled
// connection, and emits a final execution_complete summary event.
// Outstanding work is given cfg.GracePeriod to finish cooperatively
// before the pool is force-closed out from under it.
func (c *Context) Close(ctx context.Context) error {
	total, successful, failed := c.results.Summary()
	c.emit(progress.Event{
		Type: progress.TypeExecutionComplete, Time: time.Now(),
		Summary: &progress.Summary{Total: total, Successful: successful, Failed: failed},
	})

	c.cancel()

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(c.cfg.GracePeriod):
	case <-ctx.Done():
	}

	return c.pool.CloseAll()
}

// hostState returns (creating if needed) the per-host session pool and
// weighted semaphore bounding concurrent sessions for h.
func (c *Context) hostState(h *inventory.Host) *hostState {
	key := inventory.NormalizeName(h.Name)
	c.hostsMu.Lock()
	defer c.hostsMu.Unlock()
	hs, ok := c.hosts[key]
	if !ok {
		hs = &hostState{sem: semaphore.NewWeighted(c.cfg.PerHost)}
		c.hosts[key] = hs
	}
	return hs
}

type hostState struct {
	sem  *semaphore.Weighted
	mu   sync.Mutex
	idle []*liveSession
}

type liveSession struct {
	sess *gatesession.Session
	conn *transport.Conn
}
