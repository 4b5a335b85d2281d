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
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate/pkg/dispatch"
	"github.com/fleetgate/fleetgate/pkg/inventory"
	"github.com/fleetgate/fleetgate/pkg/progress"
	"github.com/fleetgate/fleetgate/pkg/state"
)

func newTestInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv := inventory.New()
	if err := inv.AddHost(&inventory.Host{Name: "local1", Conn: inventory.ConnLocal}); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	return inv
}

func newTestContext(t *testing.T, cfg Config) *Context {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewAppliesDefaults(t *testing.T) {
	c := newTestContext(t, Config{Inventory: newTestInventory(t)})
	if c.cfg.PerHost != defaultPerHost {
		t.Errorf("PerHost = %d, want %d", c.cfg.PerHost, defaultPerHost)
	}
	if c.cfg.GracePeriod != defaultGracePeriod {
		t.Errorf("GracePeriod = %v, want %v", c.cfg.GracePeriod, defaultGracePeriod)
	}
}

func TestCountFailed(t *testing.T) {
	results := []dispatch.Result{
		{Host: "a", Success: true},
		{Host: "b", Success: false},
		{Host: "c", Success: false},
	}
	if got := countFailed(results); got != 2 {
		t.Errorf("countFailed = %d, want 2", got)
	}
}

type recordingSink struct {
	events []progress.Event
}

func (s *recordingSink) Emit(e progress.Event) { s.events = append(s.events, e) }

func TestAddSinkRemoveSink(t *testing.T) {
	c := newTestContext(t, Config{Inventory: newTestInventory(t)})
	sink := &recordingSink{}
	h := c.AddSink(sink)

	c.emit(progress.Event{Type: progress.TypeExecutionStart})
	if len(sink.events) != 1 {
		t.Fatalf("events after emit = %d, want 1", len(sink.events))
	}

	c.RemoveSink(h)
	c.emit(progress.Event{Type: progress.TypeExecutionComplete})
	if len(sink.events) != 1 {
		t.Errorf("events after RemoveSink = %d, want still 1", len(sink.events))
	}
}

func TestDispatchModuleUnknownModuleErrors(t *testing.T) {
	inv := newTestInventory(t)
	c := newTestContext(t, Config{Inventory: inv, Registry: dispatch.NewRegistry()})
	h, _ := inv.Host("local1")
	if _, err := c.dispatchModule(context.Background(), h, "no-such-module", nil); err == nil {
		t.Fatal("dispatchModule(unregistered module) = nil error, want error")
	}
}

func TestCloseDrainsWithinGracePeriod(t *testing.T) {
	c := newTestContext(t, Config{Inventory: newTestInventory(t), GracePeriod: 50 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestResultsReturnsAccumulator(t *testing.T) {
	c := newTestContext(t, Config{Inventory: newTestInventory(t)})
	c.results.Add(dispatch.Result{Host: "a", Success: true})
	total, successful, failed := c.Results().Summary()
	if total != 1 || successful != 1 || failed != 0 {
		t.Errorf("Summary = (%d, %d, %d), want (1, 1, 0)", total, successful, failed)
	}
}

func TestAddHostWritesThroughToState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	c := newTestContext(t, Config{Inventory: newTestInventory(t), StateFile: statePath})

	if err := c.AddHost("web-1", "10.0.0.5", "deploy", 2222, []string{"web"}, nil); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	if _, ok := c.inv.Host("web-1"); !ok {
		t.Error("AddHost did not add the host to the inventory")
	}
	if g, ok := c.inv.Group("web"); !ok || len(g.Hosts) != 1 {
		t.Errorf("AddHost did not register the host into group %q", "web")
	}

	c2, err := New(Config{Inventory: newTestInventory(t), StateFile: statePath})
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	h, ok := c2.inv.Host("web-1")
	if !ok {
		t.Fatal("host recorded by a prior AddHost did not survive a restart against the same state file")
	}
	if h.Address != "10.0.0.5" || h.User != "deploy" || h.Port != 2222 {
		t.Errorf("reloaded host = %+v, want address/user/port preserved", h)
	}
	if _, ok := c2.inv.Group("web"); !ok {
		t.Error("reloaded host did not recreate its group")
	}
}

func TestNewLeavesInventoryDeclaredHostsUntouchedByState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	store, err := state.Open(statePath)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	if err := store.AddHost("local1", "10.0.0.9", "root", 22, nil, nil); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	c, err := New(Config{Inventory: newTestInventory(t), StateFile: statePath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, _ := c.inv.Host("local1")
	if h.Conn != inventory.ConnLocal {
		t.Errorf("state merge overwrote an inventory-declared host: %+v", h)
	}
}
