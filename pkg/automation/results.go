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
	"sync"

	"github.com/fleetgate/fleetgate/pkg/dispatch"
	"github.com/fleetgate/fleetgate/pkg/inventory"
)

// ResultAccumulator is the ordered, append-only record of every Result a
// context has produced across however many Run calls it has made.
type ResultAccumulator struct {
	mu      sync.Mutex
	results []dispatch.Result
}

// Add appends rs, in order, to the accumulator.
func (a *ResultAccumulator) Add(rs ...dispatch.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, rs...)
}

// All returns every accumulated result, in append order.
func (a *ResultAccumulator) All() []dispatch.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]dispatch.Result, len(a.results))
	copy(out, a.results)
	return out
}

// Failed reports whether any accumulated result failed.
func (a *ResultAccumulator) Failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.results {
		if !r.Success {
			return true
		}
	}
	return false
}

// ByHost filters to results for a single host.
func (a *ResultAccumulator) ByHost(host string) []dispatch.Result {
	return a.filter(func(r dispatch.Result) bool { return r.Host == host })
}

// ByModule filters to results for a single module name.
func (a *ResultAccumulator) ByModule(module string) []dispatch.Result {
	return a.filter(func(r dispatch.Result) bool { return r.Module == module })
}

// ByGroup filters to results whose host belongs to the named group.
func (a *ResultAccumulator) ByGroup(inv *inventory.Inventory, group string) []dispatch.Result {
	members := map[string]bool{}
	if g, ok := inv.Group(group); ok {
		for _, h := range g.Hosts {
			members[inventory.NormalizeName(h)] = true
		}
	}
	return a.filter(func(r dispatch.Result) bool { return members[inventory.NormalizeName(r.Host)] })
}

func (a *ResultAccumulator) filter(keep func(dispatch.Result) bool) []dispatch.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []dispatch.Result
	for _, r := range a.results {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Summary tallies the accumulator's current contents.
func (a *ResultAccumulator) Summary() (total, successful, failed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.results {
		total++
		if r.Success {
			successful++
		} else {
			failed++
		}
	}
	return
}
