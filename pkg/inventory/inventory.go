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

// Package inventory models the hosts and groups a run can target: the
// transitive closure of groups and hosts, variable precedence, and target
// resolution.
package inventory

import (
	"fmt"
	"sort"
	"strings"
)

// ConnKind is how a host is reached.
type ConnKind string

const (
	ConnLocal ConnKind = "local"
	ConnSSH   ConnKind = "ssh"
)

// AllGroup is the distinguished pseudo-group containing every host.
const AllGroup = "all"

// Auth carries the credential material for reaching an SSH host.
// Pre-flight requires at least one of Password or PrivateKeyPath to be
// set for a host whose Conn is ConnSSH.
type Auth struct {
	Password       string
	PrivateKeyPath string
	Passphrase     string
	// InsecureIgnoreHostKey disables host-key verification; off by
	// default, since a run that silently trusts any host key defeats the
	// point of SSH transport security.
	InsecureIgnoreHostKey bool
	KnownHostsPath        string
}

// Host is a single addressable target.
type Host struct {
	Name        string
	Address     string
	Port        int
	User        string
	Conn        ConnKind
	Interpreter string
	Auth        Auth
	Vars        map[string]any
}

// Group is a named set of hosts sharing a variable mapping. Group
// variables are lower precedence than host variables.
type Group struct {
	Name  string
	Hosts []string
	Vars  map[string]any
}

// Inventory is the resolved set of hosts and groups for a run.
type Inventory struct {
	hosts  map[string]*Host
	groups map[string]*Group
}

// New returns an empty inventory with the "all" pseudo-group present.
func New() *Inventory {
	inv := &Inventory{
		hosts:  map[string]*Host{},
		groups: map[string]*Group{},
	}
	inv.groups[AllGroup] = &Group{Name: AllGroup}
	return inv
}

// NormalizeName canonicalizes a host/group name for lookup: dashes and
// underscores are treated as equivalent.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

// AddHost inserts or replaces a host and adds it to "all"; membership in
// other groups comes from AddGroup. Host names must be unique within the inventory; a duplicate
// name overwrites the previous entry (callers needing strict uniqueness
// should check Host first).
func (inv *Inventory) AddHost(h *Host) error {
	if h.Name == "" {
		return fmt.Errorf("inventory: host has empty name")
	}
	if h.Port == 0 {
		h.Port = 22
	}
	if h.Conn == "" {
		h.Conn = ConnSSH
	}
	if h.Conn == ConnLocal && h.Address != "" {
		// Invariant: local-connection hosts never touch SSH, so an
		// address is meaningless for them, but not an error — callers
		// may carry it for display purposes only.
	}
	key := NormalizeName(h.Name)
	inv.hosts[key] = h
	inv.ensureGroup(AllGroup).addHostName(h.Name)
	return nil
}

// AddGroup inserts or merges a group definition.
func (inv *Inventory) AddGroup(g *Group) {
	existing := inv.ensureGroup(g.Name)
	for k, v := range g.Vars {
		if existing.Vars == nil {
			existing.Vars = map[string]any{}
		}
		existing.Vars[k] = v
	}
	for _, hn := range g.Hosts {
		existing.addHostName(hn)
	}
}

func (inv *Inventory) ensureGroup(name string) *Group {
	key := NormalizeName(name)
	g, ok := inv.groups[key]
	if !ok {
		g = &Group{Name: name}
		inv.groups[key] = g
	}
	return g
}

func (g *Group) addHostName(name string) {
	for _, existing := range g.Hosts {
		if NormalizeName(existing) == NormalizeName(name) {
			return
		}
	}
	g.Hosts = append(g.Hosts, name)
}

// Host returns the host with the given name (normalized), if any.
func (inv *Inventory) Host(name string) (*Host, bool) {
	h, ok := inv.hosts[NormalizeName(name)]
	return h, ok
}

// Group returns the group with the given name (normalized), if any.
func (inv *Inventory) Group(name string) (*Group, bool) {
	g, ok := inv.groups[NormalizeName(name)]
	return g, ok
}

// Hosts returns every host in the inventory, sorted by name.
func (inv *Inventory) Hosts() []*Host {
	out := make([]*Host, 0, len(inv.hosts))
	for _, h := range inv.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GroupsOf returns the names of every group containing the given host,
// excluding "all".
func (inv *Inventory) GroupsOf(hostName string) []string {
	var out []string
	for _, g := range inv.groups {
		if g.Name == AllGroup {
			continue
		}
		for _, hn := range g.Hosts {
			if NormalizeName(hn) == NormalizeName(hostName) {
				out = append(out, g.Name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Resolve maps a target name to the hosts it selects. A name matching an
// exact host wins over a group of the same name (host specificity wins).
// "local" and "localhost" resolve to a synthetic local host even if not
// present in the inventory.
func (inv *Inventory) Resolve(target string) ([]*Host, error) {
	norm := NormalizeName(target)
	if norm == "local" || norm == "localhost" {
		if h, ok := inv.hosts[norm]; ok {
			return []*Host{h}, nil
		}
		return []*Host{LocalHost()}, nil
	}
	if h, ok := inv.hosts[norm]; ok {
		return []*Host{h}, nil
	}
	if g, ok := inv.groups[norm]; ok {
		hosts := make([]*Host, 0, len(g.Hosts))
		for _, hn := range g.Hosts {
			if h, ok := inv.hosts[NormalizeName(hn)]; ok {
				hosts = append(hosts, h)
			}
		}
		sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
		return hosts, nil
	}
	return nil, fmt.Errorf("inventory: no host or group named %q", target)
}

// LocalHost returns the synthetic host used for the "local"/"localhost"
// target when no such host is declared explicitly.
func LocalHost() *Host {
	return &Host{Name: "localhost", Conn: ConnLocal}
}

// Vars returns the host's effective variable mapping: group variables
// (lowest precedence: "all" first, then the host's other groups sorted by
// name, a later group overriding an earlier one) merged
// under the host's own variables (highest precedence).
func (inv *Inventory) Vars(h *Host) map[string]any {
	merged := map[string]any{}
	if all, ok := inv.groups[AllGroup]; ok {
		for k, v := range all.Vars {
			merged[k] = v
		}
	}
	for _, gn := range inv.GroupsOf(h.Name) {
		g, ok := inv.groups[NormalizeName(gn)]
		if !ok {
			continue
		}
		for k, v := range g.Vars {
			merged[k] = v
		}
	}
	for k, v := range h.Vars {
		merged[k] = v
	}
	return merged
}
