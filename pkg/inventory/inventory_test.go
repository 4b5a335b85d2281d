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

package inventory

import (
	"testing"
)

func buildTestInventory(t *testing.T) *Inventory {
	t.Helper()
	inv := New()
	if err := inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1", Vars: map[string]any{"role": "web"}}); err != nil {
		t.Fatal(err)
	}
	if err := inv.AddHost(&Host{Name: "db-1", Address: "10.0.0.2"}); err != nil {
		t.Fatal(err)
	}
	inv.AddGroup(&Group{Name: "webservers", Hosts: []string{"web-1"}, Vars: map[string]any{"http_port": 8080.0}})
	inv.AddGroup(&Group{Name: "all", Vars: map[string]any{"env": "prod"}})
	return inv
}

func TestHostGroupSpecificityWins(t *testing.T) {
	inv := buildTestInventory(t)
	// A group sharing the exact name of a host must lose to the host.
	inv.AddGroup(&Group{Name: "web-1", Hosts: []string{"db-1"}})

	hosts, err := inv.Resolve("web-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Name != "web-1" {
		t.Fatalf("Resolve(web-1) = %v, want single host web-1", hosts)
	}
}

func TestResolveGroup(t *testing.T) {
	inv := buildTestInventory(t)
	hosts, err := inv.Resolve("webservers")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Name != "web-1" {
		t.Fatalf("Resolve(webservers) = %v", hosts)
	}
}

func TestResolveDashUnderscoreEquivalence(t *testing.T) {
	inv := buildTestInventory(t)
	hosts, err := inv.Resolve("web_1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Name != "web-1" {
		t.Fatalf("Resolve(web_1) = %v", hosts)
	}
}

func TestResolveUnknownTarget(t *testing.T) {
	inv := buildTestInventory(t)
	if _, err := inv.Resolve("nonesuch"); err == nil {
		t.Fatal("Resolve(nonesuch) = nil error, want error")
	}
}

func TestResolveLocalSynthetic(t *testing.T) {
	inv := New()
	hosts, err := inv.Resolve("local")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Conn != ConnLocal {
		t.Fatalf("Resolve(local) = %v, want synthetic local host", hosts)
	}
}

func TestVarsPrecedence(t *testing.T) {
	inv := buildTestInventory(t)
	h, ok := inv.Host("web-1")
	if !ok {
		t.Fatal("host web-1 missing")
	}
	vars := inv.Vars(h)
	if vars["env"] != "prod" {
		t.Errorf("env = %v, want prod (from all group)", vars["env"])
	}
	if vars["http_port"] != 8080.0 {
		t.Errorf("http_port = %v, want 8080 (from webservers group)", vars["http_port"])
	}
	if vars["role"] != "web" {
		t.Errorf("role = %v, want web (host var)", vars["role"])
	}
}

func TestVarsHostOverridesGroup(t *testing.T) {
	inv := New()
	if err := inv.AddHost(&Host{Name: "h1", Vars: map[string]any{"tier": "gold"}}); err != nil {
		t.Fatal(err)
	}
	inv.AddGroup(&Group{Name: "g1", Hosts: []string{"h1"}, Vars: map[string]any{"tier": "bronze"}})
	h, _ := inv.Host("h1")
	vars := inv.Vars(h)
	if vars["tier"] != "gold" {
		t.Errorf("tier = %v, want gold (host overrides group)", vars["tier"])
	}
}

func TestAddHostEmptyNameRejected(t *testing.T) {
	inv := New()
	if err := inv.AddHost(&Host{}); err == nil {
		t.Fatal("AddHost(empty name) = nil error, want error")
	}
}

func TestAddHostDefaultsPortAndConn(t *testing.T) {
	inv := New()
	if err := inv.AddHost(&Host{Name: "h2"}); err != nil {
		t.Fatal(err)
	}
	h, _ := inv.Host("h2")
	if h.Port != 22 {
		t.Errorf("Port = %d, want 22", h.Port)
	}
	if h.Conn != ConnSSH {
		t.Errorf("Conn = %v, want ssh", h.Conn)
	}
}
