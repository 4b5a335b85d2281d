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

package vars

import (
	"testing"

	"github.com/fleetgate/fleetgate/pkg/inventory"
)

func TestParseRef(t *testing.T) {
	r := ParseRef("db.credentials.password")
	if r.Head != "db" {
		t.Errorf("Head = %q, want db", r.Head)
	}
	if len(r.Path) != 2 || r.Path[0] != "credentials" || r.Path[1] != "password" {
		t.Errorf("Path = %v", r.Path)
	}
	if r.String() != "db.credentials.password" {
		t.Errorf("String() = %q", r.String())
	}
}

func TestDerefNested(t *testing.T) {
	vm := map[string]any{
		"db": map[string]any{
			"credentials": map[string]any{
				"password": "hunter2",
			},
			"replicas": []any{"r1", "r2"},
		},
	}
	v, err := ParseRef("db.credentials.password").Deref(vm)
	if err != nil {
		t.Fatalf("Deref: %v", err)
	}
	if v != "hunter2" {
		t.Errorf("got %v, want hunter2", v)
	}

	v, err = ParseRef("db.replicas.1").Deref(vm)
	if err != nil {
		t.Fatalf("Deref index: %v", err)
	}
	if v != "r2" {
		t.Errorf("got %v, want r2", v)
	}
}

func TestDerefUndefinedHead(t *testing.T) {
	_, err := ParseRef("nope").Deref(map[string]any{})
	if err == nil {
		t.Fatal("want error for undefined head")
	}
}

func TestDerefScalarDescent(t *testing.T) {
	_, err := ParseRef("x.y").Deref(map[string]any{"x": "scalar"})
	if err == nil {
		t.Fatal("want error descending into scalar")
	}
}

func TestDerefAllPurity(t *testing.T) {
	hostVars := map[string]any{"secret": "s3kr3t"}
	args := map[string]any{
		"password": ParseRef("secret"),
		"nested":   map[string]any{"inner": ParseRef("secret")},
		"literal":  "unchanged",
	}
	out, err := DerefAll(args, hostVars)
	if err != nil {
		t.Fatalf("DerefAll: %v", err)
	}
	if out["password"] != "s3kr3t" {
		t.Errorf("password = %v", out["password"])
	}
	if out["nested"].(map[string]any)["inner"] != "s3kr3t" {
		t.Errorf("nested.inner = %v", out["nested"])
	}
	// original args must be untouched
	if _, ok := args["password"].(SymbolicRef); !ok {
		t.Error("DerefAll mutated its input args")
	}
}

func TestMergePrecedence(t *testing.T) {
	inv := inventory.New()
	if err := inv.AddHost(&inventory.Host{Name: "h1", Vars: map[string]any{"port": 9000.0}}); err != nil {
		t.Fatal(err)
	}
	h, _ := inv.Host("h1")

	moduleArgs := map[string]any{
		"port": ParseRef("port"),
		"name": "default",
	}
	hostArgs := map[string]any{
		"name": "overridden",
	}
	merged, err := Merge(inv, h, moduleArgs, hostArgs)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged["port"] != 9000.0 {
		t.Errorf("port = %v, want 9000 (deref'd)", merged["port"])
	}
	if merged["name"] != "overridden" {
		t.Errorf("name = %v, want overridden (hostArgs wins)", merged["name"])
	}
}
