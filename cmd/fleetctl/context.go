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

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fleetgate/fleetgate/pkg/automation"
	"github.com/fleetgate/fleetgate/pkg/cmdutil"
	"github.com/fleetgate/fleetgate/pkg/dispatch"
	"github.com/fleetgate/fleetgate/pkg/gatebuild"
	"github.com/fleetgate/fleetgate/pkg/inventory"
	"github.com/fleetgate/fleetgate/pkg/inventoryyaml"
	"github.com/fleetgate/fleetgate/pkg/modules"
)

// loadInventory reads and parses the inventory file named by the
// --inventory flag.
func loadInventory() (*inventory.Inventory, error) {
	data, err := os.ReadFile(loadedPrefs.InventoryPath)
	if err != nil {
		return nil, fmt.Errorf("fleetctl: reading inventory %s: %w", loadedPrefs.InventoryPath, err)
	}
	inv, err := inventoryyaml.Load(data)
	if err != nil {
		return nil, fmt.Errorf("fleetctl: loading inventory %s: %w", loadedPrefs.InventoryPath, err)
	}
	return inv, nil
}

// buildRegistry assembles the FTL-native catalog plus every classic
// module moduleName names, resolved from modulePath. A run only ever
// needs the one module it was asked to call (and the shadow actions,
// which never touch the registry), so registration is lazy and narrow
// rather than scanning every search root up front.
func buildRegistry(moduleName string, modulePath []string) (*dispatch.Registry, error) {
	registry := dispatch.NewRegistry()
	modules.Register(registry)

	if moduleName == "" || dispatch.IsShadowAction(moduleName) {
		return registry, nil
	}
	if _, ok := registry.LookupFTL(moduleName); ok {
		return registry, nil
	}
	_, contents, ok := gatebuild.FindModule(moduleName, modulePath)
	if !ok {
		return nil, fmt.Errorf("fleetctl: module %q not found on search path %v", moduleName, modulePath)
	}
	registry.RegisterClassic(moduleName, contents)
	return registry, nil
}

// newContext wires a full automation.Context: inventory, registry, and a
// freshly (or cache-hit) built gate entry point for any SSH-connected
// host the run touches.
func newContext(cmd *cobra.Command, moduleName string, modulePath []string, concurrency, perHost int64) (*automation.Context, error) {
	inv, err := loadInventory()
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(moduleName, modulePath)
	if err != nil {
		return nil, err
	}
	entryPoint, err := buildGateEntryPoint()
	if err != nil {
		return nil, fmt.Errorf("fleetctl: building gate entry point: %w", err)
	}
	return newAutomationContext(inv, registry, modulePath, entryPoint, concurrency, perHost)
}

// newAutomationContext assembles an automation.Context from its already-
// resolved collaborators, shared by newContext (a dispatch run) and the
// shell subcommand (no module registry needed, but the same pooled
// dialer and gate entry point apply).
func newAutomationContext(inv *inventory.Inventory, registry *dispatch.Registry, modulePath []string, entryPoint []byte, concurrency, perHost int64) (*automation.Context, error) {
	ctx, err := automation.New(automation.Config{
		Inventory:         inv,
		Registry:          registry,
		CacheDir:          loadedPrefs.CacheDir,
		ModuleSearchRoots: modulePath,
		EntryPoint:        entryPoint,
		EntryPointPath:    "entrypoint",
		Concurrency:       concurrency,
		PerHost:           perHost,
		Metrics:           sharedMetrics,
		StateFile:         loadedPrefs.StateFile,
	})
	if err != nil {
		return nil, fmt.Errorf("fleetctl: building automation context: %w", err)
	}
	return ctx, nil
}

// buildGateEntryPoint cross-compiles cmd/gate for linux/amd64 from the
// module's own source tree, mirroring the teacher's buildCatch: a fleet
// controller and its remote agent are built from the same checkout, so
// "go build the sibling command" is simpler and more reliable than
// shipping prebuilt binaries out of band. Every host is currently
// assumed linux/amd64; per-host OS/arch detection is a natural follow-up
// once the inventory model carries that fact.
func buildGateEntryPoint() ([]byte, error) {
	gitRoot, err := gitRepoRoot()
	if err != nil {
		return nil, err
	}

	out := gitRoot + "/.fleetctl-gate-build"
	cmd := cmdutil.NewStdCmd("go", "build", "-o", out, "./cmd/gate")
	cmd.Stdout = nil
	cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH=amd64", "CGO_ENABLED=0")
	cmd.Dir = gitRoot
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("fleetctl: go build ./cmd/gate: %w", err)
	}
	defer os.Remove(out)

	return os.ReadFile(out)
}

func gitRepoRoot() (string, error) {
	cmd := cmdutil.NewStdCmd("git", "rev-parse", "--show-toplevel")
	cmd.Stdout = nil
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("fleetctl: not in a git repository: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
