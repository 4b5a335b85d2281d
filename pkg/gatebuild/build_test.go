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

package gatebuild

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeModule(t *testing.T, root, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name+".py"), []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildProducesArchiveAndManifest(t *testing.T) {
	moduleRoot := t.TempDir()
	writeModule(t, moduleRoot, "ping", "def main(): return {'ping': 'pong'}\n")
	cacheDir := t.TempDir()

	b := &Builder{CacheDir: cacheDir, EntryPoint: []byte("#!/bin/sh\nexec gate\n")}
	cfg := GateBuildConfig{
		ModuleNames:       []string{"ping"},
		ModuleSearchRoots: []string{moduleRoot},
		TargetInterpreter: "/usr/bin/python3",
	}

	path, hash, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty content hash")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("archive not written: %v", err)
	}
	if _, err := os.Stat(path + ".manifest.json"); err != nil {
		t.Errorf("manifest not written: %v", err)
	}
}

func TestBuildIsCacheHitOnSecondCall(t *testing.T) {
	moduleRoot := t.TempDir()
	writeModule(t, moduleRoot, "ping", "def main(): return {'ping': 'pong'}\n")
	cacheDir := t.TempDir()

	b := &Builder{CacheDir: cacheDir}
	cfg := GateBuildConfig{ModuleNames: []string{"ping"}, ModuleSearchRoots: []string{moduleRoot}, TargetInterpreter: "/usr/bin/python3"}

	path1, hash1, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	info1, err := os.Stat(path1)
	if err != nil {
		t.Fatal(err)
	}

	path2, hash2, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if path1 != path2 || hash1 != hash2 {
		t.Fatalf("expected identical cache path/hash, got %s/%s vs %s/%s", path1, hash1, path2, hash2)
	}
	info2, err := os.Stat(path2)
	if err != nil {
		t.Fatal(err)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Error("second Build rebuilt the archive instead of hitting cache")
	}
}

func TestBuildModuleNotFound(t *testing.T) {
	b := &Builder{CacheDir: t.TempDir()}
	cfg := GateBuildConfig{ModuleNames: []string{"nonesuch"}, ModuleSearchRoots: []string{t.TempDir()}}

	_, _, err := b.Build(cfg)
	var notFound *ModuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want *ModuleNotFoundError", err)
	}
}

func TestBuildDependencyResolutionFailed(t *testing.T) {
	moduleRoot := t.TempDir()
	writeModule(t, moduleRoot, "ping", "def main(): pass\n")

	b := &Builder{CacheDir: t.TempDir()}
	cfg := GateBuildConfig{
		ModuleNames:       []string{"ping"},
		ModuleSearchRoots: []string{moduleRoot},
		Dependencies:      []string{"requests@>=2.0.0"},
	}

	_, _, err := b.Build(cfg)
	var depErr *DependencyResolutionFailedError
	if !errors.As(err, &depErr) {
		t.Fatalf("err = %v, want *DependencyResolutionFailedError", err)
	}
}

func TestBuildResolvesDependencyWithVersionMarker(t *testing.T) {
	moduleRoot := t.TempDir()
	writeModule(t, moduleRoot, "ping", "def main(): pass\n")
	helperRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(helperRoot, "requests"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(helperRoot, "requests", "VERSION"), []byte("2.5.0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	b := &Builder{CacheDir: t.TempDir(), HelperSearchPaths: []string{helperRoot}}
	cfg := GateBuildConfig{
		ModuleNames:       []string{"ping"},
		ModuleSearchRoots: []string{moduleRoot},
		Dependencies:      []string{"requests@>=2.0.0"},
	}

	if _, _, err := b.Build(cfg); err != nil {
		t.Fatalf("Build: %v", err)
	}
}

func TestContentHashDigestEncodedIsHex(t *testing.T) {
	cfg := GateBuildConfig{ModuleNames: []string{"ping"}, TargetInterpreter: "/usr/bin/python3"}
	hash, err := ContentHash(cfg, map[string][]byte{"ping": []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	if len(hash.Encoded()) != 64 {
		t.Errorf("Encoded() length = %d, want 64 (sha256 hex)", len(hash.Encoded()))
	}
}
