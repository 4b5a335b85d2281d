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
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/stargz-snapshotter/estargz"
	"github.com/opencontainers/go-digest"

	"github.com/fleetgate/fleetgate/pkg/codecutil"
)

var sourceExtensions = []string{".py", ".sh", ".rb"}

// Builder assembles and caches gate archives.
type Builder struct {
	CacheDir          string
	HelperSearchPaths []string
	// EntryPoint is the controller-authored entry-point program bundled
	// into every archive at EntryPointPath.
	EntryPoint     []byte
	EntryPointPath string
}

const defaultEntryPointPath = "entrypoint"

// Build resolves cfg against its search roots and returns the cached
// archive path and content hash, building it only on a cache miss.
func (b *Builder) Build(cfg GateBuildConfig) (archivePath string, hash digest.Digest, err error) {
	resolved, err := resolveModules(cfg)
	if err != nil {
		return "", "", err
	}

	helperFiles, unresolvedDeps, err := b.resolveHelpersAndDeps(cfg, resolved)
	if err != nil {
		return "", "", err
	}
	if len(unresolvedDeps) > 0 {
		return "", "", &DependencyResolutionFailedError{Unresolved: unresolvedDeps}
	}

	moduleContents := make(map[string][]byte, len(resolved))
	for name, m := range resolved {
		moduleContents[name] = m.contents
	}
	hash, err = ContentHash(cfg, moduleContents)
	if err != nil {
		return "", "", err
	}

	archivePath = filepath.Join(b.CacheDir, fmt.Sprintf("gate_%s.archive", hash.Encoded()))
	if _, statErr := os.Stat(archivePath); statErr == nil {
		return archivePath, hash, nil // cache hit
	}

	if err := os.MkdirAll(b.CacheDir, 0755); err != nil {
		return "", "", &BuildIOError{Op: "mkdir cache dir", Err: err}
	}

	if err := b.writeArchive(archivePath, hash, cfg, resolved, helperFiles); err != nil {
		return "", "", err
	}
	return archivePath, hash, nil
}

type resolvedModule struct {
	path     string
	contents []byte
}

func resolveModules(cfg GateBuildConfig) (map[string]resolvedModule, error) {
	out := make(map[string]resolvedModule, len(cfg.ModuleNames))
	for _, name := range cfg.ModuleNames {
		path, contents, ok := FindModule(name, cfg.ModuleSearchRoots)
		if !ok {
			return nil, &ModuleNotFoundError{Name: name, SearchedPaths: cfg.ModuleSearchRoots}
		}
		out[name] = resolvedModule{path: path, contents: contents}
	}
	return out, nil
}

// FindModule prefers a file with a recognized source extension, falling
// back to a bare executable with no extension, per spec.md §4.2(a).
// Exported so a controller-side loader (cmd/fleetctl) can resolve and
// register a classic module's bytes with the same search-root semantics
// the gate builder uses to bundle it.
func FindModule(name string, searchRoots []string) (path string, contents []byte, ok bool) {
	for _, root := range searchRoots {
		for _, ext := range sourceExtensions {
			candidate := filepath.Join(root, name+ext)
			if bs, err := os.ReadFile(candidate); err == nil {
				return candidate, bs, true
			}
		}
	}
	for _, root := range searchRoots {
		candidate := filepath.Join(root, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			bs, err := os.ReadFile(candidate)
			if err == nil {
				return candidate, bs, true
			}
		}
	}
	return "", nil, false
}

// resolveHelpersAndDeps computes the transitive helper closure for every
// source module and validates each declared dependency's semver
// constraint against a <name>/VERSION marker file on the helper search
// paths; a constrained dependency with no marker is reported as
// unresolved.
func (b *Builder) resolveHelpersAndDeps(cfg GateBuildConfig, modules map[string]resolvedModule) (map[string]string, []string, error) {
	helpers := map[string]string{}
	for name, m := range modules {
		if !isSourceModule(m.path) {
			continue
		}
		res, err := ResolveHelpers(m.contents, b.HelperSearchPaths)
		if err != nil {
			return nil, nil, fmt.Errorf("gatebuild: resolving helpers for %s: %w", name, err)
		}
		for imp, path := range res.Helpers {
			helpers[imp] = path
		}
	}

	deps, err := cfg.ParseDependencies()
	if err != nil {
		return nil, nil, err
	}
	var unresolved []string
	for _, dep := range deps {
		if dep.Constraint == nil {
			continue
		}
		version, ok := readVersionMarker(dep.Name, b.HelperSearchPaths)
		if !ok {
			unresolved = append(unresolved, dep.Name)
			continue
		}
		satisfied, err := dep.CheckConstraint(version)
		if err != nil || !satisfied {
			unresolved = append(unresolved, dep.Name)
		}
	}
	return helpers, unresolved, nil
}

func isSourceModule(path string) bool {
	ext := filepath.Ext(path)
	for _, se := range sourceExtensions {
		if ext == se {
			return true
		}
	}
	return false
}

func readVersionMarker(depName string, searchPaths []string) (string, bool) {
	for _, root := range searchPaths {
		candidate := filepath.Join(root, depName, "VERSION")
		if bs, err := os.ReadFile(candidate); err == nil {
			return strings.TrimSpace(string(bs)), true
		}
	}
	return "", false
}

// writeArchive builds the tar layer (entry point, modules, helpers),
// wraps it as an estargz blob, writes the sidecar manifest, and installs
// both with a write-once-rename so concurrent builders for the same
// hash converge on one final file.
func (b *Builder) writeArchive(finalPath string, hash digest.Digest, cfg GateBuildConfig, modules map[string]resolvedModule, helpers map[string]string) error {
	tarPath := finalPath + ".tar.tmp"
	entries, err := b.writeTar(tarPath, cfg, modules, helpers)
	if err != nil {
		return err
	}
	defer os.Remove(tarPath)

	tarFile, err := os.Open(tarPath)
	if err != nil {
		return &BuildIOError{Op: "reopen tar layer", Err: err}
	}
	defer tarFile.Close()
	info, err := tarFile.Stat()
	if err != nil {
		return &BuildIOError{Op: "stat tar layer", Err: err}
	}

	blob, err := estargz.Build(io.NewSectionReader(tarFile, 0, info.Size()))
	if err != nil {
		return &BuildIOError{Op: "build estargz blob", Err: err}
	}
	defer blob.Close()

	tmp := finalPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return &BuildIOError{Op: "create temp archive", Err: err}
	}
	if _, err := io.Copy(out, blob); err != nil {
		out.Close()
		os.Remove(tmp)
		return &BuildIOError{Op: "write estargz blob", Err: err}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return &BuildIOError{Op: "sync archive", Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return &BuildIOError{Op: "close archive", Err: err}
	}
	if err := os.Rename(tmp, finalPath); err != nil {
		os.Remove(tmp)
		return &BuildIOError{Op: "install archive", Err: err}
	}

	manifest := Manifest{ContentHash: hash, Interpreter: cfg.TargetInterpreter, Entries: entries}
	if err := writeManifest(finalPath+".manifest.json", manifest); err != nil {
		return err
	}
	return nil
}

func (b *Builder) writeTar(tarPath string, cfg GateBuildConfig, modules map[string]resolvedModule, helpers map[string]string) ([]Descriptor, error) {
	f, err := os.Create(tarPath)
	if err != nil {
		return nil, &BuildIOError{Op: "create tar layer", Err: err}
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	entryPointPath := b.EntryPointPath
	if entryPointPath == "" {
		entryPointPath = defaultEntryPointPath
	}

	var entries []Descriptor
	add := func(path, mediaType, name string, contents []byte) error {
		if err := tw.WriteHeader(&tar.Header{
			Name: path,
			Mode: 0755,
			Size: int64(len(contents)),
		}); err != nil {
			return &BuildIOError{Op: "write tar header " + path, Err: err}
		}
		if _, err := tw.Write(contents); err != nil {
			return &BuildIOError{Op: "write tar body " + path, Err: err}
		}
		entries = append(entries, Descriptor{
			MediaType: mediaType,
			Digest:    digest.FromBytes(contents),
			Size:      int64(len(contents)),
			Path:      path,
			Name:      name,
		})
		return nil
	}

	if len(b.EntryPoint) > 0 {
		if err := add(entryPointPath, MediaTypeEntryPoint, "", b.EntryPoint); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(modules))
	for n := range modules {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		m := modules[n]
		if err := add(filepath.Join("modules", n), MediaTypeModule, n, m.contents); err != nil {
			return nil, err
		}
	}

	impNames := make([]string, 0, len(helpers))
	for imp := range helpers {
		impNames = append(impNames, imp)
	}
	sort.Strings(impNames)
	for _, imp := range impNames {
		bs, err := os.ReadFile(helpers[imp])
		if err != nil {
			return nil, &BuildIOError{Op: "read helper " + imp, Err: err}
		}
		helperPath := filepath.Join("helpers", strings.ReplaceAll(imp, ".", string(filepath.Separator))+filepath.Ext(helpers[imp]))
		if err := add(helperPath, MediaTypeHelper, imp, bs); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func writeManifest(path string, m Manifest) error {
	bs, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &BuildIOError{Op: "marshal manifest", Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0644); err != nil {
		return &BuildIOError{Op: "write manifest", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &BuildIOError{Op: "install manifest", Err: err}
	}
	return nil
}

// CompressForTransfer zstd-recompresses the archive at archivePath into
// a sibling ".zst" file for the controller-to-host SFTP upload.
func CompressForTransfer(archivePath string) (string, error) {
	dst := archivePath + ".zst"
	if err := codecutil.ZstdCompress(archivePath, dst); err != nil {
		return "", &BuildIOError{Op: "compress archive", Err: err}
	}
	return dst, nil
}
