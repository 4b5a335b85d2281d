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

// Package gatebuild resolves a GateBuildConfig into a content-addressed
// gate archive: an entry-point program plus bundled modules and their
// transitive helper dependencies, cached on disk keyed by content hash.
package gatebuild

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"
)

// GateBuildConfig is the immutable input to a build: two configs with
// equal ContentHash must produce byte-identical archives.
type GateBuildConfig struct {
	ModuleNames       []string
	ModuleSearchRoots []string
	Dependencies      []string // e.g. "requests@>=2.20.0"
	TargetInterpreter string
}

// Dependency splits one dependency entry into a bare name and an
// optional semver constraint (nil if none was given).
type Dependency struct {
	Name       string
	Constraint *semver.Constraints
}

// ParseDependencies splits every "name@constraint" entry in cfg, in
// declared order, erroring on a malformed constraint rather than
// silently dropping it.
func (cfg GateBuildConfig) ParseDependencies() ([]Dependency, error) {
	out := make([]Dependency, 0, len(cfg.Dependencies))
	for _, raw := range cfg.Dependencies {
		name, constraintStr, hasConstraint := strings.Cut(raw, "@")
		dep := Dependency{Name: name}
		if hasConstraint {
			c, err := semver.NewConstraint(constraintStr)
			if err != nil {
				return nil, fmt.Errorf("gatebuild: dependency %q: invalid constraint: %w", raw, err)
			}
			dep.Constraint = c
		}
		out = append(out, dep)
	}
	return out, nil
}

// CheckConstraint reports whether resolvedVersion satisfies dep's
// constraint; a dependency with no constraint always satisfies.
func (d Dependency) CheckConstraint(resolvedVersion string) (bool, error) {
	if d.Constraint == nil {
		return true, nil
	}
	v, err := semver.NewVersion(resolvedVersion)
	if err != nil {
		return false, fmt.Errorf("gatebuild: resolved version %q for %s: %w", resolvedVersion, d.Name, err)
	}
	return d.Constraint.Check(v), nil
}

// ContentHash is the SHA-256 over the canonical serialization described
// in spec.md §4.2: sorted module names, sorted absolute search roots,
// sorted dependency strings, the target interpreter, plus a hash of
// every resolved module's byte contents. moduleContents maps each
// resolved module name to its file bytes, in whatever order the caller
// found them; this function sorts before hashing so build order never
// affects the result.
func ContentHash(cfg GateBuildConfig, moduleContents map[string][]byte) (digest.Digest, error) {
	h := sha256.New()

	names := append([]string(nil), cfg.ModuleNames...)
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(h, "module:%s\n", n)
	}

	roots := make([]string, len(cfg.ModuleSearchRoots))
	for i, r := range cfg.ModuleSearchRoots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return "", fmt.Errorf("gatebuild: search root %q: %w", r, err)
		}
		roots[i] = abs
	}
	sort.Strings(roots)
	for _, r := range roots {
		fmt.Fprintf(h, "root:%s\n", r)
	}

	deps := append([]string(nil), cfg.Dependencies...)
	sort.Strings(deps)
	for _, d := range deps {
		fmt.Fprintf(h, "dep:%s\n", d)
	}

	fmt.Fprintf(h, "interpreter:%s\n", cfg.TargetInterpreter)

	contentNames := make([]string, 0, len(moduleContents))
	for n := range moduleContents {
		contentNames = append(contentNames, n)
	}
	sort.Strings(contentNames)
	for _, n := range contentNames {
		fmt.Fprintf(h, "content:%s:%x\n", n, sha256.Sum256(moduleContents[n]))
	}

	return digest.NewDigest(digest.SHA256, h), nil
}
