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
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Two recognized helper import namespaces, per spec.md §4.3: the core
// namespace and the per-collection namespace. Matched with a line-based
// regex scan rather than a full parse, since modules are not Go source
// and the corpus carries no parser for the target language.
var (
	coreImportRe       = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+(H\.module_utils(?:\.[\w.]+)?)\b`)
	collectionImportRe = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+(H_collections\.[\w]+\.[\w]+\.plugins\.module_utils(?:\.[\w.]+)?)\b`)
)

// HelperResolution is the result of resolving one module's transitive
// helper imports.
type HelperResolution struct {
	// Helpers maps each resolved import path to the absolute file it
	// resolved to, across the whole transitive closure.
	Helpers map[string]string
	// Unresolved records import paths that matched a recognized
	// namespace but could not be found on any search path. Not fatal.
	Unresolved []string
}

// ResolveHelpers walks src's helper imports transitively, resolving each
// against searchPaths in order and recursing into every helper file it
// finds. Cycles are broken by a visited set of absolute paths.
func ResolveHelpers(src []byte, searchPaths []string) (*HelperResolution, error) {
	res := &HelperResolution{Helpers: map[string]string{}}
	visited := map[string]bool{}
	if err := resolveOne(src, searchPaths, res, visited); err != nil {
		return nil, err
	}
	sort.Strings(res.Unresolved)
	return res, nil
}

func resolveOne(src []byte, searchPaths []string, res *HelperResolution, visited map[string]bool) error {
	for _, importPath := range extractImports(src) {
		if _, ok := res.Helpers[importPath]; ok {
			continue
		}
		path, ok := findHelper(importPath, searchPaths)
		if !ok {
			res.Unresolved = append(res.Unresolved, importPath)
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("gatebuild: helper %q: %w", importPath, err)
		}
		if visited[abs] {
			continue
		}
		visited[abs] = true
		res.Helpers[importPath] = path

		child, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("gatebuild: read helper %s: %w", path, err)
		}
		if err := resolveOne(child, searchPaths, res, visited); err != nil {
			return err
		}
	}
	return nil
}

func extractImports(src []byte) []string {
	var out []string
	seen := map[string]bool{}
	for _, re := range []*regexp.Regexp{coreImportRe, collectionImportRe} {
		for _, m := range re.FindAllSubmatch(src, -1) {
			imp := string(m[1])
			if !seen[imp] {
				seen[imp] = true
				out = append(out, imp)
			}
		}
	}
	return out
}

// findHelper maps a dotted import path to a file under one of
// searchPaths, trying the core namespace layout
// (module_utils/<rest>.py) and the collection namespace layout
// (<ns>/<coll>/plugins/module_utils/<rest>.py).
func findHelper(importPath string, searchPaths []string) (string, bool) {
	rel := helperRelPath(importPath)
	if rel == "" {
		return "", false
	}
	for _, root := range searchPaths {
		candidate := filepath.Join(root, rel)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func helperRelPath(importPath string) string {
	switch {
	case matchPrefix(importPath, "H.module_utils"):
		rest := importPath[len("H.module_utils"):]
		return filepath.Join("module_utils", dottedToPath(rest)) + ".py"
	case matchPrefix(importPath, "H_collections."):
		// H_collections.<ns>.<coll>.plugins.module_utils.<rest>
		parts := splitDotted(importPath)
		if len(parts) < 5 {
			return ""
		}
		ns, coll := parts[1], parts[2]
		rest := parts[5:]
		return filepath.Join(ns, coll, "plugins", "module_utils", filepath.Join(rest...)) + ".py"
	default:
		return ""
	}
}

func matchPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func dottedToPath(dotted string) string {
	dotted = trimLeadingDot(dotted)
	if dotted == "" {
		return "index"
	}
	return filepath.Join(splitDotted(dotted)...)
}

func trimLeadingDot(s string) string {
	if len(s) > 0 && s[0] == '.' {
		return s[1:]
	}
	return s
}

func splitDotted(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
