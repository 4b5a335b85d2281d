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
	"os"
	"path/filepath"
	"testing"
)

func writeHelper(t *testing.T, root, rel, contents string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveHelpersCoreNamespace(t *testing.T) {
	root := t.TempDir()
	writeHelper(t, root, "module_utils/basic.py", "# basic helper")

	src := []byte("import H.module_utils.basic\n\ndef main(): pass\n")
	res, err := ResolveHelpers(src, []string{root})
	if err != nil {
		t.Fatalf("ResolveHelpers: %v", err)
	}
	if _, ok := res.Helpers["H.module_utils.basic"]; !ok {
		t.Errorf("helpers = %+v, want H.module_utils.basic resolved", res.Helpers)
	}
	if len(res.Unresolved) != 0 {
		t.Errorf("unresolved = %v, want none", res.Unresolved)
	}
}

func TestResolveHelpersCollectionNamespace(t *testing.T) {
	root := t.TempDir()
	writeHelper(t, root, filepath.Join("acme", "net", "plugins", "module_utils", "common.py"), "# common")

	src := []byte("from H_collections.acme.net.plugins.module_utils.common import thing\n")
	res, err := ResolveHelpers(src, []string{root})
	if err != nil {
		t.Fatalf("ResolveHelpers: %v", err)
	}
	if _, ok := res.Helpers["H_collections.acme.net.plugins.module_utils.common"]; !ok {
		t.Errorf("helpers = %+v, want collection helper resolved", res.Helpers)
	}
}

func TestResolveHelpersTransitive(t *testing.T) {
	root := t.TempDir()
	writeHelper(t, root, "module_utils/basic.py", "import H.module_utils.common\n")
	writeHelper(t, root, "module_utils/common.py", "# leaf\n")

	src := []byte("import H.module_utils.basic\n")
	res, err := ResolveHelpers(src, []string{root})
	if err != nil {
		t.Fatalf("ResolveHelpers: %v", err)
	}
	if len(res.Helpers) != 2 {
		t.Errorf("helpers = %+v, want 2 transitive entries", res.Helpers)
	}
}

func TestResolveHelpersCycleDoesNotHang(t *testing.T) {
	root := t.TempDir()
	writeHelper(t, root, "module_utils/a.py", "import H.module_utils.b\n")
	writeHelper(t, root, "module_utils/b.py", "import H.module_utils.a\n")

	src := []byte("import H.module_utils.a\n")
	res, err := ResolveHelpers(src, []string{root})
	if err != nil {
		t.Fatalf("ResolveHelpers: %v", err)
	}
	if len(res.Helpers) != 2 {
		t.Errorf("helpers = %+v, want exactly the 2-cycle members", res.Helpers)
	}
}

func TestResolveHelpersUnresolvedNotFatal(t *testing.T) {
	root := t.TempDir()
	src := []byte("import H.module_utils.missing\n")
	res, err := ResolveHelpers(src, []string{root})
	if err != nil {
		t.Fatalf("ResolveHelpers: %v", err)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "H.module_utils.missing" {
		t.Errorf("unresolved = %v", res.Unresolved)
	}
}
