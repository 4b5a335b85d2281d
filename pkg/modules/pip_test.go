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

package modules

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestPipRequiresNameOrRequirements(t *testing.T) {
	_, err := Pip(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("Pip(no name, no requirements) = nil error, want error")
	}
}

func TestPipMissingRequirementsFile(t *testing.T) {
	_, err := Pip(context.Background(), map[string]any{"requirements": "/nonexistent/requirements.txt"})
	if err == nil {
		t.Fatal("Pip(missing requirements file) = nil error, want error")
	}
}

func TestPipAbsentWithRequirementsIsRejected(t *testing.T) {
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(reqPath, []byte("requests\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Pip(context.Background(), map[string]any{"requirements": reqPath, "state": "absent"})
	if err == nil {
		t.Fatal("Pip(requirements, state=absent) = nil error, want error")
	}
}

func TestPipInvalidState(t *testing.T) {
	_, err := Pip(context.Background(), map[string]any{"name": "requests", "state": "bogus"})
	if err == nil {
		t.Fatal("Pip(invalid state) = nil error, want error")
	}
}

func TestPipVirtualenvNotFound(t *testing.T) {
	_, err := Pip(context.Background(), map[string]any{"name": "requests", "virtualenv": "/nonexistent/venv"})
	if err == nil {
		t.Fatal("Pip(missing virtualenv) = nil error, want error")
	}
}

func TestPipInterpreterPrefersVirtualenv(t *testing.T) {
	dir := t.TempDir()
	var pythonPath string
	if runtime.GOOS == "windows" {
		pythonPath = filepath.Join(dir, "Scripts", "python.exe")
	} else {
		pythonPath = filepath.Join(dir, "bin", "python")
	}
	if err := os.MkdirAll(filepath.Dir(pythonPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pythonPath, []byte(""), 0755); err != nil {
		t.Fatal(err)
	}
	got, err := pipInterpreter(dir)
	if err != nil {
		t.Fatalf("pipInterpreter: %v", err)
	}
	if got != pythonPath {
		t.Errorf("pipInterpreter(%q) = %q, want %q", dir, got, pythonPath)
	}
}

func TestPackageNamesAcceptsStringAndList(t *testing.T) {
	if got := packageNames("requests"); len(got) != 1 || got[0] != "requests" {
		t.Errorf("packageNames(string) = %v, want [requests]", got)
	}
	if got := packageNames([]any{"a", "b"}); len(got) != 2 {
		t.Errorf("packageNames(list) = %v, want 2 entries", got)
	}
	if got := packageNames(nil); got != nil {
		t.Errorf("packageNames(nil) = %v, want nil", got)
	}
}

func TestPipChangedDetection(t *testing.T) {
	if !pipChanged("present", "Successfully installed requests-2.31.0") {
		t.Error("pipChanged(present, installed) = false, want true")
	}
	if pipChanged("present", "Requirement already satisfied: requests") {
		t.Error("pipChanged(present, already satisfied) = true, want false")
	}
	if !pipChanged("absent", "Successfully uninstalled requests-2.31.0") {
		t.Error("pipChanged(absent, uninstalled) = false, want true")
	}
}
