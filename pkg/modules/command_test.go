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
	"testing"
)

func TestCommandRunsAndCapturesOutput(t *testing.T) {
	out, err := Command(context.Background(), map[string]any{"cmd": "echo hello"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if out["stdout"] != "hello\n" {
		t.Errorf("stdout = %q, want %q", out["stdout"], "hello\n")
	}
	if out["changed"] != true {
		t.Errorf("changed = %v, want true", out["changed"])
	}
	if out["rc"] != 0 {
		t.Errorf("rc = %v, want 0", out["rc"])
	}
}

func TestCommandSkipsWhenCreatesExists(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	if err := os.WriteFile(marker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := Command(context.Background(), map[string]any{"cmd": "echo should-not-run", "creates": marker})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if out["changed"] != false {
		t.Errorf("changed = %v, want false", out["changed"])
	}
}

func TestCommandSkipsWhenRemovesMissing(t *testing.T) {
	out, err := Command(context.Background(), map[string]any{"cmd": "echo should-not-run", "removes": "/nonexistent/path/xyz"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if out["changed"] != false {
		t.Errorf("changed = %v, want false", out["changed"])
	}
}

func TestCommandCheckModeFailsOnNonzeroExit(t *testing.T) {
	out, err := Command(context.Background(), map[string]any{"cmd": "exit 7", "check": true})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if out["failed"] != true {
		t.Errorf("failed = %v, want true", out["failed"])
	}
	if out["rc"] != 7 {
		t.Errorf("rc = %v, want 7", out["rc"])
	}
}

func TestCommandWithoutCheckDoesNotFailOnNonzeroExit(t *testing.T) {
	out, err := Command(context.Background(), map[string]any{"cmd": "exit 7"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if _, failed := out["failed"]; failed {
		t.Errorf("failed present = %v, want absent", out["failed"])
	}
}

func TestCommandBlockedConstructReturnsError(t *testing.T) {
	_, err := Command(context.Background(), map[string]any{"cmd": "rm -rf /"})
	if err == nil {
		t.Fatal("Command(rm -rf /) = nil error, want blocked")
	}
}

func TestCommandDestructiveRequiresOverride(t *testing.T) {
	if _, err := Command(context.Background(), map[string]any{"cmd": "rm -rf /opt/data"}); err == nil {
		t.Fatal("Command(destructive, no override) = nil error, want error")
	}
	if _, err := Command(context.Background(), map[string]any{"cmd": "true", "allow_destructive": true}); err != nil {
		t.Fatalf("Command(non-destructive, override) = %v, want nil", err)
	}
}

func TestCommandRequiresCmd(t *testing.T) {
	if _, err := Command(context.Background(), map[string]any{}); err == nil {
		t.Fatal("Command(no cmd) = nil error, want error")
	}
}

func TestCommandChdir(t *testing.T) {
	dir := t.TempDir()
	out, err := Command(context.Background(), map[string]any{"cmd": "pwd", "chdir": dir})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if out["chdir"] != dir {
		t.Errorf("chdir = %v, want %v", out["chdir"], dir)
	}
}
