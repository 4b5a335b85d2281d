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

import "testing"

func TestConfirmDestructiveCommandSkipsNonCommandModules(t *testing.T) {
	args := map[string]any{"cmd": "rm -rf /"}
	if err := confirmDestructiveCommand("ping", args); err != nil {
		t.Errorf("confirmDestructiveCommand(ping) = %v, want nil (only the command module is classified)", err)
	}
}

func TestConfirmDestructiveCommandSkipsClearCommands(t *testing.T) {
	args := map[string]any{"cmd": "echo hello"}
	if err := confirmDestructiveCommand("command", args); err != nil {
		t.Errorf("confirmDestructiveCommand(clear) = %v, want nil", err)
	}
}

func TestConfirmDestructiveCommandSkipsAlreadyAllowed(t *testing.T) {
	args := map[string]any{"cmd": "rm -rf /", "allow_destructive": true}
	if err := confirmDestructiveCommand("command", args); err != nil {
		t.Errorf("confirmDestructiveCommand(already allowed) = %v, want nil", err)
	}
}

func TestConfirmDestructiveCommandSkipsEmptyCmd(t *testing.T) {
	if err := confirmDestructiveCommand("command", map[string]any{}); err != nil {
		t.Errorf("confirmDestructiveCommand(no cmd) = %v, want nil", err)
	}
}
