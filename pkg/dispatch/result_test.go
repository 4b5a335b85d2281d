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

package dispatch

import "testing"

func TestParseModuleOutputFindsFirstObject(t *testing.T) {
	stdout := "some preamble noise\n{\"changed\": true, \"rc\": 0}\ntrailing\n"
	out := ParseModuleOutput(stdout)
	if out["changed"] != true {
		t.Errorf("changed = %v, want true", out["changed"])
	}
}

func TestParseModuleOutputNoJSONFallsBackToStdout(t *testing.T) {
	out := ParseModuleOutput("plain text output\n")
	if out["stdout"] != "plain text output" {
		t.Errorf("stdout = %q", out["stdout"])
	}
}

func TestSynthesizeDefaults(t *testing.T) {
	r := Synthesize("h1", "ping", map[string]any{}, 1)
	if !r.Success || r.Changed || r.Failed {
		t.Errorf("Synthesize defaults = %+v", r)
	}
}

func TestSynthesizeFailed(t *testing.T) {
	r := Synthesize("h1", "command", map[string]any{"failed": true, "msg": "boom"}, 1)
	if r.Success || !r.Failed {
		t.Errorf("Synthesize failed = %+v", r)
	}
}

func TestSynthesizeChanged(t *testing.T) {
	r := Synthesize("h1", "pip", map[string]any{"changed": true}, 1)
	if !r.Changed {
		t.Errorf("Changed = %v, want true", r.Changed)
	}
}
