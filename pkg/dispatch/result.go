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

import (
	"encoding/json"
	"strings"
)

// Result is one host's outcome from a single dispatch call.
type Result struct {
	Host    string
	Module  string
	Success bool
	Changed bool
	Failed  bool // result explicitly reported failed=true
	Output  map[string]any
	Error   error
	Attempt int
}

// ParseModuleOutput implements the stdout-parsing rule for classic
// modules: the first valid JSON object found anywhere in stdout wins; if
// none is found, the whole trimmed stdout is wrapped as {"stdout": ...}.
func ParseModuleOutput(stdout string) map[string]any {
	if obj, ok := firstJSONObject(stdout); ok {
		return obj
	}
	return map[string]any{"stdout": strings.TrimRight(stdout, "\n")}
}

// firstJSONObject scans s for the first substring, starting at a '{',
// that decodes as a JSON object.
func firstJSONObject(s string) (map[string]any, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

// Synthesize applies the result-synthesis rule from a module's raw
// output map: success unless failed=true was reported, changed taken
// from the output (default false).
func Synthesize(host, module string, output map[string]any, attempt int) Result {
	r := Result{Host: host, Module: module, Output: output, Attempt: attempt, Success: true}
	if f, ok := output["failed"].(bool); ok && f {
		r.Failed = true
		r.Success = false
	}
	if c, ok := output["changed"].(bool); ok {
		r.Changed = c
	}
	return r
}

// Failure builds a terminal, non-retryable Result wrapping err (a
// dispatch, execution, or safety-kind error, never a transport error that
// still has retries available).
func Failure(host, module string, err error, attempt int) Result {
	return Result{Host: host, Module: module, Success: false, Failed: true, Error: err, Attempt: attempt}
}
