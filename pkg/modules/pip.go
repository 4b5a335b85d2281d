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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const pipTimeout = 5 * time.Minute

// Pip manages Python packages via pip. args:
//
//	name         string or []any of strings; package name(s)
//	requirements string; path to a requirements file
//	state        string; present (default), absent, or latest
//	virtualenv   string; path to a virtualenv, to use its interpreter
//	extra_args   string; appended to the pip invocation, whitespace-split
func Pip(ctx context.Context, args map[string]any) (map[string]any, error) {
	names := packageNames(args["name"])
	requirements, _ := args["requirements"].(string)
	state, _ := args["state"].(string)
	if state == "" {
		state = "present"
	}
	virtualenv, _ := args["virtualenv"].(string)
	extraArgs, _ := args["extra_args"].(string)

	if len(names) == 0 && requirements == "" {
		return nil, fmt.Errorf("modules: pip requires name or requirements")
	}

	python, err := pipInterpreter(virtualenv)
	if err != nil {
		return nil, err
	}

	cmd := []string{python, "-m", "pip"}
	switch {
	case requirements != "":
		if _, err := os.Stat(requirements); err != nil {
			return nil, fmt.Errorf("modules: pip requirements file %q not found: %w", requirements, err)
		}
		if state == "absent" {
			return nil, fmt.Errorf("modules: pip state=absent is not supported with a requirements file")
		}
		cmd = append(cmd, "install", "-r", requirements)
		if state == "latest" {
			cmd = append(cmd, "--upgrade")
		}
	case state == "present":
		cmd = append(append(cmd, "install"), names...)
	case state == "absent":
		cmd = append(append(cmd, "uninstall", "-y"), names...)
	case state == "latest":
		cmd = append(append(cmd, "install", "--upgrade"), names...)
	default:
		return nil, fmt.Errorf("modules: pip invalid state %q", state)
	}

	if extraArgs != "" {
		cmd = append(cmd, strings.Fields(extraArgs)...)
	}

	ctx, cancel := context.WithTimeout(ctx, pipTimeout)
	defer cancel()

	execCmd := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr
	runErr := execCmd.Run()

	out := stdout.String()
	output := map[string]any{
		"changed": pipChanged(state, out),
		"stdout":  out,
		"stderr":  stderr.String(),
		"rc":      exitCode(runErr),
	}
	if len(names) > 0 {
		output["name"] = names
	}
	if requirements != "" {
		output["requirements"] = requirements
	}
	if virtualenv != "" {
		output["virtualenv"] = virtualenv
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("modules: pip operation timed out after %s", pipTimeout)
	}
	if rc, _ := output["rc"].(int); rc != 0 {
		output["failed"] = true
		output["msg"] = fmt.Sprintf("pip failed with rc=%d: %s", rc, firstNonEmpty(stderr.String(), out))
	}
	return output, nil
}

func pipChanged(state, stdout string) bool {
	switch state {
	case "present":
		return strings.Contains(stdout, "Successfully installed")
	case "latest":
		return strings.Contains(stdout, "Successfully installed")
	case "absent":
		return strings.Contains(stdout, "Successfully uninstalled")
	default:
		return false
	}
}

func packageNames(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// pipInterpreter resolves the python executable to invoke: the
// virtualenv's interpreter (bin/python, else Scripts/python.exe) if a
// virtualenv was given, else "python3" looked up on PATH.
func pipInterpreter(virtualenv string) (string, error) {
	if virtualenv == "" {
		return "python3", nil
	}
	unixPython := filepath.Join(virtualenv, "bin", "python")
	if _, err := os.Stat(unixPython); err == nil {
		return unixPython, nil
	}
	winPython := filepath.Join(virtualenv, "Scripts", "python.exe")
	if _, err := os.Stat(winPython); err == nil {
		return winPython, nil
	}
	return "", fmt.Errorf("modules: virtualenv not found or invalid: %s", virtualenv)
}
