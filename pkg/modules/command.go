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
	"time"

	"github.com/fleetgate/fleetgate/pkg/safety"
)

// Command runs cmd through a shell, with creates/removes idempotency
// guards. args:
//
//	cmd               string, required
//	chdir             string, optional working directory
//	creates           string, optional path; skip if it already exists
//	removes           string, optional path; skip if it does not exist
//	timeout_seconds   int, optional
//	check             bool, optional; rc != 0 becomes a failed result
//	allow_destructive bool, optional override for the destructive safety class
func Command(ctx context.Context, args map[string]any) (map[string]any, error) {
	cmd, _ := args["cmd"].(string)
	if cmd == "" {
		return nil, fmt.Errorf("modules: command requires cmd")
	}

	allowDestructive, _ := args["allow_destructive"].(bool)
	if err := safety.CheckCommand(cmd, allowDestructive); err != nil {
		return nil, err
	}

	if creates, ok := args["creates"].(string); ok && creates != "" {
		if _, err := os.Stat(creates); err == nil {
			return map[string]any{
				"changed": false, "rc": 0, "stdout": "", "stderr": "", "cmd": cmd,
				"msg": fmt.Sprintf("skipped: %q exists", creates),
			}, nil
		}
	}
	if removes, ok := args["removes"].(string); ok && removes != "" {
		if _, err := os.Stat(removes); err != nil {
			return map[string]any{
				"changed": false, "rc": 0, "stdout": "", "stderr": "", "cmd": cmd,
				"msg": fmt.Sprintf("skipped: %q does not exist", removes),
			}, nil
		}
	}

	if secs, ok := timeoutSeconds(args); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	if chdir, ok := args["chdir"].(string); ok && chdir != "" {
		execCmd.Dir = chdir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	runErr := execCmd.Run()
	rc := exitCode(runErr)

	output := map[string]any{
		"changed": true,
		"rc":      rc,
		"stdout":  stdout.String(),
		"stderr":  stderr.String(),
		"cmd":     cmd,
	}
	if chdir, ok := args["chdir"].(string); ok && chdir != "" {
		output["chdir"] = chdir
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("modules: command timed out: %s", cmd)
	}

	if check, _ := args["check"].(bool); check && rc != 0 {
		output["failed"] = true
		output["msg"] = fmt.Sprintf("command failed with rc=%d: %s", rc, firstNonEmpty(stderr.String(), stdout.String()))
	}
	return output, nil
}

func timeoutSeconds(args map[string]any) (int, bool) {
	switch v := args["timeout_seconds"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// exitCode extracts a command's return code from its run error, 0 for a
// nil error (success).
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
