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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// InvokeFTLLocal runs an FTL-native function in-process.
func InvokeFTLLocal(ctx context.Context, fn FTLFunc, args map[string]any) (map[string]any, error) {
	return fn(ctx, args)
}

// InvokeClassicLocal runs a classic module's bytes as a local subprocess
// according to shape, and returns its parsed stdout. Used for hosts
// dispatched without a gate session (h.Conn == inventory.ConnLocal); the
// gate process uses RunClassicModule directly and ships the raw
// stdout/stderr back to the controller for it to parse instead, since
// ParseModuleOutput's result-synthesis rule belongs to the dispatcher,
// not the gate.
func InvokeClassicLocal(ctx context.Context, shape Shape, contents []byte, args map[string]any) (map[string]any, error) {
	stdout, stderr, runErr := RunClassicModule(ctx, shape, contents, args)
	output := ParseModuleOutput(stdout)
	if runErr != nil {
		if _, hasFailed := output["failed"]; !hasFailed {
			// Non-zero exit with no self-reported JSON failure: a crash,
			// not a graceful module-level failure.
			output["failed"] = true
			output["msg"] = fmt.Sprintf("module exited with error: %v; stderr: %s", runErr, stderr)
		}
	}
	return output, nil
}

// RunClassicModule writes contents to a fresh temp workdir and executes
// it per shape's calling convention, returning its raw captured
// stdout/stderr. Shared by InvokeClassicLocal (controller-local hosts)
// and cmd/gate (remote hosts, where the raw text travels back over the
// wire as a ModuleResult for the controller to parse).
func RunClassicModule(ctx context.Context, shape Shape, contents []byte, args map[string]any) (stdout, stderr string, err error) {
	workdir, err := os.MkdirTemp("", "fleetgate-module-*")
	if err != nil {
		return "", "", fmt.Errorf("dispatch: create module workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	modulePath := filepath.Join(workdir, "module")
	if err := os.WriteFile(modulePath, contents, 0755); err != nil {
		return "", "", fmt.Errorf("dispatch: write module: %w", err)
	}

	var cmd *exec.Cmd
	var stdin []byte

	switch shape {
	case ShapeNewStyle:
		argsJSON, err := json.Marshal(map[string]any{"ANSIBLE_MODULE_ARGS": args})
		if err != nil {
			return "", "", fmt.Errorf("dispatch: marshal args: %w", err)
		}
		stdin = argsJSON
		cmd = exec.CommandContext(ctx, modulePath)
	case ShapeWantJSON:
		argsPath := filepath.Join(workdir, "args.json")
		argsJSON, err := json.Marshal(args)
		if err != nil {
			return "", "", fmt.Errorf("dispatch: marshal args: %w", err)
		}
		if err := os.WriteFile(argsPath, argsJSON, 0644); err != nil {
			return "", "", fmt.Errorf("dispatch: write args file: %w", err)
		}
		cmd = exec.CommandContext(ctx, modulePath, argsPath)
	case ShapeOldStyle:
		argsPath := filepath.Join(workdir, "args")
		if err := writeOldStyleArgs(argsPath, args); err != nil {
			return "", "", err
		}
		cmd = exec.CommandContext(ctx, modulePath, argsPath)
	case ShapeBinary:
		argsPath := filepath.Join(workdir, "args.json")
		argsJSON, err := json.Marshal(args)
		if err != nil {
			return "", "", fmt.Errorf("dispatch: marshal args: %w", err)
		}
		if err := os.WriteFile(argsPath, argsJSON, 0644); err != nil {
			return "", "", fmt.Errorf("dispatch: write args file: %w", err)
		}
		cmd = exec.CommandContext(ctx, modulePath, argsPath)
	default:
		return "", "", fmt.Errorf("dispatch: unknown shape %v", shape)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	runErr := cmd.Run()
	return outBuf.String(), errBuf.String(), runErr
}

// writeOldStyleArgs writes args as the classic Ansible "key=value ..."
// single-line, space-separated file format. Keys are sorted so repeated
// calls with the same args produce byte-identical files.
func writeOldStyleArgs(path string, args map[string]any) error {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("dispatch: create args file: %w", err)
	}
	defer f.Close()

	for i, k := range keys {
		if i > 0 {
			fmt.Fprint(f, " ")
		}
		fmt.Fprintf(f, "%s=%v", k, args[k])
	}
	return nil
}
