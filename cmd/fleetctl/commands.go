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

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fleetgate/fleetgate/pkg/cmdutil"
	"github.com/fleetgate/fleetgate/pkg/dispatch"
	"github.com/fleetgate/fleetgate/pkg/progress"
	"github.com/fleetgate/fleetgate/pkg/safety"
	"github.com/fleetgate/fleetgate/pkg/transport"
)

var (
	flagConcurrency int64
	flagPerHost     int64
	flagModulePath  []string
	flagNDJSON      bool
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&flagConcurrency, "forks", 16, "maximum number of hosts to run against concurrently")
	cmd.Flags().Int64Var(&flagPerHost, "per-host", 1, "maximum number of concurrent sessions per host")
	cmd.Flags().StringSliceVar(&flagModulePath, "module-path", nil, "directories to search for classic modules")
	cmd.Flags().BoolVar(&flagNDJSON, "ndjson", false, "emit NDJSON progress events instead of text")
}

// newRunCmd is fleetctl's primary verb: dispatch a named module, with
// ad-hoc key=value arguments, against an inventory target.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run TARGET MODULE [key=value ...]",
		Short: "Run a module against a target group or host",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, moduleName, argTokens := args[0], args[1], args[2:]
			moduleArgs, err := parseModuleArgs(argTokens)
			if err != nil {
				return err
			}
			return runModule(cmd, target, moduleName, moduleArgs)
		},
	}
	addRunFlags(cmd)
	return cmd
}

// newPingCmd is the zero-argument sanity check: "can fleetctl reach and
// round-trip every host in this target" without asking the operator to
// remember a module name, mirroring ansible's own ping module.
func newPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping [TARGET]",
		Short: "Dispatch the command module's no-op form against a target to check reachability",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}
			return runModule(cmd, target, "command", map[string]any{"cmd": "true"})
		},
	}
	addRunFlags(cmd)
	return cmd
}

// confirmDestructiveCommand is the one interactive override source for a
// command module call classified destructive: fleetctl asks the operator
// once at the controller, rather than dispatching to every host and
// failing with DestructiveError there. A "y" sets allow_destructive on
// moduleArgs so the dispatch proceeds exactly as if the operator had
// passed it on the command line; anything else aborts before any host is
// touched. Already-set allow_destructive is left alone.
func confirmDestructiveCommand(moduleName string, moduleArgs map[string]any) error {
	if moduleName != "command" {
		return nil
	}
	if allow, ok := moduleArgs["allow_destructive"].(bool); ok && allow {
		return nil
	}
	raw, _ := moduleArgs["cmd"].(string)
	if raw == "" {
		return nil
	}
	class, rule := safety.ClassifyCommand(raw)
	if class != safety.Destructive {
		return nil
	}
	ok, err := cmdutil.Confirm(os.Stdin, os.Stdout, fmt.Sprintf("command matches destructive pattern %q: %s\nrun anyway?", rule, raw))
	if err != nil {
		return fmt.Errorf("fleetctl: reading destructive-command confirmation: %w", err)
	}
	if !ok {
		return safety.DestructiveError{Command: raw, Rule: rule}
	}
	moduleArgs["allow_destructive"] = true
	return nil
}

func runModule(cmd *cobra.Command, target, moduleName string, moduleArgs map[string]any) error {
	if err := confirmDestructiveCommand(moduleName, moduleArgs); err != nil {
		return err
	}

	ctx, err := newContext(cmd, moduleName, flagModulePath, flagConcurrency, flagPerHost)
	if err != nil {
		return err
	}

	var sink progress.Sink
	if flagNDJSON {
		sink = progress.NewNDJSONSink(os.Stdout)
	} else {
		sink = progress.NewTextSink(os.Stdout)
	}
	ctx.AddSink(sink)

	runCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	started := time.Now()
	results, runErr := ctx.Run(runCtx, target, moduleName, moduleArgs, nil)

	closeCtx, closeCancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer closeCancel()
	if err := ctx.Close(closeCtx); err != nil {
		fmt.Fprintln(os.Stderr, color.YellowString("fleetctl: closing sessions: %v", err))
	}

	if runErr != nil {
		return runErr
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if sharedMetrics != nil {
		sharedMetrics.RecordRun(len(results), failed, time.Since(started))
	}

	if failed > 0 {
		fmt.Println(color.RedString("%d/%d hosts failed", failed, len(results)))
		return fmt.Errorf("fleetctl: %d host(s) failed", failed)
	}
	fmt.Println(color.GreenString("%d/%d hosts succeeded", len(results), len(results)))
	return nil
}

// newListCmd prints the hosts a target resolves to, without dispatching
// anything — useful for sanity-checking an inventory edit before
// unleashing a real run against it.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [TARGET]",
		Short: "List the hosts a target resolves to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}
			inv, err := loadInventory()
			if err != nil {
				return err
			}
			hosts, err := inv.Resolve(target)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(hosts))
			for _, h := range hosts {
				names = append(names, h.Name)
			}
			sort.Strings(names)
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

var (
	flagAddHostAddress string
	flagAddHostUser    string
	flagAddHostPort    int
	flagAddHostGroups  []string
)

// newAddHostCmd adds a host to the in-memory inventory and, when
// --state-file is configured, persists it there in the same call, so a
// later invocation against the same state file picks it back up without
// the operator re-declaring it in the inventory file.
func newAddHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-host NAME",
		Short: "Add a host, persisting it to the state file if one is configured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadInventory()
			if err != nil {
				return err
			}
			ctx, err := newAutomationContext(inv, dispatch.NewRegistry(), nil, nil, 1, 1)
			if err != nil {
				return err
			}
			defer ctx.Close(cmd.Context())

			name := args[0]
			if err := ctx.AddHost(name, flagAddHostAddress, flagAddHostUser, flagAddHostPort, flagAddHostGroups, nil); err != nil {
				return err
			}
			if loadedPrefs.StateFile == "" {
				fmt.Println(color.YellowString("%s added to this run's inventory only; set --state-file to persist across runs", name))
			} else {
				fmt.Printf("%s added\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagAddHostAddress, "address", "", "host address")
	cmd.Flags().StringVar(&flagAddHostUser, "user", "", "SSH user")
	cmd.Flags().IntVar(&flagAddHostPort, "port", 22, "SSH port")
	cmd.Flags().StringSliceVar(&flagAddHostGroups, "group", nil, "groups to add the host to (repeatable)")
	return cmd
}

// newShellCmd opens an interactive PTY to a single host, reusing the
// same pooled dialer automation.Context hands shadow actions, so a
// human dropping into a box authenticates exactly the way a dispatched
// run would.
func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell HOST",
		Short: "Open an interactive shell on a single inventory host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostName := args[0]
			inv, err := loadInventory()
			if err != nil {
				return err
			}
			host, ok := inv.Host(hostName)
			if !ok {
				return fmt.Errorf("fleetctl: host %q not found in inventory", hostName)
			}

			registry, err := buildRegistry("", flagModulePath)
			if err != nil {
				return err
			}
			entryPoint, err := buildGateEntryPoint()
			if err != nil {
				return fmt.Errorf("fleetctl: building gate entry point: %w", err)
			}
			ctx, err := newAutomationContext(inv, registry, flagModulePath, entryPoint, 1, 1)
			if err != nil {
				return err
			}
			defer ctx.Close(cmd.Context())

			conn, release, err := ctx.Dial(cmd.Context(), host)
			if err != nil {
				return fmt.Errorf("fleetctl: dialing %s: %w", hostName, err)
			}
			defer release()

			cols, rows, err := transport.LocalPTYSize(os.Stdout)
			if err != nil {
				cols, rows = 80, 24
			}
			return conn.Shell(os.Stdin, os.Stdout, cols, rows)
		},
	}
}
