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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hugomd/ascii-live/frames"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fleetgate/fleetgate/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	rootCmd   *cobra.Command
	prefsFile = filepath.Join(os.Getenv("HOME"), ".fleetctl", "prefs.json")
)

const defaultInventoryPath = "inventory.yaml"

func init() {
	if err := loadedPrefs.load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("failed to load preferences: %v", err)
		}
	}
	if path := os.Getenv("FLEETGATE_INVENTORY"); path != "" {
		loadedPrefs.InventoryPath = path
	}
	if loadedPrefs.InventoryPath == "" {
		loadedPrefs.InventoryPath = defaultInventoryPath
	}
	if loadedPrefs.CacheDir == "" {
		loadedPrefs.CacheDir = filepath.Join(os.Getenv("HOME"), ".fleetctl", "gate-cache")
	}
}

var loadedPrefs prefs

// prefs mirrors the teacher's flag-backed preferences struct: persistent
// flags write through to these fields, and --save persists them for the
// next invocation so the inventory path and cache dir don't need
// repeating on every call.
type prefs struct {
	changed       bool
	InventoryPath string `json:"inventory_path"`
	CacheDir      string `json:"cache_dir"`
	StateFile     string `json:"state_file"`
}

type flagPref[T comparable] struct {
	t       *T
	changed *bool
}

func (fp flagPref[T]) Set(v T) error {
	if *fp.t == v {
		return nil
	}
	*fp.t = v
	*fp.changed = true
	return nil
}

func (fp flagPref[T]) Type() string { return "string" }
func (fp flagPref[T]) String() string {
	return fmt.Sprint(*fp.t)
}

func (p *prefs) inventoryValue() pflag.Value { return flagPref[string]{t: &p.InventoryPath, changed: &p.changed} }
func (p *prefs) cacheDirValue() pflag.Value  { return flagPref[string]{t: &p.CacheDir, changed: &p.changed} }
func (p *prefs) stateFileValue() pflag.Value { return flagPref[string]{t: &p.StateFile, changed: &p.changed} }

func (p *prefs) save() error {
	if err := os.MkdirAll(filepath.Dir(prefsFile), 0755); err != nil {
		return err
	}
	j, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(prefsFile, j, 0600)
}

func (p *prefs) load() error {
	j, err := os.ReadFile(prefsFile)
	if err != nil {
		return err
	}
	return json.Unmarshal(j, p)
}

func main() {
	rootCmd = &cobra.Command{
		Use:   "fleetctl",
		Short: "Dispatch modules across a fleet of hosts over SSH",
	}
	rootCmd.PersistentFlags().Var(loadedPrefs.inventoryValue(), "inventory", "path to the YAML inventory file")
	rootCmd.PersistentFlags().Var(loadedPrefs.cacheDirValue(), "cache-dir", "gate archive cache directory")
	rootCmd.PersistentFlags().Var(loadedPrefs.stateFileValue(), "state-file", "path to the durable state file tracking hosts and resources across runs (disabled if empty)")

	var save bool
	prefsCmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or save fleetctl's saved preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("inventory: %s\ncache-dir: %s\nstate-file: %s\n", loadedPrefs.InventoryPath, loadedPrefs.CacheDir, loadedPrefs.StateFile)
			if save {
				if err := loadedPrefs.save(); err != nil {
					return fmt.Errorf("failed to save preferences: %w", err)
				}
				fmt.Fprintln(os.Stderr, "Prefs saved")
			} else if loadedPrefs.changed {
				fmt.Fprintln(os.Stderr, "Use --save to save the prefs")
			}
			return nil
		},
	}
	prefsCmd.Flags().BoolVar(&save, "save", false, "save the current prefs")
	rootCmd.AddCommand(prefsCmd)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newAddHostCmd())
	rootCmd.AddCommand(newHerdCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

// newHerdCmd is a hidden novelty command: it redraws a single party
// parrot frame by frame, changing its colour on every frame, until the
// command's context is canceled.
func newHerdCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "herd",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			colors := []*color.Color{
				color.New(color.FgRed),
				color.New(color.FgGreen),
				color.New(color.FgYellow),
				color.New(color.FgBlue),
				color.New(color.FgMagenta),
				color.New(color.FgCyan),
				color.New(color.FgWhite),
			}
			p := frames.Parrot
			x := 0
			for {
				fmt.Print("\033[H\033[2J")
				x++
				i := x % p.GetLength()
				c := colors[x%len(colors)]
				c.Println(p.GetFrame(i))
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(p.GetSleep()):
					continue
				}
			}
		},
	}
}

var sharedMetrics = metrics.NewRecorder(prometheus.DefaultRegisterer)

// parseModuleArgs turns "key=value" ad-hoc tokens, Ansible's own -a
// calling convention, into a module-args map, coercing obvious bools and
// numbers so e.g. "enabled=true" and "retries=3" don't arrive as
// strings a module then has to re-parse itself.
func parseModuleArgs(tokens []string) (map[string]any, error) {
	args := map[string]any{}
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, fmt.Errorf("fleetctl: malformed argument %q, want key=value", tok)
		}
		args[k] = coerceArgValue(v)
	}
	return args, nil
}

func coerceArgValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return v
}
