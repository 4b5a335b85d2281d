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

// Package safety implements the pre-flight and per-command checks that
// run before a dispatch is allowed to reach a host: SSH auth
// configuration sanity, and command-pattern scanning for constructs that
// are either always refused (blocked) or refused unless an explicit
// override is given (destructive).
package safety

import (
	"fmt"
	"os"
	"strings"

	"github.com/fleetgate/fleetgate/pkg/inventory"
)

// scratchPrefixes are well-known scratch locations exempt from the
// destructive classification; a blocked construct is never exempt.
var scratchPrefixes = []string{"/tmp/", "/var/tmp/"}

// Classification is the outcome of scanning one command string.
type Classification int

const (
	Clear Classification = iota
	Destructive
	Blocked
)

func (c Classification) String() string {
	switch c {
	case Destructive:
		return "destructive"
	case Blocked:
		return "blocked"
	default:
		return "clear"
	}
}

// BlockedError is returned for a construct that is never permitted.
type BlockedError struct {
	Command string
	Rule    string
}

func (e BlockedError) Error() string {
	return fmt.Sprintf("safety: command matches always-refused pattern %q: %s", e.Rule, e.Command)
}
func (e BlockedError) FailureKind() string          { return "blocked" }
func (e BlockedError) FailureSuggestions() []string { return []string{"this command pattern is never permitted; rewrite the task to avoid it"} }

// DestructiveError is returned for a destructive construct run without
// an override.
type DestructiveError struct {
	Command string
	Rule    string
}

func (e DestructiveError) Error() string {
	return fmt.Sprintf("safety: command matches destructive pattern %q without override: %s", e.Rule, e.Command)
}
func (e DestructiveError) FailureKind() string { return "destructive_requires_override" }
func (e DestructiveError) FailureSuggestions() []string {
	return []string{"pass an explicit override to acknowledge the destructive action"}
}

// AuthConfigError is returned by PreflightHost when an SSH host has no
// usable credential, or a declared key file does not exist.
type AuthConfigError struct {
	Host   string
	Reason string
}

func (e AuthConfigError) Error() string {
	return fmt.Sprintf("safety: host %s: %s", e.Host, e.Reason)
}
func (e AuthConfigError) FailureKind() string { return "auth_config_invalid" }
func (e AuthConfigError) FailureSuggestions() []string {
	return []string{"set a password or an existing private_key_path for this host in the inventory"}
}

// ClassifyCommand scans cmd against the blocked and destructive rule
// sets, in that priority order, applying the scratch-path exemption to
// destructive matches whose captured path falls under a well-known
// scratch location.
func ClassifyCommand(cmd string) (Classification, string) {
	for _, r := range blockedRules {
		if r.re.MatchString(cmd) {
			return Blocked, r.name
		}
	}
	for _, r := range destructiveRules {
		m := r.re.FindStringSubmatch(cmd)
		if m == nil {
			continue
		}
		if r.pathGroup > 0 && r.pathGroup < len(m) && isScratchPath(m[r.pathGroup]) {
			continue
		}
		return Destructive, r.name
	}
	return Clear, ""
}

func isScratchPath(path string) bool {
	for _, prefix := range scratchPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// CheckCommand classifies cmd and returns a BlockedError or (absent
// override) a DestructiveError. A Clear command, or a Destructive one
// with override set, returns nil.
func CheckCommand(cmd string, override bool) error {
	switch class, rule := ClassifyCommand(cmd); class {
	case Blocked:
		return BlockedError{Command: cmd, Rule: rule}
	case Destructive:
		if override {
			return nil
		}
		return DestructiveError{Command: cmd, Rule: rule}
	default:
		return nil
	}
}

// PreflightHost validates an SSH host's auth configuration: at least one
// of password or an existing private key file must be set. Local-
// connection hosts always pass, since they never touch SSH.
func PreflightHost(h *inventory.Host) error {
	if h.Conn != inventory.ConnSSH {
		return nil
	}
	if h.Auth.Password == "" && h.Auth.PrivateKeyPath == "" {
		return AuthConfigError{Host: h.Name, Reason: "neither password nor private_key_path is configured"}
	}
	if h.Auth.PrivateKeyPath != "" {
		if _, err := os.Stat(h.Auth.PrivateKeyPath); err != nil {
			return AuthConfigError{Host: h.Name, Reason: fmt.Sprintf("private_key_path %q does not exist: %v", h.Auth.PrivateKeyPath, err)}
		}
	}
	return nil
}

// PreflightInventory runs PreflightHost over every host and returns every
// failure found, rather than stopping at the first (a run should learn
// about every misconfigured host from one pre-flight pass).
func PreflightInventory(inv *inventory.Inventory) []error {
	var errs []error
	for _, h := range inv.Hosts() {
		if err := PreflightHost(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
