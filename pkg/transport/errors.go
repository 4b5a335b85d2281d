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

package transport

import "fmt"

// Kind classifies a transport failure so callers (notably pkg/dispatch's
// retry loop) can tell a transient connectivity problem from one no
// amount of retrying will fix.
type Kind int

const (
	_ Kind = iota
	ConnectTimeout
	ConnectRefused
	AuthFailed
	HostUnreachable
	RemoteExecFailed
	SFTPFailed
)

func (k Kind) String() string {
	switch k {
	case ConnectTimeout:
		return "connect_timeout"
	case ConnectRefused:
		return "connect_refused"
	case AuthFailed:
		return "auth_failed"
	case HostUnreachable:
		return "host_unreachable"
	case RemoteExecFailed:
		return "remote_exec_failed"
	case SFTPFailed:
		return "sftp_failed"
	default:
		return "unknown"
	}
}

// Transient reports whether retrying the same operation against the same
// host has any chance of succeeding. AuthFailed and RemoteExecFailed are
// not transient: a bad key or a module's own non-zero exit will not
// change on retry.
func (k Kind) Transient() bool {
	switch k {
	case ConnectTimeout, ConnectRefused, HostUnreachable:
		return true
	default:
		return false
	}
}

// Error is returned for every transport failure. It carries enough
// context for a progress sink to render a useful message and for the
// dispatcher's retry loop to decide whether to suggest a fix.
type Error struct {
	Kind        Kind
	Host        string
	Address     string
	User        string
	Attempt     int
	Suggestions []string
	err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("transport: %s: %s", e.Kind, e.Host)
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.err }

// FailureKind and FailureSuggestions implement fleeterrors.Summarized,
// letting a mixed slice of transport, dispatch, and safety errors share
// one grouped-by-kind failure summary.
func (e *Error) FailureKind() string          { return e.Kind.String() }
func (e *Error) FailureSuggestions() []string { return e.Suggestions }
