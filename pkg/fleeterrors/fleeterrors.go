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

// Package fleeterrors is the cross-cutting grouping and suggestion
// machinery the user-visible failure summary needs. It does not define
// the error kinds themselves — those live in each taxonomy area close to
// the code that raises them (pkg/transport's Kind/Error, pkg/frame's
// sentinel errors, pkg/dispatch's ErrModuleNotFound, pkg/safety's
// BlockedError/DestructiveError; pkg/state returns plain wrapped errors
// rather than a type of its own) — it only
// lets callers bucket a mixed slice of them for reporting.
package fleeterrors

import "fmt"

// Summarized is implemented by an error type that wants to participate
// in the grouped, suggestion-annotated failure summary. Implementing it
// is optional: GroupByKind falls back to the error's dynamic type name
// for anything that doesn't.
type Summarized interface {
	error
	FailureKind() string
	FailureSuggestions() []string
}

// Group is one bucket of a grouped summary: every error sharing a kind,
// plus the suggestions (deduplicated, first-seen order) any of them
// carried.
type Group struct {
	Kind        string
	Errs        []error
	Suggestions []string
}

// GroupByKind buckets errs by FailureKind() (or, for an error that
// doesn't implement Summarized, its dynamic type name), preserving
// first-seen kind order and append order within each bucket.
func GroupByKind(errs []error) []Group {
	order := make([]string, 0, len(errs))
	byKind := map[string]*Group{}

	for _, err := range errs {
		if err == nil {
			continue
		}
		kind, suggestions := classify(err)
		g, ok := byKind[kind]
		if !ok {
			g = &Group{Kind: kind}
			byKind[kind] = g
			order = append(order, kind)
		}
		g.Errs = append(g.Errs, err)
		g.Suggestions = appendUnique(g.Suggestions, suggestions...)
	}

	out := make([]Group, 0, len(order))
	for _, k := range order {
		out = append(out, *byKind[k])
	}
	return out
}

func classify(err error) (kind string, suggestions []string) {
	if s, ok := err.(Summarized); ok {
		return s.FailureKind(), s.FailureSuggestions()
	}
	return fmt.Sprintf("%T", err), nil
}

func appendUnique(existing []string, add ...string) []string {
	for _, s := range add {
		found := false
		for _, e := range existing {
			if e == s {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, s)
		}
	}
	return existing
}

// Suggest returns canned suggestions for a small set of well-known
// kinds, for use by error types that want the default templated hint
// spec.md §7 calls for (e.g. AuthFailed suggests ssh-copy-id) without
// hand-writing the string at every call site.
func Suggest(kind string) []string {
	switch kind {
	case "auth_failed":
		return []string{"run ssh-copy-id for this host and user", "verify the configured key is authorized on the remote host"}
	case "connect_timeout", "host_unreachable", "connect_refused":
		return []string{"check connectivity with nc -zv <host> <port>", "verify the host address and port in the inventory"}
	case "blocked":
		return []string{"this command pattern is never permitted; rewrite the task to avoid it"}
	case "destructive_requires_override":
		return []string{"pass an explicit override to acknowledge the destructive action"}
	default:
		return nil
	}
}
