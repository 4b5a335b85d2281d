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

package fleeterrors

import (
	"errors"
	"testing"
)

type fakeSummarized struct {
	kind        string
	suggestions []string
}

func (f fakeSummarized) Error() string                { return "fake: " + f.kind }
func (f fakeSummarized) FailureKind() string          { return f.kind }
func (f fakeSummarized) FailureSuggestions() []string { return f.suggestions }

func TestGroupByKindBucketsAndDedupsSuggestions(t *testing.T) {
	errs := []error{
		fakeSummarized{kind: "auth_failed", suggestions: []string{"a", "b"}},
		fakeSummarized{kind: "auth_failed", suggestions: []string{"b", "c"}},
		fakeSummarized{kind: "connect_timeout", suggestions: []string{"d"}},
	}
	groups := GroupByKind(errs)
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if groups[0].Kind != "auth_failed" || len(groups[0].Errs) != 2 {
		t.Errorf("groups[0] = %+v, want kind auth_failed with 2 errs", groups[0])
	}
	if want := []string{"a", "b", "c"}; !equalStrings(groups[0].Suggestions, want) {
		t.Errorf("groups[0].Suggestions = %v, want %v", groups[0].Suggestions, want)
	}
	if groups[1].Kind != "connect_timeout" {
		t.Errorf("groups[1].Kind = %q, want connect_timeout", groups[1].Kind)
	}
}

func TestGroupByKindFallsBackToTypeName(t *testing.T) {
	groups := GroupByKind([]error{errors.New("plain")})
	if len(groups) != 1 || groups[0].Kind != "*errors.errorString" {
		t.Errorf("groups = %+v, want one group keyed by the dynamic type name", groups)
	}
}

func TestGroupByKindSkipsNil(t *testing.T) {
	groups := GroupByKind([]error{nil, fakeSummarized{kind: "blocked"}})
	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
}

func TestSuggestKnownKind(t *testing.T) {
	if s := Suggest("auth_failed"); len(s) == 0 {
		t.Error("Suggest(auth_failed) returned nothing")
	}
}

func TestSuggestUnknownKind(t *testing.T) {
	if s := Suggest("nonsense"); s != nil {
		t.Errorf("Suggest(nonsense) = %v, want nil", s)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
