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
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestResolvePriorityShadowBeatsFTLBeatsClassic(t *testing.T) {
	r := NewRegistry()
	r.RegisterFTL("ping", func(ctx context.Context, args map[string]any) (map[string]any, error) { return nil, nil })
	r.RegisterClassic("ping", []byte("ignored"))

	kind, err := r.Resolve("ping")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if kind != KindShadow {
		t.Errorf("kind = %v, want KindShadow (shadow beats FTL and classic)", kind)
	}
}

func TestResolveFTLBeatsClassic(t *testing.T) {
	r := NewRegistry()
	r.RegisterFTL("echo", func(ctx context.Context, args map[string]any) (map[string]any, error) { return nil, nil })
	r.RegisterClassic("echo", []byte("ignored"))

	kind, err := r.Resolve("echo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if kind != KindFTL {
		t.Errorf("kind = %v, want KindFTL", kind)
	}
}

func TestResolveUnknownModule(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nonesuch")
	var notFound ErrModuleNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want ErrModuleNotFound", err)
	}
}

func TestClassicNamesSorted(t *testing.T) {
	r := NewRegistry()
	r.RegisterClassic("zeta", []byte("z"))
	r.RegisterClassic("alpha", []byte("a"))

	if got := r.ClassicNames(); !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Errorf("ClassicNames() = %v, want sorted [alpha zeta]", got)
	}
}
