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

// Package dispatch resolves a module name and its target into a concrete
// execution plan — native shadow action, in-process FTL function, or one
// of the four classic module calling conventions — and carries it out
// locally or through a gate session.
package dispatch

import (
	"bytes"
	"unicode/utf8"
)

// Shape is how a classic module's bytes must be invoked.
type Shape int

const (
	// ShapeBinary is an executable invoked with a JSON args file path.
	ShapeBinary Shape = iota
	// ShapeNewStyle receives its JSON args on stdin (AnsibleModule(...)).
	ShapeNewStyle
	// ShapeWantJSON receives a JSON args file path as its sole argument.
	ShapeWantJSON
	// ShapeOldStyle receives a "key=value ..." args file path.
	ShapeOldStyle
)

func (s Shape) String() string {
	switch s {
	case ShapeBinary:
		return "binary"
	case ShapeNewStyle:
		return "new_style"
	case ShapeWantJSON:
		return "want_json"
	case ShapeOldStyle:
		return "old_style"
	default:
		return "unknown"
	}
}

var (
	markerNewStyle = []byte("AnsibleModule(")
	markerWantJSON = []byte("WANT_JSON")
)

// ClassifyClassic inspects a classic module's raw bytes and returns its
// invocation shape, following the spec's strict priority order: invalid
// UTF-8 always means Binary, regardless of what byte sequences happen to
// appear in it; only a valid-UTF-8 script is scanned for markers.
func ClassifyClassic(contents []byte) Shape {
	if !utf8.Valid(contents) {
		return ShapeBinary
	}
	if bytes.Contains(contents, markerNewStyle) {
		return ShapeNewStyle
	}
	if bytes.Contains(contents, markerWantJSON) {
		return ShapeWantJSON
	}
	return ShapeOldStyle
}

// Kind is the top-level dispatch route for a module name.
type Kind int

const (
	KindShadow Kind = iota
	KindFTL
	KindClassic
)

// shadowActions are native controller-side actions that shadow a classic
// module of the same name; dispatch never ships these over the wire.
var shadowActions = map[string]bool{
	"copy":               true,
	"template":           true,
	"fetch":              true,
	"ping":               true,
	"wait_for_connection": true,
}

// IsShadowAction reports whether name names a native shadow action.
func IsShadowAction(name string) bool {
	return shadowActions[name]
}
