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

// Package modules supplements the dispatcher with a small, concrete
// catalog of FTL-native modules so it has something to exercise
// end-to-end: command/shell execution with creates/removes idempotency,
// and pip package management. Neither is required by the wire protocol
// or the dispatcher itself — both register the same way any other
// FTL-native module would, via dispatch.Registry.RegisterFTL.
package modules

import "github.com/fleetgate/fleetgate/pkg/dispatch"

// Register adds every module this package supplements to r.
func Register(r *dispatch.Registry) {
	r.RegisterFTL("command", Command)
	r.RegisterFTL("shell", Command) // shell is an alias: FTL always uses a shell, so the two never differ
	r.RegisterFTL("pip", Pip)
}
