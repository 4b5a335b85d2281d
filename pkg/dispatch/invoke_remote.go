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
	"fmt"

	"github.com/fleetgate/fleetgate/pkg/gatesession"
	"github.com/fleetgate/fleetgate/pkg/protocol"
)

// InvokeRemote sends one Module or FTLModule request over sess and
// returns the parsed result.
func InvokeRemote(ctx context.Context, sess *gatesession.Session, kind Kind, moduleName string, moduleBytes []byte, args map[string]any) (map[string]any, error) {
	var typ string
	switch kind {
	case KindFTL:
		typ = protocol.TypeFTLModule
	case KindClassic:
		typ = protocol.TypeModule
	default:
		return nil, fmt.Errorf("dispatch: InvokeRemote called with non-module kind %v", kind)
	}

	var body any
	if kind == KindFTL {
		body = protocol.FTLModule{ModuleName: moduleName, Module: moduleBytes, ModuleArgs: args}
	} else {
		body = protocol.Module{ModuleName: moduleName, Module: moduleBytes, ModuleArgs: args}
	}

	env, err := sess.Invoke(ctx, typ, body)
	if err != nil {
		return nil, err // transport/protocol error, retryable at the caller's discretion
	}

	switch b := env.Body.(type) {
	case protocol.ModuleResult:
		return ParseModuleOutput(b.Stdout), nil
	case protocol.FTLModuleResult:
		if m, ok := b.Result.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{"result": b.Result}, nil
	case protocol.ModuleNotFound:
		return nil, ErrModuleNotFound{Name: moduleName}
	case protocol.Error:
		return map[string]any{"failed": true, "msg": b.Message, "traceback": b.Traceback}, nil
	case protocol.GateSystemError:
		return nil, fmt.Errorf("dispatch: gate system error: %s", b.Message)
	default:
		return nil, fmt.Errorf("dispatch: unexpected response type %s", env.Type)
	}
}
