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

// Package protocol defines the controller<->gate message envelopes sent
// over the framed codec in pkg/frame, and a strict-parsing Unmarshal that
// falls back to an Unknown variant (a protocol error) for anything else.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fleetgate/fleetgate/pkg/frame"
)

// Type names as they appear on the wire.
const (
	TypeHello           = "Hello"
	TypeModule          = "Module"
	TypeModuleResult    = "ModuleResult"
	TypeFTLModule       = "FTLModule"
	TypeFTLModuleResult = "FTLModuleResult"
	TypeModuleNotFound  = "ModuleNotFound"
	TypeError           = "Error"
	TypeGateSystemError = "GateSystemError"
	TypeShutdown        = "Shutdown"
	TypeGoodbye         = "Goodbye"
)

// Hello is sent both directions during the handshake.
type Hello struct {
	Capabilities map[string]any `json:"capabilities,omitempty"`
}

// Module requests execution of a classic module.
type Module struct {
	ModuleName string         `json:"module_name"`
	Module     []byte         `json:"module,omitempty"` // base64 via json
	ModuleArgs map[string]any `json:"module_args"`
}

// ModuleResult carries a classic module's raw captured output.
type ModuleResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// FTLModule requests execution of an in-process (FTL-native) function.
type FTLModule struct {
	ModuleName string         `json:"module_name"`
	Module     []byte         `json:"module,omitempty"`
	ModuleArgs map[string]any `json:"module_args"`
}

// FTLModuleResult carries the already-structured return value of an
// FTL-native function.
type FTLModuleResult struct {
	Result any `json:"result"`
}

// ModuleNotFound is returned when the gate cannot resolve module_name
// against its bundled catalog and no inline bytes were sent.
type ModuleNotFound struct {
	Message string `json:"message"`
}

// Error represents a module execution error reported by the gate.
type Error struct {
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// GateSystemError represents a failure of the gate process itself, not of
// the module it was asked to run.
type GateSystemError struct {
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// Shutdown requests a graceful end to the session.
type Shutdown struct{}

// Goodbye acknowledges Shutdown; EOF follows.
type Goodbye struct{}

// Envelope is a decoded, typed message ready for the caller to type-switch
// on Body.
type Envelope struct {
	Type string
	Body any
}

// ErrUnknownType is returned by Decode for any type name outside the set
// above; per spec this is a protocol error (UnexpectedMessage), fatal to
// the session.
type ErrUnknownType string

func (e ErrUnknownType) Error() string {
	return fmt.Sprintf("protocol: unknown message type %q", string(e))
}

// Encode writes one message as a frame to w.
func Encode(w io.Writer, typ string, body any) error {
	return frame.Encode(w, typ, body)
}

// Decode reads one frame from r and strictly parses its body according to
// typ, returning an Unknown-variant error for any other type name.
func Decode(r io.Reader, maxSize uint32) (Envelope, error) {
	typ, raw, err := frame.Decode(r, maxSize)
	if err != nil {
		return Envelope{}, err
	}
	var body any
	switch typ {
	case TypeHello:
		body = new(Hello)
	case TypeModule:
		body = new(Module)
	case TypeModuleResult:
		body = new(ModuleResult)
	case TypeFTLModule:
		body = new(FTLModule)
	case TypeFTLModuleResult:
		body = new(FTLModuleResult)
	case TypeModuleNotFound:
		body = new(ModuleNotFound)
	case TypeError:
		body = new(Error)
	case TypeGateSystemError:
		body = new(GateSystemError)
	case TypeShutdown:
		body = new(Shutdown)
	case TypeGoodbye:
		body = new(Goodbye)
	default:
		return Envelope{}, ErrUnknownType(typ)
	}
	if err := json.Unmarshal(raw, body); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode %s body: %w", typ, err)
	}
	return Envelope{Type: typ, Body: derefPtr(body)}, nil
}

func derefPtr(v any) any {
	switch b := v.(type) {
	case *Hello:
		return *b
	case *Module:
		return *b
	case *ModuleResult:
		return *b
	case *FTLModule:
		return *b
	case *FTLModuleResult:
		return *b
	case *ModuleNotFound:
		return *b
	case *Error:
		return *b
	case *GateSystemError:
		return *b
	case *Shutdown:
		return *b
	case *Goodbye:
		return *b
	default:
		return v
	}
}
