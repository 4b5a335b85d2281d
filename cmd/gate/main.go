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

// gate is the entry point bundled into every gate archive (see
// pkg/gatebuild). It is spawned on the target host over SSH, speaks the
// framed controller<->gate protocol over its own stdin/stdout, and
// executes whatever it is asked to run: classic modules shipped inline
// with the request, or FTL-native functions resolved by name from its
// own compiled-in catalog, identical to the controller's.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fleetgate/fleetgate/pkg/dispatch"
	"github.com/fleetgate/fleetgate/pkg/gatebuild"
	"github.com/fleetgate/fleetgate/pkg/modules"
	"github.com/fleetgate/fleetgate/pkg/protocol"
)

var logPath = flag.String("log-file", "/tmp/fleetgate-gate.log", "path to the gate's local log file")

func main() {
	flag.Parse()

	if f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
		log.SetOutput(f)
		defer f.Close()
	} else {
		log.SetOutput(os.Stderr)
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	registry := dispatch.NewRegistry()
	modules.Register(registry)

	// The bundled archive's own path is passed as the sole positional
	// argument by the spawning side (pkg/automation). Nothing currently
	// requires opening it — classic modules travel with their bytes
	// inline on every request, and FTL modules resolve from the
	// in-process registry above — but a gate built from a mismatched
	// archive still logs what it was handed for diagnosis.
	if path := flag.Arg(0); path != "" {
		if archive, err := gatebuild.OpenArchive(path); err != nil {
			log.Printf("gate: opening bundled archive %s: %v", path, err)
		} else {
			log.Printf("gate: bundled archive %s: %d module(s), %d helper(s)", path, len(archive.Modules), len(archive.Helpers))
		}
	}

	log.Printf("gate: starting, pid=%d", os.Getpid())
	if err := serve(context.Background(), os.Stdin, os.Stdout, registry); err != nil && err != io.EOF {
		log.Printf("gate: session ended: %v", err)
		os.Exit(1)
	}
	log.Printf("gate: exiting cleanly")
}

// serve drives one controller session to completion: handshake, then a
// strictly sequential request/response loop until Shutdown or the stream
// closes out from under it.
func serve(ctx context.Context, in io.Reader, out io.Writer, registry *dispatch.Registry) error {
	env, err := protocol.Decode(in, 0)
	if err != nil {
		return fmt.Errorf("gate: awaiting hello: %w", err)
	}
	hello, ok := env.Body.(protocol.Hello)
	if env.Type != protocol.TypeHello || !ok {
		return fmt.Errorf("gate: expected hello, got %s", env.Type)
	}
	log.Printf("gate: handshake, controller capabilities=%v", hello.Capabilities)
	if err := protocol.Encode(out, protocol.TypeHello, protocol.Hello{
		Capabilities: map[string]any{"fleetgate_gate_version": 1},
	}); err != nil {
		return fmt.Errorf("gate: sending hello: %w", err)
	}

	for {
		env, err := protocol.Decode(in, 0)
		if err != nil {
			return err
		}
		switch body := env.Body.(type) {
		case protocol.Module:
			handleModule(ctx, out, body)
		case protocol.FTLModule:
			handleFTLModule(ctx, out, registry, body)
		case protocol.Shutdown:
			log.Printf("gate: shutdown requested")
			return protocol.Encode(out, protocol.TypeGoodbye, protocol.Goodbye{})
		default:
			msg := fmt.Sprintf("gate: unexpected request type %s", env.Type)
			log.Print(msg)
			if err := protocol.Encode(out, protocol.TypeGateSystemError, protocol.GateSystemError{Message: msg}); err != nil {
				return err
			}
		}
	}
}

// handleModule runs a classic module's inline bytes through the same
// shape-dispatch subprocess plumbing pkg/dispatch uses for
// controller-local hosts, and ships the raw captured output back
// unparsed: ParseModuleOutput's result-synthesis rule belongs to the
// dispatcher on the controller side, not here.
func handleModule(ctx context.Context, out io.Writer, req protocol.Module) {
	if len(req.Module) == 0 {
		writeError(out, protocol.TypeModuleNotFound, protocol.ModuleNotFound{
			Message: fmt.Sprintf("gate: no bytes for module %q", req.ModuleName),
		})
		return
	}
	shape := dispatch.ClassifyClassic(req.Module)
	stdout, stderr, err := dispatch.RunClassicModule(ctx, shape, req.Module, req.ModuleArgs)
	if err != nil {
		log.Printf("gate: module %s exited with error: %v", req.ModuleName, err)
	}
	if err := protocol.Encode(out, protocol.TypeModuleResult, protocol.ModuleResult{Stdout: stdout, Stderr: stderr}); err != nil {
		log.Printf("gate: sending module result for %s: %v", req.ModuleName, err)
	}
}

// handleFTLModule resolves ModuleName against this gate's own compiled-in
// registry — FTL functions never travel over the wire as bytes, since the
// gate links the same pkg/modules catalog the controller does.
func handleFTLModule(ctx context.Context, out io.Writer, registry *dispatch.Registry, req protocol.FTLModule) {
	fn, ok := registry.LookupFTL(req.ModuleName)
	if !ok {
		writeError(out, protocol.TypeModuleNotFound, protocol.ModuleNotFound{
			Message: fmt.Sprintf("gate: no FTL module named %q", req.ModuleName),
		})
		return
	}
	result, err := dispatch.InvokeFTLLocal(ctx, fn, req.ModuleArgs)
	if err != nil {
		writeError(out, protocol.TypeError, protocol.Error{Message: err.Error()})
		return
	}
	if err := protocol.Encode(out, protocol.TypeFTLModuleResult, protocol.FTLModuleResult{Result: result}); err != nil {
		log.Printf("gate: sending FTL result for %s: %v", req.ModuleName, err)
	}
}

func writeError(out io.Writer, typ string, body any) {
	if err := protocol.Encode(out, typ, body); err != nil {
		log.Printf("gate: sending %s: %v", typ, err)
	}
}
