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

// Package gatesession drives one gate's lifecycle over a transport
// connection: handshake, strictly-sequential request/response exchange,
// and graceful or poisoned teardown.
package gatesession

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fleetgate/fleetgate/pkg/protocol"
)

// State is a position in the session state machine. Transitions are
// Unspawned -> Handshaking -> Ready <-> Busy -> Closing -> Closed, with a
// direct jump from any state to Closed on poison.
type State int

const (
	Unspawned State = iota
	Handshaking
	Ready
	Busy
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Unspawned:
		return "unspawned"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// Stream is the byte-level duplex the gate process speaks the framed
// protocol over — typically the stdin/stdout pipes of a remote command.
type Stream struct {
	io.Reader
	io.Writer
	io.Closer
}

// Session manages one gate conversation. Exactly one request may be
// in flight at a time; a second call to Invoke while one is outstanding
// blocks until the first completes (serialized via mu; waiting callers
// are not guaranteed to proceed in arrival order).
type Session struct {
	stream  Stream
	maxSize uint32

	mu    sync.Mutex // serializes Invoke calls; held for the full round trip
	state State
	err   error // sticky poison error, once set the session never recovers
}

// New wraps stream in an unspawned Session. maxSize bounds frame size; 0
// uses protocol/frame defaults.
func New(stream Stream, maxSize uint32) *Session {
	return &Session{stream: stream, maxSize: maxSize, state: Unspawned}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handshake sends Hello and waits for the gate's Hello in reply. It must
// be called exactly once, before any Invoke.
func (s *Session) Handshake(ctx context.Context, capabilities map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Unspawned {
		return fmt.Errorf("gatesession: Handshake called in state %s", s.state)
	}
	s.state = Handshaking

	if err := protocol.Encode(s.stream, protocol.TypeHello, protocol.Hello{Capabilities: capabilities}); err != nil {
		return s.poisonLocked(fmt.Errorf("gatesession: send hello: %w", err))
	}
	env, err := protocol.Decode(s.stream, s.maxSize)
	if err != nil {
		return s.poisonLocked(fmt.Errorf("gatesession: recv hello: %w", err))
	}
	if env.Type != protocol.TypeHello {
		return s.poisonLocked(fmt.Errorf("gatesession: expected Hello, got %s", env.Type))
	}
	s.state = Ready
	return nil
}

// Invoke sends one request envelope and returns the matching response
// envelope. It enforces the one-in-flight invariant: concurrent callers
// serialize on the session's mutex; the order in which waiting callers
// acquire it is not defined.
func (s *Session) Invoke(ctx context.Context, typ string, body any) (protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Ready {
		if s.state == Closed || s.state == Closing {
			return protocol.Envelope{}, fmt.Errorf("gatesession: session is %s: %w", s.state, s.err)
		}
		return protocol.Envelope{}, fmt.Errorf("gatesession: Invoke called in state %s", s.state)
	}
	s.state = Busy

	done := make(chan struct{})
	var env protocol.Envelope
	var err error
	go func() {
		defer close(done)
		if err = protocol.Encode(s.stream, typ, body); err != nil {
			return
		}
		env, err = protocol.Decode(s.stream, s.maxSize)
	}()

	select {
	case <-ctx.Done():
		// Cancellation poisons the session: we cannot know whether the
		// gate is still mid-write for the in-flight request, so no
		// further request on this stream can be trusted to line up with
		// its response.
		s.poisonLocked(fmt.Errorf("gatesession: invoke canceled: %w", ctx.Err()))
		<-done // avoid leaking the goroutine; stream is closed so it unblocks
		return protocol.Envelope{}, s.err
	case <-done:
	}

	if err != nil {
		return protocol.Envelope{}, s.poisonLocked(fmt.Errorf("gatesession: invoke: %w", err))
	}
	s.state = Ready
	return env, nil
}

// poisonLocked marks the session unrecoverable and closes the underlying
// stream so any goroutine blocked on it unblocks. Caller must hold mu.
func (s *Session) poisonLocked(err error) error {
	if s.err == nil {
		s.err = err
	}
	s.state = Closed
	s.stream.Close()
	return s.err
}

// Close requests a graceful shutdown: Shutdown is sent, the gate's
// Goodbye is awaited, then the stream is closed. In-flight work, if any,
// is allowed to drain first by acquiring mu the same way Invoke does.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return s.err
	}
	s.state = Closing

	if err := protocol.Encode(s.stream, protocol.TypeShutdown, protocol.Shutdown{}); err != nil {
		return s.poisonLocked(fmt.Errorf("gatesession: send shutdown: %w", err))
	}
	env, err := protocol.Decode(s.stream, s.maxSize)
	if err != nil && err != io.EOF {
		return s.poisonLocked(fmt.Errorf("gatesession: recv goodbye: %w", err))
	}
	if err == nil && env.Type != protocol.TypeGoodbye {
		s.poisonLocked(fmt.Errorf("gatesession: expected Goodbye, got %s", env.Type))
	}
	s.state = Closed
	return s.stream.Close()
}
