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

package progress

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketSink streams events as JSON frames to every connected
// dashboard client. Grounded directly on the teacher's
// pkg/catch/api.go handleEvents: one upgraded connection per dashboard,
// Event written via conn.WriteJSON.
type WebSocketSink struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func NewWebSocketSink() *WebSocketSink {
	return &WebSocketSink{conns: map[*websocket.Conn]bool{}}
}

// ServeHTTP upgrades the request to a websocket and registers it as a
// subscriber until the connection drops.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	// Block on reads only to detect the client disconnecting; the
	// dashboard never sends anything meaningful back.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Emit fans e out to every connected client in turn, dropping (and
// logging once per connection) any whose write fails. Writes carry no
// deadline, so a slow client that stays connected holds Emit until its
// write completes.
func (s *WebSocketSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteJSON(e); err != nil {
			log.Printf("progress: websocket sink write failed, dropping client: %v", err)
			delete(s.conns, conn)
			conn.Close()
		}
	}
}
