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
	"encoding/json"
	"io"
	"log"
	"sync"
)

// NDJSONSink writes one JSON object per line to w, for machine
// consumers (e.g. a controller CLI's --json mode).
type NDJSONSink struct {
	enc *json.Encoder

	mu       sync.Mutex
	warnedIO bool
}

func NewNDJSONSink(w io.Writer) *NDJSONSink {
	return &NDJSONSink{enc: json.NewEncoder(w)}
}

func (s *NDJSONSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warnedIO {
		return
	}
	if err := s.enc.Encode(e); err != nil {
		log.Printf("progress: ndjson sink write failed, disabling: %v", err)
		s.warnedIO = true
	}
}
