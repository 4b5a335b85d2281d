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
	"fmt"
	"io"
	"log"
	"sync"
)

// TextSink writes one human-readable line per event to w. A write
// failure is logged once and subsequent writes are skipped; it never
// returns an error to the emitter.
type TextSink struct {
	w io.Writer

	mu       sync.Mutex
	warnedIO bool
}

func NewTextSink(w io.Writer) *TextSink { return &TextSink{w: w} }

func (s *TextSink) Emit(e Event) {
	line := formatLine(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warnedIO {
		return
	}
	if _, err := fmt.Fprintln(s.w, line); err != nil {
		log.Printf("progress: text sink write failed, disabling: %v", err)
		s.warnedIO = true
	}
}

func formatLine(e Event) string {
	switch e.Type {
	case TypeHostStart:
		return fmt.Sprintf("%s | %s: starting %s", e.Time.Format("15:04:05"), e.Host, e.Module)
	case TypeHostRetry:
		return fmt.Sprintf("%s | %s: retry %d (%s)", e.Time.Format("15:04:05"), e.Host, e.Attempt, e.Message)
	case TypeHostComplete:
		return fmt.Sprintf("%s | %s: %s", e.Time.Format("15:04:05"), e.Host, e.Message)
	case TypeExecutionComplete:
		if e.Summary != nil {
			return fmt.Sprintf("%s | done: %d total, %d ok, %d failed",
				e.Time.Format("15:04:05"), e.Summary.Total, e.Summary.Successful, e.Summary.Failed)
		}
		return fmt.Sprintf("%s | done", e.Time.Format("15:04:05"))
	default:
		return fmt.Sprintf("%s | %s %s: %s", e.Time.Format("15:04:05"), e.Type, e.Host, e.Message)
	}
}
