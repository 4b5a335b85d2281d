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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type failingWriter struct{ calls int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func TestNullSinkDiscards(t *testing.T) {
	NullSink{}.Emit(Event{Type: TypeHostStart})
}

func TestTextSinkFormatsHostComplete(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf)
	s.Emit(Event{Type: TypeHostComplete, Time: time.Unix(0, 0).UTC(), Host: "web1", Message: "ok"})
	if !strings.Contains(buf.String(), "web1: ok") {
		t.Errorf("output = %q, want to contain 'web1: ok'", buf.String())
	}
}

func TestTextSinkSwallowsAfterFirstError(t *testing.T) {
	fw := &failingWriter{}
	s := NewTextSink(fw)
	s.Emit(Event{Type: TypeHostStart})
	s.Emit(Event{Type: TypeHostStart})
	if fw.calls != 1 {
		t.Errorf("calls = %d, want exactly 1 (swallow after first failure)", fw.calls)
	}
}

func TestNDJSONSinkWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewNDJSONSink(&buf)
	s.Emit(Event{Type: TypeExecutionStart})
	s.Emit(Event{Type: TypeExecutionComplete, Summary: &Summary{Total: 2, Successful: 1, Failed: 1}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var last Event
	if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Summary == nil || last.Summary.Failed != 1 {
		t.Errorf("summary = %+v", last.Summary)
	}
}

func TestNDJSONSinkSwallowsAfterFirstError(t *testing.T) {
	fw := &failingWriter{}
	s := NewNDJSONSink(fw)
	s.Emit(Event{Type: TypeHostStart})
	s.Emit(Event{Type: TypeHostStart})
	if fw.calls != 1 {
		t.Errorf("calls = %d, want exactly 1", fw.calls)
	}
}
