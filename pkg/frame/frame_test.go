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

package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRoundTrip(t *testing.T) {
	cases := []map[string]any{
		{},
		{"module_name": "ping", "module_args": map[string]any{"x": 1.0}},
		{"nested": map[string]any{"a": []any{1.0, 2.0, "three"}}},
	}
	for _, body := range cases {
		var buf bytes.Buffer
		if err := Encode(&buf, "Module", body); err != nil {
			t.Fatalf("Encode: %v", err)
		}
		typ, raw, err := Decode(&buf, 0)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if typ != "Module" {
			t.Fatalf("type = %q, want Module", typ)
		}
		var got map[string]any
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if diff := cmp.Diff(body, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEmptyBodyIsLegal(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, "Hello", map[string]any{}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, raw, err := Decode(&buf, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(raw) != "{}" {
		t.Errorf("body = %q, want {}", raw)
	}
}

func TestCleanEOF(t *testing.T) {
	_, _, err := Decode(&bytes.Buffer{}, 0)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestTruncatedHeader(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte("000001")), 0)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestOversizeFrame(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte("ffffffff")), 16)
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("err = %v, want ErrOversize", err)
	}
}

func TestBadEnvelopeNotATuple(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"a":1}`)
	header := make([]byte, 8)
	hexEncodeForTest(header, uint32(len(body)))
	buf.Write(header)
	buf.Write(body)
	_, _, err := Decode(&buf, 0)
	if !errors.Is(err, ErrBadEnvelope) {
		t.Fatalf("err = %v, want ErrBadEnvelope", err)
	}
}

func TestBadJSON(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`not json`)
	header := make([]byte, 8)
	hexEncodeForTest(header, uint32(len(body)))
	buf.Write(header)
	buf.Write(body)
	_, _, err := Decode(&buf, 0)
	if !errors.Is(err, ErrBadJSON) {
		t.Fatalf("err = %v, want ErrBadJSON", err)
	}
}

func hexEncodeForTest(dst []byte, l uint32) {
	const hexdigits = "0123456789abcdef"
	b := []byte{byte(l >> 24), byte(l >> 16), byte(l >> 8), byte(l)}
	for i, by := range b {
		dst[i*2] = hexdigits[by>>4]
		dst[i*2+1] = hexdigits[by&0xf]
	}
}
