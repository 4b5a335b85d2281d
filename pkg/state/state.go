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

// Package state is the durable, idempotent record of what a fleet has
// already been told to converge to: hosts seen and resources applied
// across runs. Writes are atomic (temp file, fsync, rename) so a crash
// mid-write never corrupts the document a later run reads.
package state

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// CurrentVersion is the document schema version written by this package.
const CurrentVersion = 1

// Resource is one unit of applied configuration, keyed by caller-supplied
// ID (typically "<module>:<name>" or similar).
type Resource struct {
	ID        string         `json:"id"`
	Module    string         `json:"module"`
	Host      string         `json:"host"`
	Status    string         `json:"status"`
	Result    any            `json:"result,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// HostRecord is one host's durable identity: everything add_host needs to
// reconstruct the same inventory.Host (and the groups it belonged to)
// after a process restart.
type HostRecord struct {
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	User     string         `json:"user"`
	Port     int            `json:"port"`
	Groups   []string       `json:"groups,omitempty"`
	Extras   map[string]any `json:"extras,omitempty"`
	LastSeen time.Time      `json:"last_seen"`
}

// Record is the result of a Get lookup: a resource takes priority over a
// host sharing the same name, per the get(name) contract. Exactly one of
// Resource or Host is non-nil on a successful lookup.
type Record struct {
	Resource *Resource
	Host     *HostRecord
}

// document is the on-disk shape.
type document struct {
	Version   int                   `json:"version"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Hosts     map[string]HostRecord `json:"hosts"`
	Resources map[string]Resource   `json:"resources"`
}

func newDocument() *document {
	now := time.Now()
	return &document{
		Version:   CurrentVersion,
		CreatedAt: now,
		UpdatedAt: now,
		Hosts:     map[string]HostRecord{},
		Resources: map[string]Resource{},
	}
}

// Store is a file-backed, mutex-serialized state document.
type Store struct {
	path string

	mu   sync.Mutex
	doc  *document
	dirt bool // true once doc has a mutation not yet guaranteed on disk
}

// Open loads path if it exists, or starts a fresh document if not. A
// corrupt file is logged and treated as empty; it is never overwritten
// until the next successful Flush, so the bad file remains on disk for
// post-mortem inspection.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	bs, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.doc = newDocument()
			return s, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(bs, &doc); err != nil {
		log.Printf("state: %s is corrupt, starting from empty state: %v", path, err)
		s.doc = newDocument()
		return s, nil
	}
	s.doc = &doc
	return s, nil
}

// Has reports whether a resource with the given ID exists.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.doc.Resources[id]
	return ok
}

// Get looks up name, checking resources first and falling back to hosts:
// a resource and a host sharing the same name is not expected, but if it
// happens the resource wins.
func (s *Store) Get(name string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.doc.Resources[name]; ok {
		return Record{Resource: &r}, true
	}
	if h, ok := s.doc.Hosts[name]; ok {
		return Record{Host: &h}, true
	}
	return Record{}, false
}

// Resources returns every tracked resource, in no particular order. When
// provider is non-empty, only resources whose Module matches it are
// returned.
func (s *Store) Resources(provider string) []Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Resource, 0, len(s.doc.Resources))
	for _, r := range s.doc.Resources {
		if provider != "" && r.Module != provider {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Hosts returns every host name this store has recorded contact with.
func (s *Store) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.doc.Hosts))
	for h := range s.doc.Hosts {
		out = append(out, h)
	}
	return out
}

// HostRecords returns every host record this store has persisted, in no
// particular order; used to replay hosts into an inventory at context
// entry.
func (s *Store) HostRecords() []HostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HostRecord, 0, len(s.doc.Hosts))
	for _, h := range s.doc.Hosts {
		out = append(out, h)
	}
	return out
}

// AddHost records a host's full identity (address, user, port, group
// membership, and any provider-specific extras), stamps LastSeen, and
// flushes. A second call for the same name overwrites the previous
// record, so the state file always reflects the most recently seen
// values for a host.
func (s *Store) AddHost(name, address, user string, port int, groups []string, extras map[string]any) error {
	if name == "" {
		return fmt.Errorf("state: host has empty name")
	}
	s.mu.Lock()
	now := time.Now()
	s.doc.Hosts[name] = HostRecord{
		Name:     name,
		Address:  address,
		User:     user,
		Port:     port,
		Groups:   groups,
		Extras:   extras,
		LastSeen: now,
	}
	s.doc.UpdatedAt = now
	s.dirt = true
	s.mu.Unlock()
	return s.Flush()
}

// AddResource inserts a new resource record, or replaces an existing one
// with the same ID, and flushes.
func (s *Store) AddResource(r Resource) error {
	return s.UpdateResource(r)
}

// UpdateResource replaces (or creates) the resource with r.ID, stamping
// UpdatedAt, and flushes.
func (s *Store) UpdateResource(r Resource) error {
	if r.ID == "" {
		return fmt.Errorf("state: resource has empty ID")
	}
	s.mu.Lock()
	r.UpdatedAt = time.Now()
	s.doc.Resources[r.ID] = r
	s.doc.UpdatedAt = r.UpdatedAt
	s.dirt = true
	s.mu.Unlock()
	return s.Flush()
}

// Remove deletes the resource with the given ID, if present, and flushes.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	delete(s.doc.Resources, id)
	s.doc.UpdatedAt = time.Now()
	s.dirt = true
	s.mu.Unlock()
	return s.Flush()
}

// Flush writes the document to disk if it has unflushed mutations. The
// write is atomic: a temp file in the same directory is written, synced,
// and renamed over the destination, so readers never observe a partial
// write and a crash mid-write leaves the previous file intact.
func (s *Store) Flush() error {
	s.mu.Lock()
	if !s.dirt {
		s.mu.Unlock()
		return nil
	}
	bs, err := json.MarshalIndent(s.doc, "", "  ")
	path := s.path
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(bs); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("state: rename into place: %w", err)
	}
	if err := fsyncDir(dir); err != nil {
		return fmt.Errorf("state: fsync directory: %w", err)
	}

	s.mu.Lock()
	s.dirt = false
	s.mu.Unlock()
	return nil
}

// fsyncDir fsyncs a directory entry so the rename above survives a crash,
// not just the file contents.
func fsyncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}
