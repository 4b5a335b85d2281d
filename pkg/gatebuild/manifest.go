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

package gatebuild

import (
	"github.com/opencontainers/go-digest"
)

// mediaType strings modeled on the OCI image-spec descriptor shape, used
// for the manifest's entry kinds.
const (
	MediaTypeEntryPoint = "application/vnd.fleetgate.entrypoint"
	MediaTypeModule     = "application/vnd.fleetgate.module"
	MediaTypeHelper     = "application/vnd.fleetgate.helper"
)

// Descriptor describes one bundled entry, in the OCI
// mediaType/digest/size shape, so a cache GC or inspection tool has a
// cheap index without re-reading the archive.
type Descriptor struct {
	MediaType string        `json:"mediaType"`
	Digest    digest.Digest `json:"digest"`
	Size      int64         `json:"size"`
	Path      string        `json:"path"` // path within the archive
	Name      string        `json:"name,omitempty"`
}

// Manifest is the small JSON index written alongside each gate archive.
type Manifest struct {
	ContentHash digest.Digest `json:"contentHash"`
	Interpreter string        `json:"interpreter"`
	Entries     []Descriptor  `json:"entries"`
}
