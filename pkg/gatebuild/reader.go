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
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fleetgate/fleetgate/pkg/targz"
)

// Archive is a gate archive's contents, read into memory and indexed by
// bundled-entry name without mounting it as a filesystem; the gate process
// reads it only to report what it bundles. estargz output is plain gzip+tar with a
// seek index appended as trailing gzip members; a sequential
// compress/gzip reader stops at the end of the first member, which is
// exactly the tar stream writeArchive produced, so no estargz-aware
// decoder is needed to read it back.
type Archive struct {
	EntryPoint []byte
	Modules    map[string][]byte
	Helpers    map[string][]byte
}

// OpenArchive reads the gate archive at path (the same blob
// Builder.writeArchive produced, after the controller's zstd transfer
// envelope has already been stripped off) into memory.
func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gatebuild: opening archive %s: %w", path, err)
	}
	defer f.Close()

	archive := &Archive{
		Modules: map[string][]byte{},
		Helpers: map[string][]byte{},
	}

	err = targz.ReadFile(f, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Typeflag != tar.TypeReg {
			return nil
		}
		contents, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("gatebuild: reading entry %s from %s: %w", hdr.Name, path, err)
		}
		switch {
		case hdr.Name == defaultEntryPointPath:
			archive.EntryPoint = contents
		case strings.HasPrefix(hdr.Name, "modules/"):
			archive.Modules[filepath.Base(hdr.Name)] = contents
		case strings.HasPrefix(hdr.Name, "helpers/"):
			archive.Helpers[strings.TrimPrefix(hdr.Name, "helpers/")] = contents
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gatebuild: reading archive %s: %w", path, err)
	}
	return archive, nil
}
