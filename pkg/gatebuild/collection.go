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
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2/clientcredentials"
)

// CollectionIndexRoot describes a remote, OAuth2-authenticated collection
// tarball. Build does not fetch it: FetchCollectionIndex extracts it into
// a local directory, which the caller then passes as an ordinary search
// root. The tarball's signature is not verified.
type CollectionIndexRoot struct {
	IndexURL string
	OAuth2   clientcredentials.Config
}

// FetchCollectionIndex downloads and extracts root's collection tarball
// into destDir, returning destDir as a ready-to-use local search root.
// Grounded in the original's arbitrary-search-path module loading,
// generalized to a private, authenticated registry.
func FetchCollectionIndex(ctx context.Context, root CollectionIndexRoot, destDir string) (string, error) {
	client := root.OAuth2.Client(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, root.IndexURL, nil)
	if err != nil {
		return "", &BuildIOError{Op: "build collection index request", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &BuildIOError{Op: "fetch collection index", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &BuildIOError{Op: "fetch collection index", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", &BuildIOError{Op: "mkdir collection dest", Err: err}
	}
	if err := extractTarGz(resp.Body, destDir); err != nil {
		return "", err
	}
	return destDir, nil
}

func extractTarGz(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return &BuildIOError{Op: "open collection gzip stream", Err: err}
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &BuildIOError{Op: "read collection tar entry", Err: err}
		}
		target := filepath.Join(destDir, filepath.Clean(hdr.Name))
		if !isWithinDir(destDir, target) {
			return &BuildIOError{Op: "extract collection entry", Err: fmt.Errorf("entry %q escapes destination", hdr.Name)}
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return &BuildIOError{Op: "mkdir collection entry", Err: err}
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return &BuildIOError{Op: "mkdir collection entry parent", Err: err}
			}
			out, err := os.Create(target)
			if err != nil {
				return &BuildIOError{Op: "create collection entry", Err: err}
			}
			if _, err := io.CopyN(out, tr, hdr.Size); err != nil && err != io.EOF {
				out.Close()
				return &BuildIOError{Op: "write collection entry", Err: err}
			}
			out.Close()
		}
	}
}

func isWithinDir(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
