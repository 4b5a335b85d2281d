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

import "fmt"

// ModuleNotFoundError is returned when a requested module name cannot be
// resolved against any of the configured search roots.
type ModuleNotFoundError struct {
	Name          string
	SearchedPaths []string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("gatebuild: module %q not found in %v", e.Name, e.SearchedPaths)
}

// DependencyResolutionFailedError is returned when one or more
// dependency entries cannot be resolved or fail their semver constraint.
type DependencyResolutionFailedError struct {
	Unresolved []string
}

func (e *DependencyResolutionFailedError) Error() string {
	return fmt.Sprintf("gatebuild: unresolved dependencies: %v", e.Unresolved)
}

// BuildIOError wraps a filesystem failure encountered while assembling
// or caching an archive.
type BuildIOError struct {
	Op  string
	Err error
}

func (e *BuildIOError) Error() string { return fmt.Sprintf("gatebuild: %s: %v", e.Op, e.Err) }
func (e *BuildIOError) Unwrap() error { return e.Err }
