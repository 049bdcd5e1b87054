// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package indexing

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kraklabs/argus/pkg/codemap"
)

// Indexing limits. A deterministic sorted walk makes the file-count cap
// stable across runs on identical inputs.
const (
	MaxFileSizeBytes = 1_000_000
	MaxFilesPerRun   = 5_000
)

// DefaultExcludeGlobs are always filtered regardless of configuration.
var DefaultExcludeGlobs = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
	"dist/**",
	"build/**",
	"target/**",
	"**/*.min.js",
}

// FileFilter decides which repository paths participate in indexing.
type FileFilter struct {
	globs       []string
	maxFileSize int64
}

// NewFileFilter combines the default exclusions with configured
// ignored_paths globs.
func NewFileFilter(ignoredPaths []string) *FileFilter {
	globs := make([]string, 0, len(DefaultExcludeGlobs)+len(ignoredPaths))
	globs = append(globs, DefaultExcludeGlobs...)
	globs = append(globs, ignoredPaths...)
	return &FileFilter{globs: globs, maxFileSize: MaxFileSizeBytes}
}

// Excluded reports whether a repo-relative path matches any exclusion
// glob. Malformed patterns never match.
func (f *FileFilter) Excluded(path codemap.FilePath) bool {
	normalized := filepath.ToSlash(string(path))
	for _, pattern := range f.globs {
		if ok, err := doublestar.Match(pattern, normalized); err == nil && ok {
			return true
		}
	}
	return false
}

// Eligible reports whether the file at root/path should be parsed:
// a regular, non-symlink, non-binary file under the size cap. Files that
// cannot be inspected are left for the parse stage to report.
func (f *FileFilter) Eligible(root string, path codemap.FilePath) bool {
	full := filepath.Join(root, filepath.FromSlash(string(path)))
	info, err := os.Lstat(full)
	if err != nil {
		return true
	}
	if info.Mode()&os.ModeSymlink != 0 || info.IsDir() {
		return false
	}
	if f.maxFileSize > 0 && info.Size() > f.maxFileSize {
		return false
	}
	return !isBinaryFile(full)
}

// isBinaryFile sniffs the first 8 KiB for NUL bytes.
func isBinaryFile(full string) bool {
	file, err := os.Open(full)
	if err != nil {
		return false
	}
	defer func() { _ = file.Close() }()

	buf := make([]byte, 8192)
	n, _ := io.ReadFull(file, buf)
	if n <= 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0x00) >= 0
}
