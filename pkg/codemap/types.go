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

// Package codemap defines the core value objects of the argus context
// engine: file paths, commit SHAs, symbols, file entries, dependency
// edges, and the CodebaseMap aggregate they compose into.
//
// All identifiers are plain strings with validation helpers rather than
// opaque wrappers, so they serialize naturally and stay cheap to compare.
package codemap

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// FilePath is a repository-relative POSIX path. Forward slashes only,
// no leading slash.
type FilePath = string

// CommitSHA is a 40-character lowercase hex git commit hash.
type CommitSHA = string

// ShardID is the POSIX parent directory of a file path; the empty string
// for files at the repository root. Shard IDs are always derived from
// paths via ShardIDFor and never stored independently.
type ShardID = string

// TokenCount counts LLM tokens. Non-negative; budget arithmetic saturates
// at the cap instead of overflowing (see AddCapped).
type TokenCount int

// AddCapped returns t+n, saturating at cap.
func (t TokenCount) AddCapped(n, cap TokenCount) TokenCount {
	sum := t + n
	if sum > cap {
		return cap
	}
	return sum
}

// EstimateTokens is the default token estimator used when no encoder is
// configured: ceil(chars / 4).
func EstimateTokens(text string) TokenCount {
	if text == "" {
		return 0
	}
	return TokenCount((len(text) + charsPerToken - 1) / charsPerToken)
}

// charsPerToken is the chars-to-tokens heuristic divisor.
const charsPerToken = 4

var shaRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ValidateSHA checks that s is a well-formed 40-char lowercase hex SHA.
func ValidateSHA(s CommitSHA) error {
	if !shaRe.MatchString(s) {
		return fmt.Errorf("invalid commit sha %q", s)
	}
	return nil
}

// ShardIDFor derives the shard ID for a file path: its POSIX parent
// directory, or "" for repository-root files.
func ShardIDFor(p FilePath) ShardID {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// Severity of a review finding.
type Severity string

// Severity levels, ordered from most to least blocking.
const (
	SeverityCritical   Severity = "critical"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
	SeverityPraise     Severity = "praise"
)

// Category of a review finding.
type Category string

// Finding categories.
const (
	CategoryBug           Category = "bug"
	CategorySecurity      Category = "security"
	CategoryPerformance   Category = "performance"
	CategoryStyle         Category = "style"
	CategoryArchitecture  Category = "architecture"
	CategoryTesting       Category = "testing"
	CategoryDocumentation Category = "documentation"
)

// SymbolKind classifies an extracted symbol.
type SymbolKind string

// Symbol kinds, normalized across the supported languages.
const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindStruct    SymbolKind = "struct"
	KindEnum      SymbolKind = "enum"
	KindType      SymbolKind = "type"
	KindConstant  SymbolKind = "constant"
)

// Symbol is a named declaration extracted from a source file.
type Symbol struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	StartLine     int        `json:"line_start"` // 1-indexed
	EndLine       int        `json:"line_end"`   // 1-indexed, inclusive
	QualifiedName string     `json:"qualified_name"`
	Signature     string     `json:"signature,omitempty"` // first declaration line, ≤120 chars
}

// QualifyName builds the graph node key for a symbol: "<path>:<name>".
// Method names include their receiver/parent, e.g. "pkg/a.go:Server.Run".
func QualifyName(p FilePath, name string) string {
	return p + ":" + name
}

// FileOfNode extracts the file path from a graph node key. A node is
// either a qualified symbol name ("<path>:<name>") or a bare file path.
// The second return is false when the node is an unresolved reference
// that names no file in any loaded shard.
func FileOfNode(node string) (FilePath, bool) {
	if i := strings.LastIndex(node, ":"); i >= 0 {
		return node[:i], true
	}
	if strings.ContainsRune(node, '/') || strings.ContainsRune(node, '.') {
		// Bare file path target (e.g. an import edge).
		return node, true
	}
	return "", false
}

// FileEntry is everything the map knows about one source file.
type FileEntry struct {
	Path        FilePath  `json:"path"`
	Language    string    `json:"language"`
	ContentHash string    `json:"content_hash"`           // sha256 hex of the parsed bytes
	LastIndexed CommitSHA `json:"last_indexed_sha,omitempty"` // commit this entry was produced at
	Symbols     []Symbol  `json:"symbols"`
	Imports     []string  `json:"imports"`
	Exports     []string  `json:"exports"`
	Summary     string    `json:"summary,omitempty"`
}

// EdgeKind classifies a dependency edge.
type EdgeKind string

// Edge kinds.
const (
	EdgeImports    EdgeKind = "imports"
	EdgeCalls      EdgeKind = "calls"
	EdgeExtends    EdgeKind = "extends"
	EdgeImplements EdgeKind = "implements"
	EdgeReferences EdgeKind = "references"
)

// Edge is a directed dependency between two graph nodes. Source is always
// a qualified symbol name; Target is a qualified symbol name or, for
// import edges, a file path. Targets that never resolve stay as written —
// consumers of partial maps must tolerate them.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

// Less orders edges by (source, kind, target) so serialized shards are
// byte-stable across runs on identical inputs.
func (e Edge) Less(other Edge) bool {
	if e.Source != other.Source {
		return e.Source < other.Source
	}
	if e.Kind != other.Kind {
		return e.Kind < other.Kind
	}
	return e.Target < other.Target
}

// SourceFile returns the file the edge originates in.
func (e Edge) SourceFile() FilePath {
	f, _ := FileOfNode(e.Source)
	return f
}

// TargetFile returns the file the edge points into and whether the
// target resolves to a file at all.
func (e Edge) TargetFile() (FilePath, bool) {
	return FileOfNode(e.Target)
}
