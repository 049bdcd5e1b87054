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

// Package shard splits a CodebaseMap into per-directory blobs indexed by a
// manifest, and reassembles partial maps from any subset of those blobs.
// Blob bytes are deterministic: entries sort by path, edges by
// (source, kind, target), and JSON keys are emitted in sorted order, so a
// shard's content hash is stable across runs on identical inputs.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
)

// ManifestFilename is the manifest's blob name on the data branch and in
// the local cache directory.
const ManifestFilename = "manifest.json"

// Wire types mirror the domain types with struct fields declared in
// JSON-key-sorted order, because serialized bytes feed content hashes.

type wireSymbol struct {
	Kind          string `json:"kind"`
	LineEnd       int    `json:"line_end"`
	LineStart     int    `json:"line_start"`
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	Signature     string `json:"signature,omitempty"`
}

type wireEntry struct {
	ContentHash string       `json:"content_hash"`
	Exports     []string     `json:"exports"`
	Imports     []string     `json:"imports"`
	Language    string       `json:"language"`
	LastIndexed string       `json:"last_indexed_sha"`
	Path        string       `json:"path"`
	Summary     string       `json:"summary,omitempty"`
	Symbols     []wireSymbol `json:"symbols"`
}

type wireEdge struct {
	Kind   string `json:"kind"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type wireShard struct {
	Entries       []wireEntry `json:"entries"`
	InternalEdges []wireEdge  `json:"internal_edges"`
	ShardID       string      `json:"shard_id"`
}

// EncodeShard serializes one shard's entries and internal edges. Inputs
// are reordered, not mutated: entries sort by path, edges by
// (source, kind, target).
func EncodeShard(shardID codemap.ShardID, entries []*codemap.FileEntry, internalEdges []codemap.Edge) ([]byte, error) {
	sortedEntries := make([]*codemap.FileEntry, len(entries))
	copy(sortedEntries, entries)
	sort.Slice(sortedEntries, func(i, j int) bool {
		return sortedEntries[i].Path < sortedEntries[j].Path
	})

	sortedEdges := make([]codemap.Edge, len(internalEdges))
	copy(sortedEdges, internalEdges)
	sort.Slice(sortedEdges, func(i, j int) bool {
		return sortedEdges[i].Less(sortedEdges[j])
	})

	blob := wireShard{
		Entries:       make([]wireEntry, 0, len(sortedEntries)),
		InternalEdges: make([]wireEdge, 0, len(sortedEdges)),
		ShardID:       string(shardID),
	}
	for _, e := range sortedEntries {
		blob.Entries = append(blob.Entries, toWireEntry(e))
	}
	for _, e := range sortedEdges {
		blob.InternalEdges = append(blob.InternalEdges, toWireEdge(e))
	}

	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError(
			"shard encode failed",
			"could not serialize shard "+string(shardID),
			"",
			err,
		)
	}
	return data, nil
}

// DecodeShard parses shard blob bytes back into entries and edges.
func DecodeShard(data []byte) (codemap.ShardID, []*codemap.FileEntry, []codemap.Edge, error) {
	var blob wireShard
	if err := json.Unmarshal(data, &blob); err != nil {
		return "", nil, nil, errors.NewStructuralError(
			"corrupt shard blob",
			"shard JSON could not be parsed",
			"reindex with `argus bootstrap` to rebuild the data branch",
			err,
		)
	}

	entries := make([]*codemap.FileEntry, 0, len(blob.Entries))
	for i := range blob.Entries {
		entries = append(entries, fromWireEntry(&blob.Entries[i]))
	}
	edges := make([]codemap.Edge, 0, len(blob.InternalEdges))
	for _, e := range blob.InternalEdges {
		edges = append(edges, fromWireEdge(e))
	}
	return codemap.ShardID(blob.ShardID), entries, edges, nil
}

// ContentHashFor is the full SHA-256 hex of a shard's serialized bytes.
func ContentHashFor(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BlobNameFor derives a shard's blob name from its content hash, so
// identical shard contents reuse the same blob across runs.
func BlobNameFor(contentHash string) string {
	return "shard_" + contentHash + ".json"
}

func toWireEntry(e *codemap.FileEntry) wireEntry {
	w := wireEntry{
		ContentHash: e.ContentHash,
		Exports:     append([]string{}, e.Exports...),
		Imports:     make([]string, 0, len(e.Imports)),
		Language:    e.Language,
		LastIndexed: string(e.LastIndexed),
		Path:        string(e.Path),
		Summary:     e.Summary,
		Symbols:     make([]wireSymbol, 0, len(e.Symbols)),
	}
	for _, p := range e.Imports {
		w.Imports = append(w.Imports, string(p))
	}
	for _, s := range e.Symbols {
		w.Symbols = append(w.Symbols, wireSymbol{
			Kind:          string(s.Kind),
			LineEnd:       s.EndLine,
			LineStart:     s.StartLine,
			Name:          s.Name,
			QualifiedName: s.QualifiedName,
			Signature:     s.Signature,
		})
	}
	return w
}

func fromWireEntry(w *wireEntry) *codemap.FileEntry {
	e := &codemap.FileEntry{
		Path:        codemap.FilePath(w.Path),
		Language:    w.Language,
		ContentHash: w.ContentHash,
		LastIndexed: codemap.CommitSHA(w.LastIndexed),
		Exports:     append([]string{}, w.Exports...),
		Summary:     w.Summary,
	}
	e.Imports = make([]codemap.FilePath, 0, len(w.Imports))
	for _, p := range w.Imports {
		e.Imports = append(e.Imports, codemap.FilePath(p))
	}
	e.Symbols = make([]codemap.Symbol, 0, len(w.Symbols))
	for _, s := range w.Symbols {
		e.Symbols = append(e.Symbols, codemap.Symbol{
			Name:          s.Name,
			Kind:          codemap.SymbolKind(s.Kind),
			StartLine:     s.LineStart,
			EndLine:       s.LineEnd,
			QualifiedName: s.QualifiedName,
			Signature:     s.Signature,
		})
	}
	return e
}

func toWireEdge(e codemap.Edge) wireEdge {
	return wireEdge{
		Kind:   string(e.Kind),
		Source: e.Source,
		Target: e.Target,
	}
}

func fromWireEdge(w wireEdge) codemap.Edge {
	return codemap.Edge{
		Source: w.Source,
		Target: w.Target,
		Kind:   codemap.EdgeKind(w.Kind),
	}
}
