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

package codemap

import "sort"

// CodebaseMap is the in-memory aggregate of everything indexed: file
// entries keyed by path plus the dependency edges between them.
//
// A map loaded from a subset of shards is structurally identical to a
// full map; consumers must tolerate edges whose targets are not present.
// The map is mutated only by the indexing service and is read-only once
// a pipeline's indexing stage returns.
type CodebaseMap struct {
	// IndexedAt is the commit the entries were last produced at.
	IndexedAt CommitSHA

	entries map[FilePath]*FileEntry
	edges   []Edge

	graph *DependencyGraph // lazily built; nil after any mutation
}

// NewCodebaseMap creates an empty map stamped with the given commit.
func NewCodebaseMap(indexedAt CommitSHA) *CodebaseMap {
	return &CodebaseMap{
		IndexedAt: indexedAt,
		entries:   make(map[FilePath]*FileEntry),
	}
}

// Len returns the number of file entries.
func (m *CodebaseMap) Len() int { return len(m.entries) }

// Contains reports whether the map has an entry for the path.
func (m *CodebaseMap) Contains(p FilePath) bool {
	_, ok := m.entries[p]
	return ok
}

// Get returns the entry for a path, or nil.
func (m *CodebaseMap) Get(p FilePath) *FileEntry { return m.entries[p] }

// Files returns all entry paths in lexicographic order.
func (m *CodebaseMap) Files() []FilePath {
	paths := make([]FilePath, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Edges returns the edge list sorted by (source, kind, target).
func (m *CodebaseMap) Edges() []Edge {
	sorted := make([]Edge, len(m.edges))
	copy(sorted, m.edges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	return sorted
}

// Upsert replaces the entry for edges' file, removing every edge whose
// source lives in that file before inserting the new ones. This is the
// only way entries enter a map.
func (m *CodebaseMap) Upsert(entry *FileEntry, edges []Edge) {
	m.entries[entry.Path] = entry

	kept := m.edges[:0]
	for _, e := range m.edges {
		if e.SourceFile() != entry.Path {
			kept = append(kept, e)
		}
	}
	m.edges = append(kept, edges...)
	m.graph = nil
}

// Remove drops the entry for a path together with every edge whose
// source or target resolves into that file.
func (m *CodebaseMap) Remove(p FilePath) {
	delete(m.entries, p)

	kept := m.edges[:0]
	for _, e := range m.edges {
		if e.SourceFile() == p {
			continue
		}
		if tgt, ok := e.TargetFile(); ok && tgt == p {
			continue
		}
		kept = append(kept, e)
	}
	m.edges = kept
	m.graph = nil
}

// ReplaceEdges swaps the full edge list. Used by the resolver after it
// rewrites unresolved targets, and by shard assembly.
func (m *CodebaseMap) ReplaceEdges(edges []Edge) {
	m.edges = edges
	m.graph = nil
}

// Graph returns the adjacency index over the current edges, building it
// on first use after a mutation.
func (m *CodebaseMap) Graph() *DependencyGraph {
	if m.graph == nil {
		known := make(map[FilePath]struct{}, len(m.entries))
		for p := range m.entries {
			known[p] = struct{}{}
		}
		m.graph = NewDependencyGraph(m.edges, known)
	}
	return m.graph
}

// Clone copies the map, restamped at a new commit. Entries are shared
// (they are replaced wholesale on update, never mutated in place); the
// edge list is copied so the clone mutates independently.
func (m *CodebaseMap) Clone(indexedAt CommitSHA) *CodebaseMap {
	out := NewCodebaseMap(indexedAt)
	for p, e := range m.entries {
		out.entries[p] = e
	}
	out.edges = make([]Edge, len(m.edges))
	copy(out.edges, m.edges)
	return out
}

// SymbolsOf returns the symbols of a file, or nil when absent.
func (m *CodebaseMap) SymbolsOf(p FilePath) []Symbol {
	if e := m.entries[p]; e != nil {
		return e.Symbols
	}
	return nil
}

// LookupSymbol finds a symbol by bare name or qualified name across all
// loaded entries. Returns the owning path and the symbol.
func (m *CodebaseMap) LookupSymbol(name string) (FilePath, *Symbol, bool) {
	for _, p := range m.Files() {
		for i := range m.entries[p].Symbols {
			s := &m.entries[p].Symbols[i]
			if s.Name == name || s.QualifiedName == name {
				return p, s, true
			}
		}
	}
	return "", nil, false
}
