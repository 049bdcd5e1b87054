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

// DependencyGraph is a transient adjacency index built from the map's
// sorted edge list. Edges remain the source of truth; the graph exists
// only for constant-time neighbor queries and is rebuilt after mutation.
type DependencyGraph struct {
	out map[string][]Edge // keyed by source node
	in  map[string][]Edge // keyed by target node

	// File-level adjacency, derived by resolving each edge endpoint to
	// its file. Unresolvable targets are skipped here but still present
	// in out/in above.
	fileOut map[FilePath]map[FilePath]struct{}
	fileIn  map[FilePath]map[FilePath]struct{}
}

// NewDependencyGraph indexes the given edges. knownFiles lets the graph
// treat otherwise-ambiguous bare targets as files only when they really
// are files in the loaded map.
func NewDependencyGraph(edges []Edge, knownFiles map[FilePath]struct{}) *DependencyGraph {
	g := &DependencyGraph{
		out:     make(map[string][]Edge),
		in:      make(map[string][]Edge),
		fileOut: make(map[FilePath]map[FilePath]struct{}),
		fileIn:  make(map[FilePath]map[FilePath]struct{}),
	}
	for _, e := range edges {
		g.out[e.Source] = append(g.out[e.Source], e)
		g.in[e.Target] = append(g.in[e.Target], e)

		src := e.SourceFile()
		tgt, ok := e.TargetFile()
		if !ok && knownFiles != nil {
			if _, present := knownFiles[e.Target]; present {
				tgt, ok = e.Target, true
			}
		}
		if !ok || src == "" || tgt == "" || src == tgt {
			continue
		}
		addFileEdge(g.fileOut, src, tgt)
		addFileEdge(g.fileIn, tgt, src)
	}
	return g
}

func addFileEdge(m map[FilePath]map[FilePath]struct{}, from, to FilePath) {
	set, ok := m[from]
	if !ok {
		set = make(map[FilePath]struct{})
		m[from] = set
	}
	set[to] = struct{}{}
}

// DependentsOf returns the source nodes of all edges targeting node,
// sorted for deterministic iteration.
func (g *DependencyGraph) DependentsOf(node string) []string {
	return collectNodes(g.in[node], func(e Edge) string { return e.Source })
}

// DependenciesOf returns the target nodes of all edges sourced at node,
// sorted for deterministic iteration.
func (g *DependencyGraph) DependenciesOf(node string) []string {
	return collectNodes(g.out[node], func(e Edge) string { return e.Target })
}

// Neighbors returns all nodes reachable from node within depth hops,
// in either direction, excluding the node itself. Sorted.
func (g *DependencyGraph) Neighbors(node string, depth int) []string {
	seen := map[string]struct{}{node: {}}
	frontier := []string{node}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, n := range frontier {
			for _, e := range g.out[n] {
				if _, ok := seen[e.Target]; !ok {
					seen[e.Target] = struct{}{}
					next = append(next, e.Target)
				}
			}
			for _, e := range g.in[n] {
				if _, ok := seen[e.Source]; !ok {
					seen[e.Source] = struct{}{}
					next = append(next, e.Source)
				}
			}
		}
		frontier = next
	}
	delete(seen, node)
	return sortedKeys(seen)
}

// FileDependentsOf returns the files containing at least one edge into
// the given file. Sorted.
func (g *DependencyGraph) FileDependentsOf(p FilePath) []FilePath {
	return sortedKeys(g.fileIn[p])
}

// FileDependenciesOf returns the files the given file has at least one
// edge into. Sorted.
func (g *DependencyGraph) FileDependenciesOf(p FilePath) []FilePath {
	return sortedKeys(g.fileOut[p])
}

// FileNeighbors returns the union of file dependents and dependencies of
// all the given files, excluding the files themselves. Sorted.
func (g *DependencyGraph) FileNeighbors(paths []FilePath) []FilePath {
	self := make(map[FilePath]struct{}, len(paths))
	for _, p := range paths {
		self[p] = struct{}{}
	}
	found := make(map[FilePath]struct{})
	for _, p := range paths {
		for f := range g.fileIn[p] {
			if _, ok := self[f]; !ok {
				found[f] = struct{}{}
			}
		}
		for f := range g.fileOut[p] {
			if _, ok := self[f]; !ok {
				found[f] = struct{}{}
			}
		}
	}
	return sortedKeys(found)
}

func collectNodes(edges []Edge, pick func(Edge) string) []string {
	if len(edges) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		set[pick(e)] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
