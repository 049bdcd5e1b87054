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

import (
	"reflect"
	"testing"
)

func TestShardIDFor(t *testing.T) {
	cases := []struct {
		path FilePath
		want ShardID
	}{
		{"a/x.py", "a"},
		{"a/b/c.go", "a/b"},
		{"root.rs", ""},
		{"deep/nested/dir/file.ts", "deep/nested/dir"},
	}
	for _, tc := range cases {
		if got := ShardIDFor(tc.path); got != tc.want {
			t.Errorf("ShardIDFor(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want TokenCount
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestTokenCountAddCapped(t *testing.T) {
	if got := TokenCount(90).AddCapped(20, 100); got != 100 {
		t.Errorf("AddCapped saturation: got %d, want 100", got)
	}
	if got := TokenCount(10).AddCapped(20, 100); got != 30 {
		t.Errorf("AddCapped under cap: got %d, want 30", got)
	}
}

func TestFileOfNode(t *testing.T) {
	cases := []struct {
		node   string
		want   FilePath
		wantOK bool
	}{
		{"a/x.py:f", "a/x.py", true},
		{"pkg/a.go:Server.Run", "pkg/a.go", true},
		{"b/z.py", "b/z.py", true},
		{"unresolvedName", "", false},
	}
	for _, tc := range cases {
		got, ok := FileOfNode(tc.node)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("FileOfNode(%q) = (%q, %v), want (%q, %v)", tc.node, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestEdgeOrdering(t *testing.T) {
	a := Edge{Source: "a/x.py:f", Kind: EdgeCalls, Target: "b/z.py:g"}
	b := Edge{Source: "a/x.py:f", Kind: EdgeImports, Target: "b/z.py"}
	c := Edge{Source: "a/y.py:h", Kind: EdgeCalls, Target: "a/x.py:f"}

	if !a.Less(b) {
		t.Error("calls should sort before imports for the same source")
	}
	if !a.Less(c) {
		t.Error("edges should sort by source first")
	}
	if b.Less(a) {
		t.Error("ordering must be antisymmetric")
	}
}

func buildTestMap() *CodebaseMap {
	m := NewCodebaseMap("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	m.Upsert(&FileEntry{
		Path:     "a/x.py",
		Language: "python",
		Symbols: []Symbol{
			{Name: "f", Kind: KindFunction, StartLine: 1, EndLine: 3, QualifiedName: "a/x.py:f"},
		},
		Exports: []string{"f"},
	}, nil)
	m.Upsert(&FileEntry{
		Path:     "a/y.py",
		Language: "python",
		Symbols: []Symbol{
			{Name: "h", Kind: KindFunction, StartLine: 1, EndLine: 5, QualifiedName: "a/y.py:h"},
		},
	}, []Edge{
		{Source: "a/y.py:h", Target: "a/x.py:f", Kind: EdgeCalls},
		{Source: "a/y.py:h", Target: "a/x.py", Kind: EdgeImports},
	})
	m.Upsert(&FileEntry{
		Path:     "b/z.py",
		Language: "python",
		Symbols: []Symbol{
			{Name: "g", Kind: KindFunction, StartLine: 1, EndLine: 2, QualifiedName: "b/z.py:g"},
		},
		Exports: []string{"g"},
	}, nil)
	return m
}

func TestMapUpsertReplacesSourceEdges(t *testing.T) {
	m := buildTestMap()

	// Re-upsert a/y.py with a different edge set; the old edges must go.
	m.Upsert(&FileEntry{Path: "a/y.py", Language: "python"}, []Edge{
		{Source: "a/y.py:h", Target: "b/z.py:g", Kind: EdgeCalls},
	})

	edges := m.Edges()
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge after re-upsert, got %d", len(edges))
	}
	if edges[0].Target != "b/z.py:g" {
		t.Errorf("expected replacement edge target b/z.py:g, got %s", edges[0].Target)
	}
}

func TestMapRemoveDropsTouchingEdges(t *testing.T) {
	m := buildTestMap()
	m.Remove("a/x.py")

	if m.Contains("a/x.py") {
		t.Fatal("entry should be gone after Remove")
	}
	for _, e := range m.Edges() {
		if e.SourceFile() == "a/x.py" {
			t.Errorf("edge sourced in removed file survived: %+v", e)
		}
		if tgt, ok := e.TargetFile(); ok && tgt == "a/x.py" {
			t.Errorf("edge targeting removed file survived: %+v", e)
		}
	}
}

func TestGraphQueries(t *testing.T) {
	m := buildTestMap()
	g := m.Graph()

	deps := g.DependentsOf("a/x.py:f")
	if !reflect.DeepEqual(deps, []string{"a/y.py:h"}) {
		t.Errorf("DependentsOf(a/x.py:f) = %v, want [a/y.py:h]", deps)
	}

	wants := g.DependenciesOf("a/y.py:h")
	if len(wants) != 2 {
		t.Errorf("DependenciesOf(a/y.py:h) = %v, want 2 targets", wants)
	}

	fdeps := g.FileDependentsOf("a/x.py")
	if !reflect.DeepEqual(fdeps, []FilePath{"a/y.py"}) {
		t.Errorf("FileDependentsOf(a/x.py) = %v, want [a/y.py]", fdeps)
	}

	neighbors := g.FileNeighbors([]FilePath{"a/y.py"})
	if !reflect.DeepEqual(neighbors, []FilePath{"a/x.py"}) {
		t.Errorf("FileNeighbors([a/y.py]) = %v, want [a/x.py]", neighbors)
	}
}

func TestGraphNeighborsDepth(t *testing.T) {
	edges := []Edge{
		{Source: "a.go:A", Target: "b.go:B", Kind: EdgeCalls},
		{Source: "b.go:B", Target: "c.go:C", Kind: EdgeCalls},
	}
	g := NewDependencyGraph(edges, nil)

	one := g.Neighbors("a.go:A", 1)
	if !reflect.DeepEqual(one, []string{"b.go:B"}) {
		t.Errorf("depth-1 neighbors = %v, want [b.go:B]", one)
	}

	two := g.Neighbors("a.go:A", 2)
	if !reflect.DeepEqual(two, []string{"b.go:B", "c.go:C"}) {
		t.Errorf("depth-2 neighbors = %v, want [b.go:B c.go:C]", two)
	}
}

func TestLookupSymbol(t *testing.T) {
	m := buildTestMap()

	p, sym, ok := m.LookupSymbol("g")
	if !ok || p != "b/z.py" || sym.QualifiedName != "b/z.py:g" {
		t.Errorf("LookupSymbol(g) = (%s, %v, %v)", p, sym, ok)
	}

	if _, _, ok := m.LookupSymbol("nope"); ok {
		t.Error("LookupSymbol should miss unknown names")
	}
}
