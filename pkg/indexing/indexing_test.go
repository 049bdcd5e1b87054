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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/parser"
)

// =============================================================================
// DELTA
// =============================================================================

func TestDeltaReparseAndRemovals(t *testing.T) {
	d := &Delta{
		Added:    []codemap.FilePath{"b.py"},
		Modified: []codemap.FilePath{"a.py"},
		Deleted:  []codemap.FilePath{"gone.py"},
		Renamed:  map[codemap.FilePath]codemap.FilePath{"old.py": "new.py"},
	}

	assert.True(t, d.HasChanges())
	assert.Equal(t, []codemap.FilePath{"a.py", "b.py", "new.py"}, d.Reparse())
	assert.Equal(t, []codemap.FilePath{"gone.py", "old.py"}, d.Removals())
	assert.Equal(t, []codemap.FilePath{"a.py", "b.py", "gone.py", "new.py", "old.py"}, d.All())
}

func TestApplyDiffLine(t *testing.T) {
	d := &Delta{Renamed: make(map[codemap.FilePath]codemap.FilePath)}

	applyDiffLine("A\tadded.go", d)
	applyDiffLine("M\tchanged.go", d)
	applyDiffLine("D\tremoved.go", d)
	applyDiffLine("R095\told/name.go\tnew/name.go", d)
	applyDiffLine("C080\tsrc.go\tcopy.go", d)
	applyDiffLine("", d)
	applyDiffLine("garbage", d)

	assert.Equal(t, []codemap.FilePath{"added.go", "copy.go"}, d.Added)
	assert.Equal(t, []codemap.FilePath{"changed.go"}, d.Modified)
	assert.Equal(t, []codemap.FilePath{"removed.go"}, d.Deleted)
	assert.Equal(t, codemap.FilePath("new/name.go"), d.Renamed["old/name.go"])
}

func TestUnquoteGitPath(t *testing.T) {
	assert.Equal(t, "plain.go", unquoteGitPath("plain.go"))
	assert.Equal(t, `a "b".go`, unquoteGitPath(`"a \"b\".go"`))
	assert.Equal(t, "tab\tname.go", unquoteGitPath(`"tab\tname.go"`))
}

// =============================================================================
// FILTER
// =============================================================================

func TestFileFilterExcludes(t *testing.T) {
	f := NewFileFilter([]string{"generated/**", "**/*.pb.go"})

	assert.True(t, f.Excluded("node_modules/react/index.js"))
	assert.True(t, f.Excluded(".git/HEAD"))
	assert.True(t, f.Excluded("web/bundle.min.js"))
	assert.True(t, f.Excluded("generated/api.go"))
	assert.True(t, f.Excluded("internal/api/v1.pb.go"))
	assert.False(t, f.Excluded("internal/api/v1.go"))
	assert.False(t, f.Excluded("src/main.py"))
}

func TestFileFilterEligibleSkipsOversizeAndBinary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.go"), []byte("package x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.go"), make([]byte, MaxFileSizeBytes+1), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.go"), []byte{0x00, 0x01, 0x02}, 0o644))

	f := NewFileFilter(nil)
	assert.True(t, f.Eligible(dir, "small.go"))
	assert.False(t, f.Eligible(dir, "big.go"))
	assert.False(t, f.Eligible(dir, "blob.go"))
}

// =============================================================================
// RESOLVER
// =============================================================================

func entryWithSymbols(path codemap.FilePath, imports []string, names ...string) *codemap.FileEntry {
	e := &codemap.FileEntry{Path: path, Language: "python", Imports: imports}
	for _, n := range names {
		e.Symbols = append(e.Symbols, codemap.Symbol{
			Name:          n,
			Kind:          codemap.KindFunction,
			QualifiedName: codemap.QualifyName(path, n),
		})
	}
	return e
}

func TestResolverLinksDottedCallViaImport(t *testing.T) {
	m := codemap.NewCodebaseMap("c1")
	m.Upsert(entryWithSymbols("a/x.py", nil, "f"), nil)
	m.Upsert(entryWithSymbols("a/y.py", []string{"a.x"}, "main"), []codemap.Edge{
		{Source: "a/y.py", Target: "a.x", Kind: codemap.EdgeImports},
		{Source: "a/y.py:main", Target: "a.x.f", Kind: codemap.EdgeCalls},
	})

	NewResolver(m).Resolve()

	edges := m.Edges()
	assert.Contains(t, edges, codemap.Edge{Source: "a/y.py", Target: "a/x.py", Kind: codemap.EdgeImports})
	assert.Contains(t, edges, codemap.Edge{Source: "a/y.py:main", Target: "a/x.py:f", Kind: codemap.EdgeCalls})
}

func TestResolverPrefersSameFileSymbol(t *testing.T) {
	m := codemap.NewCodebaseMap("c1")
	m.Upsert(entryWithSymbols("a.py", nil, "run", "main"), []codemap.Edge{
		{Source: "a.py:main", Target: "run", Kind: codemap.EdgeCalls},
	})
	m.Upsert(entryWithSymbols("b.py", nil, "run"), nil)

	NewResolver(m).Resolve()

	assert.Contains(t, m.Edges(), codemap.Edge{Source: "a.py:main", Target: "a.py:run", Kind: codemap.EdgeCalls})
}

func TestResolverUniqueGlobalSymbol(t *testing.T) {
	m := codemap.NewCodebaseMap("c1")
	m.Upsert(entryWithSymbols("util.py", nil, "helper"), nil)
	m.Upsert(entryWithSymbols("app.py", nil, "main"), []codemap.Edge{
		{Source: "app.py:main", Target: "helper", Kind: codemap.EdgeCalls},
	})

	NewResolver(m).Resolve()

	assert.Contains(t, m.Edges(), codemap.Edge{Source: "app.py:main", Target: "util.py:helper", Kind: codemap.EdgeCalls})
}

func TestResolverAmbiguousNameStaysUnresolved(t *testing.T) {
	m := codemap.NewCodebaseMap("c1")
	m.Upsert(entryWithSymbols("a.py", nil, "run"), nil)
	m.Upsert(entryWithSymbols("b.py", nil, "run"), nil)
	m.Upsert(entryWithSymbols("c.py", nil, "main"), []codemap.Edge{
		{Source: "c.py:main", Target: "run", Kind: codemap.EdgeCalls},
	})

	NewResolver(m).Resolve()

	assert.Contains(t, m.Edges(), codemap.Edge{Source: "c.py:main", Target: "run", Kind: codemap.EdgeCalls},
		"ambiguous bare name must stay as written")
}

func TestResolverRelativeImport(t *testing.T) {
	m := codemap.NewCodebaseMap("c1")
	m.Upsert(entryWithSymbols("src/util.ts", nil, "clamp"), nil)
	m.Upsert(entryWithSymbols("src/app.ts", []string{"./util"}, "main"), []codemap.Edge{
		{Source: "src/app.ts", Target: "./util", Kind: codemap.EdgeImports},
	})

	NewResolver(m).Resolve()

	assert.Contains(t, m.Edges(), codemap.Edge{Source: "src/app.ts", Target: "src/util.ts", Kind: codemap.EdgeImports})
}

func TestResolverExternalImportUntouched(t *testing.T) {
	m := codemap.NewCodebaseMap("c1")
	m.Upsert(entryWithSymbols("app.py", []string{"requests"}, "main"), []codemap.Edge{
		{Source: "app.py", Target: "requests", Kind: codemap.EdgeImports},
		{Source: "app.py:main", Target: "requests.get", Kind: codemap.EdgeCalls},
	})

	NewResolver(m).Resolve()

	edges := m.Edges()
	assert.Contains(t, edges, codemap.Edge{Source: "app.py", Target: "requests", Kind: codemap.EdgeImports})
	assert.Contains(t, edges, codemap.Edge{Source: "app.py:main", Target: "requests.get", Kind: codemap.EdgeCalls})
}

// =============================================================================
// SERVICE
// =============================================================================

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func newTestService(t *testing.T, dir string) *Service {
	t.Helper()
	return NewService(dir, parser.NewTreeSitterParser(nil, nil), NewFileFilter(nil), 2, nil)
}

func TestFullBuildIndexesCheckout(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a/x.py": "def f(n):\n    return n\n",
		"a/y.py": "import a.x\n\ndef main():\n    a.x.f(1)\n",
		"node_modules/dep/index.js": "module.exports = 1;\n",
		"README.md":                 "docs\n",
	})

	svc := newTestService(t, dir)
	m, stats, err := svc.FullBuild(context.Background(), "head1")
	require.NoError(t, err)

	assert.Equal(t, codemap.CommitSHA("head1"), m.IndexedAt)
	assert.Equal(t, []codemap.FilePath{"a/x.py", "a/y.py"}, m.Files(),
		"excluded and unsupported files must not be indexed")
	assert.Equal(t, 2, stats.FilesParsed)
	assert.Zero(t, stats.FilesCapped)

	assert.Contains(t, m.Edges(), codemap.Edge{Source: "a/y.py:main", Target: "a/x.py:f", Kind: codemap.EdgeCalls},
		"dotted cross-file call should resolve through the import")
}

func TestIncrementalBuildAppliesDelta(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a/x.py": "def f(n):\n    return n\n",
		"a/y.py": "import a.x\n\ndef main():\n    a.x.f(1)\n",
	})

	svc := newTestService(t, dir)
	prior, _, err := svc.FullBuild(context.Background(), "c1")
	require.NoError(t, err)

	writeTree(t, dir, map[string]string{
		"a/y.py": "def main():\n    return 2\n",
	})
	require.NoError(t, os.Remove(filepath.Join(dir, "a", "x.py")))

	delta := &Delta{
		BaseSHA:  "c1",
		HeadSHA:  "c2",
		Modified: []codemap.FilePath{"a/y.py"},
		Deleted:  []codemap.FilePath{"a/x.py"},
	}
	m, stats, err := svc.IncrementalBuild(context.Background(), prior, delta)
	require.NoError(t, err)

	assert.Equal(t, codemap.CommitSHA("c2"), m.IndexedAt)
	assert.Equal(t, []codemap.FilePath{"a/y.py"}, m.Files())
	assert.Equal(t, 1, stats.FilesParsed)

	// The prior map is untouched.
	assert.Equal(t, codemap.CommitSHA("c1"), prior.IndexedAt)
	assert.True(t, prior.Contains("a/x.py"))
}

func TestIncrementalBuildRenameDropsOldPath(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"old.py": "def f():\n    return 1\n",
	})

	svc := newTestService(t, dir)
	prior, _, err := svc.FullBuild(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, prior.Contains("old.py"))

	require.NoError(t, os.Rename(filepath.Join(dir, "old.py"), filepath.Join(dir, "new.py")))
	delta := &Delta{
		BaseSHA: "c1",
		HeadSHA: "c2",
		Renamed: map[codemap.FilePath]codemap.FilePath{"old.py": "new.py"},
	}

	m, _, err := svc.IncrementalBuild(context.Background(), prior, delta)
	require.NoError(t, err)

	assert.False(t, m.Contains("old.py"))
	assert.True(t, m.Contains("new.py"))
	_, sym, ok := m.LookupSymbol("new.py:f")
	require.True(t, ok)
	assert.Equal(t, "f", sym.Name)
}
