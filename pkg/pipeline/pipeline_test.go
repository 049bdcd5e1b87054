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

package pipeline

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-github/v27/github"

	"github.com/kraklabs/argus/pkg/codemap"
)

func TestNewBudget(t *testing.T) {
	b := NewBudget(1000)
	if b.Total != 1000 {
		t.Fatalf("Total = %d, want 1000", b.Total)
	}
	if b.Retrieval != 600 {
		t.Errorf("Retrieval = %d, want 600", b.Retrieval)
	}

	def := NewBudget(0)
	if def.Total != DefaultTokenBudget {
		t.Errorf("zero total should select the default, got %d", def.Total)
	}
}

func TestExtractDiffIdentifiers(t *testing.T) {
	diff := strings.Join([]string{
		"diff --git a/pkg/fetch.go b/pkg/fetch.go",
		"--- a/pkg/fetch.go",
		"+++ b/pkg/fetch.go",
		"@@ -10,4 +10,5 @@",
		" func fetchAll() {",
		"+	retryCount := 3",
		"+	client.fetchWithRetry(retryCount)",
		"-	client.fetch()",
		"+	x := 12345",
	}, "\n")

	got := extractDiffIdentifiers(diff)
	want := []string{"retryCount", "client", "fetchWithRetry", "fetch"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("identifiers = %v, want %v", got, want)
	}
}

func TestExtractDiffIdentifiersSkipsHeadersAndContext(t *testing.T) {
	diff := "--- a/deleted_header.py\n+++ b/added_header.py\n context_line_token\n"
	if got := extractDiffIdentifiers(diff); got != nil {
		t.Errorf("expected no identifiers from headers/context, got %v", got)
	}
}

func TestExtractDiffIdentifiersCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxDiffIdentifiers+20; i++ {
		b.WriteString("+token")
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteByte('\n')
	}
	if got := extractDiffIdentifiers(b.String()); len(got) != maxDiffIdentifiers {
		t.Errorf("got %d identifiers, want cap %d", len(got), maxDiffIdentifiers)
	}
}

func TestBuildQueryCollectsChangedSymbols(t *testing.T) {
	m := codemap.NewCodebaseMap("headsha")
	m.Upsert(&codemap.FileEntry{
		Path:     "a/x.py",
		Language: "python",
		Symbols: []codemap.Symbol{
			{Name: "f", Kind: codemap.KindFunction, QualifiedName: "a/x.py:f"},
			{Name: "G", Kind: codemap.KindClass, QualifiedName: "a/x.py:G"},
		},
	}, nil)

	q := buildQuery(m, []codemap.FilePath{"a/x.py", "a/missing.py"}, "+callSite()\n", "fix fetch")
	if !reflect.DeepEqual(q.ChangedSymbols, []string{"f", "G"}) {
		t.Errorf("ChangedSymbols = %v", q.ChangedSymbols)
	}
	if q.Summary != "fix fetch" {
		t.Errorf("Summary = %q", q.Summary)
	}
	if !reflect.DeepEqual(q.DiffIdentifiers, []string{"callSite"}) {
		t.Errorf("DiffIdentifiers = %v", q.DiffIdentifiers)
	}
}

func TestChunksForSkipsUnknownFiles(t *testing.T) {
	m := codemap.NewCodebaseMap("headsha")
	m.Upsert(&codemap.FileEntry{
		Path:     "a/x.py",
		Language: "python",
		Symbols: []codemap.Symbol{
			{Name: "f", QualifiedName: "a/x.py:f", StartLine: 1, EndLine: 2},
		},
	}, nil)

	chunks := chunksFor(m, map[codemap.FilePath]string{
		"a/x.py":      "def f():\n    pass\n",
		"a/absent.py": "print('never indexed')\n",
	})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Source != "a/x.py" {
		t.Errorf("chunk source = %s", chunks[0].Source)
	}
}

func TestSplitChangedFiles(t *testing.T) {
	str := func(s string) *string { return &s }
	files := []*github.CommitFile{
		{Filename: str("a/new.py"), Status: str("added")},
		{Filename: str("a/mod.py"), Status: str("modified")},
		{Filename: str("a/gone.py"), Status: str("removed")},
		{Filename: str("b/now.py"), Status: str("renamed"), PreviousFilename: str("b/then.py")},
	}

	changed, removed := splitChangedFiles(files)
	wantChanged := []codemap.FilePath{"a/new.py", "a/mod.py", "b/now.py"}
	wantRemoved := []codemap.FilePath{"a/gone.py", "b/then.py"}
	if !reflect.DeepEqual(changed, wantChanged) {
		t.Errorf("changed = %v, want %v", changed, wantChanged)
	}
	if !reflect.DeepEqual(removed, wantRemoved) {
		t.Errorf("removed = %v, want %v", removed, wantRemoved)
	}
}
