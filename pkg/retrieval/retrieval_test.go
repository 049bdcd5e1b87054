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

package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/parser"
)

func TestMain(m *testing.M) {
	// opencensus (pulled in transitively) starts a background worker in
	// its package init that can never be stopped from here.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// =============================================================================
// TOKENIZER
// =============================================================================

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"parse", "file", "entry"}, Tokenize("parseFileEntry"))
	assert.Equal(t, []string{"shard", "id", "for"}, Tokenize("shard_id_for"))
	assert.Equal(t, []string{"codemap", "file", "path"}, Tokenize("codemap.FilePath"))
	assert.Equal(t, []string{"http2"}, Tokenize("http2"))
	assert.Empty(t, Tokenize("a b c"), "single-character fragments are dropped")
}

// =============================================================================
// STRUCTURAL
// =============================================================================

func graphMap(t *testing.T) *codemap.CodebaseMap {
	t.Helper()
	m := codemap.NewCodebaseMap("head")
	for _, p := range []codemap.FilePath{"a/x.py", "a/y.py", "b/z.py"} {
		m.Upsert(&codemap.FileEntry{
			Path:     p,
			Language: "python",
			Symbols: []codemap.Symbol{{
				Name:          "f",
				Kind:          codemap.KindFunction,
				QualifiedName: codemap.QualifyName(p, "f"),
				StartLine:     1,
				EndLine:       2,
			}},
		}, nil)
	}
	// b/z.py depends on a/x.py; a/y.py depends on a/x.py.
	m.ReplaceEdges([]codemap.Edge{
		{Source: "b/z.py:f", Target: "a/x.py:f", Kind: codemap.EdgeCalls},
		{Source: "a/y.py:f", Target: "a/x.py:f", Kind: codemap.EdgeCalls},
	})
	return m
}

func TestStructuralNeighborsAndScores(t *testing.T) {
	s := NewStructural(graphMap(t))
	items, err := s.Retrieve(context.Background(), &Query{ChangedFiles: []codemap.FilePath{"a/x.py"}})
	require.NoError(t, err)

	scores := make(map[codemap.FilePath]float64, len(items))
	for _, item := range items {
		scores[item.Path] = item.Score
	}
	assert.Equal(t, scoreNeighbor, scores["a/y.py"], "dependent gets full score")
	assert.Equal(t, scoreNeighbor, scores["b/z.py"], "dependent gets full score")
	assert.Equal(t, scoreSameFile, scores["a/x.py"], "the changed file itself ranks lower")

	require.NotEmpty(t, items)
	assert.Contains(t, items[0].Content, "f (function)")
}

func TestStructuralToleratesPartialMap(t *testing.T) {
	m := graphMap(t)
	m.Remove("b/z.py") // simulate an unloaded shard

	s := NewStructural(m)
	items, err := s.Retrieve(context.Background(), &Query{ChangedFiles: []codemap.FilePath{"a/x.py"}})
	require.NoError(t, err)
	for _, item := range items {
		assert.NotEqual(t, codemap.FilePath("b/z.py"), item.Path)
	}
}

// =============================================================================
// LEXICAL
// =============================================================================

func TestLexicalRanksMatchingChunks(t *testing.T) {
	chunks := []parser.CodeChunk{
		{Source: "a.py", SymbolName: "parse_entry", Qualified: "a.py:parse_entry", StartLine: 10, EndLine: 12, Content: "def parse_entry(path):\n    return read_entry(path)"},
		{Source: "b.py", SymbolName: "render", Qualified: "b.py:render", StartLine: 1, EndLine: 2, Content: "def render(view):\n    return view"},
		{Source: "c.py", SymbolName: "entry_cache", Qualified: "c.py:entry_cache", StartLine: 3, EndLine: 3, Content: "entry_cache = {}"},
	}
	l := NewLexical(chunks)

	items, err := l.Retrieve(context.Background(), &Query{DiffIdentifiers: []string{"parse_entry"}})
	require.NoError(t, err)
	require.NotEmpty(t, items)

	assert.Equal(t, "a.py:parse_entry", items[0].Symbol)
	assert.Equal(t, 10, items[0].StartLine, "items carry their chunk's line range")
	assert.Equal(t, 12, items[0].EndLine)
	assert.Equal(t, 1.0, items[0].Score, "scores are max-normalized")
	for _, item := range items {
		assert.LessOrEqual(t, item.Score, 1.0)
		assert.Greater(t, item.Score, 0.0)
	}

	none, err := l.Retrieve(context.Background(), &Query{})
	require.NoError(t, err)
	assert.Empty(t, none, "empty query yields nothing")
}

// =============================================================================
// FINGERPRINT
// =============================================================================

func TestFingerprintKeysOnPathAndLineRange(t *testing.T) {
	a := ContextItem{Path: "a.py", Symbol: "a.py:f", StartLine: 5, EndLine: 9, Content: "def f(): ..."}
	b := ContextItem{Path: "a.py", Symbol: "a.py:f", StartLine: 5, EndLine: 9, Content: "rendered differently"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(),
		"same span is the same item no matter how a strategy rendered it")

	shifted := ContextItem{Path: "a.py", Symbol: "a.py:f", StartLine: 11, EndLine: 14}
	assert.NotEqual(t, a.Fingerprint(), shifted.Fingerprint())

	otherFile := ContextItem{Path: "b.py", Symbol: "b.py:f", StartLine: 5, EndLine: 9}
	assert.NotEqual(t, a.Fingerprint(), otherFile.Fingerprint())

	// Items without a line anchor fall back to hashing their content.
	summary1 := ContextItem{Path: "a.py", Content: "summary text"}
	summary2 := ContextItem{Path: "a.py", Content: "summary text"}
	other := ContextItem{Path: "a.py", Content: "different text"}
	assert.Equal(t, summary1.Fingerprint(), summary2.Fingerprint())
	assert.NotEqual(t, summary1.Fingerprint(), other.Fingerprint())
}

// =============================================================================
// RANKER
// =============================================================================

func item(path, symbol, content string, score float64, strategy string) ContextItem {
	return ContextItem{
		Path:       codemap.FilePath(path),
		Symbol:     symbol,
		Content:    content,
		Score:      score,
		Strategies: []string{strategy},
	}
}

func TestRankConsensusBonus(t *testing.T) {
	perStrategy := [][]ContextItem{
		{item("a.py", "a.py:f", "body", 0.8, StrategyStructural)},
		{item("a.py", "a.py:f", "body", 0.6, StrategyLexical)},
		{item("b.py", "b.py:g", "body", 0.8, StrategyLexical)},
	}
	result := Rank(perStrategy, 10_000)

	require.Len(t, result.Items, 2)
	assert.Equal(t, "a.py:f", result.Items[0].Symbol)
	assert.InDelta(t, 0.85, result.Items[0].Score, 1e-9, "max score plus one consensus bonus")
	assert.Equal(t, []string{StrategyLexical, StrategyStructural}, result.Items[0].Strategies)
	assert.InDelta(t, 0.8, result.Items[1].Score, 1e-9)

	assert.Equal(t, 2, result.PerStrategy[StrategyLexical])
	assert.Equal(t, 1, result.PerStrategy[StrategyStructural])
}

func TestRankScoreCappedAtOne(t *testing.T) {
	perStrategy := [][]ContextItem{
		{item("a.py", "a.py:f", "x", 1.0, StrategyStructural)},
		{item("a.py", "a.py:f", "x", 1.0, StrategyLexical)},
		{item("a.py", "a.py:f", "x", 1.0, StrategySemantic)},
	}
	result := Rank(perStrategy, 10_000)
	require.Len(t, result.Items, 1)
	assert.Equal(t, 1.0, result.Items[0].Score)
}

func TestRankBudgetConformance(t *testing.T) {
	big := strings.Repeat("x", 400) // 100 tokens each
	var lexical []ContextItem
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		lexical = append(lexical, item(name+".py", name+".py:fn", big, 0.9, StrategyLexical))
	}
	result := Rank([][]ContextItem{lexical}, 250)

	assert.LessOrEqual(t, int(result.TokensUsed), 250)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, 4, result.Dropped)
}

func TestRankStructuralProtectedShare(t *testing.T) {
	big := strings.Repeat("x", 400) // 100 tokens each
	perStrategy := [][]ContextItem{
		{item("s.py", "s.py:fn", big, 0.5, StrategyStructural)},
		{
			item("l1.py", "l1.py:fn", big, 1.0, StrategyLexical),
			item("l2.py", "l2.py:fn", big, 1.0, StrategyLexical),
			item("l3.py", "l3.py:fn", big, 1.0, StrategyLexical),
		},
	}
	// Budget 300 tokens: without the protected share the three lexical
	// items would fill it and evict the structural one.
	result := Rank(perStrategy, 300)

	paths := make(map[codemap.FilePath]struct{})
	for _, it := range result.Items {
		paths[it.Path] = struct{}{}
	}
	assert.Contains(t, paths, codemap.FilePath("s.py"), "structural item survives despite lower score")
	assert.LessOrEqual(t, int(result.TokensUsed), 300)
}

func TestRankDeterministicAcrossInputOrder(t *testing.T) {
	a := item("a.py", "a.py:f", "aaa", 0.7, StrategyLexical)
	b := item("b.py", "b.py:g", "bbb", 0.7, StrategySemantic)
	c := item("c.py", "c.py:h", "ccc", 0.9, StrategyStructural)

	r1 := Rank([][]ContextItem{{c}, {a}, {b}}, 10_000)
	r2 := Rank([][]ContextItem{{c}, {b}, {a}}, 10_000)

	require.Equal(t, len(r1.Items), len(r2.Items))
	for i := range r1.Items {
		assert.Equal(t, r1.Items[i].Path, r2.Items[i].Path)
		assert.Equal(t, r1.Items[i].Score, r2.Items[i].Score)
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type stubStrategy struct {
	name  string
	items []ContextItem
	err   error
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Retrieve(context.Context, *Query) ([]ContextItem, error) {
	return s.items, s.err
}

func TestOrchestratorDegradesFailedStrategy(t *testing.T) {
	structural := &stubStrategy{name: StrategyStructural, items: []ContextItem{
		item("a.py", "a.py:f", "body", 1.0, StrategyStructural),
	}}
	semantic := &stubStrategy{name: StrategySemantic, err: errors.NewProviderError("embed down", "", "", nil)}

	o := NewOrchestrator(10_000, nil, structural, semantic)
	result, err := o.Run(context.Background(), &Query{})
	require.NoError(t, err, "provider failure degrades when structural has output")
	assert.Len(t, result.Items, 1)
}

func TestOrchestratorAbortsWithoutStructuralFallback(t *testing.T) {
	structural := &stubStrategy{name: StrategyStructural}
	semantic := &stubStrategy{name: StrategySemantic, err: errors.NewProviderError("embed down", "", "", nil)}

	o := NewOrchestrator(10_000, nil, structural, semantic)
	_, err := o.Run(context.Background(), &Query{})
	require.Error(t, err)
	assert.True(t, errors.IsProvider(err))
}

func TestOrchestratorStructuralFailureAborts(t *testing.T) {
	structural := &stubStrategy{name: StrategyStructural, err: errors.NewInternalError("graph broken", "", "", nil)}

	o := NewOrchestrator(10_000, nil, structural)
	_, err := o.Run(context.Background(), &Query{})
	require.Error(t, err)
}
