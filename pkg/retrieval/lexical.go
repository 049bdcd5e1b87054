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
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/kraklabs/argus/pkg/parser"
)

// BM25 parameters, the standard Robertson defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// lexicalLimit caps raw lexical output; the ranker prunes further.
const lexicalLimit = 50

// Lexical is BM25 over code chunks with identifier-aware tokenization.
// The index is built once, on first use.
type Lexical struct {
	chunks []parser.CodeChunk

	once      sync.Once
	docTokens []map[string]int // term frequency per chunk
	docLens   []int
	avgDocLen float64
	docFreq   map[string]int
}

// NewLexical creates the strategy over the run's chunk set.
func NewLexical(chunks []parser.CodeChunk) *Lexical {
	return &Lexical{chunks: chunks}
}

// Name implements Strategy.
func (l *Lexical) Name() string { return StrategyLexical }

// Retrieve scores every chunk against the query terms (changed symbols
// plus diff identifiers) and returns matches normalized by the best
// score.
func (l *Lexical) Retrieve(_ context.Context, q *Query) ([]ContextItem, error) {
	l.once.Do(l.buildIndex)
	if len(l.chunks) == 0 {
		return nil, nil
	}

	terms := make(map[string]struct{})
	for _, s := range q.ChangedSymbols {
		for _, tok := range Tokenize(s) {
			terms[tok] = struct{}{}
		}
	}
	for _, id := range q.DiffIdentifiers {
		for _, tok := range Tokenize(id) {
			terms[tok] = struct{}{}
		}
	}
	if len(terms) == 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	n := float64(len(l.chunks))
	for i := range l.chunks {
		var score float64
		for term := range terms {
			tf := float64(l.docTokens[i][term])
			if tf == 0 {
				continue
			}
			df := float64(l.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(l.docLens[i])/l.avgDocLen))
			score += idf * norm
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return l.chunks[hits[i].idx].Qualified < l.chunks[hits[j].idx].Qualified
	})
	if len(hits) > lexicalLimit {
		hits = hits[:lexicalLimit]
	}

	max := hits[0].score
	items := make([]ContextItem, 0, len(hits))
	for _, h := range hits {
		c := l.chunks[h.idx]
		items = append(items, ContextItem{
			Path:       c.Source,
			Symbol:     c.Qualified,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			Content:    c.Content,
			Score:      h.score / max,
			Strategies: []string{StrategyLexical},
		})
	}
	return items, nil
}

func (l *Lexical) buildIndex() {
	l.docTokens = make([]map[string]int, len(l.chunks))
	l.docLens = make([]int, len(l.chunks))
	l.docFreq = make(map[string]int)

	total := 0
	for i, c := range l.chunks {
		tf := make(map[string]int)
		tokens := Tokenize(c.Content)
		for _, tok := range tokens {
			tf[tok]++
		}
		l.docTokens[i] = tf
		l.docLens[i] = len(tokens)
		total += len(tokens)
		for tok := range tf {
			l.docFreq[tok]++
		}
	}
	if len(l.chunks) > 0 {
		l.avgDocLen = float64(total) / float64(len(l.chunks))
	}
	if l.avgDocLen == 0 {
		l.avgDocLen = 1
	}
}

// Tokenize splits source text into lowercase identifier tokens: camelCase
// and PascalCase hump boundaries, snake_case underscores, and dotted
// paths all separate. Single-character fragments are dropped.
func Tokenize(text string) []string {
	var tokens []string
	var word []rune

	flush := func() {
		if len(word) > 1 {
			tokens = append(tokens, strings.ToLower(string(word)))
		}
		word = word[:0]
	}

	prevLower := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			if unicode.IsUpper(r) && prevLower {
				flush()
			}
			word = append(word, r)
			prevLower = unicode.IsLower(r)
		case unicode.IsDigit(r):
			word = append(word, r)
			prevLower = false
		default:
			flush()
			prevLower = false
		}
	}
	flush()
	return tokens
}
