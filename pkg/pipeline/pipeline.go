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

// Package pipeline wires the three run modes — bootstrap, index, review —
// out of the indexing, sync, retrieval, memory, and review components.
// Each pipeline returns a result struct and logs exactly one summary line,
// success or failure.
package pipeline

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/parser"
	"github.com/kraklabs/argus/pkg/retrieval"
)

// Token budget defaults and the retrieval share of the total prompt
// budget.
const (
	DefaultTokenBudget   codemap.TokenCount = 128_000
	retrievalBudgetRatio                    = 0.6

	maxDiffIdentifiers = 64
)

// Budget splits the total prompt budget between retrieval and the
// remaining prompt sections.
type Budget struct {
	Total     codemap.TokenCount
	Retrieval codemap.TokenCount
}

// NewBudget derives the retrieval sub-budget from a total. Zero or
// negative totals select the default.
func NewBudget(total codemap.TokenCount) Budget {
	if total <= 0 {
		total = DefaultTokenBudget
	}
	return Budget{
		Total:     total,
		Retrieval: codemap.TokenCount(float64(total) * retrievalBudgetRatio),
	}
}

// buildQuery derives the retrieval query for a change set: the changed
// paths, every symbol the map knows in them, and the identifiers the diff
// hunks mention.
func buildQuery(m *codemap.CodebaseMap, changed []codemap.FilePath, diff, summary string) *retrieval.Query {
	q := &retrieval.Query{
		ChangedFiles:    changed,
		DiffIdentifiers: extractDiffIdentifiers(diff),
		Summary:         summary,
	}
	for _, p := range changed {
		for _, sym := range m.SymbolsOf(p) {
			q.ChangedSymbols = append(q.ChangedSymbols, sym.Name)
		}
	}
	return q
}

// extractDiffIdentifiers pulls identifier-like tokens out of a unified
// diff's changed lines, deduplicated in first-seen order.
func extractDiffIdentifiers(diff string) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, line := range strings.Split(diff, "\n") {
		if len(line) < 2 {
			continue
		}
		marker := line[0]
		if marker != '+' && marker != '-' {
			continue
		}
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		for _, tok := range splitIdentifiers(line[1:]) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
			if len(out) == maxDiffIdentifiers {
				return out
			}
		}
	}
	return out
}

// splitIdentifiers breaks a source line into identifier runs, dropping
// short tokens and pure numbers.
func splitIdentifiers(line string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		tok := cur.String()
		cur.Reset()
		if len(tok) < 3 {
			return
		}
		if _, digitOnly := allDigits(tok); digitOnly {
			return
		}
		out = append(out, tok)
	}
	for _, r := range line {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}

func allDigits(s string) (string, bool) {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return s, false
		}
	}
	return s, true
}

// chunksFor builds retrieval chunks from a set of file contents, keyed
// into the map's symbol boundaries. Files the map does not know produce
// no chunks.
func chunksFor(m *codemap.CodebaseMap, contents map[codemap.FilePath]string) []parser.CodeChunk {
	paths := make([]codemap.FilePath, 0, len(contents))
	for p := range contents {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var chunks []parser.CodeChunk
	for _, p := range paths {
		if !m.Contains(p) {
			continue
		}
		chunks = append(chunks, parser.ChunkFile(p, contents[p], m.SymbolsOf(p))...)
	}
	return chunks
}
