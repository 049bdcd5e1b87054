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

// Package retrieval gathers review context for a change set: structural
// graph walks, BM25 lexical search, vector similarity, and an optional
// agentic exploration, merged and budgeted by a deterministic ranker.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kraklabs/argus/pkg/codemap"
)

// Strategy names, also used as log fields and per-strategy counters.
const (
	StrategyStructural = "structural"
	StrategyLexical    = "lexical"
	StrategySemantic   = "semantic"
	StrategyAgentic    = "agentic"
)

// Query describes one change set to retrieve context for.
type Query struct {
	// ChangedFiles are the PR's changed paths present in the map.
	ChangedFiles []codemap.FilePath
	// ChangedSymbols are qualified names touched by the diff.
	ChangedSymbols []string
	// DiffIdentifiers are bare identifiers mentioned in the diff hunks.
	DiffIdentifiers []string
	// Summary is free text (PR title/body) for semantic and agentic use.
	Summary string
}

// ContextItem is one piece of retrieved context.
type ContextItem struct {
	Path      codemap.FilePath
	Symbol    string // qualified name; empty for whole-file items
	StartLine int    // 1-indexed; 0 when the item has no line anchor
	EndLine   int    // 1-indexed, inclusive
	Content   string
	Score     float64
	// Strategies lists every strategy that produced this item; filled by
	// the ranker, single-element before ranking.
	Strategies []string
}

// Fingerprint identifies an item across strategies: a stable hash of the
// path and line range, so the same span counts once no matter which
// strategy produced it or how it rendered the text. Items without a line
// anchor fall back to a content hash.
func (i *ContextItem) Fingerprint() string {
	if i.StartLine > 0 {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d-%d", i.Path, i.StartLine, i.EndLine)))
		return hex.EncodeToString(sum[:])[:16]
	}
	sum := sha256.Sum256([]byte(i.Content))
	return string(i.Path) + "#" + hex.EncodeToString(sum[:])[:8]
}

// Tokens estimates the item's prompt cost.
func (i *ContextItem) Tokens() codemap.TokenCount {
	return codemap.EstimateTokens(i.Content)
}

// Strategy is one retrieval source.
type Strategy interface {
	Name() string
	Retrieve(ctx context.Context, q *Query) ([]ContextItem, error)
}

// Result is the ranked, budgeted output of a retrieval run.
type Result struct {
	Items       []ContextItem
	TokensUsed  codemap.TokenCount
	Dropped     int
	PerStrategy map[string]int // items produced per strategy, pre-ranking
}
