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

	"log/slog"

	"github.com/kraklabs/argus/pkg/embedding"
	"github.com/kraklabs/argus/pkg/parser"
)

// Similarity floor below which a vector match is noise.
const semanticFloor = 0.2

// semanticLimit caps raw semantic output.
const semanticLimit = 30

// Semantic scores the query embedding against the loaded shards'
// precomputed vectors. Only active when an embedding model is configured;
// provider failure degrades to zero items and the run continues.
type Semantic struct {
	provider embedding.Provider
	index    *embedding.Index
	chunks   map[string]parser.CodeChunk // by qualified name
	logger   *slog.Logger
}

// NewSemantic wires the vector strategy. chunks provides item bodies and
// line ranges for hits; a hit without a chunk renders as a bare reference.
func NewSemantic(provider embedding.Provider, index *embedding.Index, chunks []parser.CodeChunk, logger *slog.Logger) *Semantic {
	if logger == nil {
		logger = slog.Default()
	}
	byQualified := make(map[string]parser.CodeChunk, len(chunks))
	for _, c := range chunks {
		byQualified[c.Qualified] = c
	}
	return &Semantic{provider: provider, index: index, chunks: byQualified, logger: logger}
}

// Name implements Strategy.
func (s *Semantic) Name() string { return StrategySemantic }

// Retrieve embeds the query once and walks the vector index.
func (s *Semantic) Retrieve(ctx context.Context, q *Query) ([]ContextItem, error) {
	if s.index == nil || s.index.Len() == 0 {
		return nil, nil
	}

	text := s.queryText(q)
	if text == "" {
		return nil, nil
	}
	vector, err := s.provider.EmbedQuery(ctx, text)
	if err != nil {
		// Degrade, never abort: the orchestrator logs and continues.
		return nil, err
	}

	hits := s.index.Search(vector, semanticFloor, semanticLimit)
	items := make([]ContextItem, 0, len(hits))
	for _, h := range hits {
		item := ContextItem{
			Path:       h.Path,
			Symbol:     h.Symbol,
			Score:      h.Score,
			Strategies: []string{StrategySemantic},
		}
		if c, ok := s.chunks[h.Symbol]; ok {
			item.StartLine = c.StartLine
			item.EndLine = c.EndLine
			item.Content = c.Content
		} else {
			item.Content = string(h.Path) + " " + h.Symbol
		}
		items = append(items, item)
	}
	return items, nil
}

// queryText folds the change set into one embeddable string.
func (s *Semantic) queryText(q *Query) string {
	parts := make([]string, 0, 3)
	if q.Summary != "" {
		parts = append(parts, q.Summary)
	}
	if len(q.ChangedSymbols) > 0 {
		parts = append(parts, strings.Join(q.ChangedSymbols, " "))
	}
	if len(q.DiffIdentifiers) > 0 {
		parts = append(parts, strings.Join(q.DiffIdentifiers, " "))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
