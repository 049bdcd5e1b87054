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

package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/parser"
)

const vectorsVersion = 1

// Vector is one embedded code chunk.
type Vector struct {
	Path   codemap.FilePath `json:"path"`
	Symbol string           `json:"symbol"` // qualified name, or the module chunk marker
	Values []float32        `json:"values"`
}

// ShardVectors is the persisted embedding set of one shard.
type ShardVectors struct {
	Model   string          `json:"model"`
	ShardID codemap.ShardID `json:"shard_id"`
	Vectors []Vector        `json:"vectors"`
	Version int             `json:"version"`
}

// BlobName derives a shard's embeddings artifact name. Model is part of
// the key: switching models invalidates old vectors by renaming them away.
func BlobName(shardID codemap.ShardID, model string) string {
	sum := sha256.Sum256([]byte(string(shardID) + ":" + model))
	return hex.EncodeToString(sum[:])[:16] + "_embeddings.json"
}

// Encode serializes shard vectors with stable ordering.
func Encode(sv *ShardVectors) ([]byte, error) {
	sorted := make([]Vector, len(sv.Vectors))
	copy(sorted, sv.Vectors)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})
	out := *sv
	out.Vectors = sorted
	out.Version = vectorsVersion

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError("embeddings encode failed", "", "", err)
	}
	return data, nil
}

// Decode parses a shard embeddings blob. A model mismatch returns ok=false
// so stale vectors are ignored rather than searched.
func Decode(data []byte, model string) (*ShardVectors, bool, error) {
	var sv ShardVectors
	if err := json.Unmarshal(data, &sv); err != nil {
		return nil, false, errors.NewStructuralError(
			"corrupt embeddings blob",
			"an embeddings artifact could not be parsed",
			"reindex with `argus bootstrap` to regenerate embeddings", err,
		)
	}
	if sv.Model != model {
		return nil, false, nil
	}
	return &sv, true, nil
}

// BuildShardVectors embeds every chunk of the shard's files.
func BuildShardVectors(ctx context.Context, provider Provider, shardID codemap.ShardID, chunks []parser.CodeChunk) (*ShardVectors, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	values, err := provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}

	sv := &ShardVectors{Model: provider.Model(), ShardID: shardID, Version: vectorsVersion}
	for i, c := range chunks {
		sv.Vectors = append(sv.Vectors, Vector{
			Path:   c.Source,
			Symbol: c.Qualified,
			Values: values[i],
		})
	}
	return sv, nil
}

// =============================================================================
// SEARCH
// =============================================================================

// Hit is one vector match above the similarity floor.
type Hit struct {
	Path   codemap.FilePath
	Symbol string
	Score  float64
}

// Index is the in-memory search surface over the loaded shards' vectors.
type Index struct {
	vectors []Vector
}

// NewIndex merges the vectors of every loaded shard.
func NewIndex(shards []*ShardVectors) *Index {
	idx := &Index{}
	for _, sv := range shards {
		idx.vectors = append(idx.vectors, sv.Vectors...)
	}
	return idx
}

// Len returns the number of indexed vectors.
func (idx *Index) Len() int { return len(idx.vectors) }

// Search scores every vector against the query by cosine similarity and
// returns hits at or above floor, best first. Ties break on (path, symbol)
// for determinism.
func (idx *Index) Search(query []float32, floor float64, limit int) []Hit {
	var hits []Hit
	for _, v := range idx.vectors {
		score := Cosine(query, v.Values)
		if score >= floor {
			hits = append(hits, Hit{Path: v.Path, Symbol: v.Symbol, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Path != hits[j].Path {
			return hits[i].Path < hits[j].Path
		}
		return hits[i].Symbol < hits[j].Symbol
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Cosine computes cosine similarity; zero-magnitude or mismatched vectors
// score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
