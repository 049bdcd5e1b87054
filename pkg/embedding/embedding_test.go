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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/argus/pkg/codemap"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}), "zero magnitude scores 0")
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 0}), "dimension mismatch scores 0")
}

func TestBlobNameDerivation(t *testing.T) {
	name := BlobName("a", "gemini-embedding-001")
	assert.True(t, strings.HasSuffix(name, "_embeddings.json"))
	assert.Len(t, name, 16+len("_embeddings.json"))

	assert.Equal(t, name, BlobName("a", "gemini-embedding-001"), "name must be deterministic")
	assert.NotEqual(t, name, BlobName("b", "gemini-embedding-001"), "shard is part of the key")
	assert.NotEqual(t, name, BlobName("a", "other-model"), "model is part of the key")
}

func TestEncodeDecodeModelGate(t *testing.T) {
	sv := &ShardVectors{
		Model:   "m1",
		ShardID: "a",
		Vectors: []Vector{
			{Path: "a/y.py", Symbol: "a/y.py:g", Values: []float32{0, 1}},
			{Path: "a/x.py", Symbol: "a/x.py:f", Values: []float32{1, 0}},
		},
	}
	data, err := Encode(sv)
	require.NoError(t, err)

	decoded, ok, err := Decode(data, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codemap.ShardID("a"), decoded.ShardID)
	assert.Equal(t, "a/x.py:f", decoded.Vectors[0].Symbol, "vectors are path-sorted on disk")

	_, ok, err = Decode(data, "m2")
	require.NoError(t, err)
	assert.False(t, ok, "a model mismatch must gate the blob out")

	_, _, err = Decode([]byte("{broken"), "m1")
	assert.Error(t, err)
}

func TestIndexSearchFloorAndOrder(t *testing.T) {
	idx := NewIndex([]*ShardVectors{
		{Vectors: []Vector{
			{Path: "a/x.py", Symbol: "a/x.py:f", Values: []float32{1, 0}},
			{Path: "a/y.py", Symbol: "a/y.py:g", Values: []float32{0.9, 0.1}},
		}},
		{Vectors: []Vector{
			{Path: "b/z.py", Symbol: "b/z.py:h", Values: []float32{0, 1}},
		}},
	})
	require.Equal(t, 3, idx.Len())

	hits := idx.Search([]float32{1, 0}, 0.2, 0)
	require.Len(t, hits, 2, "orthogonal vector is under the floor")
	assert.Equal(t, "a/x.py:f", hits[0].Symbol)
	assert.Equal(t, "a/y.py:g", hits[1].Symbol)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	limited := idx.Search([]float32{1, 0}, 0.2, 1)
	assert.Len(t, limited, 1)
}
