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

package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
)

// LegacyBlobName is the single flat-map blob used before sharding. It is
// read for migration and deleted on the next sharded save.
func LegacyBlobName(repoID string) string {
	sum := sha256.Sum256([]byte(repoID))
	return hex.EncodeToString(sum[:])[:16] + ".json"
}

type wireFlatMap struct {
	Edges     []wireEdge  `json:"edges"`
	Entries   []wireEntry `json:"entries"`
	IndexedAt string      `json:"indexed_at"`
}

// EncodeFlat serializes a whole map as one blob in the legacy layout.
func EncodeFlat(m *codemap.CodebaseMap) ([]byte, error) {
	w := wireFlatMap{IndexedAt: string(m.IndexedAt)}

	for _, path := range m.Files() {
		w.Entries = append(w.Entries, toWireEntry(m.Get(path)))
	}
	for _, e := range m.Edges() {
		w.Edges = append(w.Edges, toWireEdge(e))
	}

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError(
			"flat map encode failed", "could not serialize the codebase map", "", err,
		)
	}
	return data, nil
}

// DecodeFlat parses a legacy flat-map blob.
func DecodeFlat(data []byte) (*codemap.CodebaseMap, error) {
	var w wireFlatMap
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.NewStructuralError(
			"corrupt artifact",
			"legacy map JSON could not be parsed",
			"reindex with `argus bootstrap` to rebuild the data branch",
			err,
		)
	}

	m := codemap.NewCodebaseMap(codemap.CommitSHA(w.IndexedAt))
	for i := range w.Entries {
		m.Upsert(fromWireEntry(&w.Entries[i]), nil)
	}
	edges := make([]codemap.Edge, 0, len(w.Edges))
	for _, e := range w.Edges {
		edges = append(edges, fromWireEdge(e))
	}
	m.ReplaceEdges(edges)
	return m, nil
}
