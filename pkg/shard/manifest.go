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
	"encoding/json"
	"sort"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
)

// manifestVersion guards against future layout changes on the data branch.
const manifestVersion = 1

// Descriptor locates one shard's blob and summarizes its contents.
type Descriptor struct {
	ShardID     codemap.ShardID
	BlobName    string
	ContentHash string
	FileCount   int
	FilePaths   []codemap.FilePath
}

// Manifest is the single entry point for selective loading: it maps shard
// ids to blob descriptors and holds every edge that crosses shards.
type Manifest struct {
	IndexedAt  codemap.CommitSHA
	Shards     map[codemap.ShardID]Descriptor
	CrossEdges []codemap.Edge
}

// NewManifest returns an empty manifest at the given commit.
func NewManifest(indexedAt codemap.CommitSHA) *Manifest {
	return &Manifest{
		IndexedAt: indexedAt,
		Shards:    make(map[codemap.ShardID]Descriptor),
	}
}

// ShardOf returns the descriptor covering a file path, if any.
func (m *Manifest) ShardOf(path codemap.FilePath) (Descriptor, bool) {
	desc, ok := m.Shards[codemap.ShardIDFor(path)]
	return desc, ok
}

// BlobNames returns every blob referenced by the manifest, sorted.
func (m *Manifest) BlobNames() []string {
	names := make([]string, 0, len(m.Shards))
	for _, desc := range m.Shards {
		names = append(names, desc.BlobName)
	}
	sort.Strings(names)
	return names
}

type wireDescriptor struct {
	BlobName    string   `json:"blob_name"`
	ContentHash string   `json:"content_hash"`
	FileCount   int      `json:"file_count"`
	FilePaths   []string `json:"file_paths"`
}

type wireManifest struct {
	CrossEdges []wireEdge                `json:"cross_edges"`
	IndexedAt  string                    `json:"indexed_at"`
	Shards     map[string]wireDescriptor `json:"shards"`
	Version    int                       `json:"version"`
}

// EncodeManifest serializes a manifest with sorted keys and sorted
// cross-edges.
func EncodeManifest(m *Manifest) ([]byte, error) {
	w := wireManifest{
		CrossEdges: make([]wireEdge, 0, len(m.CrossEdges)),
		IndexedAt:  string(m.IndexedAt),
		Shards:     make(map[string]wireDescriptor, len(m.Shards)),
		Version:    manifestVersion,
	}

	sortedEdges := make([]codemap.Edge, len(m.CrossEdges))
	copy(sortedEdges, m.CrossEdges)
	sort.Slice(sortedEdges, func(i, j int) bool {
		return sortedEdges[i].Less(sortedEdges[j])
	})
	for _, e := range sortedEdges {
		w.CrossEdges = append(w.CrossEdges, toWireEdge(e))
	}

	for sid, desc := range m.Shards {
		paths := make([]string, 0, len(desc.FilePaths))
		for _, p := range desc.FilePaths {
			paths = append(paths, string(p))
		}
		sort.Strings(paths)
		w.Shards[string(sid)] = wireDescriptor{
			BlobName:    desc.BlobName,
			ContentHash: desc.ContentHash,
			FileCount:   desc.FileCount,
			FilePaths:   paths,
		}
	}

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError(
			"manifest encode failed", "could not serialize the shard manifest", "", err,
		)
	}
	return data, nil
}

// DecodeManifest parses manifest bytes.
func DecodeManifest(data []byte) (*Manifest, error) {
	var w wireManifest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.NewStructuralError(
			"corrupt manifest",
			"manifest.json could not be parsed",
			"reindex with `argus bootstrap` to rebuild the data branch",
			err,
		)
	}

	m := NewManifest(codemap.CommitSHA(w.IndexedAt))
	for sid, desc := range w.Shards {
		paths := make([]codemap.FilePath, 0, len(desc.FilePaths))
		for _, p := range desc.FilePaths {
			paths = append(paths, codemap.FilePath(p))
		}
		m.Shards[codemap.ShardID(sid)] = Descriptor{
			ShardID:     codemap.ShardID(sid),
			BlobName:    desc.BlobName,
			ContentHash: desc.ContentHash,
			FileCount:   desc.FileCount,
			FilePaths:   paths,
		}
	}
	for _, e := range w.CrossEdges {
		m.CrossEdges = append(m.CrossEdges, fromWireEdge(e))
	}
	return m, nil
}

// =============================================================================
// SPLIT
// =============================================================================

// SplitResult is the output of sharding a map against a prior manifest.
type SplitResult struct {
	// Manifest references every shard of the new map.
	Manifest *Manifest
	// Blobs holds serialized bytes for shards whose content changed
	// (or that are new); unchanged shards reuse the prior blob and do
	// not appear here.
	Blobs map[codemap.ShardID][]byte
	// Orphaned lists prior blob names no longer referenced by the new
	// manifest.
	Orphaned []string
}

// Split groups a full map's entries by directory shard, classifies edges
// as internal or cross-shard, and produces a manifest. When a shard's
// content hash matches the prior manifest, its descriptor is carried
// unchanged and no blob is emitted for it. Cross-edges are recomputed
// from scratch. A prior shard with no files in m is treated as deleted.
//
// An edge whose target does not resolve to a file stays internal to its
// source's shard: it travels with its source until resolution.
func Split(m *codemap.CodebaseMap, prior *Manifest) (*SplitResult, error) {
	return split(m, prior, nil)
}

// SplitPartial shards a partially assembled map against the prior
// manifest. loaded names the shards whose blobs were actually decoded
// into m; a prior shard outside that set was never loaded, so absence
// from m means "untouched", not "deleted": its descriptor and
// cross-edges carry over and its blob is never orphaned. Shards that
// only exist in m (new files) need not be listed.
func SplitPartial(m *codemap.CodebaseMap, prior *Manifest, loaded []codemap.ShardID) (*SplitResult, error) {
	loadedSet := make(map[codemap.ShardID]struct{}, len(loaded))
	for _, sid := range loaded {
		loadedSet[sid] = struct{}{}
	}
	for _, path := range m.Files() {
		loadedSet[codemap.ShardIDFor(path)] = struct{}{}
	}
	return split(m, prior, loadedSet)
}

// split is the shared core. A nil loaded set means m is a full map and
// every prior shard absent from it has been deleted.
func split(m *codemap.CodebaseMap, prior *Manifest, loaded map[codemap.ShardID]struct{}) (*SplitResult, error) {
	byShard := make(map[codemap.ShardID][]*codemap.FileEntry)
	for _, path := range m.Files() {
		sid := codemap.ShardIDFor(path)
		byShard[sid] = append(byShard[sid], m.Get(path))
	}

	internal := make(map[codemap.ShardID][]codemap.Edge)
	var cross []codemap.Edge
	for _, edge := range m.Edges() {
		srcFile := edge.SourceFile()
		if srcFile == "" {
			continue
		}
		srcShard := codemap.ShardIDFor(srcFile)
		// A target counts as cross-shard only when it resolves to a real
		// entry in another shard. Unresolved targets (including dotted
		// external references) travel with their source.
		tgtFile, resolved := edge.TargetFile()
		if !resolved || !m.Contains(tgtFile) || codemap.ShardIDFor(tgtFile) == srcShard {
			internal[srcShard] = append(internal[srcShard], edge)
			continue
		}
		cross = append(cross, edge)
	}

	manifest := NewManifest(m.IndexedAt)
	manifest.CrossEdges = cross

	result := &SplitResult{
		Manifest: manifest,
		Blobs:    make(map[codemap.ShardID][]byte),
	}

	for sid, entries := range byShard {
		data, err := EncodeShard(sid, entries, internal[sid])
		if err != nil {
			return nil, err
		}
		hash := ContentHashFor(data)

		if prior != nil {
			if old, ok := prior.Shards[sid]; ok && old.ContentHash == hash {
				manifest.Shards[sid] = old
				continue
			}
		}

		paths := make([]codemap.FilePath, 0, len(entries))
		for _, e := range entries {
			paths = append(paths, e.Path)
		}
		sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

		manifest.Shards[sid] = Descriptor{
			ShardID:     sid,
			BlobName:    BlobNameFor(hash),
			ContentHash: hash,
			FileCount:   len(entries),
			FilePaths:   paths,
		}
		result.Blobs[sid] = data
	}

	if prior != nil && loaded != nil {
		for sid, desc := range prior.Shards {
			if _, ok := loaded[sid]; ok {
				continue
			}
			if _, ok := manifest.Shards[sid]; ok {
				continue
			}
			manifest.Shards[sid] = desc
		}
		// Cross-edges sourced in an unloaded shard were never recomputed;
		// they survive as written. Edges sourced in a loaded shard were
		// reclassified above.
		for _, edge := range prior.CrossEdges {
			srcFile := edge.SourceFile()
			if srcFile == "" {
				continue
			}
			if _, ok := loaded[codemap.ShardIDFor(srcFile)]; !ok {
				manifest.CrossEdges = append(manifest.CrossEdges, edge)
			}
		}
	}

	if prior != nil {
		kept := make(map[string]struct{}, len(manifest.Shards))
		for _, desc := range manifest.Shards {
			kept[desc.BlobName] = struct{}{}
		}
		for _, desc := range prior.Shards {
			if _, ok := kept[desc.BlobName]; !ok {
				result.Orphaned = append(result.Orphaned, desc.BlobName)
			}
		}
		sort.Strings(result.Orphaned)
	}

	return result, nil
}

// =============================================================================
// SELECT + ASSEMBLE
// =============================================================================

// SelectShards resolves the shard set needed to serve the given paths:
// the shards owning the paths, extended by exactly one hop along
// cross-edges. Shards absent from the manifest are ignored.
func SelectShards(m *Manifest, paths []codemap.FilePath) []codemap.ShardID {
	required := make(map[codemap.ShardID]struct{})
	for _, p := range paths {
		sid := codemap.ShardIDFor(p)
		if _, ok := m.Shards[sid]; ok {
			required[sid] = struct{}{}
		}
	}

	// One hop: a cross-edge with either endpoint in the required set
	// pulls in the shard of the other endpoint.
	hop := make(map[codemap.ShardID]struct{})
	for _, edge := range m.CrossEdges {
		srcFile := edge.SourceFile()
		tgtFile, resolved := edge.TargetFile()
		if srcFile == "" || !resolved {
			continue
		}
		srcShard, tgtShard := codemap.ShardIDFor(srcFile), codemap.ShardIDFor(tgtFile)
		if _, ok := required[srcShard]; ok {
			if _, known := m.Shards[tgtShard]; known {
				hop[tgtShard] = struct{}{}
			}
		}
		if _, ok := required[tgtShard]; ok {
			if _, known := m.Shards[srcShard]; known {
				hop[srcShard] = struct{}{}
			}
		}
	}
	for sid := range hop {
		required[sid] = struct{}{}
	}

	out := make([]codemap.ShardID, 0, len(required))
	for sid := range required {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Assemble builds a (possibly partial) CodebaseMap from decoded shard
// blobs. Cross-edges are restored when both endpoint shards are loaded;
// the rest stay in the manifest and are simply absent from the partial
// map, which consumers must tolerate.
func Assemble(m *Manifest, blobs map[codemap.ShardID][]byte) (*codemap.CodebaseMap, error) {
	out := codemap.NewCodebaseMap(m.IndexedAt)
	loaded := make(map[codemap.ShardID]struct{}, len(blobs))

	// Deterministic assembly order.
	ids := make([]codemap.ShardID, 0, len(blobs))
	for sid := range blobs {
		ids = append(ids, sid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var edges []codemap.Edge
	for _, sid := range ids {
		gotID, entries, internal, err := DecodeShard(blobs[sid])
		if err != nil {
			return nil, err
		}
		if gotID != sid {
			return nil, errors.NewStructuralError(
				"shard id mismatch",
				"blob for shard "+string(sid)+" declares shard_id "+string(gotID),
				"reindex with `argus bootstrap` to rebuild the data branch",
				nil,
			)
		}
		for _, e := range entries {
			out.Upsert(e, nil)
		}
		edges = append(edges, internal...)
		loaded[sid] = struct{}{}
	}

	for _, edge := range m.CrossEdges {
		srcFile := edge.SourceFile()
		tgtFile, resolved := edge.TargetFile()
		if srcFile == "" || !resolved {
			continue
		}
		_, srcLoaded := loaded[codemap.ShardIDFor(srcFile)]
		_, tgtLoaded := loaded[codemap.ShardIDFor(tgtFile)]
		if srcLoaded && tgtLoaded {
			edges = append(edges, edge)
		}
	}

	out.ReplaceEdges(edges)
	return out, nil
}
