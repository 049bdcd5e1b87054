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
	"context"
	"os"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/embedding"
	"github.com/kraklabs/argus/pkg/gitsync"
	"github.com/kraklabs/argus/pkg/indexing"
	"github.com/kraklabs/argus/pkg/memory"
	"github.com/kraklabs/argus/pkg/shard"
	"github.com/kraklabs/argus/pkg/store"
)

// Index keeps the data branch current: it pulls only the shards the
// change set touches, rebuilds them incrementally, and pushes the
// difference. AnalyzePatterns gates the optional incremental pattern
// analysis; Memory may be nil when it is off.
type Index struct {
	RepoID          string
	RepoPath        string
	Indexer         *indexing.Service
	Detector        *indexing.GitDeltaDetector
	Syncer          *gitsync.Syncer
	Cache           *store.Store
	Memory          *memory.Service
	Embedder        embedding.Provider
	AnalyzePatterns bool
	Logger          *slog.Logger
}

// IndexResult summarizes one index run.
type IndexResult struct {
	BaseSHA      codemap.CommitSHA
	HeadSHA      codemap.CommitSHA
	AnalyzedAt   codemap.CommitSHA
	FilesChanged int
	ShardsPulled int
	ShardsPushed int
	Patterns     int
	Noop         bool
	Bootstrapped bool
	Duration     time.Duration
}

// Run executes the index pipeline. A repository whose data branch has no
// manifest falls back to a full build; a delta with no changes is a noop.
func (p *Index) Run(ctx context.Context) (*IndexResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	head, err := p.Detector.Head(ctx)
	if err != nil {
		logger.Error("pipeline.index.failed", "stage", "resolve", "error", err)
		return nil, err
	}

	pull, err := p.Syncer.Pull(ctx)
	if err != nil {
		logger.Error("pipeline.index.failed", "stage", "pull", "error", err)
		return nil, err
	}

	if pull.Manifest == nil {
		logger.Warn("pipeline.index.no_manifest", "branch", gitsync.DataBranch)
		boot := &Bootstrap{
			RepoID: p.RepoID, RepoPath: p.RepoPath,
			Indexer: p.Indexer, Syncer: p.Syncer, Cache: p.Cache,
			Memory: p.Memory, Embedder: p.Embedder, Logger: logger,
		}
		if !p.AnalyzePatterns {
			boot.Memory = nil
		}
		res, err := boot.Run(ctx, head)
		if err != nil {
			return nil, err
		}
		return &IndexResult{
			HeadSHA:      head,
			AnalyzedAt:   res.AnalyzedAt,
			FilesChanged: res.Files,
			ShardsPushed: res.Shards,
			Patterns:     res.Patterns,
			Bootstrapped: true,
			Duration:     time.Since(start),
		}, nil
	}

	base := pull.Manifest.IndexedAt
	result := &IndexResult{BaseSHA: base, HeadSHA: head}

	if base == head {
		result.Noop = true
		result.Duration = time.Since(start)
		logger.Info("pipeline.index.complete",
			"indexed_at", shortSHA(head), "noop", true,
			"duration_ms", result.Duration.Milliseconds(),
		)
		return result, nil
	}

	// A shallow or rewritten checkout may not have the base commit; a
	// diff against it would fail, so rebuild from scratch instead.
	if !p.Detector.HasCommit(ctx, base) {
		logger.Warn("pipeline.index.base_missing", "base", shortSHA(base))
		boot := &Bootstrap{
			RepoID: p.RepoID, RepoPath: p.RepoPath,
			Indexer: p.Indexer, Syncer: p.Syncer, Cache: p.Cache,
			Memory: p.Memory, Embedder: p.Embedder, Logger: logger,
		}
		if !p.AnalyzePatterns {
			boot.Memory = nil
		}
		res, err := boot.Run(ctx, head)
		if err != nil {
			return nil, err
		}
		result.AnalyzedAt = res.AnalyzedAt
		result.FilesChanged = res.Files
		result.ShardsPushed = res.Shards
		result.Patterns = res.Patterns
		result.Bootstrapped = true
		result.Duration = time.Since(start)
		return result, nil
	}

	delta, err := p.Detector.Detect(ctx, base, head)
	if err != nil {
		logger.Error("pipeline.index.failed", "stage", "delta", "error", err)
		return nil, err
	}
	result.FilesChanged = len(delta.All())
	if !delta.HasChanges() {
		result.Noop = true
		result.Duration = time.Since(start)
		logger.Info("pipeline.index.complete",
			"indexed_at", shortSHA(head), "noop", true,
			"duration_ms", result.Duration.Milliseconds(),
		)
		return result, nil
	}

	dirty := shard.SelectShards(pull.Manifest, delta.All())
	blobs, err := p.Syncer.LoadShards(ctx, pull.Manifest, dirty)
	if err != nil {
		logger.Error("pipeline.index.failed", "stage", "load", "error", err)
		return nil, err
	}
	result.ShardsPulled = len(blobs)

	prior, err := shard.Assemble(pull.Manifest, blobs)
	if err != nil {
		logger.Error("pipeline.index.failed", "stage", "assemble", "error", err)
		return nil, err
	}

	m, _, err := p.Indexer.IncrementalBuild(ctx, prior, delta)
	if err != nil {
		logger.Error("pipeline.index.failed", "stage", "index", "error", err)
		return nil, err
	}

	mem := p.analyzePatterns(ctx, m, delta, head, logger)

	var vectorBlobs map[string][]byte
	if p.Embedder != nil {
		vectorBlobs = p.refreshEmbeddings(ctx, m, delta, logger)
	}

	// Only the dirty+1hop shards were assembled into m; Split must know
	// that, or every untouched shard would read as deleted and its blob
	// would be pushed as a deletion.
	loaded := make([]codemap.ShardID, 0, len(blobs))
	for sid := range blobs {
		loaded = append(loaded, sid)
	}

	var lastSplit *shard.SplitResult
	err = p.Syncer.Push(ctx, func(priorManifest *shard.Manifest) (*gitsync.PushSet, error) {
		split, err := shard.SplitPartial(m, priorManifest, loaded)
		if err != nil {
			return nil, err
		}
		lastSplit = split

		set := &gitsync.PushSet{
			Files:   make(map[string][]byte, len(split.Blobs)+2),
			Message: "argus: index " + shortSHA(base) + ".." + shortSHA(head),
		}
		manifestData, err := shard.EncodeManifest(split.Manifest)
		if err != nil {
			return nil, err
		}
		set.Files[shard.ManifestFilename] = manifestData
		for sid, data := range split.Blobs {
			set.Files[split.Manifest.Shards[sid].BlobName] = data
		}
		if mem != nil {
			memData, err := memory.Encode(mem)
			if err != nil {
				return nil, err
			}
			set.Files[memory.BlobName(p.RepoID)] = memData
		}
		for name, data := range vectorBlobs {
			set.Files[name] = data
		}
		set.Deletes = append(set.Deletes, split.Orphaned...)
		set.Deletes = append(set.Deletes, shard.LegacyBlobName(p.RepoID))
		return set, nil
	})
	if err != nil {
		logger.Error("pipeline.index.failed", "stage", "push", "error", err)
		return nil, err
	}

	if p.Cache != nil && lastSplit != nil {
		if err := p.Cache.Apply(lastSplit); err != nil {
			logger.Warn("pipeline.index.cache_degraded", "error", err)
		}
	}

	result.ShardsPushed = len(lastSplit.Blobs)
	if mem != nil {
		result.AnalyzedAt = mem.AnalyzedAt
		result.Patterns = len(mem.Patterns)
	}
	result.Duration = time.Since(start)

	logger.Info("pipeline.index.complete",
		"indexed_at", shortSHA(head),
		"analyzed_at", shortSHA(result.AnalyzedAt),
		"files_changed", result.FilesChanged,
		"shards_pulled", result.ShardsPulled,
		"shards_pushed", result.ShardsPushed,
		"patterns", result.Patterns,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// analyzePatterns runs the incremental pattern analysis when enabled.
// Failures degrade: the index push proceeds without a memory update.
func (p *Index) analyzePatterns(ctx context.Context, m *codemap.CodebaseMap, delta *indexing.Delta, head codemap.CommitSHA, logger *slog.Logger) *memory.CodebaseMemory {
	if !p.AnalyzePatterns || p.Memory == nil {
		return nil
	}

	var prior *memory.CodebaseMemory
	data, ok, err := p.Syncer.LoadArtifact(ctx, memory.BlobName(p.RepoID))
	if err != nil {
		logger.Warn("pipeline.index.analysis_degraded", "error", err)
		return nil
	}
	if ok {
		if prior, err = memory.Decode(data); err != nil {
			logger.Warn("pipeline.index.analysis_degraded", "error", err)
			return nil
		}
	}

	diffBase := delta.BaseSHA
	if prior != nil && prior.AnalyzedAt != "" {
		diffBase = prior.AnalyzedAt
	}
	diff, err := p.Detector.DiffText(ctx, diffBase, head)
	if err != nil {
		logger.Warn("pipeline.index.analysis_degraded", "error", err)
		return nil
	}

	mem, err := p.Memory.Incremental(ctx, prior, m, delta.All(), diff, head)
	if err != nil {
		logger.Warn("pipeline.index.analysis_degraded", "error", err)
		return nil
	}
	return mem
}

// refreshEmbeddings recomputes vector blobs for the shards the delta
// touched. Provider failure abandons the refresh.
func (p *Index) refreshEmbeddings(ctx context.Context, m *codemap.CodebaseMap, delta *indexing.Delta, logger *slog.Logger) map[string][]byte {
	dirty := make(map[codemap.ShardID]struct{})
	for _, path := range delta.All() {
		dirty[codemap.ShardIDFor(path)] = struct{}{}
	}

	out := make(map[string][]byte, len(dirty))
	for sid := range dirty {
		contents := make(map[codemap.FilePath]string)
		for _, path := range m.Files() {
			if codemap.ShardIDFor(path) != sid {
				continue
			}
			data, err := os.ReadFile(filepath.Join(p.RepoPath, filepath.FromSlash(path)))
			if err != nil {
				continue
			}
			contents[path] = string(data)
		}
		chunks := chunksFor(m, contents)
		if len(chunks) == 0 {
			continue
		}
		sv, err := embedding.BuildShardVectors(ctx, p.Embedder, sid, chunks)
		if err != nil {
			logger.Warn("pipeline.index.embeddings_degraded", "shard", sid, "error", err)
			return out
		}
		data, err := embedding.Encode(sv)
		if err != nil {
			logger.Warn("pipeline.index.embeddings_degraded", "shard", sid, "error", err)
			return out
		}
		out[embedding.BlobName(sid, p.Embedder.Model())] = data
	}
	return out
}
