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
	"sort"
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

// Bootstrap builds the first full index of a repository and pushes every
// artifact to the data branch. Memory and Embedder are optional; nil
// skips pattern analysis and embedding persistence respectively.
type Bootstrap struct {
	RepoID   string
	RepoPath string
	Indexer  *indexing.Service
	Syncer   *gitsync.Syncer
	Cache    *store.Store
	Memory   *memory.Service
	Embedder embedding.Provider
	Logger   *slog.Logger
}

// BootstrapResult summarizes one bootstrap run.
type BootstrapResult struct {
	HeadSHA        codemap.CommitSHA
	AnalyzedAt     codemap.CommitSHA
	Files          int
	Shards         int
	Patterns       int
	EmbeddedShards int
	Duration       time.Duration
}

// Run executes the bootstrap pipeline: full build, full pattern analysis,
// embeddings, push. Analysis and embedding failures degrade the run;
// build and push failures abort it.
func (p *Bootstrap) Run(ctx context.Context, head codemap.CommitSHA) (*BootstrapResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	m, stats, err := p.Indexer.FullBuild(ctx, head)
	if err != nil {
		logger.Error("pipeline.bootstrap.failed", "stage", "index", "error", err)
		return nil, err
	}

	var mem *memory.CodebaseMemory
	if p.Memory != nil {
		mem, err = p.Memory.Bootstrap(ctx, m, head)
		if err != nil {
			logger.Warn("pipeline.bootstrap.analysis_degraded", "error", err)
			mem = nil
		}
	}

	var vectorBlobs map[string][]byte
	if p.Embedder != nil {
		vectorBlobs = p.buildEmbeddings(ctx, m, logger)
	}

	if _, err := p.Syncer.Pull(ctx); err != nil {
		logger.Error("pipeline.bootstrap.failed", "stage", "pull", "error", err)
		return nil, err
	}

	var lastSplit *shard.SplitResult
	err = p.Syncer.Push(ctx, func(prior *shard.Manifest) (*gitsync.PushSet, error) {
		split, err := shard.Split(m, prior)
		if err != nil {
			return nil, err
		}
		lastSplit = split

		set := &gitsync.PushSet{
			Files:   make(map[string][]byte, len(split.Blobs)+3),
			Message: "argus: bootstrap index at " + shortSHA(head),
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
		logger.Error("pipeline.bootstrap.failed", "stage", "push", "error", err)
		return nil, err
	}

	if p.Cache != nil && lastSplit != nil {
		if err := p.cacheArtifacts(lastSplit, mem); err != nil {
			logger.Warn("pipeline.bootstrap.cache_degraded", "error", err)
		}
	}

	result := &BootstrapResult{
		HeadSHA:        head,
		Files:          stats.FilesParsed,
		Shards:         len(lastSplit.Manifest.Shards),
		EmbeddedShards: len(vectorBlobs),
		Duration:       time.Since(start),
	}
	if mem != nil {
		result.AnalyzedAt = mem.AnalyzedAt
		result.Patterns = len(mem.Patterns)
	}

	logger.Info("pipeline.bootstrap.complete",
		"indexed_at", shortSHA(head),
		"analyzed_at", shortSHA(result.AnalyzedAt),
		"files", result.Files,
		"shards_pushed", result.Shards,
		"patterns", result.Patterns,
		"embedded_shards", result.EmbeddedShards,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// buildEmbeddings computes one vector blob per shard. Provider failure
// abandons the remaining shards; the review path degrades to lexical
// retrieval for shards without vectors.
func (p *Bootstrap) buildEmbeddings(ctx context.Context, m *codemap.CodebaseMap, logger *slog.Logger) map[string][]byte {
	byShard := make(map[codemap.ShardID][]codemap.FilePath)
	for _, path := range m.Files() {
		sid := codemap.ShardIDFor(path)
		byShard[sid] = append(byShard[sid], path)
	}
	sids := make([]codemap.ShardID, 0, len(byShard))
	for sid := range byShard {
		sids = append(sids, sid)
	}
	sort.Strings(sids)

	out := make(map[string][]byte, len(sids))
	for _, sid := range sids {
		contents := make(map[codemap.FilePath]string, len(byShard[sid]))
		for _, path := range byShard[sid] {
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
			logger.Warn("pipeline.bootstrap.embeddings_degraded", "shard", sid, "error", err)
			return out
		}
		data, err := embedding.Encode(sv)
		if err != nil {
			logger.Warn("pipeline.bootstrap.embeddings_degraded", "shard", sid, "error", err)
			return out
		}
		out[embedding.BlobName(sid, p.Embedder.Model())] = data
	}
	return out
}

func (p *Bootstrap) cacheArtifacts(split *shard.SplitResult, mem *memory.CodebaseMemory) error {
	if err := p.Cache.Apply(split); err != nil {
		return err
	}
	if err := p.Cache.RemoveLegacy(p.RepoID); err != nil {
		return err
	}
	if mem == nil {
		return nil
	}
	data, err := memory.Encode(mem)
	if err != nil {
		return err
	}
	name := memory.BlobName(p.RepoID)
	release, err := p.Cache.Lock(name)
	if err != nil {
		return err
	}
	defer release()
	return p.Cache.WriteBlob(name, data)
}

func shortSHA(sha codemap.CommitSHA) string {
	if len(sha) > 8 {
		return string(sha[:8])
	}
	return string(sha)
}
