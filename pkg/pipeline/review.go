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
	"strings"
	"time"

	"log/slog"

	"github.com/google/go-github/v27/github"

	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/embedding"
	"github.com/kraklabs/argus/pkg/gitsync"
	"github.com/kraklabs/argus/pkg/llm"
	"github.com/kraklabs/argus/pkg/memory"
	"github.com/kraklabs/argus/pkg/parser"
	"github.com/kraklabs/argus/pkg/retrieval"
	"github.com/kraklabs/argus/pkg/review"
	"github.com/kraklabs/argus/pkg/shard"
)

// Review depths.
const (
	DepthQuick    = "quick"
	DepthStandard = "standard"
	DepthDeep     = "deep"
)

// Review runs the full PR review: selective pull, incremental upsert of
// the changed files, hybrid retrieval, prompt assembly, generation,
// filtering, publication. Nothing is pushed to the data branch.
type Review struct {
	RepoID   string
	Client   *gitsync.Client
	Syncer   *gitsync.Syncer
	Parser   *parser.TreeSitterParser
	LLM      llm.Client
	Embedder embedding.Provider

	Budget              Budget
	Depth               string
	EnableAgentic       bool
	EnablePRContext     bool
	SearchRelated       bool
	ConfidenceThreshold float64
	IgnoredPaths        []string

	Logger *slog.Logger
}

// ReviewResult summarizes one review run.
type ReviewResult struct {
	PRNumber     int
	HeadSHA      codemap.CommitSHA
	ShardsPulled int
	ContextItems int
	TokensUsed   codemap.TokenCount
	PerStrategy  map[string]int
	Comments     int
	Duration     time.Duration
}

// Run reviews one pull request. Any error aborts before publication: a
// partial review is never posted.
func (p *Review) Run(ctx context.Context, prNumber int) (*ReviewResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	fail := func(stage string, err error) (*ReviewResult, error) {
		logger.Error("pipeline.review.failed", "pr", prNumber, "stage", stage, "error", err)
		return nil, err
	}

	pr, err := p.Client.GetPullRequest(ctx, prNumber)
	if err != nil {
		return fail("pr", err)
	}
	head := codemap.CommitSHA(pr.GetHead().GetSHA())

	diff, err := p.Client.GetPullRequestDiff(ctx, prNumber)
	if err != nil {
		return fail("diff", err)
	}
	files, err := p.Client.ListPullRequestFiles(ctx, prNumber)
	if err != nil {
		return fail("files", err)
	}
	changed, removed := splitChangedFiles(files)

	pull, err := p.Syncer.Pull(ctx)
	if err != nil {
		return fail("pull", err)
	}

	m, pulled, err := p.loadPartialMap(ctx, pull, changed, head)
	if err != nil {
		return fail("load", err)
	}

	contents := p.upsertChanged(ctx, m, changed, removed, head, logger)
	chunks := chunksFor(m, contents)

	query := buildQuery(m, changed, diff, strings.TrimSpace(pr.GetTitle()+"\n"+pr.GetBody()))

	strategies, err := p.buildStrategies(ctx, pull, m, chunks, head, logger)
	if err != nil {
		return fail("strategies", err)
	}

	orch := retrieval.NewOrchestrator(p.Budget.Retrieval, logger, strategies...)
	retrieved, err := orch.Run(ctx, query)
	if err != nil {
		return fail("retrieve", err)
	}

	outlineText, patternsText := p.memorySections(ctx, m, changed, logger)

	var prContext string
	if p.EnablePRContext {
		prContext = review.NewCollector(p.Client, p.SearchRelated, logger).Collect(ctx, pr).Render()
	}

	prompt, err := review.Assemble(&review.PromptInput{
		Diff:      diff,
		PRContext: prContext,
		Retrieved: retrieved.Items,
		Outline:   outlineText,
		Patterns:  patternsText,
	}, p.Budget.Total, logger)
	if err != nil {
		return fail("prompt", err)
	}

	out, err := review.NewGenerator(p.LLM, logger).Generate(ctx, prompt)
	if err != nil {
		return fail("generate", err)
	}
	filtered := review.NewNoiseFilter(p.ConfidenceThreshold, p.IgnoredPaths, logger).Apply(out)

	if err := review.NewPublisher(p.Client, logger).Publish(ctx, prNumber, string(head), filtered); err != nil {
		return fail("publish", err)
	}

	result := &ReviewResult{
		PRNumber:     prNumber,
		HeadSHA:      head,
		ShardsPulled: pulled,
		ContextItems: len(retrieved.Items),
		TokensUsed:   retrieved.TokensUsed,
		PerStrategy:  retrieved.PerStrategy,
		Comments:     len(filtered.Comments),
		Duration:     time.Since(start),
	}
	logger.Info("pipeline.review.complete",
		"pr", prNumber,
		"head", shortSHA(head),
		"shards_pulled", result.ShardsPulled,
		"context_items", result.ContextItems,
		"tokens_used", int(result.TokensUsed),
		"comments", result.Comments,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// splitChangedFiles separates a PR's file list into present paths and
// removed paths. A rename contributes its new path as changed and its old
// path as removed.
func splitChangedFiles(files []*github.CommitFile) (changed, removed []codemap.FilePath) {
	for _, f := range files {
		switch f.GetStatus() {
		case "removed":
			removed = append(removed, codemap.FilePath(f.GetFilename()))
		case "renamed":
			changed = append(changed, codemap.FilePath(f.GetFilename()))
			if prev := f.GetPreviousFilename(); prev != "" {
				removed = append(removed, codemap.FilePath(prev))
			}
		default:
			changed = append(changed, codemap.FilePath(f.GetFilename()))
		}
	}
	return changed, removed
}

// loadPartialMap assembles the shards the change set touches, one hop of
// cross-edges included. Without a manifest the review runs against an
// empty map seeded only with the PR's own files.
func (p *Review) loadPartialMap(ctx context.Context, pull *gitsync.PullResult, changed []codemap.FilePath, head codemap.CommitSHA) (*codemap.CodebaseMap, int, error) {
	if pull.Manifest == nil {
		return codemap.NewCodebaseMap(head), 0, nil
	}
	ids := shard.SelectShards(pull.Manifest, changed)
	blobs, err := p.Syncer.LoadShards(ctx, pull.Manifest, ids)
	if err != nil {
		return nil, 0, err
	}
	m, err := shard.Assemble(pull.Manifest, blobs)
	if err != nil {
		return nil, 0, err
	}
	return m, len(blobs), nil
}

// upsertChanged fetches and parses the PR's files at head so the map
// reflects the code under review, not the last indexed commit. Files that
// fail to fetch or parse keep their indexed entry.
func (p *Review) upsertChanged(ctx context.Context, m *codemap.CodebaseMap, changed, removed []codemap.FilePath, head codemap.CommitSHA, logger *slog.Logger) map[codemap.FilePath]string {
	for _, path := range removed {
		m.Remove(path)
	}

	contents := make(map[codemap.FilePath]string, len(changed))
	for _, path := range changed {
		if !p.Parser.Supports(path) {
			continue
		}
		content, ok, err := p.Client.GetFileContent(ctx, path, head)
		if err != nil || !ok {
			if err != nil {
				logger.Warn("pipeline.review.fetch_skipped", "path", path, "error", err)
			}
			continue
		}
		contents[path] = content

		entry, edges, err := p.Parser.Parse(ctx, path, []byte(content))
		if err != nil {
			logger.Warn("pipeline.review.parse_skipped", "path", path, "error", err)
			continue
		}
		m.Upsert(entry, edges)
	}
	return contents
}

// buildStrategies assembles the strategy list in fixed order: structural,
// lexical, then the gated semantic and agentic strategies.
func (p *Review) buildStrategies(ctx context.Context, pull *gitsync.PullResult, m *codemap.CodebaseMap, chunks []parser.CodeChunk, head codemap.CommitSHA, logger *slog.Logger) ([]retrieval.Strategy, error) {
	strategies := []retrieval.Strategy{
		retrieval.NewStructural(m),
		retrieval.NewLexical(chunks),
	}

	if p.Embedder != nil {
		index, err := p.loadVectorIndex(ctx, pull, m)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, retrieval.NewSemantic(p.Embedder, index, chunks, logger))
	}

	if p.EnableAgentic {
		readFile := func(path codemap.FilePath) (string, error) {
			content, ok, err := p.Client.GetFileContent(ctx, path, head)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", nil
			}
			return content, nil
		}
		strategies = append(strategies, retrieval.NewAgentic(p.LLM, m, chunks, readFile, logger))
	}
	return strategies, nil
}

// loadVectorIndex pulls the embeddings blobs for every loaded shard.
// Blobs stamped with a different model are skipped; the index may be
// empty, which the semantic strategy treats as no-op.
func (p *Review) loadVectorIndex(ctx context.Context, pull *gitsync.PullResult, m *codemap.CodebaseMap) (*embedding.Index, error) {
	model := p.Embedder.Model()
	seen := make(map[codemap.ShardID]struct{})
	var shards []*embedding.ShardVectors

	for _, path := range m.Files() {
		sid := codemap.ShardIDFor(path)
		if _, ok := seen[sid]; ok {
			continue
		}
		seen[sid] = struct{}{}

		data, ok, err := p.Syncer.LoadArtifact(ctx, embedding.BlobName(sid, model))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		sv, ok, err := embedding.Decode(data, model)
		if err != nil || !ok {
			continue
		}
		shards = append(shards, sv)
	}
	return embedding.NewIndex(shards), nil
}

// memorySections renders the outline and patterns sections the review
// depth asks for. Failures degrade to empty sections.
func (p *Review) memorySections(ctx context.Context, m *codemap.CodebaseMap, changed []codemap.FilePath, logger *slog.Logger) (outlineText, patternsText string) {
	if p.Depth == DepthQuick {
		return "", ""
	}

	outlineText = memory.RenderScoped(m, changed, memory.CharBudgetFor(memory.DefaultOutlineTokens)).Text()

	if p.Depth != DepthDeep {
		return outlineText, ""
	}
	data, ok, err := p.Syncer.LoadArtifact(ctx, memory.BlobName(p.RepoID))
	if err != nil {
		logger.Warn("pipeline.review.memory_degraded", "error", err)
		return outlineText, ""
	}
	if !ok {
		return outlineText, ""
	}
	mem, err := memory.Decode(data)
	if err != nil {
		logger.Warn("pipeline.review.memory_degraded", "error", err)
		return outlineText, ""
	}
	return outlineText, memory.PatternsText(mem.Patterns)
}
