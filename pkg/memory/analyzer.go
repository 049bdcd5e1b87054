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

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"log/slog"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/llm"
)

const analysisSchema = `Respond with JSON only:
{"patterns": [{"category": "style|naming|architecture|testing|error_handling|concurrency",
               "description": "<one sentence>",
               "confidence": 0.0-1.0,
               "examples": ["path:start-end"]}]}`

const fullAnalysisPrompt = `Study this codebase outline and extract the conventions its authors follow:
coding style, naming, architecture, testing habits, error handling, concurrency patterns.
Report only conventions with clear evidence across multiple files.

%s

Codebase outline:
%s`

const incrementalAnalysisPrompt = `This codebase has known conventions. A change just landed.
Report NEW conventions the change introduces or existing ones it strengthens or weakens.
Do not repeat known patterns unchanged.

%s

Known patterns:
%s

Outline of the changed area:
%s

Diff:
%s`

// Analyzer extracts pattern entries from a codebase via the LLM.
type Analyzer struct {
	client llm.Client
	logger *slog.Logger
}

// NewAnalyzer wires the pattern analyzer.
func NewAnalyzer(client llm.Client, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{client: client, logger: logger}
}

type analysisResponse struct {
	Patterns []PatternEntry `json:"patterns"`
}

// Full analyzes the whole outline, for bootstrap runs.
func (a *Analyzer) Full(ctx context.Context, outline Outline) ([]PatternEntry, error) {
	prompt := fmt.Sprintf(fullAnalysisPrompt, analysisSchema, outline.Text())
	return a.analyze(ctx, prompt, "full")
}

// Incremental analyzes a change against known patterns, for index runs.
// The scoped outline feeds only this call; the stored outline is not
// replaced by it.
func (a *Analyzer) Incremental(ctx context.Context, known []PatternEntry, scoped Outline, diff string) ([]PatternEntry, error) {
	knownJSON, err := json.Marshal(known)
	if err != nil {
		return nil, errors.NewInternalError("pattern encode failed", "", "", err)
	}
	prompt := fmt.Sprintf(incrementalAnalysisPrompt, analysisSchema, string(knownJSON), scoped.Text(), diff)
	return a.analyze(ctx, prompt, "incremental")
}

func (a *Analyzer) analyze(ctx context.Context, prompt, mode string) ([]PatternEntry, error) {
	raw, err := a.client.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var resp analysisResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.NewProviderError(
			"pattern analysis unparseable",
			"the analyzer response did not match the expected schema", "", err,
		).WithStage("memory.analyze", mode)
	}

	valid := resp.Patterns[:0]
	for _, p := range resp.Patterns {
		if knownCategory(p.Category) && p.Description != "" {
			valid = append(valid, p)
		}
	}
	a.logger.Info("memory.analyze.complete", "mode", mode, "patterns", len(valid))
	return valid, nil
}

func knownCategory(c string) bool {
	switch c {
	case CategoryStyle, CategoryNaming, CategoryArchitecture,
		CategoryTesting, CategoryErrorHandling, CategoryConcurrency:
		return true
	}
	return false
}

// =============================================================================
// SERVICE
// =============================================================================

// Service coordinates outline rendering, analysis, and the watermark.
type Service struct {
	analyzer *Analyzer
	logger   *slog.Logger
}

// NewService wires the memory service.
func NewService(analyzer *Analyzer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{analyzer: analyzer, logger: logger}
}

// Bootstrap builds memory from scratch: full outline, full analysis,
// analyzed_at = head. The watermark advances only because analysis
// succeeded; any error leaves the caller's memory untouched.
func (s *Service) Bootstrap(ctx context.Context, m *codemap.CodebaseMap, head codemap.CommitSHA) (*CodebaseMemory, error) {
	outline := RenderFull(m, CharBudgetFor(DefaultOutlineTokens))
	patterns, err := s.analyzer.Full(ctx, outline)
	if err != nil {
		return nil, err
	}
	return &CodebaseMemory{
		AnalyzedAt: head,
		Outline:    outline,
		Patterns:   Prune(patterns),
	}, nil
}

// Incremental merges analysis of one change into existing memory. The
// stored outline carries over unchanged; only patterns and the watermark
// move.
func (s *Service) Incremental(ctx context.Context, mem *CodebaseMemory, m *codemap.CodebaseMap, changed []codemap.FilePath, diff string, head codemap.CommitSHA) (*CodebaseMemory, error) {
	if mem == nil {
		mem = &CodebaseMemory{}
	}
	scoped := RenderScoped(m, changed, CharBudgetFor(DefaultOutlineTokens))
	candidates, err := s.analyzer.Incremental(ctx, mem.Patterns, scoped, diff)
	if err != nil {
		return nil, err
	}
	return &CodebaseMemory{
		AnalyzedAt: head,
		Outline:    mem.Outline,
		Patterns:   Merge(mem.Patterns, candidates),
	}, nil
}

// PatternsText renders the stored patterns for the review prompt.
func PatternsText(patterns []PatternEntry) string {
	var b strings.Builder
	for _, p := range patterns {
		fmt.Fprintf(&b, "- [%s] %s (confidence %.2f)", p.Category, p.Description, p.Confidence)
		if len(p.Examples) > 0 {
			fmt.Fprintf(&b, " e.g. %s", strings.Join(p.Examples, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
