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

package indexing

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/parser"
)

// =============================================================================
// SERVICE
// =============================================================================

// ProgressCallback reports build progress. phase is "parsing" for now;
// current and total count files.
type ProgressCallback func(current, total int64, phase string)

// Service builds and updates codebase maps from a local checkout.
type Service struct {
	repoPath   string
	parser     *parser.TreeSitterParser
	filter     *FileFilter
	workers    int
	logger     *slog.Logger
	onProgress ProgressCallback
}

// NewService wires a build service. workers <= 0 selects NumCPU.
func NewService(repoPath string, p *parser.TreeSitterParser, filter *FileFilter, workers int, logger *slog.Logger) *Service {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repoPath: repoPath,
		parser:   p,
		filter:   filter,
		workers:  workers,
		logger:   logger,
	}
}

// SetProgressCallback installs an optional progress reporter. Must be
// set before a build starts.
func (s *Service) SetProgressCallback(cb ProgressCallback) {
	s.onProgress = cb
}

// BuildStats summarizes one build run.
type BuildStats struct {
	// FilesScanned counts eligible files discovered by the walk.
	FilesScanned int
	// FilesParsed counts files that produced an entry.
	FilesParsed int
	// FilesSkipped counts files dropped by read or parse failures.
	FilesSkipped int
	// FilesCapped counts files past the per-run limit, left unindexed.
	FilesCapped int
	// Symbols and Edges are totals across the produced map.
	Symbols int
	Edges   int
	// Duration is wall time for the whole build.
	Duration time.Duration
}

// parseOutcome carries one worker's result back to the collector.
type parseOutcome struct {
	// path is the repo-relative file that was parsed.
	path codemap.FilePath
	// entry is nil when the file was skipped.
	entry *codemap.FileEntry
	// edges are the entry's outgoing edges, targets still unresolved.
	edges []codemap.Edge
}

// =============================================================================
// FULL BUILD
// =============================================================================

// FullBuild walks the checkout, parses every eligible file, and resolves
// edges into a complete map stamped at headSHA. The walk is lexically
// ordered so the per-run file cap cuts deterministically.
func (s *Service) FullBuild(ctx context.Context, headSHA codemap.CommitSHA) (*codemap.CodebaseMap, *BuildStats, error) {
	start := time.Now()
	stats := &BuildStats{}

	paths, capped, err := s.discover()
	if err != nil {
		return nil, nil, err
	}
	stats.FilesScanned = len(paths)
	stats.FilesCapped = capped
	if capped > 0 {
		s.logger.Warn("index.walk.capped",
			"limit", MaxFilesPerRun,
			"dropped", capped,
		)
	}

	m := codemap.NewCodebaseMap(headSHA)
	if err := s.parseInto(ctx, m, paths, headSHA, stats); err != nil {
		return nil, nil, err
	}

	NewResolver(m).Resolve()
	s.finishStats(m, stats, start)

	s.logger.Info("index.full.complete",
		"head", shortSHA(headSHA),
		"files", stats.FilesParsed,
		"symbols", stats.Symbols,
		"edges", stats.Edges,
		"duration", stats.Duration.Round(time.Millisecond),
	)
	return m, stats, nil
}

// =============================================================================
// INCREMENTAL BUILD
// =============================================================================

// IncrementalBuild applies a delta to a prior map: removals first, then
// reparse of changed files, then a full edge re-resolution (a changed
// file can newly satisfy a previously unresolved target). The map is
// restamped at the delta's head commit. Renamed files keep nothing from
// their old path.
func (s *Service) IncrementalBuild(ctx context.Context, prior *codemap.CodebaseMap, delta *Delta) (*codemap.CodebaseMap, *BuildStats, error) {
	start := time.Now()
	stats := &BuildStats{}

	m := prior.Clone(delta.HeadSHA)
	for _, p := range delta.Removals() {
		m.Remove(p)
	}

	reparse := make([]codemap.FilePath, 0, len(delta.Reparse()))
	for _, p := range delta.Reparse() {
		if s.filter.Excluded(p) || !s.parser.Supports(p) {
			m.Remove(p) // a rename into excluded territory drops the entry
			continue
		}
		if !s.filter.Eligible(s.repoPath, p) {
			m.Remove(p)
			continue
		}
		reparse = append(reparse, p)
	}
	stats.FilesScanned = len(reparse)

	if err := s.parseInto(ctx, m, reparse, delta.HeadSHA, stats); err != nil {
		return nil, nil, err
	}

	NewResolver(m).Resolve()
	s.finishStats(m, stats, start)

	s.logger.Info("index.incremental.complete",
		"base", shortSHA(delta.BaseSHA),
		"head", shortSHA(delta.HeadSHA),
		"reparsed", stats.FilesParsed,
		"removed", len(delta.Removals()),
		"duration", stats.Duration.Round(time.Millisecond),
	)
	return m, stats, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// discover walks the checkout and returns the sorted eligible paths,
// truncated at MaxFilesPerRun; the second value counts what the cap cut.
func (s *Service) discover() ([]codemap.FilePath, int, error) {
	var paths []codemap.FilePath
	err := filepath.WalkDir(s.repoPath, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.repoPath, full)
		if relErr != nil {
			return relErr
		}
		p := codemap.FilePath(filepath.ToSlash(rel))
		if d.IsDir() {
			if p != "." && s.filter.Excluded(p+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.filter.Excluded(p) || !s.parser.Supports(p) {
			return nil
		}
		if !s.filter.Eligible(s.repoPath, p) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, 0, errors.NewInputError(
			"cannot walk repository",
			err.Error(),
			"check that the repository path exists and is readable",
			err,
		).WithStage("index.walk", s.repoPath)
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	capped := 0
	if len(paths) > MaxFilesPerRun {
		capped = len(paths) - MaxFilesPerRun
		paths = paths[:MaxFilesPerRun]
	}
	return paths, capped, nil
}

// parseInto parses paths in parallel and folds the entries into m.
// Unreadable or unparsable files are skipped with a warning; they never
// fail the build.
func (s *Service) parseInto(ctx context.Context, m *codemap.CodebaseMap, paths []codemap.FilePath, at codemap.CommitSHA, stats *BuildStats) error {
	if len(paths) == 0 {
		return nil
	}

	var mu sync.Mutex
	outcomes := make([]parseOutcome, 0, len(paths))
	total := int64(len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome := s.parseOne(gctx, p, at)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			done := int64(len(outcomes))
			mu.Unlock()
			if s.onProgress != nil {
				s.onProgress(done, total, "parsing")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.NewInternalError(
			"indexing interrupted", "", "", err,
		).WithStage("index.parse", "")
	}

	// Deterministic fold order regardless of worker scheduling.
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].path < outcomes[j].path })
	for _, o := range outcomes {
		if o.entry == nil {
			stats.FilesSkipped++
			continue
		}
		m.Upsert(o.entry, o.edges)
		stats.FilesParsed++
	}
	return nil
}

// parseOne reads and parses a single file. Failures downgrade to a skip.
func (s *Service) parseOne(ctx context.Context, p codemap.FilePath, at codemap.CommitSHA) parseOutcome {
	full := filepath.Join(s.repoPath, filepath.FromSlash(string(p)))
	content, err := os.ReadFile(full)
	if err != nil {
		s.logger.Warn("index.parse.unreadable", "path", string(p), "error", err)
		return parseOutcome{path: p}
	}

	entry, edges, err := s.parser.Parse(ctx, p, content)
	if err != nil {
		s.logger.Warn("index.parse.failed", "path", string(p), "error", err)
		return parseOutcome{path: p}
	}
	entry.LastIndexed = at
	return parseOutcome{path: p, entry: entry, edges: edges}
}

func (s *Service) finishStats(m *codemap.CodebaseMap, stats *BuildStats, start time.Time) {
	for _, p := range m.Files() {
		stats.Symbols += len(m.Get(p).Symbols)
	}
	stats.Edges = len(m.Edges())
	stats.Duration = time.Since(start)
}
