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

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/internal/ui"
	"github.com/kraklabs/argus/pkg/indexing"
	"github.com/kraklabs/argus/pkg/memory"
	"github.com/kraklabs/argus/pkg/parser"
	"github.com/kraklabs/argus/pkg/pipeline"
	"github.com/kraklabs/argus/pkg/store"
)

// runBootstrap executes the 'bootstrap' CLI command: a full index of the
// repository pushed to the data branch, replacing whatever was there.
func runBootstrap(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("bootstrap", flag.ExitOnError)
	workers := fs.Int("workers", 0, "Parallel parse workers (0 = NumCPU)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: argus bootstrap [options]

Description:
  Build the first full index of the repository and push every artifact
  to the orphan data branch. Run this once per repository; afterwards
  'argus index' keeps the index current incrementally.

  When analyze_patterns is enabled and GOOGLE_API_KEY is set, the
  bootstrap also runs a full pattern analysis. With an embedding_model
  configured, per-shard embedding vectors are built and pushed too.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Full index and push
  argus bootstrap

  # Use 16 parse workers and expose metrics
  argus bootstrap --workers 16 --metrics-addr :9090

Notes:
  Requires GITHUB_TOKEN and GITHUB_REPOSITORY. Analysis and embeddings
  degrade gracefully when their providers fail; indexing does not.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}
	secrets := LoadSecrets()

	logger := setupLogger(*debug, globals)
	startMetricsServer(*metricsAddr, logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot access current directory",
			"Failed to determine working directory",
			"This is unexpected. Please report this issue",
			err,
		), globals.Verbose > 0)
	}

	_, syncer, err := buildGitHub(secrets, logger)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	tsParser := parser.NewTreeSitterParser(logger, cfg.ExtraExtensions)
	filter := indexing.NewFileFilter(cfg.IgnoredPaths)
	indexer := indexing.NewService(cwd, tsParser, filter, *workers, logger)
	finish := attachProgress(indexer, NewProgressConfig(globals))

	cache, err := store.Open(cfg.StorageDir, logger)
	if err != nil {
		logger.Warn("cache.open_failed", "dir", cfg.StorageDir, "error", err)
		cache = nil
	}

	var memService *memory.Service
	if cfg.Index.AnalyzePatterns {
		llmClient, err := buildLLM(ctx, cfg, secrets, false, logger)
		if err != nil {
			errors.FatalError(err, globals.Verbose > 0)
		}
		if llmClient != nil {
			memService = memory.NewService(memory.NewAnalyzer(llmClient, logger), logger)
		}
	}

	embedder, err := buildEmbedder(ctx, cfg, secrets, logger)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	detector := indexing.NewGitDeltaDetector(cwd, logger)
	head, err := detector.Head(ctx)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	boot := &pipeline.Bootstrap{
		RepoID:   secrets.Repository,
		RepoPath: cwd,
		Indexer:  indexer,
		Syncer:   syncer,
		Cache:    cache,
		Memory:   memService,
		Embedder: embedder,
		Logger:   logger,
	}

	result, err := boot.Run(ctx, head)
	finish()
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	metricFilesIndexed.Add(float64(result.Files))
	metricShardsPushed.Add(float64(result.Shards))
	metricPatternsDetected.Add(float64(result.Patterns))

	fmt.Println()
	ui.Header("Bootstrap Complete")
	fmt.Printf("%s %s\n", ui.Label("Repository:"), secrets.Repository)
	fmt.Printf("Indexed At: %s\n", ui.DimText(string(result.HeadSHA)))
	fmt.Printf("Files Indexed: %s\n", ui.CountText(result.Files))
	fmt.Printf("Shards Pushed: %s\n", ui.CountText(result.Shards))
	if result.Patterns > 0 {
		fmt.Printf("Patterns Detected: %s\n", ui.CountText(result.Patterns))
	}
	if result.EmbeddedShards > 0 {
		fmt.Printf("Embedded Shards: %s\n", ui.CountText(result.EmbeddedShards))
	}
	fmt.Printf("Duration: %s\n", ui.DimText(result.Duration.String()))
}
