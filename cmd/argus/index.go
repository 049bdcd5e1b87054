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

// runIndex executes the 'index' CLI command: pull the manifest and dirty
// shards, rebuild them from the delta since the last indexed commit, and
// push the difference. Falls back to a full bootstrap when the data
// branch has no manifest yet.
func runIndex(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	workers := fs.Int("workers", 0, "Parallel parse workers (0 = NumCPU)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: argus index [options]

Description:
  Incrementally update the codebase index for commits made since the
  last run. Only the shards the change set touches are pulled, rebuilt,
  and pushed; untouched shard blobs are reused byte-for-byte.

  When analyze_patterns is enabled, the run also updates the pattern
  memory from the diff since the last analysis. A repository without a
  manifest on the data branch falls back to a full bootstrap.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Incremental update after new commits
  argus index

  # Enable debug logging and expose metrics
  argus index --debug --metrics-addr :9090

Notes:
  Requires GITHUB_TOKEN and GITHUB_REPOSITORY. A run that finds no
  changes exits successfully without pushing.

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

	idx := &pipeline.Index{
		RepoID:          secrets.Repository,
		RepoPath:        cwd,
		Indexer:         indexer,
		Detector:        indexing.NewGitDeltaDetector(cwd, logger),
		Syncer:          syncer,
		Cache:           cache,
		Memory:          memService,
		Embedder:        embedder,
		AnalyzePatterns: cfg.Index.AnalyzePatterns,
		Logger:          logger,
	}

	result, err := idx.Run(ctx)
	finish()
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	metricFilesIndexed.Add(float64(result.FilesChanged))
	metricShardsPushed.Add(float64(result.ShardsPushed))
	metricPatternsDetected.Add(float64(result.Patterns))

	fmt.Println()
	if result.Noop {
		ui.Header("Index Up to Date")
		fmt.Printf("%s %s\n", ui.Label("Repository:"), secrets.Repository)
		fmt.Printf("Indexed At: %s\n", ui.DimText(string(result.HeadSHA)))
		ui.Success("Everything is already indexed. No changes detected.")
		return
	}

	if result.Bootstrapped {
		ui.Header("Index Bootstrapped")
		ui.Info("No manifest found on the data branch; ran a full bootstrap instead.")
	} else {
		ui.Header("Index Updated")
	}
	fmt.Printf("%s %s\n", ui.Label("Repository:"), secrets.Repository)
	fmt.Printf("Indexed At: %s\n", ui.DimText(string(result.HeadSHA)))
	fmt.Printf("Files Changed: %s\n", ui.CountText(result.FilesChanged))
	fmt.Printf("Shards Pulled: %s\n", ui.CountText(result.ShardsPulled))
	fmt.Printf("Shards Pushed: %s\n", ui.CountText(result.ShardsPushed))
	if result.Patterns > 0 {
		fmt.Printf("Patterns: %s\n", ui.CountText(result.Patterns))
	}
	fmt.Printf("Duration: %s\n", ui.DimText(result.Duration.String()))
}
