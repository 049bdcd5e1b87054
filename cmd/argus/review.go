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
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/internal/ui"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/parser"
	"github.com/kraklabs/argus/pkg/pipeline"
)

// runReview executes the 'review' CLI command: review one pull request
// and publish the surviving comments. The PR number comes from --pr or,
// in CI, from the Actions event payload at GITHUB_EVENT_PATH.
func runReview(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("review", flag.ExitOnError)
	prNumber := fs.Int("pr", 0, "Pull request number (default: read from GITHUB_EVENT_PATH)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: argus review [options]

Description:
  Review a pull request: pull the shards its change set touches, refresh
  them with the PR's own file contents, retrieve relevant context within
  the token budget, and publish filtered review comments back to the PR.

  The review never writes to the data branch. Any failure aborts before
  publication; a partial review is never posted.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Review a specific pull request
  argus review --pr 42

  # Inside GitHub Actions, the PR number comes from the event payload
  argus review

Notes:
  Requires GITHUB_TOKEN, GITHUB_REPOSITORY and GOOGLE_API_KEY. The
  review depth, confidence threshold and ignored paths come from
  .argus.yaml.

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

	number := *prNumber
	if number == 0 {
		number, err = prNumberFromEvent(secrets.EventPath)
		if err != nil {
			errors.FatalError(err, globals.Verbose > 0)
		}
	}

	client, syncer, err := buildGitHub(secrets, logger)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	llmClient, err := buildLLM(ctx, cfg, secrets, true, logger)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}
	embedder, err := buildEmbedder(ctx, cfg, secrets, logger)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	rev := &pipeline.Review{
		RepoID:   secrets.Repository,
		Client:   client,
		Syncer:   syncer,
		Parser:   parser.NewTreeSitterParser(logger, cfg.ExtraExtensions),
		LLM:      llmClient,
		Embedder: embedder,

		Budget:              pipeline.NewBudget(codemap.TokenCount(cfg.MaxTokens)),
		Depth:               cfg.ReviewDepth,
		EnableAgentic:       cfg.EnableAgentic,
		EnablePRContext:     cfg.EnablePRContext,
		SearchRelated:       cfg.SearchRelatedIssues,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		IgnoredPaths:        cfg.IgnoredPaths,

		Logger: logger,
	}

	result, err := rev.Run(ctx, number)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	metricReviewComments.Add(float64(result.Comments))
	metricRetrievalTokens.Add(float64(result.TokensUsed))
	for strategy, items := range result.PerStrategy {
		metricRetrievalItems.WithLabelValues(strategy).Add(float64(items))
	}

	fmt.Println()
	ui.Header("Review Complete")
	fmt.Printf("%s %s#%d\n", ui.Label("Pull Request:"), secrets.Repository, result.PRNumber)
	fmt.Printf("Head: %s\n", ui.DimText(string(result.HeadSHA)))
	fmt.Printf("Shards Pulled: %s\n", ui.CountText(result.ShardsPulled))
	fmt.Printf("Context Items: %s %s\n", ui.CountText(result.ContextItems),
		ui.DimText(fmt.Sprintf("(%d tokens)", int(result.TokensUsed))))
	fmt.Printf("Comments Published: %s\n", ui.CountText(result.Comments))
	fmt.Printf("Duration: %s\n", ui.DimText(result.Duration.String()))
}

// prNumberFromEvent extracts the pull request number from a GitHub
// Actions event payload. pull_request events carry it directly;
// issue_comment events carry it under issue.
func prNumberFromEvent(eventPath string) (int, error) {
	if eventPath == "" {
		return 0, errors.NewConfigError(
			"Pull request number missing",
			"No --pr flag given and GITHUB_EVENT_PATH is not set",
			"Pass --pr <number> or run inside GitHub Actions",
			nil,
		)
	}

	data, err := os.ReadFile(eventPath) //nolint:gosec // G304: path comes from the Actions runner
	if err != nil {
		return 0, errors.NewInputError(
			"Cannot read event payload",
			fmt.Sprintf("Failed to read %s", eventPath),
			"Check that GITHUB_EVENT_PATH points at the Actions event file",
			err,
		)
	}

	var event struct {
		PullRequest *struct {
			Number int `json:"number"`
		} `json:"pull_request"`
		Issue *struct {
			Number int `json:"number"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return 0, errors.NewInputError(
			"Invalid event payload",
			"The Actions event file is not valid JSON",
			"Check the triggering workflow event",
			err,
		)
	}

	switch {
	case event.PullRequest != nil && event.PullRequest.Number > 0:
		return event.PullRequest.Number, nil
	case event.Issue != nil && event.Issue.Number > 0:
		return event.Issue.Number, nil
	}
	return 0, errors.NewInputError(
		"Event has no pull request",
		"The event payload carries neither pull_request.number nor issue.number",
		"Trigger argus from a pull_request or issue_comment event, or pass --pr",
		nil,
	)
}
