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
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/embedding"
	"github.com/kraklabs/argus/pkg/gitsync"
	"github.com/kraklabs/argus/pkg/llm"
)

// setupLogger builds the structured logger every command shares. debug
// comes from the per-command flag; -vv on the global flags also enables
// debug level.
func setupLogger(debug bool, globals GlobalFlags) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug || globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	}
	if globals.Quiet {
		logLevel = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// startMetricsServer exposes Prometheus metrics when addr is non-empty.
func startMetricsServer(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()
	return ctx, cancel
}

// buildGitHub wires the GitHub client and syncer from environment
// credentials. Every mode that touches the data branch or the PR API
// needs both.
func buildGitHub(secrets Secrets, logger *slog.Logger) (*gitsync.Client, *gitsync.Syncer, error) {
	if secrets.GitHubToken == "" {
		return nil, nil, errors.NewConfigError(
			"GitHub token missing",
			"The GITHUB_TOKEN environment variable is not set",
			"Export GITHUB_TOKEN with a token that can read the repository and write the data branch",
			nil,
		)
	}
	owner, name, err := secrets.SplitRepository()
	if err != nil {
		return nil, nil, err
	}
	client, err := gitsync.NewClient(secrets.GitHubToken, owner, name, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, gitsync.NewSyncer(client, logger), nil
}

// buildLLM wires the Gemini client. required tells the caller whether a
// missing key is fatal for this mode.
func buildLLM(ctx context.Context, cfg *Config, secrets Secrets, required bool, logger *slog.Logger) (llm.Client, error) {
	if secrets.GoogleAPI == "" {
		if required {
			return nil, errors.NewConfigError(
				"LLM API key missing",
				"The GOOGLE_API_KEY environment variable is not set",
				"Export GOOGLE_API_KEY with a Gemini API key",
				nil,
			)
		}
		return nil, nil
	}
	client, err := llm.NewGeminiClient(ctx, secrets.GoogleAPI, cfg.Model, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// buildEmbedder wires the embedding provider when an embedding model is
// configured. No model means semantic retrieval stays off.
func buildEmbedder(ctx context.Context, cfg *Config, secrets Secrets, logger *slog.Logger) (embedding.Provider, error) {
	if cfg.EmbeddingModel == "" {
		return nil, nil
	}
	if secrets.GoogleAPI == "" {
		logger.Warn("embedding.disabled", "reason", "GOOGLE_API_KEY not set")
		return nil, nil
	}
	provider, err := embedding.NewGenAIProvider(ctx, secrets.GoogleAPI, cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	return provider, nil
}
