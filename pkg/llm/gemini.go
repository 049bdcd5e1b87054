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

// Package llm wraps the Gemini API behind a structured-output interface
// shared by review generation, memory analysis, and agentic retrieval.
package llm

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"log/slog"

	"google.golang.org/genai"

	"github.com/kraklabs/argus/internal/errors"
)

// Retry policy for provider calls.
const (
	maxAttempts   = 3
	retryBaseWait = 1 * time.Second
)

// Client produces structured JSON from a prompt.
type Client interface {
	Name() string
	// GenerateJSON sends a prompt in JSON mode and returns the raw
	// response body.
	GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error)
}

// GeminiClient is the production Client over google.golang.org/genai.
type GeminiClient struct {
	cli    *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiClient builds a JSON-mode Gemini client.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.NewConfigError(
			"llm api key missing",
			"review generation requires an LLM provider key",
			"set ARGUS_LLM_API_KEY", nil,
		)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, errors.NewProviderError("llm client init failed", "", "", err).
			WithStage("llm.init", model)
	}
	return &GeminiClient{cli: cli, model: model, logger: logger}, nil
}

// Name identifies the provider and model.
func (g *GeminiClient) Name() string { return "gemini:" + g.model }

// GenerateJSON requests application/json output, retrying transient
// failures with jittered backoff. Non-JSON responses count as a failed
// attempt: models occasionally wrap JSON in code fences despite the MIME
// type.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait*time.Duration(attempt) + time.Duration(rand.Int63n(int64(retryBaseWait)))
			select {
			case <-ctx.Done():
				return nil, errors.NewTransientError(
					"llm call cancelled", "", "", ctx.Err(),
				).WithStage("llm.generate", g.model)
			case <-time.After(wait):
			}
		}

		resp, err := g.cli.Models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
			&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
		)
		if err != nil {
			lastErr = err
			g.logger.Warn("llm.generate.retry", "model", g.model, "attempt", attempt+1, "error", err)
			continue
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = errors.NewProviderError(
				"llm returned no candidates", "", "", nil,
			).WithStage("llm.generate", g.model)
			continue
		}

		raw := StripFences(resp.Candidates[0].Content.Parts[0].Text)
		if !json.Valid([]byte(raw)) {
			lastErr = errors.NewProviderError(
				"llm returned invalid json",
				"the model response was not parseable JSON", "", nil,
			).WithStage("llm.generate", g.model)
			continue
		}
		return json.RawMessage(raw), nil
	}
	return nil, errors.NewProviderError(
		"llm call failed",
		"all attempts against the model failed",
		"check the API key and provider status", lastErr,
	).WithStage("llm.generate", g.model)
}

// StripFences removes a markdown code fence wrapper, if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
