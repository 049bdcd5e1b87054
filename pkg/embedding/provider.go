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

package embedding

import (
	"context"

	"google.golang.org/genai"

	"github.com/kraklabs/argus/internal/errors"
)

// embedBatchSize bounds one EmbedContent call; the API rejects oversized
// batches.
const embedBatchSize = 100

// Provider turns text into vectors. Implementations must be safe for
// concurrent use.
type Provider interface {
	Model() string
	// EmbedDocuments embeds code chunks for storage.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// GenAIProvider embeds through the Gemini embedding API.
type GenAIProvider struct {
	client *genai.Client
	model  string
}

// NewGenAIProvider creates a provider for the configured embedding model.
func NewGenAIProvider(ctx context.Context, apiKey, model string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.NewConfigError(
			"embedding provider key missing",
			"an embedding model is configured but no LLM API key is set",
			"set ARGUS_LLM_API_KEY or remove embedding_model from .argus.yaml", nil,
		)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, errors.NewProviderError(
			"embedding client init failed", "", "", err,
		).WithStage("embed.init", model)
	}
	return &GenAIProvider{client: client, model: model}, nil
}

// Model returns the configured model name.
func (p *GenAIProvider) Model() string { return p.model }

// EmbedDocuments embeds a batch of chunk texts, preserving order.
func (p *GenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		batch, err := p.embed(ctx, texts[start:end], "RETRIEVAL_DOCUMENT")
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// EmbedQuery embeds a single retrieval query.
func (p *GenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *GenAIProvider) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		TaskType: taskType,
	})
	if err != nil {
		return nil, errors.NewProviderError(
			"embedding request failed",
			"the embedding provider returned an error",
			"semantic retrieval degrades to zero items when this persists", err,
		).WithStage("embed.request", p.model)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, errors.NewProviderError(
			"embedding response incomplete",
			"provider returned a different number of vectors than inputs", "", nil,
		).WithStage("embed.request", p.model)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
