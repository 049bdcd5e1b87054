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

package review

import (
	"context"
	"encoding/json"

	"log/slog"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/llm"
)

// Generator produces the structured review from an assembled prompt. The
// model is opaque: only the JSON schema is contract.
type Generator struct {
	client llm.Client
	logger *slog.Logger
}

// NewGenerator wires the review generator.
func NewGenerator(client llm.Client, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, logger: logger}
}

// Generate runs the prompt and validates the response shape. Comments
// with unknown severities or missing anchors are dropped here; scoring
// and caps belong to the noise filter.
func (g *Generator) Generate(ctx context.Context, prompt *Prompt) (*Output, error) {
	raw, err := g.client.GenerateJSON(ctx, prompt.Text)
	if err != nil {
		return nil, err
	}

	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.NewProviderError(
			"review output unparseable",
			"the model response did not match the review schema", "", err,
		).WithStage("review.generate", g.client.Name())
	}

	valid := out.Comments[:0]
	discarded := 0
	for _, c := range out.Comments {
		if c.Path == "" || c.Line <= 0 || c.Message == "" || !ValidSeverity(c.Severity) {
			discarded++
			continue
		}
		valid = append(valid, c)
	}
	out.Comments = valid

	g.logger.Info("review.generate.complete",
		"comments", len(out.Comments),
		"discarded", discarded,
	)
	return &out, nil
}
