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
	"fmt"
	"strings"

	"log/slog"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/retrieval"
)

// Section names, in assembly priority order.
const (
	sectionDiff      = "diff"
	sectionPRContext = "pr_context"
	sectionRetrieved = "retrieved"
	sectionOutline   = "outline"
	sectionPatterns  = "patterns"
)

// PromptInput carries every candidate section. Empty strings are skipped
// without logging.
type PromptInput struct {
	Diff      string
	PRContext string
	Retrieved []retrieval.ContextItem
	Outline   string
	Patterns  string
}

// Prompt is the assembled result.
type Prompt struct {
	Text     string
	Tokens   codemap.TokenCount
	Included []string
	Dropped  []string
}

const reviewInstructions = `You are a senior engineer reviewing a pull request.
Judge the change on correctness, security, performance, and fit with the codebase's conventions.
Anchor every finding to a changed line. Be specific; skip nitpicks you are not confident about.

Respond with JSON only:
{"summary": "<2-4 sentence overall assessment>",
 "comments": [{"path": "<file>", "line": <line in the new version>,
               "severity": "critical|warning|suggestion|praise",
               "category": "bug|security|performance|style|architecture|testing|documentation",
               "confidence": 0.0-1.0,
               "message": "<the finding>",
               "suggestion": "<optional replacement code>"}]}`

// Assemble builds the review prompt top-down against the token budget.
// The diff is mandatory and never truncated: a diff that alone exceeds
// the budget aborts with a budget error. Any other section that would
// overflow is dropped whole and logged.
func Assemble(in *PromptInput, budget codemap.TokenCount, logger *slog.Logger) (*Prompt, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sections := []struct {
		name string
		body string
	}{
		{sectionDiff, in.Diff},
		{sectionPRContext, in.PRContext},
		{sectionRetrieved, renderRetrieved(in.Retrieved)},
		{sectionOutline, in.Outline},
		{sectionPatterns, in.Patterns},
	}

	var b strings.Builder
	b.WriteString(reviewInstructions)
	used := codemap.EstimateTokens(reviewInstructions)

	prompt := &Prompt{}
	for _, section := range sections {
		if section.body == "" {
			continue
		}
		block := fmt.Sprintf("\n\n## %s\n\n%s", sectionTitle(section.name), section.body)
		cost := codemap.EstimateTokens(block)

		if used+cost > budget {
			if section.name == sectionDiff {
				return nil, errors.NewBudgetError(
					"prompt too large",
					fmt.Sprintf("the diff alone needs %d tokens against a budget of %d", int(cost), int(budget)),
					"raise max_tokens or split the pull request", nil,
				).WithStage("review.prompt", sectionDiff)
			}
			prompt.Dropped = append(prompt.Dropped, section.name)
			logger.Warn("review.prompt.section_dropped", "section", section.name, "tokens", int(cost))
			continue
		}
		b.WriteString(block)
		used += cost
		prompt.Included = append(prompt.Included, section.name)
	}

	prompt.Text = b.String()
	prompt.Tokens = used
	logger.Info("review.prompt.assembled",
		"tokens", int(used),
		"included", prompt.Included,
		"dropped", prompt.Dropped,
	)
	return prompt, nil
}

func sectionTitle(name string) string {
	switch name {
	case sectionDiff:
		return "Diff under review"
	case sectionPRContext:
		return "Pull request context"
	case sectionRetrieved:
		return "Relevant code from the rest of the codebase"
	case sectionOutline:
		return "Codebase outline"
	case sectionPatterns:
		return "Codebase conventions"
	default:
		return name
	}
}

func renderRetrieved(items []retrieval.ContextItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "### %s", item.Path)
		if item.Symbol != "" {
			fmt.Fprintf(&b, " — %s", item.Symbol)
		}
		if item.StartLine > 0 {
			fmt.Fprintf(&b, " L%d-%d", item.StartLine, item.EndLine)
		}
		fmt.Fprintf(&b, " (relevance %.2f)\n%s\n\n", item.Score, item.Content)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
