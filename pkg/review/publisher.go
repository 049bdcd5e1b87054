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
	"fmt"
	"strings"

	"log/slog"

	"github.com/kraklabs/argus/pkg/gitsync"
)

// Publisher posts the filtered review to the pull request.
type Publisher struct {
	client *gitsync.Client
	logger *slog.Logger
}

// NewPublisher wires the publisher.
func NewPublisher(client *gitsync.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger}
}

// Publish posts one review: inline comments with severity labels plus the
// summary body. If inline publication fails (stale anchors, permissions),
// it falls back to a summary-only issue comment so the verdict is never
// lost. An empty output publishes nothing.
func (p *Publisher) Publish(ctx context.Context, prNumber int, headSHA string, out *Output) error {
	if out.Summary == "" && len(out.Comments) == 0 {
		p.logger.Info("review.publish.empty", "pr", prNumber)
		return nil
	}

	comments := make([]gitsync.ReviewComment, 0, len(out.Comments))
	for _, c := range out.Comments {
		comments = append(comments, gitsync.ReviewComment{
			Path: string(c.Path),
			Line: c.Line,
			Side: "RIGHT",
			Body: renderCommentBody(&c),
		})
	}

	err := p.client.CreateReview(ctx, prNumber, headSHA, out.Summary, comments)
	if err == nil {
		p.logger.Info("review.publish.complete",
			"pr", prNumber,
			"inline", len(comments),
		)
		return nil
	}

	p.logger.Warn("review.publish.inline_failed", "pr", prNumber, "error", err)
	if fallbackErr := p.client.CreateIssueComment(ctx, prNumber, renderFallback(out)); fallbackErr != nil {
		return fallbackErr
	}
	p.logger.Info("review.publish.fallback", "pr", prNumber, "findings", len(out.Comments))
	return nil
}

func renderCommentBody(c *Comment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", SeverityLabel(c.Severity), c.Message)
	if c.Suggestion != "" {
		fmt.Fprintf(&b, "\n\n```suggestion\n%s\n```", c.Suggestion)
	}
	return b.String()
}

// renderFallback folds everything into one conversation comment, used
// when inline anchoring is unavailable.
func renderFallback(out *Output) string {
	var b strings.Builder
	b.WriteString(out.Summary)
	if len(out.Comments) > 0 {
		b.WriteString("\n\n---\n")
		for _, c := range out.Comments {
			fmt.Fprintf(&b, "\n%s `%s:%d` %s", SeverityLabel(c.Severity), c.Path, c.Line, c.Message)
		}
	}
	return b.String()
}
