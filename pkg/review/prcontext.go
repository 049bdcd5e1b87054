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
	"time"

	"log/slog"

	"github.com/google/go-github/v27/github"

	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/gitsync"
)

// Collector limits: context is background signal, not the main event.
const (
	maxContextComments = 10
	maxRelatedIssues   = 5
)

// PRContext is the non-code signal around a pull request.
type PRContext struct {
	Title       string
	Body        string
	DaysOpen    int
	BehindBy    int
	FailedRuns  []string
	PassedRuns  int
	Comments    []string
	RelatedWork []string
}

// Collector gathers PR context from CI, conversation, and issue search.
// Every input degrades independently: a failed lookup logs and leaves its
// field empty.
type Collector struct {
	client        *gitsync.Client
	searchRelated bool
	logger        *slog.Logger
}

// NewCollector wires the context collector. searchRelated gates the
// issue-search call.
func NewCollector(client *gitsync.Client, searchRelated bool, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{client: client, searchRelated: searchRelated, logger: logger}
}

// Collect assembles context for one PR.
func (c *Collector) Collect(ctx context.Context, pr *github.PullRequest) *PRContext {
	out := &PRContext{
		Title: pr.GetTitle(),
		Body:  pr.GetBody(),
	}
	if created := pr.GetCreatedAt(); !created.IsZero() {
		out.DaysOpen = int(time.Since(created).Hours() / 24)
	}

	if base, head := pr.GetBase(), pr.GetHead(); base != nil && head != nil {
		cmp, err := c.client.CompareCommits(ctx, codemap.CommitSHA(base.GetSHA()), codemap.CommitSHA(head.GetSHA()))
		if err != nil {
			c.logger.Warn("review.context.compare_failed", "error", err)
		} else {
			out.BehindBy = cmp.GetBehindBy()
		}
	}

	if runs, err := c.client.ListCheckRuns(ctx, pr.GetHead().GetSHA()); err != nil {
		c.logger.Warn("review.context.checks_failed", "error", err)
	} else {
		for _, run := range runs {
			switch run.GetConclusion() {
			case "success":
				out.PassedRuns++
			case "failure", "timed_out", "cancelled":
				out.FailedRuns = append(out.FailedRuns, run.GetName())
			}
		}
	}

	if comments, err := c.client.ListIssueComments(ctx, pr.GetNumber()); err != nil {
		c.logger.Warn("review.context.comments_failed", "error", err)
	} else {
		start := 0
		if len(comments) > maxContextComments {
			start = len(comments) - maxContextComments
		}
		for _, comment := range comments[start:] {
			out.Comments = append(out.Comments,
				fmt.Sprintf("%s: %s", comment.GetUser().GetLogin(), firstLine(comment.GetBody())))
		}
	}

	if c.searchRelated && pr.GetTitle() != "" {
		if issues, err := c.client.SearchIssues(ctx, pr.GetTitle()); err != nil {
			c.logger.Warn("review.context.search_failed", "error", err)
		} else {
			for i, issue := range issues {
				if i == maxRelatedIssues {
					break
				}
				if issue.GetNumber() == pr.GetNumber() {
					continue
				}
				out.RelatedWork = append(out.RelatedWork,
					fmt.Sprintf("#%d %s", issue.GetNumber(), issue.GetTitle()))
			}
		}
	}

	return out
}

// Render flattens the context into its prompt section.
func (p *PRContext) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	if p.Body != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Body)
	}
	fmt.Fprintf(&b, "Open for %d days; branch behind base by %d commits.\n", p.DaysOpen, p.BehindBy)
	if len(p.FailedRuns) > 0 {
		fmt.Fprintf(&b, "Failing checks: %s (%d passing)\n", strings.Join(p.FailedRuns, ", "), p.PassedRuns)
	} else if p.PassedRuns > 0 {
		fmt.Fprintf(&b, "All %d checks passing.\n", p.PassedRuns)
	}
	if len(p.Comments) > 0 {
		fmt.Fprintf(&b, "Recent discussion:\n  %s\n", strings.Join(p.Comments, "\n  "))
	}
	if len(p.RelatedWork) > 0 {
		fmt.Fprintf(&b, "Possibly related: %s\n", strings.Join(p.RelatedWork, "; "))
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
