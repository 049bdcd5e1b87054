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

package retrieval

import (
	"context"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
)

// Orchestrator runs the strategies in their fixed order — structural,
// lexical, semantic, agentic — and hands the merged output to the ranker.
// Non-agentic strategies run concurrently with results slotted by index;
// the ranker is the single serialization point, so completion order never
// affects the outcome.
type Orchestrator struct {
	strategies []Strategy
	budget     codemap.TokenCount
	logger     *slog.Logger
}

// NewOrchestrator wires the run. Strategies must be passed in the fixed
// order; gated-off strategies are simply omitted.
func NewOrchestrator(budget codemap.TokenCount, logger *slog.Logger, strategies ...Strategy) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{strategies: strategies, budget: budget, logger: logger}
}

// Run retrieves, ranks, and budgets context for the query.
//
// A failed strategy contributes zero items and the run continues — unless
// the failure is a provider error and structural produced nothing, in
// which case there is no context worth reviewing with and the run aborts.
func (o *Orchestrator) Run(ctx context.Context, q *Query) (*Result, error) {
	slots := make([][]ContextItem, len(o.strategies))
	strategyErrs := make([]error, len(o.strategies))

	g, gctx := errgroup.WithContext(ctx)
	agenticIdx := -1
	for i, s := range o.strategies {
		if s.Name() == StrategyAgentic {
			agenticIdx = i // runs after the concurrent batch
			continue
		}
		g.Go(func() error {
			items, err := s.Retrieve(gctx, q)
			if err != nil {
				strategyErrs[i] = err
				return nil // degrade, handled below
			}
			slots[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Agentic last: it is slow, holds an LLM session, and benefits from
	// not racing the cheap strategies for the context deadline.
	if agenticIdx >= 0 {
		items, err := o.strategies[agenticIdx].Retrieve(ctx, q)
		if err != nil {
			strategyErrs[agenticIdx] = err
		} else {
			slots[agenticIdx] = items
		}
	}

	structuralCount := 0
	for i, s := range o.strategies {
		if s.Name() == StrategyStructural {
			structuralCount = len(slots[i])
		}
	}

	for i, err := range strategyErrs {
		if err == nil {
			continue
		}
		name := o.strategies[i].Name()
		if name == StrategyStructural {
			return nil, err
		}
		if errors.IsProvider(err) && structuralCount == 0 {
			return nil, errors.NewProviderError(
				"retrieval produced no usable context",
				"a provider-backed strategy failed and structural retrieval found nothing",
				"check provider credentials; re-run once the provider recovers", err,
			).WithStage("retrieve.run", name)
		}
		o.logger.Warn("retrieve.strategy.degraded", "strategy", name, "error", err)
	}

	result := Rank(slots, o.budget)

	o.logger.Info("retrieve.run.complete",
		"items", len(result.Items),
		"tokens", int(result.TokensUsed),
		"dropped", result.Dropped,
		"per_strategy", result.PerStrategy,
	)
	return result, nil
}
