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
	"sort"

	"github.com/kraklabs/argus/pkg/codemap"
)

// Ranking constants: agreement between strategies is worth a small bonus,
// and structural context owns a protected share of the budget so lexical
// noise can never crowd out direct graph neighbors.
const (
	consensusBonus  = 0.05
	structuralShare = 0.4
)

// merged is one deduplicated item during ranking.
type merged struct {
	item        ContextItem
	fingerprint string
	strategies  map[string]struct{}
	final       float64
}

// Rank merges per-strategy results, scores, and admits items against the
// retrieval token budget. The output is deterministic for a given input
// regardless of strategy completion order: inputs are slotted by strategy
// index and ties break on fingerprint.
func Rank(perStrategy [][]ContextItem, budget codemap.TokenCount) *Result {
	result := &Result{PerStrategy: make(map[string]int)}

	byFingerprint := make(map[string]*merged)
	var order []string // first-seen order, for stable map iteration
	for _, items := range perStrategy {
		for i := range items {
			item := items[i]
			fp := item.Fingerprint()
			m, ok := byFingerprint[fp]
			if !ok {
				m = &merged{item: item, fingerprint: fp, strategies: make(map[string]struct{})}
				byFingerprint[fp] = m
				order = append(order, fp)
			}
			if item.Score > m.item.Score {
				m.item.Score = item.Score
				m.item.Content = item.Content
			}
			for _, name := range item.Strategies {
				m.strategies[name] = struct{}{}
				result.PerStrategy[name]++
			}
		}
	}

	ranked := make([]*merged, 0, len(order))
	for _, fp := range order {
		m := byFingerprint[fp]
		m.final = m.item.Score + consensusBonus*float64(len(m.strategies)-1)
		if m.final > 1.0 {
			m.final = 1.0
		}
		m.item.Score = m.final
		m.item.Strategies = sortedStrategies(m.strategies)
		ranked = append(ranked, m)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].final != ranked[j].final {
			return ranked[i].final > ranked[j].final
		}
		return ranked[i].fingerprint < ranked[j].fingerprint
	})

	// Phase 1: structural items into their protected share.
	structuralBudget := codemap.TokenCount(float64(budget) * structuralShare)
	admitted := make(map[string]struct{}, len(ranked))
	var used codemap.TokenCount
	for _, m := range ranked {
		if _, ok := m.strategies[StrategyStructural]; !ok {
			continue
		}
		cost := m.item.Tokens()
		if used+cost > structuralBudget {
			continue
		}
		used += cost
		admitted[m.fingerprint] = struct{}{}
		result.Items = append(result.Items, m.item)
	}

	// Phase 2: greedy admission of everything else.
	for _, m := range ranked {
		if _, ok := admitted[m.fingerprint]; ok {
			continue
		}
		cost := m.item.Tokens()
		if used+cost > budget {
			continue
		}
		used += cost
		admitted[m.fingerprint] = struct{}{}
		result.Items = append(result.Items, m.item)
	}

	// Re-sort the admitted set: phase order is an admission detail, the
	// prompt wants best-first.
	sort.Slice(result.Items, func(i, j int) bool {
		if result.Items[i].Score != result.Items[j].Score {
			return result.Items[i].Score > result.Items[j].Score
		}
		fi, fj := result.Items[i].Fingerprint(), result.Items[j].Fingerprint()
		return fi < fj
	})

	result.TokensUsed = used
	result.Dropped = len(ranked) - len(result.Items)
	return result
}

func sortedStrategies(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
