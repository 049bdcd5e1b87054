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

package memory

import "sort"

// Prune enforces the storage invariants: entries below MinConfidence are
// dropped, the rest are sorted by confidence descending (ties by category
// then description, for determinism) and capped at MaxPatterns.
func Prune(patterns []PatternEntry) []PatternEntry {
	kept := make([]PatternEntry, 0, len(patterns))
	for _, p := range patterns {
		if p.Confidence >= MinConfidence {
			kept = append(kept, p)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Confidence != kept[j].Confidence {
			return kept[i].Confidence > kept[j].Confidence
		}
		if kept[i].Category != kept[j].Category {
			return kept[i].Category < kept[j].Category
		}
		return kept[i].Description < kept[j].Description
	})
	if len(kept) > MaxPatterns {
		kept = kept[:MaxPatterns]
	}
	return kept
}

// Merge folds analysis candidates into the existing set. An entry matching
// an existing (category, description) pair keeps whichever confidence is
// higher and unions the examples; new pairs append. The result is pruned.
func Merge(existing, candidates []PatternEntry) []PatternEntry {
	type key struct{ category, description string }
	index := make(map[key]int, len(existing))
	out := make([]PatternEntry, len(existing))
	copy(out, existing)
	for i, p := range out {
		index[key{p.Category, p.Description}] = i
	}

	for _, c := range candidates {
		k := key{c.Category, c.Description}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, c)
			continue
		}
		if c.Confidence > out[i].Confidence {
			out[i].Confidence = c.Confidence
		}
		out[i].Examples = unionExamples(out[i].Examples, c.Examples)
	}
	return Prune(out)
}

func unionExamples(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
