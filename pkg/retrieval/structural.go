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
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/argus/pkg/codemap"
)

// Structural scores: direct graph neighbors are certain context, symbols
// sharing a changed file slightly less so.
const (
	scoreNeighbor = 1.0
	scoreSameFile = 0.7
)

// Structural walks the dependency graph one hop out from the changed
// files. It is the only strategy that must succeed for a run to continue
// after provider failures elsewhere.
type Structural struct {
	m *codemap.CodebaseMap
}

// NewStructural builds the graph strategy over a loaded (possibly
// partial) map.
func NewStructural(m *codemap.CodebaseMap) *Structural {
	return &Structural{m: m}
}

// Name implements Strategy.
func (s *Structural) Name() string { return StrategyStructural }

// Retrieve emits depth-1 dependents and dependencies of every changed
// file at full score, and the changed files' own symbol summaries at the
// same-file score. Edges pointing outside the loaded map are skipped.
func (s *Structural) Retrieve(_ context.Context, q *Query) ([]ContextItem, error) {
	graph := s.m.Graph()
	seen := make(map[codemap.FilePath]float64)

	for _, changed := range q.ChangedFiles {
		if !s.m.Contains(changed) {
			continue
		}
		for _, dep := range graph.FileDependentsOf(changed) {
			if s.m.Contains(dep) && dep != changed {
				seen[dep] = scoreNeighbor
			}
		}
		for _, dep := range graph.FileDependenciesOf(changed) {
			if s.m.Contains(dep) && dep != changed {
				seen[dep] = scoreNeighbor
			}
		}
		if _, ok := seen[changed]; !ok {
			seen[changed] = scoreSameFile
		}
	}

	paths := make([]codemap.FilePath, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	items := make([]ContextItem, 0, len(paths))
	for _, p := range paths {
		entry := s.m.Get(p)
		item := ContextItem{
			Path:       p,
			Content:    renderFileSummary(entry),
			Score:      seen[p],
			Strategies: []string{StrategyStructural},
		}
		// A file summary spans the whole file, as far as its symbols reach.
		for _, sym := range entry.Symbols {
			if sym.EndLine > item.EndLine {
				item.StartLine = 1
				item.EndLine = sym.EndLine
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// renderFileSummary produces the compact text a structural item carries:
// path, exports, and the symbol roster with kinds and line ranges.
func renderFileSummary(e *codemap.FileEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", e.Path, e.Language)
	if len(e.Exports) > 0 {
		fmt.Fprintf(&b, "exports: %s\n", strings.Join(e.Exports, ", "))
	}
	for _, sym := range e.Symbols {
		fmt.Fprintf(&b, "  %s (%s) L%d-%d", sym.Name, sym.Kind, sym.StartLine, sym.EndLine)
		if sym.Signature != "" {
			fmt.Fprintf(&b, "  %s", sym.Signature)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
