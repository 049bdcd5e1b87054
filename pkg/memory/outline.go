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

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/argus/pkg/codemap"
)

// Outline rendering limits.
const (
	// DefaultOutlineTokens is the outline's token budget; the character
	// budget is four characters per token.
	DefaultOutlineTokens = 4000
	// outlineSymbolsPerFile truncates each file's symbol list.
	outlineSymbolsPerFile = 10
)

// CharBudgetFor converts a token budget to the outline's character budget.
func CharBudgetFor(tokens codemap.TokenCount) int { return int(tokens) * 4 }

// RenderFull renders every file in the map, lexicographic order, within
// the character budget.
func RenderFull(m *codemap.CodebaseMap, charBudget int) Outline {
	return renderFiles(m, m.Files(), charBudget)
}

// RenderScoped renders the changed files and their one-hop graph
// neighborhood: changed files first, then dependents, then dependencies,
// each group lexicographic. The scoped outline feeds analysis prompts
// only; it is never stored.
func RenderScoped(m *codemap.CodebaseMap, changed []codemap.FilePath, charBudget int) Outline {
	graph := m.Graph()
	seen := make(map[codemap.FilePath]struct{})
	var ordered []codemap.FilePath

	add := func(paths []codemap.FilePath) {
		sorted := make([]codemap.FilePath, len(paths))
		copy(sorted, paths)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, p := range sorted {
			if _, ok := seen[p]; ok || !m.Contains(p) {
				continue
			}
			seen[p] = struct{}{}
			ordered = append(ordered, p)
		}
	}

	add(changed)
	var dependents, dependencies []codemap.FilePath
	for _, p := range changed {
		dependents = append(dependents, graph.FileDependentsOf(p)...)
		dependencies = append(dependencies, graph.FileDependenciesOf(p)...)
	}
	add(dependents)
	add(dependencies)

	return renderFiles(m, ordered, charBudget)
}

func renderFiles(m *codemap.CodebaseMap, paths []codemap.FilePath, charBudget int) Outline {
	var outline Outline
	used := 0
	for _, p := range paths {
		line := renderSymbolsText(m.SymbolsOf(p))
		cost := len(p) + len(line) + 3 // "path: line\n"
		if used+cost > charBudget {
			break
		}
		used += cost
		outline.Files = append(outline.Files, OutlineFile{Path: p, SymbolsText: line})
	}
	return outline
}

// renderSymbolsText formats "sym1(kind), sym2(kind), …(+K more)".
func renderSymbolsText(symbols []codemap.Symbol) string {
	var parts []string
	for i, sym := range symbols {
		if i == outlineSymbolsPerFile {
			parts = append(parts, fmt.Sprintf("…(+%d more)", len(symbols)-outlineSymbolsPerFile))
			break
		}
		parts = append(parts, fmt.Sprintf("%s(%s)", sym.Name, sym.Kind))
	}
	return strings.Join(parts, ", ")
}

// Text flattens an outline into the newline-delimited prompt form.
func (o Outline) Text() string {
	var b strings.Builder
	for _, f := range o.Files {
		b.WriteString(string(f.Path))
		b.WriteString(": ")
		b.WriteString(f.SymbolsText)
		b.WriteByte('\n')
	}
	return b.String()
}
