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

package indexing

import (
	"path"
	"strings"

	"github.com/kraklabs/argus/pkg/codemap"
)

// Resolver links the parser's unresolved edge targets to qualified names
// in the map: first by symbol name, then by import statement. Targets
// that resolve nowhere stay as written; partial-map consumers tolerate
// them.
type Resolver struct {
	m *codemap.CodebaseMap

	// byFile: path → symbol suffix ("Name" or "Recv.Name") → qualified.
	byFile map[codemap.FilePath]map[string]string
	// global: symbol name → qualified names across the map; only
	// unambiguous names resolve globally.
	global map[string][]string
	// importTargets: import string as written → file path in the map.
	importTargets map[string]codemap.FilePath
}

// NewResolver indexes the map's symbols and import keys.
func NewResolver(m *codemap.CodebaseMap) *Resolver {
	r := &Resolver{
		m:             m,
		byFile:        make(map[codemap.FilePath]map[string]string),
		global:        make(map[string][]string),
		importTargets: make(map[string]codemap.FilePath),
	}
	for _, p := range m.Files() {
		entry := m.Get(p)
		names := make(map[string]string, len(entry.Symbols))
		for _, sym := range entry.Symbols {
			suffix := strings.TrimPrefix(sym.QualifiedName, string(p)+":")
			names[suffix] = sym.QualifiedName
			if suffix != sym.Name {
				names[sym.Name] = sym.QualifiedName
			}
			r.global[sym.Name] = append(r.global[sym.Name], sym.QualifiedName)
		}
		r.byFile[p] = names

		for _, key := range importKeysFor(p) {
			if existing, ok := r.importTargets[key]; ok && existing != p {
				// Ambiguous key: first in lexicographic file order wins,
				// which Files() already guarantees.
				continue
			}
			r.importTargets[key] = p
		}
	}
	return r
}

// importKeysFor derives the strings an import statement might use to name
// a file: the path itself, the path without extension, the dotted module
// form, and the bare module name.
func importKeysFor(p codemap.FilePath) []string {
	noExt := strings.TrimSuffix(string(p), path.Ext(string(p)))
	keys := []string{string(p), noExt, strings.ReplaceAll(noExt, "/", ".")}
	if base := path.Base(noExt); base != noExt {
		keys = append(keys, base)
	}
	return keys
}

// Resolve rewrites every resolvable edge target and replaces the map's
// edge list. Idempotent: already-qualified targets pass through.
func (r *Resolver) Resolve() {
	edges := r.m.Edges()
	out := make([]codemap.Edge, 0, len(edges))
	for _, e := range edges {
		out = append(out, r.resolveEdge(e))
	}
	r.m.ReplaceEdges(out)
}

func (r *Resolver) resolveEdge(e codemap.Edge) codemap.Edge {
	if e.Kind == codemap.EdgeImports {
		if target, ok := r.resolveImport(e.Target); ok {
			e.Target = string(target)
		}
		return e
	}
	if strings.Contains(e.Target, ":") {
		return e // already qualified
	}
	if qualified, ok := r.resolveSymbol(e.SourceFile(), e.Target); ok {
		e.Target = qualified
	}
	return e
}

// resolveImport maps an import string to a file in the map, trying the
// exact key first and a suffix match second (Go-style module prefixes).
func (r *Resolver) resolveImport(target string) (codemap.FilePath, bool) {
	if p, ok := r.importTargets[target]; ok {
		return p, true
	}
	// Relative JS/TS imports: "./util" inside a/b.ts names a/util.ts.
	trimmed := strings.TrimPrefix(strings.TrimPrefix(target, "./"), "../")
	if p, ok := r.importTargets[trimmed]; ok {
		return p, true
	}
	// Module-prefixed imports resolve by longest known suffix.
	var best codemap.FilePath
	var bestLen int
	for key, p := range r.importTargets {
		if len(key) > bestLen && strings.HasSuffix(target, key) {
			best, bestLen = p, len(key)
		}
	}
	return best, bestLen > 0
}

// resolveSymbol links a bare or dotted reference from sourceFile:
//  1. a symbol in the same file (full name, then last segment),
//  2. an import-qualified symbol ("mod.Name" where mod is imported),
//  3. a globally unique symbol by name.
func (r *Resolver) resolveSymbol(sourceFile codemap.FilePath, target string) (string, bool) {
	if names := r.byFile[sourceFile]; names != nil {
		if q, ok := names[target]; ok {
			return q, true
		}
	}

	last := target
	if i := strings.LastIndex(target, "."); i >= 0 {
		last = target[i+1:]

		// "a.x.f" or "x.f": the prefix names an imported module.
		prefix := target[:i]
		if file, ok := r.resolveImportedModule(sourceFile, prefix); ok {
			if q, ok := r.byFile[file][last]; ok {
				return q, true
			}
		}
	}

	if candidates := r.global[last]; len(candidates) == 1 {
		return candidates[0], true
	}
	return "", false
}

// resolveImportedModule maps a reference prefix ("a.x", "util") to a file
// the source file imports.
func (r *Resolver) resolveImportedModule(sourceFile codemap.FilePath, prefix string) (codemap.FilePath, bool) {
	entry := r.m.Get(sourceFile)
	if entry == nil {
		return "", false
	}
	for _, imp := range entry.Imports {
		key := string(imp)
		if key == prefix || strings.HasSuffix(key, "."+prefix) || strings.HasSuffix(key, "/"+prefix) || path.Base(strings.TrimSuffix(key, path.Ext(key))) == prefix {
			if target, ok := r.resolveImport(key); ok {
				return target, true
			}
		}
	}
	return "", false
}
