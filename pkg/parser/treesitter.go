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

// Package parser turns source bytes into FileEntry records and local
// dependency edges using Tree-sitter grammars. Eleven languages are
// supported; anything else is reported as unsupported so callers can
// skip it. Parse failures degrade to an empty entry rather than
// aborting an indexing run.
package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
)

const maxSignatureLen = 120

// identifierTypes are node types that can carry a definition's name when
// the grammar exposes no "name" field.
var identifierTypes = newNodeSet(
	"identifier", "simple_identifier", "type_identifier",
	"field_identifier", "constant",
)

// baseTypeNodes are node types accepted as heritage targets (the X in
// "class C extends X").
var baseTypeNodes = newNodeSet(
	"identifier", "type_identifier", "attribute", "member_expression",
	"scoped_identifier", "scoped_type_identifier", "generic_type",
	"nested_type_identifier", "user_type", "constant",
)

// importPathTypes are child node types that carry an import's path.
var importPathTypes = newNodeSet(
	"dotted_name", "module_name", "string", "string_literal",
	"interpreted_string_literal", "system_lib_string",
	"scoped_identifier", "identifier", "use_wildcard", "scoped_use_list",
)

// TreeSitterParser parses source files into symbols, imports, exports and
// local edges. Parsers are not thread-safe, so each grammar keeps a pool.
type TreeSitterParser struct {
	logger          *slog.Logger
	extraExtensions map[string]string

	pools    map[string]*sync.Pool
	poolInit sync.Once
}

// NewTreeSitterParser creates a parser. extraExtensions maps additional
// file extensions (with leading dot) onto one of the supported language
// names; unknown language names in the mapping are ignored.
func NewTreeSitterParser(logger *slog.Logger, extraExtensions map[string]string) *TreeSitterParser {
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make(map[string]string, len(extraExtensions))
	for ext, lang := range extraExtensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[strings.ToLower(ext)] = lang
	}
	return &TreeSitterParser{
		logger:          logger,
		extraExtensions: normalized,
	}
}

// initPools builds one parser pool per grammar.
func (p *TreeSitterParser) initPools() {
	p.poolInit.Do(func() {
		p.pools = make(map[string]*sync.Pool, len(languageSpecs))
		for key, spec := range languageSpecs {
			grammar := spec.grammar
			p.pools[key] = &sync.Pool{
				New: func() any {
					parser := sitter.NewParser()
					parser.SetLanguage(grammar)
					return parser
				},
			}
		}
	})
}

// Supports reports whether the file's extension maps to a known grammar.
func (p *TreeSitterParser) Supports(path codemap.FilePath) bool {
	_, ok := languageForExt(extOf(path), p.extraExtensions)
	return ok
}

// LanguageOf returns the language name for a path, or "" if unsupported.
func (p *TreeSitterParser) LanguageOf(path codemap.FilePath) string {
	lang, ok := languageForExt(extOf(path), p.extraExtensions)
	if !ok {
		return ""
	}
	return lang
}

// Parse extracts symbols, imports, exports and local edges from one file.
// Call and heritage targets are left unqualified for later resolution.
// A syntactically broken file still yields whatever the grammar could
// recover; a file the grammar cannot process at all yields an entry with
// empty symbols and a nil edge list alongside the error.
func (p *TreeSitterParser) Parse(ctx context.Context, path codemap.FilePath, content []byte) (*codemap.FileEntry, []codemap.Edge, error) {
	p.initPools()

	lang, ok := languageForExt(extOf(path), p.extraExtensions)
	if !ok {
		p.logger.Debug("parser.skip_unsupported", "path", path)
		return nil, nil, errors.NewParseError(
			"unsupported language",
			"no grammar is registered for "+string(path),
			"add the extension to indexing.extra_extensions or exclude the path",
			nil,
		)
	}

	hash := sha256.Sum256(content)
	entry := &codemap.FileEntry{
		Path:        path,
		Language:    lang,
		ContentHash: hex.EncodeToString(hash[:]),
	}

	spec := languageSpecs[grammarKey(lang, extOf(path))]
	pool := p.pools[grammarKey(lang, extOf(path))]
	parserObj := pool.Get()
	parser, okCast := parserObj.(*sitter.Parser)
	if !okCast {
		return entry, nil, errors.NewInternalError(
			"invalid parser type",
			"parser pool for "+lang+" returned an unexpected object",
			"",
			nil,
		)
	}
	defer pool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return entry, nil, errors.NewParseError(
			"parse failed",
			"tree-sitter could not parse "+string(path),
			"the file is recorded without symbols; fix the syntax and reindex",
			err,
		)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		p.logger.Warn("parser.syntax_errors",
			"path", path,
			"language", lang,
		)
	}

	w := &walker{
		spec:    spec,
		path:    path,
		content: content,
		seen:    make(map[string]struct{}),
	}
	w.walk(root, "", true)

	entry.Symbols = w.symbols
	entry.Imports = w.imports
	entry.Exports = w.exports
	return entry, w.edges, nil
}

// =============================================================================
// AST WALK
// =============================================================================

// walker accumulates one file's extraction state.
type walker struct {
	spec    *languageSpec
	path    codemap.FilePath
	content []byte

	symbols []codemap.Symbol
	edges   []codemap.Edge
	imports []codemap.FilePath
	exports []string
	seen    map[string]struct{}
}

// walk visits named children, dispatching on the language's node tables.
// prefix carries the enclosing container name ("Class" or "Outer.Inner");
// atRoot marks file scope, where definition names become exports.
func (w *walker) walk(node *sitter.Node, prefix string, atRoot bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		t := child.Type()

		if w.spec.unwrap.has(t) {
			w.walk(child, prefix, atRoot)
			continue
		}
		if kind, ok := w.spec.callables[t]; ok {
			w.addCallable(child, kind, prefix, atRoot)
			continue
		}
		if kind, ok := w.spec.containers[t]; ok {
			w.addContainer(child, kind, prefix, atRoot)
			continue
		}
		if kind, ok := w.spec.typeDecls[t]; ok {
			w.addTypeDecl(child, kind, prefix, atRoot)
			continue
		}
		if w.spec.imports.has(t) {
			w.addImport(child)
			continue
		}
		// Only definitions at file scope (or behind a transparent
		// wrapper) count as exports.
		w.walk(child, prefix, false)
	}
}

// addCallable records a function or method symbol, attributes the calls in
// its body to it, and recurses for nested definitions.
func (w *walker) addCallable(node *sitter.Node, kind codemap.SymbolKind, prefix string, atRoot bool) {
	name := w.nodeName(node)
	if name == "" {
		return
	}

	owner := prefix
	if owner == "" {
		if recv := receiverTypeName(node, w.content); recv != "" {
			owner = recv
		}
	}
	full := name
	if owner != "" {
		kind = codemap.KindMethod
		full = owner + "." + name
	} else if kind == codemap.KindMethod {
		// Method node type at file scope (e.g. a JS object literal
		// method hoisted oddly); keep the declared kind.
		full = name
	}

	qualified := codemap.QualifyName(w.path, full)
	w.addSymbol(codemap.Symbol{
		Name:          name,
		Kind:          kind,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		QualifiedName: qualified,
		Signature:     signatureOf(node, w.content),
	}, atRoot)

	w.collectCalls(node, qualified)
	w.walk(node, prefix, false)
}

// addContainer records a class-like symbol, emits heritage edges, and
// recurses with the container's name as the member prefix. Containers
// mapped to the empty kind (impl blocks, namespaces) contribute only
// their prefix.
func (w *walker) addContainer(node *sitter.Node, kind codemap.SymbolKind, prefix string, atRoot bool) {
	name := w.containerName(node)
	if name == "" {
		w.walk(node, prefix, false)
		return
	}

	full := name
	if prefix != "" {
		full = prefix + "." + name
	}
	qualified := codemap.QualifyName(w.path, full)

	if kind != "" {
		w.addSymbol(codemap.Symbol{
			Name:          name,
			Kind:          kind,
			StartLine:     int(node.StartPoint().Row) + 1,
			EndLine:       int(node.EndPoint().Row) + 1,
			QualifiedName: qualified,
			Signature:     signatureOf(node, w.content),
		}, atRoot)
	}

	w.collectHeritage(node, qualified)
	w.walk(node, full, false)
}

// addTypeDecl records a leaf declaration (type alias, const, enum).
func (w *walker) addTypeDecl(node *sitter.Node, kind codemap.SymbolKind, prefix string, atRoot bool) {
	name := w.nodeName(node)
	if name == "" {
		return
	}
	full := name
	if prefix != "" {
		full = prefix + "." + name
	}
	refined := kind
	if w.spec.name == LangGo && node.Type() == "type_spec" {
		refined = goTypeSpecKind(node)
	}
	w.addSymbol(codemap.Symbol{
		Name:          name,
		Kind:          refined,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		QualifiedName: codemap.QualifyName(w.path, full),
		Signature:     signatureOf(node, w.content),
	}, atRoot)
}

// addImport records the import path and an unresolved imports edge.
func (w *walker) addImport(node *sitter.Node) {
	target := importPathOf(node, w.content)
	if target == "" {
		return
	}
	w.imports = append(w.imports, codemap.FilePath(target))
	w.addEdge(codemap.Edge{
		Source: string(w.path),
		Target: target,
		Kind:   codemap.EdgeImports,
	})
}

func (w *walker) addSymbol(sym codemap.Symbol, atRoot bool) {
	w.symbols = append(w.symbols, sym)
	if atRoot {
		w.exports = append(w.exports, sym.Name)
	}
}

func (w *walker) addEdge(e codemap.Edge) {
	key := e.Source + "\x00" + e.Target + "\x00" + string(e.Kind)
	if _, dup := w.seen[key]; dup {
		return
	}
	w.seen[key] = struct{}{}
	w.edges = append(w.edges, e)
}

// collectCalls scans a callable's body for invocations, stopping at nested
// callables and containers so their calls are attributed to them instead.
func (w *walker) collectCalls(node *sitter.Node, source string) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		t := child.Type()
		if _, ok := w.spec.callables[t]; ok {
			continue
		}
		if _, ok := w.spec.containers[t]; ok {
			continue
		}
		if t == w.spec.callNode {
			if callee := w.calleeOf(child); callee != "" {
				w.addEdge(codemap.Edge{
					Source: source,
					Target: callee,
					Kind:   codemap.EdgeCalls,
				})
			}
		}
		w.collectCalls(child, source)
	}
}

// collectHeritage emits extends/implements edges for a container's
// heritage clauses. The JS/TS class_heritage wrapper is transparent.
func (w *walker) collectHeritage(node *sitter.Node, source string) {
	var scan func(n *sitter.Node)
	scan = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			t := child.Type()
			if t == "class_heritage" {
				scan(child)
				continue
			}
			kind, ok := w.spec.heritage[t]
			if !ok {
				continue
			}
			w.heritageTargets(child, source, kind)
		}
	}
	scan(node)

	// Rust: `impl Trait for Type` carries the trait in a field.
	if node.Type() == "impl_item" {
		if traitNode := node.ChildByFieldName("trait"); traitNode != nil {
			w.addEdge(codemap.Edge{
				Source: source,
				Target: stripGenerics(traitNode.Content(w.content)),
				Kind:   codemap.EdgeImplements,
			})
		}
	}
}

// heritageTargets emits one edge per base type named in a clause.
func (w *walker) heritageTargets(clause *sitter.Node, source string, kind codemap.EdgeKind) {
	found := false
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		child := clause.NamedChild(i)
		if baseTypeNodes.has(child.Type()) {
			w.addEdge(codemap.Edge{
				Source: source,
				Target: stripGenerics(child.Content(w.content)),
				Kind:   kind,
			})
			found = true
		}
	}
	if !found && baseTypeNodes.has(clause.Type()) {
		w.addEdge(codemap.Edge{
			Source: source,
			Target: stripGenerics(clause.Content(w.content)),
			Kind:   kind,
		})
	}
}

// nodeName reads the "name" field, falling back to the first identifier
// child for grammars without one.
func (w *walker) nodeName(node *sitter.Node) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return n.Content(w.content)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if identifierTypes.has(child.Type()) {
			return child.Content(w.content)
		}
	}
	return ""
}

// containerName is nodeName plus the Rust impl case, where the subject
// type lives in the "type" field (the "trait" field must not win).
func (w *walker) containerName(node *sitter.Node) string {
	if node.Type() == "impl_item" {
		if n := node.ChildByFieldName("type"); n != nil {
			return stripGenerics(n.Content(w.content))
		}
		return ""
	}
	if name := w.nodeName(node); name != "" {
		return name
	}
	if n := node.ChildByFieldName("type"); n != nil {
		return stripGenerics(n.Content(w.content))
	}
	return ""
}

// calleeOf extracts the invocation target as written: a bare identifier,
// or a dotted/selector path whose last segment names the callee.
func (w *walker) calleeOf(call *sitter.Node) string {
	var fn *sitter.Node
	if w.spec.callField != "" {
		fn = call.ChildByFieldName(w.spec.callField)
	}
	if fn == nil && call.NamedChildCount() > 0 {
		fn = call.NamedChild(0)
	}
	if fn == nil {
		return ""
	}
	text := strings.TrimSpace(fn.Content(w.content))
	if idx := strings.IndexByte(text, '('); idx >= 0 {
		text = text[:idx]
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return stripGenerics(text)
}

// =============================================================================
// TEXT HELPERS
// =============================================================================

// signatureOf extracts the first line of a node up to ':' or '{',
// truncated to maxSignatureLen.
func signatureOf(node *sitter.Node, content []byte) string {
	text := node.Content(content)
	for _, delim := range []string{":", "{"} {
		if idx := strings.Index(text, delim); idx >= 0 {
			text = text[:idx]
			break
		}
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > maxSignatureLen {
		return text[:maxSignatureLen]
	}
	return text
}

// importPathOf locates the path carried by an import statement, trying
// the common field names first and a typed child scan second.
func importPathOf(node *sitter.Node, content []byte) string {
	for _, field := range []string{"path", "module_name", "source", "argument"} {
		if n := node.ChildByFieldName(field); n != nil {
			return cleanImportText(n.Content(content))
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if importPathTypes.has(child.Type()) {
			return cleanImportText(child.Content(content))
		}
	}
	if node.NamedChildCount() > 0 {
		return cleanImportText(node.NamedChild(0).Content(content))
	}
	return ""
}

// cleanImportText strips quotes, include brackets, and rust path suffixes.
func cleanImportText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"'`")
	text = strings.TrimPrefix(text, "<")
	text = strings.TrimSuffix(text, ">")
	text = strings.TrimSuffix(text, ";")
	return text
}

// stripGenerics removes a trailing type-argument list from a name.
func stripGenerics(text string) string {
	if idx := strings.IndexByte(text, '<'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return strings.TrimSpace(text)
}

// receiverTypeName extracts the receiver's base type from a Go method
// declaration; other grammars return "".
func receiverTypeName(node *sitter.Node, content []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	var base string
	var find func(n *sitter.Node)
	find = func(n *sitter.Node) {
		if base != "" {
			return
		}
		if n.Type() == "type_identifier" {
			base = n.Content(content)
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			find(n.NamedChild(i))
		}
	}
	find(recv)
	return base
}

// goTypeSpecKind refines a Go type_spec into struct, interface, or type.
func goTypeSpecKind(node *sitter.Node) codemap.SymbolKind {
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return codemap.KindType
	}
	switch typeNode.Type() {
	case "struct_type":
		return codemap.KindStruct
	case "interface_type":
		return codemap.KindInterface
	default:
		return codemap.KindType
	}
}
