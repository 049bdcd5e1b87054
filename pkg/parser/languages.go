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

package parser

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	tsc "github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/kraklabs/argus/pkg/codemap"
)

// Language names as stored in FileEntry.Language.
const (
	LangPython     = "python"
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
	LangGo         = "go"
	LangRust       = "rust"
	LangJava       = "java"
	LangC          = "c"
	LangCPP        = "cpp"
	LangRuby       = "ruby"
	LangKotlin     = "kotlin"
	LangSwift      = "swift"
)

// extensionToLanguage is the closed table of built-in extensions.
var extensionToLanguage = map[string]string{
	".py":    LangPython,
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".ts":    LangTypeScript,
	".tsx":   LangTypeScript,
	".go":    LangGo,
	".rs":    LangRust,
	".java":  LangJava,
	".c":     LangC,
	".h":     LangC,
	".cpp":   LangCPP,
	".cc":    LangCPP,
	".cxx":   LangCPP,
	".hpp":   LangCPP,
	".rb":    LangRuby,
	".kt":    LangKotlin,
	".kts":   LangKotlin,
	".swift": LangSwift,
}

// nodeSet is a membership set of tree-sitter node type names.
type nodeSet map[string]struct{}

func newNodeSet(types ...string) nodeSet {
	s := make(nodeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (s nodeSet) has(t string) bool {
	_, ok := s[t]
	return ok
}

// languageSpec describes how to walk one grammar: which node types carry
// callables, containers, type declarations, imports, and calls, plus the
// field name that locates a call's callee.
type languageSpec struct {
	name    string
	grammar *sitter.Language

	// callables map node types to the symbol kind emitted outside a
	// container. Inside a container the kind is always method.
	callables map[string]codemap.SymbolKind

	// containers are named scopes whose members get a "Name." prefix.
	// A container mapped to the empty kind contributes its prefix but
	// emits no symbol of its own (Rust impl blocks).
	containers map[string]codemap.SymbolKind

	// typeDecls are leaf declarations (type aliases, const specs).
	typeDecls map[string]codemap.SymbolKind

	// unwrap nodes are transparent wrappers walked as if absent
	// (decorators, export statements, grouped declarations).
	unwrap nodeSet

	imports nodeSet

	// heritage maps clause node types inside a container to the edge
	// kind drawn from the container to each referenced base type.
	heritage map[string]codemap.EdgeKind

	// callNode/callField locate invocations and their callee.
	callNode  string
	callField string
}

// grammarKey returns the pool key and spec for a path's grammar. TSX files
// share the typescript language name but need the tsx grammar.
func grammarKey(language string, ext string) string {
	if language == LangTypeScript && ext == ".tsx" {
		return "tsx"
	}
	return language
}

// languageForExt resolves an extension (lowercased, with dot) against the
// built-in table, then against the configured extra-extensions mapping.
func languageForExt(ext string, extra map[string]string) (string, bool) {
	if lang, ok := extensionToLanguage[ext]; ok {
		return lang, true
	}
	if lang, ok := extra[ext]; ok {
		if _, known := languageSpecs[lang]; known {
			return lang, true
		}
	}
	return "", false
}

// extOf returns the lowercased extension of a repository path.
func extOf(p codemap.FilePath) string {
	return strings.ToLower(path.Ext(string(p)))
}

var languageSpecs = map[string]*languageSpec{
	LangPython: {
		name:    LangPython,
		grammar: python.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"function_definition": codemap.KindFunction,
		},
		containers: map[string]codemap.SymbolKind{
			"class_definition": codemap.KindClass,
		},
		unwrap:  newNodeSet("decorated_definition"),
		imports: newNodeSet("import_statement", "import_from_statement"),
		heritage: map[string]codemap.EdgeKind{
			"argument_list": codemap.EdgeExtends,
		},
		callNode:  "call",
		callField: "function",
	},
	LangJavaScript: {
		name:    LangJavaScript,
		grammar: javascript.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"function_declaration":           codemap.KindFunction,
			"generator_function_declaration": codemap.KindFunction,
			"method_definition":              codemap.KindMethod,
		},
		containers: map[string]codemap.SymbolKind{
			"class_declaration": codemap.KindClass,
		},
		unwrap:  newNodeSet("export_statement", "class_body"),
		imports: newNodeSet("import_statement"),
		heritage: map[string]codemap.EdgeKind{
			"class_heritage": codemap.EdgeExtends,
		},
		callNode:  "call_expression",
		callField: "function",
	},
	LangTypeScript: {
		name:    LangTypeScript,
		grammar: typescript.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"function_declaration":           codemap.KindFunction,
			"generator_function_declaration": codemap.KindFunction,
			"method_definition":              codemap.KindMethod,
		},
		containers: map[string]codemap.SymbolKind{
			"class_declaration":          codemap.KindClass,
			"abstract_class_declaration": codemap.KindClass,
			"interface_declaration":      codemap.KindInterface,
		},
		typeDecls: map[string]codemap.SymbolKind{
			"enum_declaration":       codemap.KindEnum,
			"type_alias_declaration": codemap.KindType,
		},
		unwrap:  newNodeSet("export_statement", "class_body", "ambient_declaration"),
		imports: newNodeSet("import_statement"),
		heritage: map[string]codemap.EdgeKind{
			"extends_clause":      codemap.EdgeExtends,
			"implements_clause":   codemap.EdgeImplements,
			"extends_type_clause": codemap.EdgeExtends,
		},
		callNode:  "call_expression",
		callField: "function",
	},
	LangGo: {
		name:    LangGo,
		grammar: golang.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"function_declaration": codemap.KindFunction,
			"method_declaration":   codemap.KindMethod,
		},
		typeDecls: map[string]codemap.SymbolKind{
			"type_spec":  codemap.KindType,
			"const_spec": codemap.KindConstant,
		},
		unwrap: newNodeSet(
			"type_declaration", "const_declaration",
			"import_declaration", "import_spec_list",
		),
		imports:   newNodeSet("import_spec"),
		callNode:  "call_expression",
		callField: "function",
	},
	LangRust: {
		name:    LangRust,
		grammar: rust.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"function_item": codemap.KindFunction,
		},
		containers: map[string]codemap.SymbolKind{
			"struct_item": codemap.KindStruct,
			"enum_item":   codemap.KindEnum,
			"trait_item":  codemap.KindInterface,
			"impl_item":   "", // prefix only; the struct declares the symbol
			"mod_item":    codemap.KindType,
		},
		typeDecls: map[string]codemap.SymbolKind{
			"type_item":  codemap.KindType,
			"const_item": codemap.KindConstant,
		},
		unwrap:    newNodeSet("declaration_list"),
		imports:   newNodeSet("use_declaration"),
		callNode:  "call_expression",
		callField: "function",
	},
	LangJava: {
		name:    LangJava,
		grammar: java.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"method_declaration":      codemap.KindMethod,
			"constructor_declaration": codemap.KindMethod,
		},
		containers: map[string]codemap.SymbolKind{
			"class_declaration":     codemap.KindClass,
			"interface_declaration": codemap.KindInterface,
			"enum_declaration":      codemap.KindEnum,
			"record_declaration":    codemap.KindClass,
		},
		unwrap:  newNodeSet("class_body", "interface_body", "enum_body"),
		imports: newNodeSet("import_declaration"),
		heritage: map[string]codemap.EdgeKind{
			"superclass":         codemap.EdgeExtends,
			"super_interfaces":   codemap.EdgeImplements,
			"extends_interfaces": codemap.EdgeExtends,
		},
		callNode:  "method_invocation",
		callField: "name",
	},
	LangC: {
		name:    LangC,
		grammar: tsc.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"function_definition": codemap.KindFunction,
		},
		containers: map[string]codemap.SymbolKind{
			"struct_specifier": codemap.KindStruct,
			"enum_specifier":   codemap.KindEnum,
		},
		typeDecls: map[string]codemap.SymbolKind{
			"type_definition": codemap.KindType,
		},
		imports:   newNodeSet("preproc_include"),
		callNode:  "call_expression",
		callField: "function",
	},
	LangCPP: {
		name:    LangCPP,
		grammar: cpp.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"function_definition": codemap.KindFunction,
		},
		containers: map[string]codemap.SymbolKind{
			"class_specifier":      codemap.KindClass,
			"struct_specifier":     codemap.KindStruct,
			"enum_specifier":       codemap.KindEnum,
			"namespace_definition": "", // prefix only
		},
		typeDecls: map[string]codemap.SymbolKind{
			"type_definition":   codemap.KindType,
			"alias_declaration": codemap.KindType,
		},
		unwrap:  newNodeSet("template_declaration", "field_declaration_list", "declaration_list"),
		imports: newNodeSet("preproc_include"),
		heritage: map[string]codemap.EdgeKind{
			"base_class_clause": codemap.EdgeExtends,
		},
		callNode:  "call_expression",
		callField: "function",
	},
	LangRuby: {
		name:    LangRuby,
		grammar: ruby.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"method":           codemap.KindFunction,
			"singleton_method": codemap.KindFunction,
		},
		containers: map[string]codemap.SymbolKind{
			"class":  codemap.KindClass,
			"module": codemap.KindClass,
		},
		unwrap: newNodeSet("body_statement"),
		heritage: map[string]codemap.EdgeKind{
			"superclass": codemap.EdgeExtends,
		},
		callNode:  "call",
		callField: "method",
	},
	LangKotlin: {
		name:    LangKotlin,
		grammar: kotlin.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"function_declaration": codemap.KindFunction,
		},
		containers: map[string]codemap.SymbolKind{
			"class_declaration":  codemap.KindClass,
			"object_declaration": codemap.KindClass,
		},
		unwrap:    newNodeSet("class_body"),
		imports:   newNodeSet("import_header"),
		callNode:  "call_expression",
		callField: "",
	},
	LangSwift: {
		name:    LangSwift,
		grammar: swift.GetLanguage(),
		callables: map[string]codemap.SymbolKind{
			"function_declaration": codemap.KindFunction,
			"init_declaration":     codemap.KindMethod,
		},
		containers: map[string]codemap.SymbolKind{
			"class_declaration":    codemap.KindClass,
			"protocol_declaration": codemap.KindInterface,
		},
		unwrap:    newNodeSet("class_body", "protocol_body"),
		imports:   newNodeSet("import_declaration"),
		callNode:  "call_expression",
		callField: "",
	},
	// TSX shares the TypeScript spec with its own grammar.
	"tsx": nil,
}

func init() {
	ts := languageSpecs[LangTypeScript]
	tsxSpec := *ts
	tsxSpec.grammar = tsx.GetLanguage()
	languageSpecs["tsx"] = &tsxSpec
}
