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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/argus/pkg/codemap"
)

func parseSource(t *testing.T, path codemap.FilePath, source string) (*codemap.FileEntry, []codemap.Edge) {
	t.Helper()
	p := NewTreeSitterParser(nil, nil)
	entry, edges, err := p.Parse(context.Background(), path, []byte(source))
	require.NoError(t, err, "parse should succeed for %s", path)
	require.NotNil(t, entry)
	return entry, edges
}

func findSymbol(symbols []codemap.Symbol, name string) *codemap.Symbol {
	for i := range symbols {
		if symbols[i].Name == name {
			return &symbols[i]
		}
	}
	return nil
}

func hasEdge(edges []codemap.Edge, source, target string, kind codemap.EdgeKind) bool {
	for _, e := range edges {
		if e.Source == source && e.Target == target && e.Kind == kind {
			return true
		}
	}
	return false
}

func TestParsePython(t *testing.T) {
	source := `import os
from a.x import f

class Greeter(Base):
    def greet(self, name):
        return f(name)

def main():
    g = Greeter()
    g.greet("hi")
`
	entry, edges := parseSource(t, "a/y.py", source)

	assert.Equal(t, "python", entry.Language)
	assert.NotEmpty(t, entry.ContentHash)

	greeter := findSymbol(entry.Symbols, "Greeter")
	require.NotNil(t, greeter, "should extract class Greeter")
	assert.Equal(t, codemap.KindClass, greeter.Kind)
	assert.Equal(t, "a/y.py:Greeter", greeter.QualifiedName)
	assert.Equal(t, 4, greeter.StartLine)

	greet := findSymbol(entry.Symbols, "greet")
	require.NotNil(t, greet, "should extract method greet")
	assert.Equal(t, codemap.KindMethod, greet.Kind)
	assert.Equal(t, "a/y.py:Greeter.greet", greet.QualifiedName)
	assert.Contains(t, greet.Signature, "def greet(self, name)")

	main := findSymbol(entry.Symbols, "main")
	require.NotNil(t, main)
	assert.Equal(t, codemap.KindFunction, main.Kind)

	assert.Equal(t, []string{"os", "a.x"}, entry.Imports)
	assert.Equal(t, []string{"Greeter", "main"}, entry.Exports)

	assert.True(t, hasEdge(edges, "a/y.py", "os", codemap.EdgeImports))
	assert.True(t, hasEdge(edges, "a/y.py", "a.x", codemap.EdgeImports))
	assert.True(t, hasEdge(edges, "a/y.py:Greeter", "Base", codemap.EdgeExtends))
	assert.True(t, hasEdge(edges, "a/y.py:Greeter.greet", "f", codemap.EdgeCalls))
	assert.True(t, hasEdge(edges, "a/y.py:main", "g.greet", codemap.EdgeCalls))
}

func TestParseGo(t *testing.T) {
	source := `package server

import (
	"fmt"
)

const MaxRetries = 3

type Handler struct {
	name string
}

type Reader interface {
	Read() error
}

func New(name string) *Handler {
	return &Handler{name: name}
}

func (h *Handler) Serve() error {
	fmt.Println(h.name)
	return nil
}
`
	entry, edges := parseSource(t, "pkg/server.go", source)

	assert.Equal(t, "go", entry.Language)

	handler := findSymbol(entry.Symbols, "Handler")
	require.NotNil(t, handler)
	assert.Equal(t, codemap.KindStruct, handler.Kind)

	reader := findSymbol(entry.Symbols, "Reader")
	require.NotNil(t, reader)
	assert.Equal(t, codemap.KindInterface, reader.Kind)

	maxRetries := findSymbol(entry.Symbols, "MaxRetries")
	require.NotNil(t, maxRetries)
	assert.Equal(t, codemap.KindConstant, maxRetries.Kind)

	serve := findSymbol(entry.Symbols, "Serve")
	require.NotNil(t, serve, "should extract method Serve")
	assert.Equal(t, codemap.KindMethod, serve.Kind)
	assert.Equal(t, "pkg/server.go:Handler.Serve", serve.QualifiedName)

	newFn := findSymbol(entry.Symbols, "New")
	require.NotNil(t, newFn)
	assert.Equal(t, codemap.KindFunction, newFn.Kind)

	assert.Equal(t, []string{"fmt"}, entry.Imports)
	assert.True(t, hasEdge(edges, "pkg/server.go:Handler.Serve", "fmt.Println", codemap.EdgeCalls))
}

func TestParseTypeScript(t *testing.T) {
	source := `import { Logger } from "./logger";

export interface Store {
  get(key: string): string;
}

export class MemoryStore implements Store {
  get(key: string): string {
    return this.data[key];
  }
}

export enum Mode {
  Fast,
  Slow,
}

export type Alias = string;

export function open(path: string): Store {
  return new MemoryStore();
}
`
	entry, edges := parseSource(t, "src/store.ts", source)

	assert.Equal(t, "typescript", entry.Language)

	store := findSymbol(entry.Symbols, "Store")
	require.NotNil(t, store)
	assert.Equal(t, codemap.KindInterface, store.Kind)

	mem := findSymbol(entry.Symbols, "MemoryStore")
	require.NotNil(t, mem)
	assert.Equal(t, codemap.KindClass, mem.Kind)

	get := findSymbol(entry.Symbols, "get")
	require.NotNil(t, get, "should extract class method")
	assert.Equal(t, "src/store.ts:MemoryStore.get", get.QualifiedName)

	mode := findSymbol(entry.Symbols, "Mode")
	require.NotNil(t, mode)
	assert.Equal(t, codemap.KindEnum, mode.Kind)

	alias := findSymbol(entry.Symbols, "Alias")
	require.NotNil(t, alias)
	assert.Equal(t, codemap.KindType, alias.Kind)

	assert.Equal(t, []string{"./logger"}, entry.Imports)
	assert.Contains(t, entry.Exports, "Store")
	assert.Contains(t, entry.Exports, "MemoryStore")
	assert.Contains(t, entry.Exports, "open")

	assert.True(t, hasEdge(edges, "src/store.ts:MemoryStore", "Store", codemap.EdgeImplements))
}

func TestParseTSX(t *testing.T) {
	source := `export function App() {
  return <div className="app" />;
}
`
	entry, _ := parseSource(t, "web/app.tsx", source)

	assert.Equal(t, "typescript", entry.Language)
	app := findSymbol(entry.Symbols, "App")
	require.NotNil(t, app, "tsx grammar should handle JSX")
	assert.Equal(t, codemap.KindFunction, app.Kind)
}

func TestParseRust(t *testing.T) {
	source := `use std::fmt;

pub struct Point {
    x: i32,
}

pub trait Render {
    fn draw(&self);
}

impl Render for Point {
    fn draw(&self) {
        print(self.x);
    }
}

pub fn origin() -> Point {
    Point { x: 0 }
}
`
	entry, edges := parseSource(t, "src/lib.rs", source)

	assert.Equal(t, "rust", entry.Language)

	point := findSymbol(entry.Symbols, "Point")
	require.NotNil(t, point)
	assert.Equal(t, codemap.KindStruct, point.Kind)

	render := findSymbol(entry.Symbols, "Render")
	require.NotNil(t, render)
	assert.Equal(t, codemap.KindInterface, render.Kind)

	draw := findSymbol(entry.Symbols, "draw")
	require.NotNil(t, draw, "impl methods should carry the type prefix")
	assert.Equal(t, codemap.KindMethod, draw.Kind)
	assert.Equal(t, "src/lib.rs:Point.draw", draw.QualifiedName)

	assert.Equal(t, []string{"std::fmt"}, entry.Imports)
	assert.True(t, hasEdge(edges, "src/lib.rs:Point", "Render", codemap.EdgeImplements))
	assert.True(t, hasEdge(edges, "src/lib.rs:Point.draw", "print", codemap.EdgeCalls))
}

func TestParseJavaScriptClass(t *testing.T) {
	source := `import util from "./util";

class Queue {
  push(item) {
    util.log(item);
  }
}

function drain(q) {
  q.push(1);
}
`
	entry, edges := parseSource(t, "lib/queue.js", source)

	assert.Equal(t, "javascript", entry.Language)

	push := findSymbol(entry.Symbols, "push")
	require.NotNil(t, push)
	assert.Equal(t, "lib/queue.js:Queue.push", push.QualifiedName)

	assert.Equal(t, []string{"./util"}, entry.Imports)
	assert.True(t, hasEdge(edges, "lib/queue.js:Queue.push", "util.log", codemap.EdgeCalls))
	assert.True(t, hasEdge(edges, "lib/queue.js:drain", "q.push", codemap.EdgeCalls))
}

func TestParseUnsupportedExtension(t *testing.T) {
	p := NewTreeSitterParser(nil, nil)

	assert.False(t, p.Supports("README.md"))
	assert.Empty(t, p.LanguageOf("README.md"))

	entry, edges, err := p.Parse(context.Background(), "README.md", []byte("# title"))
	assert.Error(t, err)
	assert.Nil(t, entry)
	assert.Nil(t, edges)
}

func TestParseExtraExtensions(t *testing.T) {
	p := NewTreeSitterParser(nil, map[string]string{
		"pyx":  "python",
		".cjs": "javascript",
		".xyz": "nosuchlang",
	})

	assert.True(t, p.Supports("fast/native.pyx"))
	assert.Equal(t, "python", p.LanguageOf("fast/native.pyx"))
	assert.True(t, p.Supports("lib/index.cjs"))
	assert.False(t, p.Supports("data/blob.xyz"), "unknown target language is ignored")

	entry, _, err := p.Parse(context.Background(), "fast/native.pyx", []byte("def fast():\n    pass\n"))
	require.NoError(t, err, "parse should succeed for fast/native.pyx")
	require.NotNil(t, entry)
	require.NotNil(t, findSymbol(entry.Symbols, "fast"))
}

func TestParseBrokenSourceDegrades(t *testing.T) {
	source := "def broken(:\n    pass\n\ndef ok():\n    return 1\n"

	entry, _ := parseSource(t, "bad.py", source)
	assert.Equal(t, "python", entry.Language)
	assert.NotEmpty(t, entry.ContentHash, "hash recorded even for broken syntax")
}

func TestChunkFileAtSymbolBoundaries(t *testing.T) {
	content := "def a():\n    return 1\n\ndef b():\n    return 2\n"
	symbols := []codemap.Symbol{
		{Name: "a", QualifiedName: "f.py:a", StartLine: 1, EndLine: 2},
		{Name: "b", QualifiedName: "f.py:b", StartLine: 4, EndLine: 5},
	}

	chunks := ChunkFile("f.py", content, symbols)
	require.Len(t, chunks, 2)

	assert.Equal(t, "def a():\n    return 1\n", chunks[0].Content)
	assert.Equal(t, "a", chunks[0].SymbolName)
	assert.Equal(t, "f.py:a", chunks[0].Qualified)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
	assert.GreaterOrEqual(t, int(chunks[0].TokenCost), 1)

	assert.Equal(t, "def b():\n    return 2\n", chunks[1].Content)
}

func TestChunkFileWholeFileFallback(t *testing.T) {
	content := "x = 1\ny = 2\n"

	chunks := ChunkFile("conf.py", content, nil)
	require.Len(t, chunks, 1)

	assert.Equal(t, ModuleChunkName, chunks[0].SymbolName)
	assert.Equal(t, content, chunks[0].Content)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
}

func TestChunkFileEmptyContent(t *testing.T) {
	chunks := ChunkFile("empty.py", "", nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, codemap.TokenCount(1), chunks[0].TokenCost, "token cost floors at 1")
}
