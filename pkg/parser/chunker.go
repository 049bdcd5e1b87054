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
	"strings"

	"github.com/kraklabs/argus/pkg/codemap"
)

// ModuleChunkName labels the whole-file chunk used when a file has no
// extracted symbols.
const ModuleChunkName = "<module>"

// CodeChunk is a slice of source at a symbol boundary, the unit indexed
// by the lexical and semantic retrieval strategies.
type CodeChunk struct {
	Source     codemap.FilePath
	SymbolName string
	Qualified  string
	StartLine  int
	EndLine    int
	Content    string
	TokenCost  codemap.TokenCount
}

// ChunkFile splits a file into one chunk per symbol. Files without
// symbols yield a single whole-file chunk named ModuleChunkName.
func ChunkFile(path codemap.FilePath, content string, symbols []codemap.Symbol) []CodeChunk {
	lines := strings.SplitAfter(content, "\n")
	lineCount := len(lines)
	if lineCount > 0 && lines[lineCount-1] == "" {
		lineCount--
	}

	if len(symbols) == 0 {
		return []CodeChunk{makeChunk(
			path, ModuleChunkName, codemap.QualifyName(path, ModuleChunkName),
			1, lineCount, content,
		)}
	}

	chunks := make([]CodeChunk, 0, len(symbols))
	for _, sym := range symbols {
		start := sym.StartLine - 1
		end := sym.EndLine
		if start < 0 {
			start = 0
		}
		if end > lineCount {
			end = lineCount
		}
		if start >= end {
			continue
		}
		text := strings.Join(lines[start:end], "")
		chunks = append(chunks, makeChunk(
			path, sym.Name, sym.QualifiedName,
			sym.StartLine, sym.EndLine, text,
		))
	}
	return chunks
}

func makeChunk(path codemap.FilePath, name, qualified string, start, end int, content string) CodeChunk {
	cost := codemap.EstimateTokens(content)
	if cost < 1 {
		cost = 1
	}
	return CodeChunk{
		Source:     path,
		SymbolName: name,
		Qualified:  qualified,
		StartLine:  start,
		EndLine:    end,
		Content:    content,
		TokenCost:  cost,
	}
}
