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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/llm"
	"github.com/kraklabs/argus/pkg/parser"
)

// Agentic exploration limits.
const (
	agenticMaxIterations = 8
	agenticWallClock     = 90 * time.Second

	// Self-reported relevances are clamped: anything the model bothered
	// to return is at least plausibly relevant, nothing is certain.
	agenticScoreFloor = 0.5
	agenticScoreCeil  = 1.0
)

// maxToolResultChars truncates oversized tool outputs in the transcript.
const maxToolResultChars = 4000

// FileReader loads a repo-relative file from the checkout.
type FileReader func(path codemap.FilePath) (string, error)

// Agentic lets the model explore the codebase through three tools —
// find_symbol, read_file, list_dependents — and report what it found
// relevant. Only active when enable_agentic is set.
type Agentic struct {
	client   llm.Client
	m        *codemap.CodebaseMap
	chunks   []parser.CodeChunk
	readFile FileReader
	logger   *slog.Logger
}

// NewAgentic wires the exploration strategy.
func NewAgentic(client llm.Client, m *codemap.CodebaseMap, chunks []parser.CodeChunk, readFile FileReader, logger *slog.Logger) *Agentic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agentic{client: client, m: m, chunks: chunks, readFile: readFile, logger: logger}
}

// Name implements Strategy.
func (a *Agentic) Name() string { return StrategyAgentic }

// agenticTurn is what the model returns each iteration: either a tool
// call or the final findings.
type agenticTurn struct {
	Action   string          `json:"action"` // "call" or "finish"
	Tool     string          `json:"tool,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Findings []agenticItem   `json:"findings,omitempty"`
}

type agenticItem struct {
	Path      string  `json:"path"`
	Symbol    string  `json:"symbol,omitempty"`
	Relevance float64 `json:"relevance"`
	Reason    string  `json:"reason,omitempty"`
}

const agenticSystemPrompt = `You are exploring a codebase to find context relevant to a code change.
You have three tools. Respond with exactly one JSON object per turn.

To call a tool:
  {"action": "call", "tool": "find_symbol", "args": {"name": "<symbol name>"}}
  {"action": "call", "tool": "read_file", "args": {"path": "<path>", "start": <line>, "end": <line>}}
  {"action": "call", "tool": "list_dependents", "args": {"symbol": "<qualified name>"}}

When you have enough context, finish:
  {"action": "finish", "findings": [{"path": "<path>", "symbol": "<qualified name>", "relevance": 0.0-1.0, "reason": "<one line>"}]}

Prefer few, high-value findings over many weak ones.`

// Retrieve runs the exploration loop under iteration and wall-clock caps.
// A loop that never finishes contributes nothing; the run continues.
func (a *Agentic) Retrieve(ctx context.Context, q *Query) ([]ContextItem, error) {
	ctx, cancel := context.WithTimeout(ctx, agenticWallClock)
	defer cancel()

	var transcript strings.Builder
	transcript.WriteString(agenticSystemPrompt)
	transcript.WriteString("\n\nThe change under review:\n")
	transcript.WriteString(a.describeChange(q))

	for iteration := 0; iteration < agenticMaxIterations; iteration++ {
		raw, err := a.client.GenerateJSON(ctx, transcript.String())
		if err != nil {
			return nil, err
		}

		var turn agenticTurn
		if err := json.Unmarshal(raw, &turn); err != nil {
			a.logger.Warn("retrieve.agentic.malformed_turn", "iteration", iteration)
			return nil, nil
		}

		if turn.Action == "finish" {
			a.logger.Info("retrieve.agentic.complete", "iterations", iteration+1, "findings", len(turn.Findings))
			return a.toItems(turn.Findings), nil
		}

		result := a.dispatch(turn)
		fmt.Fprintf(&transcript, "\n\nTool call: %s %s\nResult:\n%s", turn.Tool, string(turn.Args), truncate(result, maxToolResultChars))
	}

	a.logger.Warn("retrieve.agentic.iteration_cap", "cap", agenticMaxIterations)
	return nil, nil
}

func (a *Agentic) describeChange(q *Query) string {
	var b strings.Builder
	if q.Summary != "" {
		b.WriteString(q.Summary)
		b.WriteByte('\n')
	}
	if len(q.ChangedFiles) > 0 {
		fmt.Fprintf(&b, "Changed files: %s\n", joinPaths(q.ChangedFiles))
	}
	if len(q.ChangedSymbols) > 0 {
		fmt.Fprintf(&b, "Changed symbols: %s\n", strings.Join(q.ChangedSymbols, ", "))
	}
	return b.String()
}

// dispatch executes one tool call; unknown tools and bad arguments report
// as errors in the transcript so the model can correct itself.
func (a *Agentic) dispatch(turn agenticTurn) string {
	switch turn.Tool {
	case "find_symbol":
		var args struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(turn.Args, &args); err != nil || args.Name == "" {
			return "error: find_symbol needs {\"name\": ...}"
		}
		return a.findSymbol(args.Name)
	case "read_file":
		var args struct {
			Path  string `json:"path"`
			Start int    `json:"start"`
			End   int    `json:"end"`
		}
		if err := json.Unmarshal(turn.Args, &args); err != nil || args.Path == "" {
			return "error: read_file needs {\"path\": ..., \"start\": ..., \"end\": ...}"
		}
		return a.readRange(codemap.FilePath(args.Path), args.Start, args.End)
	case "list_dependents":
		var args struct {
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(turn.Args, &args); err != nil || args.Symbol == "" {
			return "error: list_dependents needs {\"symbol\": ...}"
		}
		return a.listDependents(args.Symbol)
	default:
		return "error: unknown tool " + turn.Tool
	}
}

func (a *Agentic) findSymbol(name string) string {
	var b strings.Builder
	for _, c := range a.chunks {
		if c.SymbolName == name || c.Qualified == name || strings.HasSuffix(c.Qualified, ":"+name) {
			fmt.Fprintf(&b, "%s (%s L%d-%d):\n%s\n", c.Qualified, c.Source, c.StartLine, c.EndLine, c.Content)
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	if path, sym, ok := a.m.LookupSymbol(name); ok {
		return fmt.Sprintf("%s defined in %s L%d-%d (%s), source not loaded", sym.QualifiedName, path, sym.StartLine, sym.EndLine, sym.Kind)
	}
	return "no symbol named " + name
}

func (a *Agentic) readRange(path codemap.FilePath, start, end int) string {
	if a.readFile == nil {
		return "error: file contents unavailable"
	}
	content, err := a.readFile(path)
	if err != nil {
		return "error: cannot read " + string(path)
	}
	lines := strings.Split(content, "\n")
	if start < 1 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return "error: start past end of file"
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i, lines[i-1])
	}
	return b.String()
}

func (a *Agentic) listDependents(symbol string) string {
	var names []string
	for _, e := range a.m.Edges() {
		if e.Target == symbol || strings.HasSuffix(e.Target, ":"+symbol) {
			names = append(names, fmt.Sprintf("%s (%s)", e.Source, e.Kind))
		}
	}
	if len(names) == 0 {
		return "no dependents of " + symbol
	}
	return strings.Join(names, "\n")
}

func (a *Agentic) toItems(findings []agenticItem) []ContextItem {
	byQualified := make(map[string]parser.CodeChunk, len(a.chunks))
	for _, c := range a.chunks {
		byQualified[c.Qualified] = c
	}

	items := make([]ContextItem, 0, len(findings))
	for _, f := range findings {
		if f.Path == "" {
			continue
		}
		score := f.Relevance
		if score < agenticScoreFloor {
			score = agenticScoreFloor
		}
		if score > agenticScoreCeil {
			score = agenticScoreCeil
		}
		item := ContextItem{
			Path:       codemap.FilePath(f.Path),
			Symbol:     f.Symbol,
			Score:      score,
			Strategies: []string{StrategyAgentic},
		}
		if c, ok := byQualified[f.Symbol]; ok {
			item.StartLine = c.StartLine
			item.EndLine = c.EndLine
			item.Content = c.Content
		} else {
			item.Content = f.Reason
			if item.Content == "" {
				item.Content = f.Path + " " + f.Symbol
			}
		}
		items = append(items, item)
	}
	return items
}

func joinPaths(paths []codemap.FilePath) string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = string(p)
	}
	return strings.Join(out, ", ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}
