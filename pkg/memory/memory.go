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

// Package memory maintains what the reviewer remembers about a codebase
// between runs: a structural outline and a bounded set of learned
// conventions, watermarked independently of the index.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
)

// Pattern categories.
const (
	CategoryStyle         = "style"
	CategoryNaming        = "naming"
	CategoryArchitecture  = "architecture"
	CategoryTesting       = "testing"
	CategoryErrorHandling = "error_handling"
	CategoryConcurrency   = "concurrency"
)

// Pattern storage invariants.
const (
	// MinConfidence is the floor below which a learned pattern is noise.
	MinConfidence = 0.3
	// MaxPatterns bounds the stored set.
	MaxPatterns = 30
)

// PatternEntry is one learned convention with supporting evidence.
type PatternEntry struct {
	Category    string   `json:"category"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"` // "path:start-end"
}

// OutlineFile is one file's line in the stored outline.
type OutlineFile struct {
	Path        codemap.FilePath `json:"path"`
	SymbolsText string           `json:"symbols_text"`
}

// Outline is the persisted structural outline.
type Outline struct {
	Files []OutlineFile `json:"files"`
}

// CodebaseMemory is the persisted memory artifact. AnalyzedAt is a
// watermark separate from the map's indexed_at: index runs that skip
// pattern analysis must not claim the patterns are current.
type CodebaseMemory struct {
	AnalyzedAt codemap.CommitSHA `json:"analyzed_at,omitempty"`
	Outline    Outline           `json:"outline"`
	Patterns   []PatternEntry    `json:"patterns"`
}

// BlobName derives the memory artifact name for a repository.
func BlobName(repoID string) string {
	sum := sha256.Sum256([]byte(repoID))
	return hex.EncodeToString(sum[:])[:16] + "_memory.json"
}

// Encode serializes memory for the data branch.
func Encode(mem *CodebaseMemory) ([]byte, error) {
	if mem.Patterns == nil {
		mem.Patterns = []PatternEntry{}
	}
	data, err := json.MarshalIndent(mem, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError("memory encode failed", "", "", err)
	}
	return data, nil
}

// Decode parses a memory blob.
func Decode(data []byte) (*CodebaseMemory, error) {
	var mem CodebaseMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, errors.NewStructuralError(
			"corrupt memory blob",
			"the memory artifact could not be parsed",
			"reanalyze with `argus bootstrap` to rebuild memory", err,
		)
	}
	return &mem, nil
}

// =============================================================================
// ANALYSIS STATE
// =============================================================================

// AnalysisPhase is where memory stands relative to the current HEAD.
type AnalysisPhase string

// Phases. Analyzing is transient and only ever observed inside a run.
const (
	PhaseAbsent    AnalysisPhase = "absent"
	PhaseAnalyzing AnalysisPhase = "analyzing"
	PhaseReady     AnalysisPhase = "ready"
	PhaseStale     AnalysisPhase = "stale"
)

// AnalysisState is computed on load and never written back.
type AnalysisState struct {
	Phase AnalysisPhase
	// BehindBy counts commits between analyzed_at and HEAD when the
	// distance function could compute it; -1 means unknown.
	BehindBy int
}

// StateOf classifies loaded memory against the current HEAD. distance may
// be nil when no commit history is available.
func StateOf(mem *CodebaseMemory, head codemap.CommitSHA, distance func(from, to codemap.CommitSHA) int) AnalysisState {
	if mem == nil || mem.AnalyzedAt == "" {
		return AnalysisState{Phase: PhaseAbsent}
	}
	if mem.AnalyzedAt == head {
		return AnalysisState{Phase: PhaseReady}
	}
	behind := -1
	if distance != nil {
		behind = distance(mem.AnalyzedAt, head)
	}
	return AnalysisState{Phase: PhaseStale, BehindBy: behind}
}
