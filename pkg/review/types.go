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

// Package review turns retrieved context into a published PR review:
// prompt assembly, structured generation, noise filtering, publishing.
package review

import (
	"github.com/kraklabs/argus/pkg/codemap"
)

// Comment is one review finding anchored to a diff line.
type Comment struct {
	Path       codemap.FilePath `json:"path"`
	Line       int              `json:"line"`
	Severity   codemap.Severity `json:"severity"`
	Category   codemap.Category `json:"category"`
	Confidence float64          `json:"confidence"`
	Message    string           `json:"message"`
	// Suggestion is an optional replacement snippet.
	Suggestion string `json:"suggestion,omitempty"`
}

// Output is the generator's structured verdict.
type Output struct {
	Summary  string    `json:"summary"`
	Comments []Comment `json:"comments"`
}

// ValidSeverity reports whether a generator-supplied severity is known.
func ValidSeverity(s codemap.Severity) bool {
	switch s {
	case codemap.SeverityCritical, codemap.SeverityWarning,
		codemap.SeveritySuggestion, codemap.SeverityPraise:
		return true
	}
	return false
}

// severityRank orders findings most-blocking first.
func severityRank(s codemap.Severity) int {
	switch s {
	case codemap.SeverityCritical:
		return 0
	case codemap.SeverityWarning:
		return 1
	case codemap.SeveritySuggestion:
		return 2
	case codemap.SeverityPraise:
		return 3
	default:
		return 4
	}
}

// SeverityLabel renders the bracketed prefix a published comment carries.
func SeverityLabel(s codemap.Severity) string {
	switch s {
	case codemap.SeverityCritical:
		return "[CRITICAL]"
	case codemap.SeverityWarning:
		return "[WARNING]"
	case codemap.SeveritySuggestion:
		return "[SUGGESTION]"
	case codemap.SeverityPraise:
		return "[PRAISE]"
	default:
		return "[NOTE]"
	}
}
