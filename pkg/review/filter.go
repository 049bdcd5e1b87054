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

package review

import (
	"path/filepath"
	"sort"

	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
)

// Noise policy defaults.
const (
	// DefaultConfidenceThreshold drops findings the model itself is not
	// sure about.
	DefaultConfidenceThreshold = 0.7
	// MaxInlineComments caps a single review; a wall of comments is
	// noise no matter how confident each one is.
	MaxInlineComments = 50
)

// NoiseFilter prunes generator output before publication.
type NoiseFilter struct {
	threshold    float64
	ignoredGlobs []string
	logger       *slog.Logger
}

// NewNoiseFilter builds the filter. threshold <= 0 selects the default.
func NewNoiseFilter(threshold float64, ignoredGlobs []string, logger *slog.Logger) *NoiseFilter {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NoiseFilter{threshold: threshold, ignoredGlobs: ignoredGlobs, logger: logger}
}

// Apply returns the comments worth publishing: confident, not on ignored
// paths, capped at MaxInlineComments keeping the most blocking findings.
// The summary always survives filtering.
func (f *NoiseFilter) Apply(out *Output) *Output {
	kept := make([]Comment, 0, len(out.Comments))
	lowConfidence, ignored := 0, 0
	for _, c := range out.Comments {
		if c.Confidence < f.threshold {
			lowConfidence++
			continue
		}
		if f.pathIgnored(string(c.Path)) {
			ignored++
			continue
		}
		kept = append(kept, c)
	}

	// Stable severity-major order so the cap cuts the least blocking
	// findings first.
	sort.SliceStable(kept, func(i, j int) bool {
		ri, rj := severityRank(kept[i].Severity), severityRank(kept[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return kept[i].Confidence > kept[j].Confidence
	})
	capped := 0
	if len(kept) > MaxInlineComments {
		capped = len(kept) - MaxInlineComments
		kept = kept[:MaxInlineComments]
	}

	f.logger.Info("review.filter.complete",
		"kept", len(kept),
		"low_confidence", lowConfidence,
		"ignored_path", ignored,
		"capped", capped,
	)
	return &Output{Summary: out.Summary, Comments: kept}
}

func (f *NoiseFilter) pathIgnored(path string) bool {
	normalized := filepath.ToSlash(path)
	for _, glob := range f.ignoredGlobs {
		if ok, err := doublestar.Match(glob, normalized); err == nil && ok {
			return true
		}
	}
	return false
}
