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

package main

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/argus/pkg/indexing"
)

// ProgressConfig controls progress bar rendering.
type ProgressConfig struct {
	Enabled bool
	NoColor bool
}

// NewProgressConfig derives progress settings from the global flags.
// Quiet and JSON modes disable bars entirely.
func NewProgressConfig(globals GlobalFlags) ProgressConfig {
	return ProgressConfig{
		Enabled: !globals.Quiet && !globals.JSON,
		NoColor: globals.NoColor,
	}
}

// NewProgressBar creates a progress bar for one phase, or nil when
// progress output is disabled.
func NewProgressBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	if !cfg.Enabled {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(!cfg.NoColor),
	)
}

// attachProgress hooks a per-phase progress bar onto the index service.
// The returned finish func must run after the build completes.
func attachProgress(svc *indexing.Service, cfg ProgressConfig) (finish func()) {
	var currentBar *progressbar.ProgressBar
	var currentPhase string

	svc.SetProgressCallback(func(current, total int64, phase string) {
		if phase != currentPhase {
			if currentBar != nil {
				_ = currentBar.Finish()
			}
			currentPhase = phase
			currentBar = NewProgressBar(cfg, total, phaseDescription(phase))
		}
		if currentBar != nil {
			_ = currentBar.Set64(current)
		}
	})

	return func() {
		if currentBar != nil {
			_ = currentBar.Finish()
		}
	}
}

// phaseDescription returns a human-readable label for a build phase.
func phaseDescription(phase string) string {
	switch phase {
	case "parsing":
		return "Parsing files"
	default:
		return phase
	}
}
