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
	"context"
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/internal/ui"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/indexing"
	"github.com/kraklabs/argus/pkg/memory"
	"github.com/kraklabs/argus/pkg/store"
)

// statusReport is the machine-readable shape of 'argus status --json'.
type statusReport struct {
	Repository string `json:"repository,omitempty"`
	StorageDir string `json:"storage_dir"`
	HeadSHA    string `json:"head_sha,omitempty"`
	IndexedAt  string `json:"indexed_at,omitempty"`
	Shards     int    `json:"shards"`
	Files      int    `json:"files"`
	Memory     struct {
		Phase      string `json:"phase"`
		AnalyzedAt string `json:"analyzed_at,omitempty"`
		Patterns   int    `json:"patterns"`
	} `json:"memory"`
}

// runStatus executes the 'status' CLI command, summarizing the local
// artifact cache without touching the network.
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: argus status [options]

Description:
  Show what the local artifact cache holds: the cached manifest, its
  shard and file counts, and the state of the pattern memory relative
  to the current HEAD. Reads only the local cache; the data branch is
  never contacted.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  argus status
  argus status --json

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}
	secrets := LoadSecrets()
	logger := setupLogger(*debug, globals)

	cache, err := store.Open(cfg.StorageDir, logger)
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	report := statusReport{
		Repository: secrets.Repository,
		StorageDir: cache.Dir(),
	}
	report.Memory.Phase = string(memory.PhaseAbsent)

	manifest, err := cache.LoadManifest()
	if err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}
	if manifest != nil {
		report.IndexedAt = string(manifest.IndexedAt)
		report.Shards = len(manifest.Shards)
		for _, desc := range manifest.Shards {
			report.Files += desc.FileCount
		}
	}

	var head codemap.CommitSHA
	detector := indexing.NewGitDeltaDetector(".", logger)
	if detector.IsRepository(context.Background()) {
		if head, err = detector.Head(context.Background()); err == nil {
			report.HeadSHA = string(head)
		}
	}

	if secrets.Repository != "" {
		if data, err := cache.ReadBlob(memory.BlobName(secrets.Repository)); err == nil && data != nil {
			if mem, err := memory.Decode(data); err == nil {
				state := memory.StateOf(mem, head, nil)
				report.Memory.Phase = string(state.Phase)
				report.Memory.AnalyzedAt = string(mem.AnalyzedAt)
				report.Memory.Patterns = len(mem.Patterns)
			}
		}
	}

	if globals.JSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			errors.FatalError(errors.NewInternalError(
				"Cannot encode status",
				"JSON marshaling failed unexpectedly",
				"This is a bug. Please report it",
				err,
			), globals.Verbose > 0)
		}
		fmt.Println(string(out))
		return
	}

	ui.Header("Argus Status")
	if report.Repository != "" {
		fmt.Printf("%s %s\n", ui.Label("Repository:"), report.Repository)
	}
	fmt.Printf("%s %s\n", ui.Label("Cache:"), ui.DimText(report.StorageDir))
	fmt.Println()

	if report.IndexedAt == "" {
		ui.Warning("No cached manifest. Run 'argus bootstrap' or 'argus index' first.")
		return
	}

	fmt.Printf("Indexed At: %s\n", ui.DimText(report.IndexedAt))
	if report.HeadSHA != "" && report.HeadSHA != report.IndexedAt {
		ui.Warningf("HEAD has moved on (%s); run 'argus index' to catch up", shortStatusSHA(report.HeadSHA))
	}
	fmt.Printf("Shards: %s\n", ui.CountText(report.Shards))
	fmt.Printf("Files: %s\n", ui.CountText(report.Files))
	fmt.Println()

	switch memory.AnalysisPhase(report.Memory.Phase) {
	case memory.PhaseReady:
		fmt.Printf("Memory: %s %s\n", ui.Green("ready"),
			ui.DimText(fmt.Sprintf("(%d patterns)", report.Memory.Patterns)))
	case memory.PhaseStale:
		fmt.Printf("Memory: %s %s\n", ui.Yellow("stale"),
			ui.DimText(fmt.Sprintf("analyzed at %s", shortStatusSHA(report.Memory.AnalyzedAt))))
	default:
		fmt.Printf("Memory: %s\n", ui.DimText("absent"))
	}
}

func shortStatusSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
