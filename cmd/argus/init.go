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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/internal/ui"
)

// runInit executes the 'init' CLI command, writing a starter .argus.yaml
// in the current directory.
func runInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite existing configuration")
	model := fs.String("model", "", "LLM model name (default: gemini-2.0-flash)")
	depth := fs.String("review-depth", "", "Review depth: quick, standard, deep")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: argus init [options]

Description:
  Create a .argus.yaml configuration file in the current directory with
  sensible defaults. Secrets are never written to the file: GITHUB_TOKEN
  and GOOGLE_API_KEY always come from the environment.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  argus init
  argus init --model gemini-2.5-pro --review-depth deep
  argus init --force

Notes:
  Edit .argus.yaml afterwards to tune ignored paths, the confidence
  threshold, and pattern analysis.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"This is unexpected. Please report this issue if it persists",
			err,
		), globals.Verbose > 0)
	}

	configPath := filepath.Join(cwd, defaultConfigFile)
	if _, err := os.Stat(configPath); err == nil && !*force {
		errors.FatalError(errors.NewInputError(
			"Configuration already exists",
			fmt.Sprintf("%s already exists in this directory", configPath),
			"Use 'argus init --force' to overwrite the existing configuration",
			nil,
		), globals.Verbose > 0)
	}

	cfg := DefaultConfig()
	if *model != "" {
		cfg.Model = *model
	}
	if *depth != "" {
		cfg.ReviewDepth = *depth
	}
	if err := cfg.validate(); err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}

	if err := SaveConfig(cfg, configPath); err != nil {
		errors.FatalError(err, globals.Verbose > 0)
	}
	ui.Successf("Created %s", configPath)
	addToGitignore(cwd, cfg.StorageDir)

	fmt.Println()
	ui.SubHeader("Next steps:")
	fmt.Printf("  1. Review and edit %s if needed\n", ui.DimText(defaultConfigFile))
	fmt.Printf("  2. Export %s and %s\n", ui.Cyan("GITHUB_TOKEN"), ui.Cyan("GOOGLE_API_KEY"))
	fmt.Printf("  3. Run '%s' to build the first index\n", ui.Cyan("argus bootstrap"))
	fmt.Printf("  4. Run '%s' on a pull request\n", ui.Cyan("argus review --pr <n>"))
}

// addToGitignore appends the artifact cache directory to .gitignore if
// the file exists and does not already cover it.
func addToGitignore(dir, storageDir string) {
	gitignorePath := filepath.Join(dir, ".gitignore")

	content, err := os.ReadFile(gitignorePath) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return
	}

	entry := strings.TrimSuffix(storageDir, "/")
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == entry || line == entry+"/" || line == "/"+entry || line == "/"+entry+"/" {
			return
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}
	_, _ = f.WriteString("\n# argus artifact cache\n" + entry + "/\n")
	fmt.Printf("Added %s/ to .gitignore\n", entry)
}
