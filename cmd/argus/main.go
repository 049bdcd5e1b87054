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
// Package main implements the argus CLI, an automated pull request
// reviewer that keeps its codebase index on an orphan data branch.
//
// Usage:
//
//	argus init                    Create .argus.yaml configuration
//	argus bootstrap               Build the first full index and push it
//	argus index                   Incrementally update the index
//	argus review --pr <n>         Review a pull request
//	argus status [--json]         Show local artifact cache status
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/argus/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool // Output in JSON format (for applicable commands)
	NoColor bool // Disable color output
	Verbose int  // Verbosity level: 0=normal, 1=-v (info), 2=-vv (debug)
	Quiet   bool // Suppress non-essential output (progress, info messages)
}

// main parses global flags and dispatches to a command handler. Without
// a positional command the mode comes from ARGUS_MODE, the convention a
// GitHub Actions step uses, and defaults to review.
func main() {
	// Global flags with short forms
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .argus.yaml (default: search upward from cwd)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	// Stop parsing at the first non-flag argument (the command name) so
	// subcommand flags like "review --pr 7" reach the subcommand parser.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `argus - automated pull request reviewer

argus indexes a repository into sharded artifacts stored on an orphan
git branch, then reviews pull requests with retrieval-grounded LLM
comments. It is designed to run inside CI: secrets arrive through the
environment and nothing sensitive is ever written to disk.

Usage:
  argus <command> [options]

Commands:
  init          Create .argus.yaml configuration
  bootstrap     Build the first full index and push it to the data branch
  index         Incrementally update the index for new commits
  review        Review a pull request and publish comments
  status        Show local artifact cache status

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output (progress, info messages)
  -c, --config      Path to .argus.yaml
  -V, --version     Show version and exit

Examples:
  argus init                         Create configuration
  argus bootstrap                    Full index of the current repository
  argus index                        Update the index after new commits
  argus review --pr 42               Review pull request #42
  argus review                       Review the PR from GITHUB_EVENT_PATH
  argus status --json                Cache status as JSON

Environment Variables:
  GITHUB_TOKEN         GitHub API token (required for review and sync)
  GOOGLE_API_KEY       Gemini API key (required for review and analysis)
  GITHUB_REPOSITORY    Repository as owner/name
  GITHUB_EVENT_PATH    Path to the Actions event payload
  ARGUS_MODE           Command to run when none is given (default: review)
  ARGUS_CONFIG_PATH    Path to .argus.yaml

For detailed command help: argus <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("argus version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	// Check NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}

	// Validate conflicting flags
	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}

	// JSON mode auto-enables quiet to prevent progress bars corrupting JSON output
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}

	ui.InitColors(globals.NoColor)

	args := flag.Args()
	command := resolveMode(args)
	var cmdArgs []string
	if len(args) > 0 {
		cmdArgs = args[1:]
	}

	switch command {
	case "init":
		runInit(cmdArgs, globals)
	case "bootstrap":
		runBootstrap(cmdArgs, *configPath, globals)
	case "index":
		runIndex(cmdArgs, *configPath, globals)
	case "review":
		runReview(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

// resolveMode picks the command: positional argument first, then the
// ARGUS_MODE environment variable, then review.
func resolveMode(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if mode := os.Getenv("ARGUS_MODE"); mode != "" {
		return mode
	}
	return "review"
}
