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

// Package ui provides terminal output helpers for the argus CLI.
//
// Colors are enabled only when stderr is a TTY and --no-color was not
// passed. All helpers degrade to plain text otherwise.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	labelColor   = color.New(color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.Faint)
	cyanColor    = color.New(color.FgCyan)
	countColor   = color.New(color.FgGreen, color.Bold)
)

// InitColors configures global color output. Colors are disabled when
// noColor is true, NO_COLOR is set, or stderr is not a terminal.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
		return
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold cyan section header followed by a blank line.
func Header(text string) {
	fmt.Fprintf(os.Stderr, "\n%s\n\n", headerColor.Sprint(text))
}

// SubHeader prints a bold section label.
func SubHeader(text string) {
	fmt.Fprintf(os.Stderr, "%s\n", labelColor.Sprint(text))
}

// Label returns text styled as a field label.
func Label(text string) string { return labelColor.Sprint(text) }

// Green returns text in green.
func Green(text string) string { return successColor.Sprint(text) }

// Yellow returns text in yellow.
func Yellow(text string) string { return warnColor.Sprint(text) }

// Cyan returns text in cyan.
func Cyan(text string) string { return cyanColor.Sprint(text) }

// Dim returns faint text.
func Dim(text string) string { return dimColor.Sprint(text) }

// DimText is an alias of Dim kept for call-site readability in summaries.
func DimText(text string) string { return dimColor.Sprint(text) }

// CountText formats a count in bold green, for result summaries.
func CountText(n int) string { return countColor.Sprintf("%d", n) }

// Info prints an informational line.
func Info(text string) { fmt.Fprintf(os.Stderr, "%s\n", text) }

// Infof prints a formatted informational line.
func Infof(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// Success prints a green checkmark line.
func Success(text string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", successColor.Sprint("✓"), text)
}

// Successf prints a formatted green checkmark line.
func Successf(format string, args ...any) {
	Success(fmt.Sprintf(format, args...))
}

// Warning prints a yellow warning line.
func Warning(text string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", warnColor.Sprint("!"), text)
}

// Warningf prints a formatted yellow warning line.
func Warningf(format string, args ...any) {
	Warning(fmt.Sprintf(format, args...))
}

// Errorf prints a red error line.
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errColor.Sprint("Error:"), fmt.Sprintf(format, args...))
}
