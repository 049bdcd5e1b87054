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

// Package errors provides the typed error taxonomy used across argus.
//
// Every error carries four user-facing fields — Title (what went wrong),
// Detail (why), Suggestion (how to fix it), and Cause (the wrapped error) —
// plus an optional Stage and Target for pipeline diagnostics. Errors are
// classified by Kind so pipeline glue can decide between retry, degrade,
// and abort without string matching.
package errors

import (
	"errors"
	"fmt"
	"os"

	"github.com/kraklabs/argus/internal/ui"
)

// Kind classifies an error for policy decisions at stage boundaries.
type Kind int

const (
	// KindInternal is a bug in argus itself.
	KindInternal Kind = iota
	// KindConfig is invalid or missing configuration.
	KindConfig
	// KindInput is invalid user or event input.
	KindInput
	// KindTransient is a retryable network-level failure (HTTP 5xx/429,
	// timeouts, rate limits). Retries are bounded; the final failure
	// surfaces with this kind.
	KindTransient
	// KindStructural is corrupt or unreadable persisted data (malformed
	// manifest, bad shard JSON, unknown schema version). Never repaired
	// automatically.
	KindStructural
	// KindConcurrency is a compare-and-swap conflict on the data branch
	// ref that survived the single permitted retry.
	KindConcurrency
	// KindParse is a per-file parse failure. Degrades that file only.
	KindParse
	// KindBudget means the mandatory prompt sections alone exceed the
	// token budget. The diff is never truncated to fit.
	KindBudget
	// KindProvider is an embedding or LLM provider failure.
	KindProvider
	// KindNetwork is a non-retryable network failure (auth, 4xx).
	KindNetwork
	// KindPermission is a filesystem permission failure.
	KindPermission
)

// Error is the argus error type. All pipeline stages return *Error for
// failures they classify; wrapped causes remain reachable via Unwrap.
type Error struct {
	Kind       Kind
	Title      string
	Detail     string
	Suggestion string
	Stage      string // pipeline stage, e.g. "sync.push"
	Target     string // path, sha, or ref the operation acted on
	Cause      error
}

// Error renders the short single-line form used in logs.
func (e *Error) Error() string {
	msg := e.Title
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Target != "" {
		msg += " (" + e.Target + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Cause }

// WithStage tags the error with the pipeline stage and target it occurred
// on. Returns the receiver for chaining at raise sites.
func (e *Error) WithStage(stage, target string) *Error {
	e.Stage = stage
	e.Target = target
	return e
}

func newError(kind Kind, title, detail, suggestion string, cause error) *Error {
	return &Error{
		Kind:       kind,
		Title:      title,
		Detail:     detail,
		Suggestion: suggestion,
		Cause:      cause,
	}
}

// NewInternalError reports a bug in argus itself.
func NewInternalError(title, detail, suggestion string, cause error) *Error {
	return newError(KindInternal, title, detail, suggestion, cause)
}

// NewConfigError reports invalid or missing configuration.
func NewConfigError(title, detail, suggestion string, cause error) *Error {
	return newError(KindConfig, title, detail, suggestion, cause)
}

// NewInputError reports invalid user or event input.
func NewInputError(title, detail, suggestion string, cause error) *Error {
	return newError(KindInput, title, detail, suggestion, cause)
}

// NewTransientError reports a retryable failure that exhausted its retries.
func NewTransientError(title, detail, suggestion string, cause error) *Error {
	return newError(KindTransient, title, detail, suggestion, cause)
}

// NewStructuralError reports corrupt or unreadable persisted data.
func NewStructuralError(title, detail, suggestion string, cause error) *Error {
	return newError(KindStructural, title, detail, suggestion, cause)
}

// NewConcurrencyError reports a ref CAS conflict that survived its retry.
func NewConcurrencyError(title, detail, suggestion string, cause error) *Error {
	return newError(KindConcurrency, title, detail, suggestion, cause)
}

// NewParseError reports a per-file parse failure.
func NewParseError(title, detail, suggestion string, cause error) *Error {
	return newError(KindParse, title, detail, suggestion, cause)
}

// NewBudgetError reports a prompt that cannot fit its token budget.
func NewBudgetError(title, detail, suggestion string, cause error) *Error {
	return newError(KindBudget, title, detail, suggestion, cause)
}

// NewProviderError reports an embedding or LLM provider failure.
func NewProviderError(title, detail, suggestion string, cause error) *Error {
	return newError(KindProvider, title, detail, suggestion, cause)
}

// NewNetworkError reports a non-retryable network failure.
func NewNetworkError(title, detail, suggestion string, cause error) *Error {
	return newError(KindNetwork, title, detail, suggestion, cause)
}

// NewPermissionError reports a filesystem permission failure.
func NewPermissionError(title, detail, suggestion string, cause error) *Error {
	return newError(KindPermission, title, detail, suggestion, cause)
}

// NewIndexingError reports a structural indexing failure with the stage
// and path it occurred on.
func NewIndexingError(stage, path string, cause error) *Error {
	e := newError(KindStructural,
		"Indexing failed",
		fmt.Sprintf("Stage %q could not process %s", stage, path),
		"Re-run with --verbose to see the underlying cause",
		cause,
	)
	return e.WithStage(stage, path)
}

// IsKind reports whether err (or anything it wraps) is an *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTransient reports whether err should be retried by the caller.
func IsTransient(err error) bool { return IsKind(err, KindTransient) }

// IsConcurrency reports whether err is a ref CAS conflict.
func IsConcurrency(err error) bool { return IsKind(err, KindConcurrency) }

// IsBudget reports whether err is a prompt budget overflow.
func IsBudget(err error) bool { return IsKind(err, KindBudget) }

// IsProvider reports whether err is an embedding/LLM provider failure.
func IsProvider(err error) bool { return IsKind(err, KindProvider) }

// ExitCode maps an error to the process exit code contract:
// 0 success, 1 handled failure, 2 unhandled failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal {
			return 2
		}
		return 1
	}
	return 2
}

// FatalError prints a classified error to stderr and exits with the
// mapped code. When verbose is true the wrapped cause chain is included.
func FatalError(err error, verbose bool) {
	var e *Error
	if !errors.As(err, &e) {
		ui.Errorf("Unexpected error: %v", err)
		os.Exit(2)
	}

	ui.Errorf("%s", e.Title)
	if e.Detail != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", e.Detail)
	}
	if e.Stage != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", ui.DimText(fmt.Sprintf("stage: %s  target: %s", e.Stage, e.Target)))
	}
	if verbose && e.Cause != nil {
		fmt.Fprintf(os.Stderr, "  %s\n", ui.DimText(fmt.Sprintf("cause: %v", e.Cause)))
	}
	if e.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\n  %s\n", ui.Yellow(e.Suggestion))
	}
	os.Exit(ExitCode(err))
}
