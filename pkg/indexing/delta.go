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

package indexing

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"sort"
	"strings"

	"log/slog"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
)

// emptyTreeSHA is git's well-known empty tree, used as the diff base when
// no prior index exists so every file reports as added.
const emptyTreeSHA = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// Delta is the set of files changed between two commits. Renames are
// treated as delete+add downstream; the map is kept for logging.
type Delta struct {
	BaseSHA  codemap.CommitSHA
	HeadSHA  codemap.CommitSHA
	Added    []codemap.FilePath
	Modified []codemap.FilePath
	Deleted  []codemap.FilePath
	Renamed  map[codemap.FilePath]codemap.FilePath // old path → new path
}

// HasChanges reports whether any file changed.
func (d *Delta) HasChanges() bool {
	return len(d.Added)+len(d.Modified)+len(d.Deleted)+len(d.Renamed) > 0
}

// Reparse returns the paths that need reparsing: added, modified, and the
// new side of every rename. Sorted, deduplicated.
func (d *Delta) Reparse() []codemap.FilePath {
	set := make(map[codemap.FilePath]struct{})
	for _, p := range d.Added {
		set[p] = struct{}{}
	}
	for _, p := range d.Modified {
		set[p] = struct{}{}
	}
	for _, p := range d.Renamed {
		set[p] = struct{}{}
	}
	return sortedPaths(set)
}

// Removals returns the paths whose entries must be dropped: deleted files
// and the old side of every rename. Sorted, deduplicated.
func (d *Delta) Removals() []codemap.FilePath {
	set := make(map[codemap.FilePath]struct{})
	for _, p := range d.Deleted {
		set[p] = struct{}{}
	}
	for old := range d.Renamed {
		set[old] = struct{}{}
	}
	return sortedPaths(set)
}

// All returns every path touched by the delta, both sides of renames
// included. Sorted, deduplicated.
func (d *Delta) All() []codemap.FilePath {
	set := make(map[codemap.FilePath]struct{})
	for _, p := range d.Reparse() {
		set[p] = struct{}{}
	}
	for _, p := range d.Removals() {
		set[p] = struct{}{}
	}
	return sortedPaths(set)
}

func sortedPaths(set map[codemap.FilePath]struct{}) []codemap.FilePath {
	out := make([]codemap.FilePath, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sortDelta orders every list for deterministic processing.
func sortDelta(d *Delta) {
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i] < d.Added[j] })
	sort.Slice(d.Modified, func(i, j int) bool { return d.Modified[i] < d.Modified[j] })
	sort.Slice(d.Deleted, func(i, j int) bool { return d.Deleted[i] < d.Deleted[j] })
}

// DeltaSource produces the changed-file set between two commits. The
// local git detector is the primary source; the GitHub compare API backs
// it up when the base commit is absent from local history.
type DeltaSource interface {
	Detect(ctx context.Context, base, head codemap.CommitSHA) (*Delta, error)
}

// GitDeltaDetector shells out to git for delta detection, the same way
// an index run inside a checkout discovers its work.
type GitDeltaDetector struct {
	repoPath string
	logger   *slog.Logger
}

// NewGitDeltaDetector creates a detector rooted at a checkout.
func NewGitDeltaDetector(repoPath string, logger *slog.Logger) *GitDeltaDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitDeltaDetector{repoPath: repoPath, logger: logger}
}

// IsRepository reports whether the root is inside a git work tree.
func (d *GitDeltaDetector) IsRepository(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = d.repoPath
	return cmd.Run() == nil
}

// HasCommit reports whether a commit exists in local history. A missing
// base commit (shallow clone) forces the compare-API fallback.
func (d *GitDeltaDetector) HasCommit(ctx context.Context, sha codemap.CommitSHA) bool {
	cmd := exec.CommandContext(ctx, "git", "cat-file", "-e", string(sha)+"^{commit}")
	cmd.Dir = d.repoPath
	return cmd.Run() == nil
}

// Head resolves HEAD to a commit SHA.
func (d *GitDeltaDetector) Head(ctx context.Context) (codemap.CommitSHA, error) {
	return d.resolveRef(ctx, "HEAD")
}

func (d *GitDeltaDetector) resolveRef(ctx context.Context, ref string) (codemap.CommitSHA, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", ref)
	cmd.Dir = d.repoPath
	out, err := cmd.Output()
	if err != nil {
		detail := "git rev-parse " + ref + " failed"
		if exitErr, ok := err.(*exec.ExitError); ok {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", errors.NewInputError(
			"cannot resolve git ref", detail,
			"run argus inside a git checkout of the repository", err,
		).WithStage("delta.resolve", ref)
	}
	return codemap.CommitSHA(strings.TrimSpace(string(out))), nil
}

// Detect runs `git diff --name-status -M` between two commits. An empty
// base compares against the empty tree so every file reports as added.
func (d *GitDeltaDetector) Detect(ctx context.Context, base, head codemap.CommitSHA) (*Delta, error) {
	if head == "" {
		resolved, err := d.Head(ctx)
		if err != nil {
			return nil, err
		}
		head = resolved
	}
	if base == "" {
		base = emptyTreeSHA
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "--name-status", "-M", string(base), string(head))
	cmd.Dir = d.repoPath
	out, err := cmd.Output()
	if err != nil {
		detail := "git diff failed"
		if exitErr, ok := err.(*exec.ExitError); ok {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return nil, errors.NewInputError(
			"cannot diff commits", detail,
			"ensure both commits exist locally; shallow clones need a deeper fetch", err,
		).WithStage("delta.diff", string(base)+".."+string(head))
	}

	delta := &Delta{
		BaseSHA: base,
		HeadSHA: head,
		Renamed: make(map[codemap.FilePath]codemap.FilePath),
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		applyDiffLine(scanner.Text(), delta)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInternalError(
			"cannot read git diff output", "", "", err,
		).WithStage("delta.diff", string(head))
	}
	sortDelta(delta)

	d.logger.Info("delta.detect.complete",
		"base", shortSHA(base),
		"head", shortSHA(head),
		"added", len(delta.Added),
		"modified", len(delta.Modified),
		"deleted", len(delta.Deleted),
		"renamed", len(delta.Renamed),
	)
	return delta, nil
}

// DiffText returns the unified diff between two commits, used by pattern
// analysis to show the model what actually changed.
func (d *GitDeltaDetector) DiffText(ctx context.Context, base, head codemap.CommitSHA) (string, error) {
	if base == "" {
		base = emptyTreeSHA
	}
	cmd := exec.CommandContext(ctx, "git", "diff", string(base), string(head))
	cmd.Dir = d.repoPath
	out, err := cmd.Output()
	if err != nil {
		detail := "git diff failed"
		if exitErr, ok := err.(*exec.ExitError); ok {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", errors.NewInputError(
			"cannot diff commits", detail,
			"ensure both commits exist locally; shallow clones need a deeper fetch", err,
		).WithStage("delta.difftext", string(base)+".."+string(head))
	}
	return string(out), nil
}

// applyDiffLine folds one `git diff --name-status` line into the delta.
// Format: "STATUS\tpath" or "STATUS\told\tnew" for renames and copies.
func applyDiffLine(line string, delta *Delta) {
	if line == "" {
		return
	}
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return
	}
	status := parts[0]
	paths := parts[1:]
	for i, p := range paths {
		paths[i] = unquoteGitPath(p)
	}

	switch status[0] {
	case 'A':
		delta.Added = append(delta.Added, paths[0])
	case 'M':
		delta.Modified = append(delta.Modified, paths[0])
	case 'D':
		delta.Deleted = append(delta.Deleted, paths[0])
	case 'R':
		if len(paths) >= 2 {
			delta.Renamed[paths[0]] = paths[1]
		}
	case 'C':
		if len(paths) >= 2 {
			delta.Added = append(delta.Added, paths[1])
		}
	}
}

// unquoteGitPath undoes git's quoting of paths with special characters.
func unquoteGitPath(path string) string {
	if len(path) < 2 || path[0] != '"' || path[len(path)-1] != '"' {
		return path
	}
	unquoted := path[1 : len(path)-1]
	unquoted = strings.ReplaceAll(unquoted, `\n`, "\n")
	unquoted = strings.ReplaceAll(unquoted, `\t`, "\t")
	unquoted = strings.ReplaceAll(unquoted, `\"`, `"`)
	unquoted = strings.ReplaceAll(unquoted, `\\`, `\`)
	return unquoted
}

func shortSHA(sha codemap.CommitSHA) string {
	if len(sha) > 8 {
		return string(sha[:8])
	}
	return string(sha)
}
