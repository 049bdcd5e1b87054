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

package gitsync

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/go-github/v27/github"
	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
)

// Transport policy for every GitHub call.
const (
	retryMax      = 3
	retryWaitBase = 1 * time.Second
	callTimeout   = 120 * time.Second

	// treeCacheSize bounds the per-run recursive tree cache. A run touches
	// at most a handful of trees (data branch head, plus re-pulls).
	treeCacheSize = 16

	// blobFetchConcurrency bounds parallel shard blob downloads.
	blobFetchConcurrency = 8
)

// Client wraps the GitHub REST and Git Data APIs for one repository.
// Recursive trees are cached for the lifetime of the client: within a run
// a tree SHA is immutable, so the cache never goes stale.
type Client struct {
	gh     *github.Client
	owner  string
	repo   string
	logger *slog.Logger

	treeCache *lru.Cache[string, *github.Tree]
	mu        sync.Mutex // guards multi-step cache fills
}

// NewClient builds a client authenticated with a static token, retrying
// transient failures with jittered linear backoff.
func NewClient(token, owner, repo string, logger *slog.Logger) (*Client, error) {
	if owner == "" || repo == "" {
		return nil, errors.NewConfigError(
			"repository not configured",
			"owner and repository name are both required",
			"set ARGUS_REPOSITORY to owner/name", nil,
		)
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = retryWaitBase
	rc.RetryWaitMax = 10 * time.Second
	rc.Backoff = retryablehttp.LinearJitterBackoff
	rc.Logger = nil
	if token != "" {
		rc.HTTPClient = oauth2.NewClient(
			context.Background(),
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		)
	}
	std := rc.StandardClient()
	std.Timeout = callTimeout

	cache, err := lru.New[string, *github.Tree](treeCacheSize)
	if err != nil {
		return nil, errors.NewInternalError("tree cache init failed", "", "", err)
	}

	return &Client{
		gh:        github.NewClient(std),
		owner:     owner,
		repo:      repo,
		logger:    logger,
		treeCache: cache,
	}, nil
}

// NewClientForTest points a client at an httptest server.
func NewClientForTest(gh *github.Client, owner, repo string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, *github.Tree](treeCacheSize)
	return &Client{gh: gh, owner: owner, repo: repo, logger: logger, treeCache: cache}
}

// Owner and Repo expose the bound repository coordinates.
func (c *Client) Owner() string { return c.owner }
func (c *Client) Repo() string  { return c.repo }

// wrapAPIError classifies a GitHub API failure into the error taxonomy.
func (c *Client) wrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	var status int
	if ghErr, ok := err.(*github.ErrorResponse); ok && ghErr.Response != nil {
		status = ghErr.Response.StatusCode
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.NewPermissionError(
			"github rejected the request",
			fmt.Sprintf("%s failed with HTTP %d", op, status),
			"check that the host API token has repo scope", err,
		).WithStage(op, c.owner+"/"+c.repo)
	case status == http.StatusNotFound:
		return errors.NewInputError(
			"github resource not found",
			op+" returned 404",
			"check the repository identifier and that the resource exists", err,
		).WithStage(op, c.owner+"/"+c.repo)
	case status >= 500 || status == 0:
		return errors.NewNetworkError(
			"github unreachable",
			op+" failed after retries",
			"retry the run; check GitHub status", err,
		).WithStage(op, c.owner+"/"+c.repo)
	default:
		return errors.NewProviderError(
			"github request failed",
			fmt.Sprintf("%s failed with HTTP %d", op, status),
			"", err,
		).WithStage(op, c.owner+"/"+c.repo)
	}
}

// =============================================================================
// GIT DATA: REFS, COMMITS, TREES, BLOBS
// =============================================================================

// GetRef fetches a ref ("heads/argus-data"). Missing refs report ok=false
// without error.
func (c *Client) GetRef(ctx context.Context, ref string) (*github.Reference, bool, error) {
	r, resp, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, ref)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, c.wrapAPIError("git.ref.get", err)
	}
	return r, true, nil
}

// CreateRef creates a new ref at the given commit.
func (c *Client) CreateRef(ctx context.Context, ref string, sha codemap.CommitSHA) (*github.Reference, error) {
	r, _, err := c.gh.Git.CreateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/" + ref),
		Object: &github.GitObject{SHA: github.String(string(sha))},
	})
	if err != nil {
		return nil, c.wrapAPIError("git.ref.create", err)
	}
	return r, nil
}

// UpdateRefCAS advances a ref without force: GitHub rejects non-fast-forward
// updates, which is the compare-and-swap this sync depends on. A lost race
// reports casLost=true.
func (c *Client) UpdateRefCAS(ctx context.Context, ref string, sha codemap.CommitSHA) (casLost bool, err error) {
	_, resp, err := c.gh.Git.UpdateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/" + ref),
		Object: &github.GitObject{SHA: github.String(string(sha))},
	}, false)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict) {
			return true, nil
		}
		return false, c.wrapAPIError("git.ref.update", err)
	}
	return false, nil
}

// GetCommit fetches a commit object.
func (c *Client) GetCommit(ctx context.Context, sha codemap.CommitSHA) (*github.Commit, error) {
	commit, _, err := c.gh.Git.GetCommit(ctx, c.owner, c.repo, string(sha))
	if err != nil {
		return nil, c.wrapAPIError("git.commit.get", err)
	}
	return commit, nil
}

// CreateCommit writes a commit pointing at a tree.
func (c *Client) CreateCommit(ctx context.Context, message string, treeSHA string, parents []codemap.CommitSHA) (*github.Commit, error) {
	var parentCommits []github.Commit
	for _, p := range parents {
		parentCommits = append(parentCommits, github.Commit{SHA: github.String(string(p))})
	}
	commit, _, err := c.gh.Git.CreateCommit(ctx, c.owner, c.repo, &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: github.String(treeSHA)},
		Parents: parentCommits,
	})
	if err != nil {
		return nil, c.wrapAPIError("git.commit.create", err)
	}
	return commit, nil
}

// GetTreeRecursive fetches a full tree, serving repeats from the run cache.
func (c *Client) GetTreeRecursive(ctx context.Context, treeSHA string) (*github.Tree, error) {
	if tree, ok := c.treeCache.Get(treeSHA); ok {
		return tree, nil
	}
	tree, _, err := c.gh.Git.GetTree(ctx, c.owner, c.repo, treeSHA, true)
	if err != nil {
		return nil, c.wrapAPIError("git.tree.get", err)
	}
	c.treeCache.Add(treeSHA, tree)
	return tree, nil
}

// treeEntryPatch is a Git Data tree entry that can carry an explicit null
// SHA. The typed TreeEntry omits empty SHAs, but a deletion needs
// "sha": null on the wire.
type treeEntryPatch struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

type treePatchRequest struct {
	BaseTree string           `json:"base_tree,omitempty"`
	Entries  []treeEntryPatch `json:"tree"`
}

// TreeChange is one entry of a tree patch: SHA == nil deletes the path.
type TreeChange struct {
	Path string
	SHA  *string
}

// CreateTree writes a tree layered on baseTree with only the changed
// entries listed. All artifacts are plain files (mode 100644).
func (c *Client) CreateTree(ctx context.Context, baseTree string, changes []TreeChange) (*github.Tree, error) {
	body := treePatchRequest{BaseTree: baseTree}
	for _, ch := range changes {
		body.Entries = append(body.Entries, treeEntryPatch{
			Path: ch.Path,
			Mode: "100644",
			Type: "blob",
			SHA:  ch.SHA,
		})
	}

	u := fmt.Sprintf("repos/%s/%s/git/trees", c.owner, c.repo)
	req, err := c.gh.NewRequest("POST", u, body)
	if err != nil {
		return nil, errors.NewInternalError("tree request build failed", "", "", err)
	}
	tree := new(github.Tree)
	if _, err := c.gh.Do(ctx, req, tree); err != nil {
		return nil, c.wrapAPIError("git.tree.create", err)
	}
	return tree, nil
}

// CreateBlob uploads content as a base64 blob and returns its git SHA.
func (c *Client) CreateBlob(ctx context.Context, content []byte) (string, error) {
	blob, _, err := c.gh.Git.CreateBlob(ctx, c.owner, c.repo, &github.Blob{
		Content:  github.String(base64.StdEncoding.EncodeToString(content)),
		Encoding: github.String("base64"),
	})
	if err != nil {
		return "", c.wrapAPIError("git.blob.create", err)
	}
	return blob.GetSHA(), nil
}

// FetchBlob downloads and decodes one blob by git SHA.
func (c *Client) FetchBlob(ctx context.Context, sha string) ([]byte, error) {
	blob, _, err := c.gh.Git.GetBlob(ctx, c.owner, c.repo, sha)
	if err != nil {
		return nil, c.wrapAPIError("git.blob.get", err)
	}
	content := blob.GetContent()
	if blob.GetEncoding() == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return nil, errors.NewStructuralError(
				"corrupt blob",
				"blob "+sha+" is not valid base64",
				"reindex with `argus bootstrap` to rebuild the data branch", err,
			)
		}
		return decoded, nil
	}
	return []byte(content), nil
}

// FetchBlobs downloads a set of blobs concurrently, keyed by git SHA.
func (c *Client) FetchBlobs(ctx context.Context, shas []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(shas))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobFetchConcurrency)
	for _, sha := range shas {
		g.Go(func() error {
			data, err := c.FetchBlob(gctx, sha)
			if err != nil {
				return err
			}
			mu.Lock()
			out[sha] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// PULL REQUESTS
// =============================================================================

// GetPullRequest fetches PR metadata.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*github.PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, c.wrapAPIError("pr.get", err)
	}
	return pr, nil
}

// GetPullRequestDiff fetches the unified diff text of a PR.
func (c *Client) GetPullRequestDiff(ctx context.Context, number int) (string, error) {
	diff, _, err := c.gh.PullRequests.GetRaw(ctx, c.owner, c.repo, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", c.wrapAPIError("pr.diff", err)
	}
	return diff, nil
}

// ListPullRequestFiles lists every changed file in a PR, paging as needed.
func (c *Client) ListPullRequestFiles(ctx context.Context, number int) ([]*github.CommitFile, error) {
	var all []*github.CommitFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, c.wrapAPIError("pr.files", err)
		}
		all = append(all, files...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetFileContent fetches one file's contents at a ref. Missing files
// report ok=false without error; the review path tolerates files that
// vanished between the event and the fetch.
func (c *Client) GetFileContent(ctx context.Context, path codemap.FilePath, ref codemap.CommitSHA) (string, bool, error) {
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo,
		string(path), &github.RepositoryContentGetOptions{Ref: string(ref)})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, c.wrapAPIError("contents.get", err)
	}
	if file == nil {
		// Path resolved to a directory.
		return "", false, nil
	}
	content, err := file.GetContent()
	if err != nil {
		return "", false, errors.NewNetworkError(
			"file content undecodable",
			"GitHub returned unreadable content for "+string(path), "", err,
		)
	}
	return content, true, nil
}

// ReviewComment is one line-anchored inline comment.
type ReviewComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Side string `json:"side"`
	Body string `json:"body"`
}

type reviewRequest struct {
	CommitID string          `json:"commit_id,omitempty"`
	Body     string          `json:"body"`
	Event    string          `json:"event"`
	Comments []ReviewComment `json:"comments,omitempty"`
}

// CreateReview publishes a PR review with line-anchored inline comments.
// Goes through a raw request: the typed draft comments in this client
// version anchor by diff position, not line.
func (c *Client) CreateReview(ctx context.Context, number int, commitID, body string, comments []ReviewComment) error {
	u := fmt.Sprintf("repos/%s/%s/pulls/%d/reviews", c.owner, c.repo, number)
	req, err := c.gh.NewRequest("POST", u, reviewRequest{
		CommitID: commitID,
		Body:     body,
		Event:    "COMMENT",
		Comments: comments,
	})
	if err != nil {
		return errors.NewInternalError("review request build failed", "", "", err)
	}
	if _, err := c.gh.Do(ctx, req, nil); err != nil {
		return c.wrapAPIError("pr.review.create", err)
	}
	return nil
}

// =============================================================================
// ISSUES, CHECKS, COMPARE, SEARCH
// =============================================================================

// ListIssueComments returns a PR's conversation comments.
func (c *Client) ListIssueComments(ctx context.Context, number int) ([]*github.IssueComment, error) {
	var all []*github.IssueComment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, c.wrapAPIError("issue.comments.list", err)
		}
		all = append(all, comments...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// CreateIssueComment posts a plain conversation comment, the fallback
// surface when inline review publishing is unavailable.
func (c *Client) CreateIssueComment(ctx context.Context, number int, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return c.wrapAPIError("issue.comment.create", err)
	}
	return nil
}

// ListCheckRuns returns CI check runs for a ref.
func (c *Client) ListCheckRuns(ctx context.Context, ref string) ([]*github.CheckRun, error) {
	result, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, c.owner, c.repo, ref, &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, c.wrapAPIError("checks.list", err)
	}
	return result.CheckRuns, nil
}

// CompareCommits returns the changed files between two commits, the
// fallback delta source when local history is shallow.
func (c *Client) CompareCommits(ctx context.Context, base, head codemap.CommitSHA) (*github.CommitsComparison, error) {
	cmp, _, err := c.gh.Repositories.CompareCommits(ctx, c.owner, c.repo, string(base), string(head))
	if err != nil {
		return nil, c.wrapAPIError("repo.compare", err)
	}
	return cmp, nil
}

// SearchIssues searches issues in this repository.
func (c *Client) SearchIssues(ctx context.Context, query string) ([]github.Issue, error) {
	scoped := fmt.Sprintf("repo:%s/%s %s", c.owner, c.repo, query)
	result, _, err := c.gh.Search.Issues(ctx, scoped, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 20},
	})
	if err != nil {
		return nil, c.wrapAPIError("search.issues", err)
	}
	return result.Issues, nil
}

// CompareDelta adapts the compare API into the indexing delta shape.
func (c *Client) CompareDelta(ctx context.Context, base, head codemap.CommitSHA) (added, modified, deleted []codemap.FilePath, renamed map[codemap.FilePath]codemap.FilePath, err error) {
	cmp, err := c.CompareCommits(ctx, base, head)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	renamed = make(map[codemap.FilePath]codemap.FilePath)
	for _, f := range cmp.Files {
		p := codemap.FilePath(f.GetFilename())
		switch f.GetStatus() {
		case "added":
			added = append(added, p)
		case "modified", "changed":
			modified = append(modified, p)
		case "removed":
			deleted = append(deleted, p)
		case "renamed":
			renamed[codemap.FilePath(f.GetPreviousFilename())] = p
		}
	}
	return added, modified, deleted, renamed, nil
}
