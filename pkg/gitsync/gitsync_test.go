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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-github/v27/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/shard"
)

// =============================================================================
// FAKE GIT DATA API
// =============================================================================

// fakeGitHub is an in-memory Git Data backend for one repository's data
// branch.
type fakeGitHub struct {
	mu sync.Mutex

	blobs   map[string][]byte            // git SHA → content
	trees   map[string]map[string]string // tree SHA → path → blob SHA
	commits map[string]string            // commit SHA → tree SHA

	refSHA    string // empty = branch absent
	seq       int
	failCAS   int // upcoming ref updates to reject with 422
	casLosses int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		blobs:   make(map[string][]byte),
		trees:   make(map[string]map[string]string),
		commits: make(map[string]string),
	}
}

// seed installs an initial commit holding the given files.
func (f *fakeGitHub) seed(files map[string][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tree := make(map[string]string, len(files))
	for name, content := range files {
		sha := GitBlobSHA(content)
		f.blobs[sha] = content
		tree[name] = sha
	}
	f.seq++
	treeSHA := fmt.Sprintf("tree%d", f.seq)
	f.trees[treeSHA] = tree
	commitSHA := fmt.Sprintf("commit%d", f.seq)
	f.commits[commitSHA] = treeSHA
	f.refSHA = commitSHA
}

func (f *fakeGitHub) treeFiles() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte)
	if f.refSHA == "" {
		return out
	}
	for name, sha := range f.trees[f.commits[f.refSHA]] {
		out[name] = f.blobs[sha]
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()

	// go-github v27 query-escapes the ref, so requests arrive at
	// .../git/refs/heads%2Fargus-data; since Go 1.22 ServeMux no longer
	// treats %2F as a path separator, so register both spellings.
	refHandler := func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			if f.refSHA == "" {
				writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"ref":    "refs/heads/argus-data",
				"object": map[string]string{"sha": f.refSHA, "type": "commit"},
			})
		case http.MethodPatch:
			if f.failCAS > 0 {
				f.failCAS--
				f.casLosses++
				writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Update is not a fast forward"})
				return
			}
			var body struct {
				SHA string `json:"sha"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.refSHA = body.SHA
			writeJSON(w, http.StatusOK, map[string]any{
				"ref":    "refs/heads/argus-data",
				"object": map[string]string{"sha": f.refSHA, "type": "commit"},
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
	mux.HandleFunc("/repos/o/r/git/refs/heads/argus-data", refHandler)
	mux.HandleFunc("/repos/o/r/git/refs/heads%2Fargus-data", refHandler)

	mux.HandleFunc("/repos/o/r/git/refs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.refSHA = body.SHA
		writeJSON(w, http.StatusCreated, map[string]any{
			"ref":    body.Ref,
			"object": map[string]string{"sha": body.SHA, "type": "commit"},
		})
	})

	mux.HandleFunc("/repos/o/r/git/commits/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		sha := strings.TrimPrefix(r.URL.Path, "/repos/o/r/git/commits/")
		treeSHA, ok := f.commits[sha]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sha":  sha,
			"tree": map[string]string{"sha": treeSHA},
		})
	})

	mux.HandleFunc("/repos/o/r/git/commits", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Message string   `json:"message"`
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.seq++
		sha := fmt.Sprintf("commit%d", f.seq)
		f.commits[sha] = body.Tree
		writeJSON(w, http.StatusCreated, map[string]any{
			"sha":  sha,
			"tree": map[string]string{"sha": body.Tree},
		})
	})

	mux.HandleFunc("/repos/o/r/git/trees/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		sha := strings.TrimPrefix(r.URL.Path, "/repos/o/r/git/trees/")
		tree, ok := f.trees[sha]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		entries := make([]map[string]any, 0, len(tree))
		for name, blobSHA := range tree {
			entries = append(entries, map[string]any{
				"path": name, "mode": "100644", "type": "blob", "sha": blobSHA,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sha": sha, "tree": entries, "truncated": false})
	})

	mux.HandleFunc("/repos/o/r/git/trees", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			BaseTree string `json:"base_tree"`
			Entries  []struct {
				Path string  `json:"path"`
				SHA  *string `json:"sha"`
			} `json:"tree"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		tree := make(map[string]string)
		for name, blobSHA := range f.trees[body.BaseTree] {
			tree[name] = blobSHA
		}
		for _, e := range body.Entries {
			if e.SHA == nil {
				delete(tree, e.Path)
				continue
			}
			tree[e.Path] = *e.SHA
		}
		f.seq++
		sha := fmt.Sprintf("tree%d", f.seq)
		f.trees[sha] = tree
		writeJSON(w, http.StatusCreated, map[string]any{"sha": sha})
	})

	mux.HandleFunc("/repos/o/r/git/blobs/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		sha := strings.TrimPrefix(r.URL.Path, "/repos/o/r/git/blobs/")
		content, ok := f.blobs[sha]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sha":      sha,
			"content":  base64.StdEncoding.EncodeToString(content),
			"encoding": "base64",
		})
	})

	mux.HandleFunc("/repos/o/r/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		content, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad base64"})
			return
		}
		sha := GitBlobSHA(content)
		f.blobs[sha] = content
		writeJSON(w, http.StatusCreated, map[string]any{"sha": sha})
	})

	return mux
}

func newTestSyncer(t *testing.T, f *fakeGitHub) *Syncer {
	t.Helper()
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)

	gh := github.NewClient(server.Client())
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base

	return NewSyncer(NewClientForTest(gh, "o", "r", nil), nil)
}

func encodeEmptyManifest(t *testing.T, at codemap.CommitSHA) []byte {
	t.Helper()
	data, err := shard.EncodeManifest(shard.NewManifest(at))
	require.NoError(t, err)
	return data
}

// =============================================================================
// TESTS
// =============================================================================

func TestGitBlobSHA(t *testing.T) {
	// git hash-object of "hello\n".
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", GitBlobSHA([]byte("hello\n")))
}

func TestPullAbsentBranch(t *testing.T) {
	s := newTestSyncer(t, newFakeGitHub())

	result, err := s.Pull(context.Background())
	require.NoError(t, err)

	assert.False(t, result.BranchExists)
	assert.Nil(t, result.Manifest)
	assert.Equal(t, StateLoaded, s.State())
}

func TestPullReadsManifestAndArtifacts(t *testing.T) {
	f := newFakeGitHub()
	f.seed(map[string][]byte{
		shard.ManifestFilename: encodeEmptyManifest(t, "abc"),
		"deadbeef_memory.json": []byte("{}"),
	})
	s := newTestSyncer(t, f)

	result, err := s.Pull(context.Background())
	require.NoError(t, err)

	assert.True(t, result.BranchExists)
	require.NotNil(t, result.Manifest)
	assert.Equal(t, codemap.CommitSHA("abc"), result.Manifest.IndexedAt)
	assert.Equal(t, []string{"deadbeef_memory.json", shard.ManifestFilename}, result.Artifacts)

	data, ok, err := s.LoadArtifact(context.Background(), "deadbeef_memory.json")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("{}"), data)

	_, ok, err = s.LoadArtifact(context.Background(), "missing.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPushCreatesBranch(t *testing.T) {
	f := newFakeGitHub()
	s := newTestSyncer(t, f)

	_, err := s.Pull(context.Background())
	require.NoError(t, err)

	manifest := encodeEmptyManifest(t, "head1")
	err = s.Push(context.Background(), func(prior *shard.Manifest) (*PushSet, error) {
		assert.Nil(t, prior)
		return &PushSet{
			Files:   map[string][]byte{shard.ManifestFilename: manifest},
			Message: "argus: bootstrap index",
		}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, StatePushed, s.State())
	assert.Equal(t, manifest, f.treeFiles()[shard.ManifestFilename])
}

func TestPushReusesUnchangedBlobs(t *testing.T) {
	f := newFakeGitHub()
	manifest := encodeEmptyManifest(t, "abc")
	f.seed(map[string][]byte{shard.ManifestFilename: manifest})
	refBefore := f.refSHA

	s := newTestSyncer(t, f)
	_, err := s.Pull(context.Background())
	require.NoError(t, err)

	err = s.Push(context.Background(), func(prior *shard.Manifest) (*PushSet, error) {
		return &PushSet{Files: map[string][]byte{shard.ManifestFilename: manifest}}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, refBefore, f.refSHA, "identical content must not create a commit")
	assert.Equal(t, StatePushed, s.State())
}

func TestPushAppliesDeletions(t *testing.T) {
	f := newFakeGitHub()
	f.seed(map[string][]byte{
		shard.ManifestFilename: encodeEmptyManifest(t, "abc"),
		"shard_old.json":       []byte(`{"old":true}`),
	})
	s := newTestSyncer(t, f)
	_, err := s.Pull(context.Background())
	require.NoError(t, err)

	updated := encodeEmptyManifest(t, "def")
	err = s.Push(context.Background(), func(prior *shard.Manifest) (*PushSet, error) {
		return &PushSet{
			Files:   map[string][]byte{shard.ManifestFilename: updated},
			Deletes: []string{"shard_old.json", "never_existed.json"},
		}, nil
	})
	require.NoError(t, err)

	files := f.treeFiles()
	assert.Equal(t, updated, files[shard.ManifestFilename])
	assert.NotContains(t, files, "shard_old.json")
}

func TestPushRetriesOnceAfterLostRace(t *testing.T) {
	f := newFakeGitHub()
	f.seed(map[string][]byte{shard.ManifestFilename: encodeEmptyManifest(t, "abc")})
	f.failCAS = 1

	s := newTestSyncer(t, f)
	_, err := s.Pull(context.Background())
	require.NoError(t, err)

	builds := 0
	updated := encodeEmptyManifest(t, "def")
	err = s.Push(context.Background(), func(prior *shard.Manifest) (*PushSet, error) {
		builds++
		require.NotNil(t, prior)
		return &PushSet{Files: map[string][]byte{shard.ManifestFilename: updated}}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, builds, "build must rerun against the re-pulled manifest")
	assert.Equal(t, 1, f.casLosses)
	assert.Equal(t, updated, f.treeFiles()[shard.ManifestFilename])
}

func TestPushAbortsAfterSecondLostRace(t *testing.T) {
	f := newFakeGitHub()
	f.seed(map[string][]byte{shard.ManifestFilename: encodeEmptyManifest(t, "abc")})
	f.failCAS = 2

	s := newTestSyncer(t, f)
	_, err := s.Pull(context.Background())
	require.NoError(t, err)

	err = s.Push(context.Background(), func(prior *shard.Manifest) (*PushSet, error) {
		return &PushSet{Files: map[string][]byte{shard.ManifestFilename: encodeEmptyManifest(t, "def")}}, nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsConcurrency(err), "second lost race must surface as a concurrency error")
}

func TestSelectiveLoadRoundTrip(t *testing.T) {
	m := codemap.NewCodebaseMap("head1")
	m.Upsert(&codemap.FileEntry{Path: "a/x.py", Language: "python"}, nil)
	m.Upsert(&codemap.FileEntry{Path: "b/y.py", Language: "python"}, nil)

	split, err := shard.Split(m, nil)
	require.NoError(t, err)
	manifestBytes, err := shard.EncodeManifest(split.Manifest)
	require.NoError(t, err)

	files := map[string][]byte{shard.ManifestFilename: manifestBytes}
	for sid, blob := range split.Blobs {
		files[split.Manifest.Shards[sid].BlobName] = blob
	}
	f := newFakeGitHub()
	f.seed(files)

	s := newTestSyncer(t, f)
	result, err := s.Pull(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Manifest)

	ids := shard.SelectShards(result.Manifest, []codemap.FilePath{"a/x.py"})
	assert.Equal(t, []codemap.ShardID{"a"}, ids)

	blobs, err := s.LoadShards(context.Background(), result.Manifest, ids)
	require.NoError(t, err)

	partial, err := shard.Assemble(result.Manifest, blobs)
	require.NoError(t, err)
	assert.True(t, partial.Contains("a/x.py"))
	assert.False(t, partial.Contains("b/y.py"))
	assert.Equal(t, codemap.CommitSHA("head1"), partial.IndexedAt)
}
