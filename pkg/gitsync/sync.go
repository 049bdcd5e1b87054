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
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"

	"log/slog"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/shard"
)

// DataBranch is the orphan branch holding every persisted artifact.
const DataBranch = "argus-data"

const dataRef = "heads/" + DataBranch

// State tracks where a sync session is in its lifecycle. Transitions:
// Idle → Pulling → Loaded → Writing → Pushed; Pushed → Pulling on a CAS
// retry.
type State string

// Sync states.
const (
	StateIdle    State = "idle"
	StatePulling State = "pulling"
	StateLoaded  State = "loaded"
	StateWriting State = "writing"
	StatePushed  State = "pushed"
)

// Syncer performs selective pulls and base-tree pushes against the data
// branch. The pulled tree is frozen for the session: shard loads and the
// push diff both run against the same snapshot.
type Syncer struct {
	client *Client
	logger *slog.Logger

	state State

	// Snapshot of the data branch at pull time.
	branchExists bool
	headSHA      codemap.CommitSHA
	treeSHA      string
	blobSHAs     map[string]string // artifact name → git blob SHA
}

// NewSyncer creates an idle sync session.
func NewSyncer(client *Client, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{client: client, logger: logger, state: StateIdle}
}

// State returns the session's current lifecycle state.
func (s *Syncer) State() State { return s.state }

// PullResult is the frozen view of the data branch after a pull.
type PullResult struct {
	// BranchExists is false on a repository never bootstrapped.
	BranchExists bool
	// Manifest is nil when the branch or manifest.json is absent.
	Manifest *shard.Manifest
	// Artifacts lists every blob name present on the branch.
	Artifacts []string
}

// Pull snapshots the data branch: ref → commit → recursive tree →
// manifest. Transition Idle/Pushed → Pulling → Loaded.
func (s *Syncer) Pull(ctx context.Context) (*PullResult, error) {
	if s.state != StateIdle && s.state != StatePushed {
		return nil, errors.NewInternalError(
			"sync session misused",
			fmt.Sprintf("pull requested in state %q", s.state), "", nil,
		)
	}
	s.state = StatePulling

	ref, exists, err := s.client.GetRef(ctx, dataRef)
	if err != nil {
		s.state = StateIdle
		return nil, err
	}
	if !exists {
		s.branchExists = false
		s.headSHA, s.treeSHA = "", ""
		s.blobSHAs = map[string]string{}
		s.state = StateLoaded
		s.logger.Info("sync.pull.complete", "branch", DataBranch, "exists", false)
		return &PullResult{BranchExists: false}, nil
	}

	s.branchExists = true
	s.headSHA = codemap.CommitSHA(ref.Object.GetSHA())

	commit, err := s.client.GetCommit(ctx, s.headSHA)
	if err != nil {
		s.state = StateIdle
		return nil, err
	}
	s.treeSHA = commit.Tree.GetSHA()

	tree, err := s.client.GetTreeRecursive(ctx, s.treeSHA)
	if err != nil {
		s.state = StateIdle
		return nil, err
	}
	s.blobSHAs = make(map[string]string, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			s.blobSHAs[entry.GetPath()] = entry.GetSHA()
		}
	}

	result := &PullResult{BranchExists: true}
	for name := range s.blobSHAs {
		result.Artifacts = append(result.Artifacts, name)
	}
	sort.Strings(result.Artifacts)

	if sha, ok := s.blobSHAs[shard.ManifestFilename]; ok {
		data, err := s.client.FetchBlob(ctx, sha)
		if err != nil {
			s.state = StateIdle
			return nil, err
		}
		manifest, err := shard.DecodeManifest(data)
		if err != nil {
			s.state = StateIdle
			return nil, err
		}
		result.Manifest = manifest
	}

	s.state = StateLoaded
	s.logger.Info("sync.pull.complete",
		"branch", DataBranch,
		"head", shortSHA(s.headSHA),
		"artifacts", len(s.blobSHAs),
		"manifest", result.Manifest != nil,
	)
	return result, nil
}

// LoadShards fetches the blobs for a shard selection concurrently, keyed
// by shard id. Requires a completed pull.
func (s *Syncer) LoadShards(ctx context.Context, manifest *shard.Manifest, ids []codemap.ShardID) (map[codemap.ShardID][]byte, error) {
	if s.state != StateLoaded {
		return nil, errors.NewInternalError(
			"sync session misused",
			fmt.Sprintf("shard load requested in state %q", s.state), "", nil,
		)
	}

	shaToShard := make(map[string]codemap.ShardID, len(ids))
	shas := make([]string, 0, len(ids))
	for _, id := range ids {
		desc, ok := manifest.Shards[id]
		if !ok {
			continue
		}
		blobSHA, ok := s.blobSHAs[desc.BlobName]
		if !ok {
			return nil, errors.NewStructuralError(
				"shard blob missing from data branch",
				"manifest references "+desc.BlobName+" but the tree has no such file",
				"reindex with `argus bootstrap` to rebuild the data branch", nil,
			)
		}
		shaToShard[blobSHA] = id
		shas = append(shas, blobSHA)
	}

	fetched, err := s.client.FetchBlobs(ctx, shas)
	if err != nil {
		return nil, err
	}
	out := make(map[codemap.ShardID][]byte, len(fetched))
	for blobSHA, data := range fetched {
		out[shaToShard[blobSHA]] = data
	}
	s.logger.Info("sync.shards.loaded", "requested", len(ids), "fetched", len(out))
	return out, nil
}

// LoadArtifact fetches a single named artifact (memory or embeddings
// blob). Absent artifacts report ok=false without error.
func (s *Syncer) LoadArtifact(ctx context.Context, name string) ([]byte, bool, error) {
	if s.state != StateLoaded {
		return nil, false, errors.NewInternalError(
			"sync session misused",
			fmt.Sprintf("artifact load requested in state %q", s.state), "", nil,
		)
	}
	sha, ok := s.blobSHAs[name]
	if !ok {
		return nil, false, nil
	}
	data, err := s.client.FetchBlob(ctx, sha)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// HeadSHA returns the data branch commit the session pulled, if any.
func (s *Syncer) HeadSHA() (codemap.CommitSHA, bool) {
	return s.headSHA, s.branchExists
}

// =============================================================================
// PUSH
// =============================================================================

// PushSet is everything one push writes: artifact name → content, plus
// names to delete (orphaned shard blobs, retired legacy blobs).
type PushSet struct {
	Files   map[string][]byte
	Deletes []string
	Message string
}

// BuildFunc recomputes the push set against the manifest currently on the
// branch. It runs once on the first attempt and again after a lost CAS
// race with the freshly pulled manifest.
type BuildFunc func(prior *shard.Manifest) (*PushSet, error)

// Push writes a push set on top of the pulled tree. Blobs whose git SHA
// already matches the tree entry are reused without upload; the new tree
// lists only changed and deleted entries over the previous tree as base.
// The ref update is compare-and-swap: one lost race re-pulls and rebuilds,
// a second aborts with a concurrency error.
func (s *Syncer) Push(ctx context.Context, build BuildFunc) error {
	for attempt := 0; ; attempt++ {
		if s.state != StateLoaded {
			return errors.NewInternalError(
				"sync session misused",
				fmt.Sprintf("push requested in state %q", s.state), "", nil,
			)
		}

		var prior *shard.Manifest
		if sha, ok := s.blobSHAs[shard.ManifestFilename]; ok {
			data, err := s.client.FetchBlob(ctx, sha)
			if err != nil {
				return err
			}
			if prior, err = shard.DecodeManifest(data); err != nil {
				return err
			}
		}

		set, err := build(prior)
		if err != nil {
			return err
		}

		casLost, err := s.pushOnce(ctx, set)
		if err != nil {
			return err
		}
		if !casLost {
			return nil
		}
		if attempt >= 1 {
			return errors.NewConcurrencyError(
				"data branch moved during push",
				"another writer advanced "+DataBranch+" twice during this run",
				"re-run; if this repeats, serialize index runs per repository", nil,
			).WithStage("sync.push", DataBranch)
		}

		s.logger.Warn("sync.push.cas_lost", "branch", DataBranch, "attempt", attempt+1)
		s.state = StatePushed // legal transition back into Pull
		if _, err := s.Pull(ctx); err != nil {
			return err
		}
	}
}

// pushOnce performs one blob-tree-commit-ref cycle. casLost=true means
// the ref moved underneath us and the caller should re-pull and retry.
func (s *Syncer) pushOnce(ctx context.Context, set *PushSet) (casLost bool, err error) {
	s.state = StateWriting
	defer func() {
		if err != nil || casLost {
			s.state = StateLoaded
		}
	}()

	names := make([]string, 0, len(set.Files))
	for name := range set.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	var changes []TreeChange
	uploaded, reused := 0, 0
	for _, name := range names {
		content := set.Files[name]
		localSHA := GitBlobSHA(content)
		if existing, ok := s.blobSHAs[name]; ok && existing == localSHA {
			reused++
			continue
		}
		remoteSHA, err := s.client.CreateBlob(ctx, content)
		if err != nil {
			return false, err
		}
		uploaded++
		changes = append(changes, TreeChange{Path: name, SHA: &remoteSHA})
	}

	for _, name := range set.Deletes {
		if _, ok := s.blobSHAs[name]; ok {
			changes = append(changes, TreeChange{Path: name, SHA: nil})
		}
	}

	if len(changes) == 0 {
		s.logger.Info("sync.push.noop", "branch", DataBranch, "reused", reused)
		s.state = StatePushed
		return false, nil
	}

	tree, err := s.client.CreateTree(ctx, s.treeSHA, changes)
	if err != nil {
		return false, err
	}

	var parents []codemap.CommitSHA
	if s.branchExists {
		parents = append(parents, s.headSHA)
	}
	message := set.Message
	if message == "" {
		message = "argus: update index artifacts"
	}
	commit, err := s.client.CreateCommit(ctx, message, tree.GetSHA(), parents)
	if err != nil {
		return false, err
	}
	newHead := codemap.CommitSHA(commit.GetSHA())

	if !s.branchExists {
		if _, err := s.client.CreateRef(ctx, dataRef, newHead); err != nil {
			return false, err
		}
	} else {
		lost, err := s.client.UpdateRefCAS(ctx, dataRef, newHead)
		if err != nil {
			return false, err
		}
		if lost {
			return true, nil
		}
	}

	s.logger.Info("sync.push.complete",
		"branch", DataBranch,
		"head", shortSHA(newHead),
		"uploaded", uploaded,
		"reused", reused,
		"deleted", len(set.Deletes),
	)
	s.state = StatePushed
	return false, nil
}

// GitBlobSHA computes the git object id of a blob locally, which is what
// lets an unchanged artifact skip its upload entirely.
func GitBlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func shortSHA(sha codemap.CommitSHA) string {
	if len(sha) > 8 {
		return string(sha[:8])
	}
	return string(sha)
}
