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

// Package store is the local artifact cache: a flat directory of JSON
// blobs mirroring the data branch (manifest, shards, memory, embeddings).
// Writes are atomic (temp file + rename) so a crashed run never leaves a
// half-written artifact behind.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/kraklabs/argus/internal/errors"
	"github.com/kraklabs/argus/pkg/codemap"
	"github.com/kraklabs/argus/pkg/shard"
)

// Store reads and writes artifact blobs under a single cache directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Open ensures the cache directory exists and returns a store over it.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.NewPermissionError(
			"cannot create storage directory",
			"failed to create "+dir,
			"check the storage_dir setting and filesystem permissions",
			err,
		)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the cache directory path.
func (s *Store) Dir() string { return s.dir }

// HasBlob reports whether a blob exists in the cache.
func (s *Store) HasBlob(name string) bool {
	_, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil
}

// ReadBlob returns a blob's bytes, or (nil, nil) when absent.
func (s *Store) ReadBlob(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPermissionError(
			"cannot read artifact",
			"failed to read "+name+" from "+s.dir,
			"check filesystem permissions on the storage directory",
			err,
		)
	}
	return data, nil
}

// WriteBlob writes a blob atomically via a temp file and rename.
func (s *Store) WriteBlob(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return errors.NewPermissionError(
			"cannot write artifact",
			"failed to write "+name,
			"check filesystem permissions on the storage directory",
			err,
		)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.NewPermissionError(
			"cannot write artifact",
			"failed to move "+name+" into place",
			"check filesystem permissions on the storage directory",
			err,
		)
	}
	return nil
}

// RemoveBlob deletes a blob; a missing blob is not an error.
func (s *Store) RemoveBlob(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return errors.NewPermissionError(
			"cannot remove artifact", "failed to remove "+name, "", err,
		)
	}
	return nil
}

// =============================================================================
// MAP-LEVEL API
// =============================================================================

// LoadManifest reads the cached manifest. Absent or corrupt manifests
// return nil: the caller falls back to a fuller pull or a legacy load.
func (s *Store) LoadManifest() (*shard.Manifest, error) {
	data, err := s.ReadBlob(shard.ManifestFilename)
	if err != nil || data == nil {
		return nil, err
	}
	m, err := shard.DecodeManifest(data)
	if err != nil {
		s.logger.Warn("store.manifest_corrupt", "dir", s.dir)
		return nil, nil
	}
	return m, nil
}

// Apply persists a split result: changed shard blobs first, orphans
// removed, manifest written last so readers never see a manifest that
// references missing local blobs.
func (s *Store) Apply(res *shard.SplitResult) error {
	for sid, data := range res.Blobs {
		desc, ok := res.Manifest.Shards[sid]
		if !ok {
			return errors.NewInternalError(
				"split result inconsistent",
				fmt.Sprintf("blob for shard %q has no descriptor", sid),
				"",
				nil,
			)
		}
		if err := s.WriteBlob(desc.BlobName, data); err != nil {
			return err
		}
	}

	for _, name := range res.Orphaned {
		if err := s.RemoveBlob(name); err != nil {
			return err
		}
		s.logger.Info("store.orphan_removed", "blob", name)
	}

	data, err := shard.EncodeManifest(res.Manifest)
	if err != nil {
		return err
	}
	return s.WriteBlob(shard.ManifestFilename, data)
}

// LoadShards assembles a partial map from the requested shard ids.
// Missing blobs are skipped with a warning; the partial map simply
// lacks those entries.
func (s *Store) LoadShards(m *shard.Manifest, ids []codemap.ShardID) (*codemap.CodebaseMap, error) {
	blobs := make(map[codemap.ShardID][]byte, len(ids))
	for _, sid := range ids {
		desc, ok := m.Shards[sid]
		if !ok {
			continue
		}
		data, err := s.ReadBlob(desc.BlobName)
		if err != nil {
			return nil, err
		}
		if data == nil {
			s.logger.Warn("store.shard_blob_missing", "shard", sid, "blob", desc.BlobName)
			continue
		}
		blobs[sid] = data
	}
	return shard.Assemble(m, blobs)
}

// LoadFull loads the complete map, preferring the sharded layout and
// falling back to the legacy flat blob. Returns nil when nothing is
// cached.
func (s *Store) LoadFull(repoID string) (*codemap.CodebaseMap, error) {
	manifest, err := s.LoadManifest()
	if err != nil {
		return nil, err
	}
	if manifest != nil {
		ids := make([]codemap.ShardID, 0, len(manifest.Shards))
		for sid := range manifest.Shards {
			ids = append(ids, sid)
		}
		return s.LoadShards(manifest, ids)
	}

	data, err := s.ReadBlob(shard.LegacyBlobName(repoID))
	if err != nil || data == nil {
		return nil, err
	}
	m, err := shard.DecodeFlat(data)
	if err != nil {
		s.logger.Warn("store.legacy_corrupt", "repo", repoID)
		return nil, nil
	}
	s.logger.Info("store.legacy_loaded", "repo", repoID, "files", m.Len())
	return m, nil
}

// RemoveLegacy deletes the pre-sharding flat blob after a sharded save.
func (s *Store) RemoveLegacy(repoID string) error {
	name := shard.LegacyBlobName(repoID)
	if !s.HasBlob(name) {
		return nil
	}
	if err := s.RemoveBlob(name); err != nil {
		return err
	}
	s.logger.Info("store.legacy_removed", "blob", name)
	return nil
}

// =============================================================================
// LOCKING
// =============================================================================

const (
	lockRetryInterval = 50 * time.Millisecond
	lockStaleAfter    = 30 * time.Second
	lockWaitCeiling   = 5 * time.Second
)

// Lock takes a cooperative lockfile guarding one blob name, for callers
// that may race a parallel push from the same workflow. The returned
// release function is safe to call once. A lock older than
// lockStaleAfter is presumed abandoned and stolen.
func (s *Store) Lock(name string) (func(), error) {
	lockPath := filepath.Join(s.dir, name+".lock")
	deadline := time.Now().Add(lockWaitCeiling)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, errors.NewPermissionError(
				"cannot take lock", "failed to create "+lockPath, "", err,
			)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > lockStaleAfter {
				s.logger.Warn("store.lock_stale_stolen", "lock", lockPath)
				_ = os.Remove(lockPath)
				continue
			}
		}
		if time.Now().After(deadline) {
			return nil, errors.NewConcurrencyError(
				"lock timeout",
				"could not acquire "+lockPath+" within "+lockWaitCeiling.String(),
				"another argus process may be writing; retry the run",
				nil,
			)
		}
		time.Sleep(lockRetryInterval)
	}
}
