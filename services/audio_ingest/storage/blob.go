// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore abstracts the byte storage for uploaded audio.
//
// The ingest path stages incoming bytes under a temporary key, then either
// deletes the staging object (duplicate) or moves it to its permanent,
// digest-derived key (admitted). Analysis workers read objects back via Get.
type BlobStore interface {
	// Put writes the object under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error

	// Move atomically relocates srcKey to dstKey where the backend allows
	// it, falling back to copy-then-delete otherwise.
	Move(ctx context.Context, srcKey, dstKey string) error

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// =============================================================================
// Local Filesystem Backend
// =============================================================================

// LocalBlobStore stores objects as files under a root directory. Keys may
// contain "/" separators; parent directories are created on demand.
type LocalBlobStore struct {
	root string
}

// NewLocalBlobStore creates the root directory if needed.
func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", root, err)
	}
	return &LocalBlobStore{root: root}, nil
}

func (s *LocalBlobStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

func (s *LocalBlobStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating blob dir for %s: %w", key, err)
	}
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("creating blob %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("writing blob %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing blob %s: %w", key, err)
	}
	return nil
}

func (s *LocalBlobStore) Move(ctx context.Context, srcKey, dstKey string) error {
	dst := s.path(dstKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating blob dir for %s: %w", dstKey, err)
	}
	if err := os.Rename(s.path(srcKey), dst); err != nil {
		return fmt.Errorf("moving blob %s -> %s: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *LocalBlobStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob %s: %w", key, err)
	}
	return nil
}

func (s *LocalBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", key, err)
	}
	return f, nil
}

var _ BlobStore = (*LocalBlobStore)(nil)
