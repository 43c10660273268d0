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
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBlobStore stores audio objects in a Google Cloud Storage bucket.
// Used for enterprise deployments where the appliance does not keep audio
// on local disk.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobStore creates a GCS-backed blob store. If saKeyPath is empty,
// application default credentials are used.
func NewGCSBlobStore(ctx context.Context, bucket, saKeyPath string) (*GCSBlobStore, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: bucket}, nil
}

// Close releases the underlying GCS client.
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}

func (s *GCSBlobStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("failed to copy to GCS object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return nil
}

// Move is copy-then-delete; GCS has no rename primitive.
func (s *GCSBlobStore) Move(ctx context.Context, srcKey, dstKey string) error {
	bkt := s.client.Bucket(s.bucket)
	src := bkt.Object(srcKey)
	if _, err := bkt.Object(dstKey).CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("copying GCS object %s -> %s: %w", srcKey, dstKey, err)
	}
	if err := src.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting GCS object %s after copy: %w", srcKey, err)
	}
	return nil
}

func (s *GCSBlobStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting GCS object %s: %w", key, err)
	}
	return nil
}

func (s *GCSBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening GCS object %s: %w", key, err)
	}
	return r, nil
}

var _ BlobStore = (*GCSBlobStore)(nil)
