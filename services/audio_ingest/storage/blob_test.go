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
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlobs(t *testing.T) *LocalBlobStore {
	t.Helper()
	blobs, err := NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	return blobs
}

func readBlob(t *testing.T, blobs *LocalBlobStore, key string) string {
	t.Helper()
	rc, err := blobs.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestLocalBlobStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put then get round-trips", func(t *testing.T) {
		blobs := newTestBlobs(t)
		require.NoError(t, blobs.Put(ctx, "staging/one", strings.NewReader("payload"), "audio/mpeg"))
		assert.Equal(t, "payload", readBlob(t, blobs, "staging/one"))
	})

	t.Run("put replaces existing object", func(t *testing.T) {
		blobs := newTestBlobs(t)
		require.NoError(t, blobs.Put(ctx, "k", strings.NewReader("old"), ""))
		require.NoError(t, blobs.Put(ctx, "k", strings.NewReader("new"), ""))
		assert.Equal(t, "new", readBlob(t, blobs, "k"))
	})

	t.Run("move relocates across key prefixes", func(t *testing.T) {
		blobs := newTestBlobs(t)
		require.NoError(t, blobs.Put(ctx, "staging/tmp-1", strings.NewReader("bits"), ""))
		require.NoError(t, blobs.Move(ctx, "staging/tmp-1", "audio/deadbeef"))

		assert.Equal(t, "bits", readBlob(t, blobs, "audio/deadbeef"))
		_, err := blobs.Get(ctx, "staging/tmp-1")
		assert.Error(t, err, "source must be gone after move")
	})

	t.Run("move of a missing source fails", func(t *testing.T) {
		blobs := newTestBlobs(t)
		assert.Error(t, blobs.Move(ctx, "staging/nope", "audio/whatever"))
	})

	t.Run("delete removes the object", func(t *testing.T) {
		blobs := newTestBlobs(t)
		require.NoError(t, blobs.Put(ctx, "k", strings.NewReader("x"), ""))
		require.NoError(t, blobs.Delete(ctx, "k"))
		_, err := blobs.Get(ctx, "k")
		assert.Error(t, err)
	})

	t.Run("delete of a missing key is not an error", func(t *testing.T) {
		blobs := newTestBlobs(t)
		assert.NoError(t, blobs.Delete(ctx, "never/existed"))
	})

	t.Run("get of a missing key fails", func(t *testing.T) {
		blobs := newTestBlobs(t)
		_, err := blobs.Get(ctx, "missing")
		assert.Error(t, err)
	})
}
