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
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testMeta(name string) ArtifactMeta {
	return ArtifactMeta{OriginalName: name, ByteSize: 1024, MediaType: "audio/mpeg"}
}

func TestTryAdmit(t *testing.T) {
	ctx := context.Background()

	t.Run("first admission wins, second is duplicate", func(t *testing.T) {
		store := newTestStore(t)

		first, err := store.TryAdmit(ctx, "digest-1", testMeta("a.mp3"))
		require.NoError(t, err)
		assert.True(t, first.Admitted)
		assert.NotEmpty(t, first.ArtifactID)

		second, err := store.TryAdmit(ctx, "digest-1", testMeta("a-again.mp3"))
		require.NoError(t, err)
		assert.False(t, second.Admitted)
		assert.Empty(t, second.ArtifactID)
	})

	t.Run("admitted artifact starts pending", func(t *testing.T) {
		store := newTestStore(t)
		res, err := store.TryAdmit(ctx, "digest-2", testMeta("b.mp3"))
		require.NoError(t, err)

		artifact, err := store.FindArtifact(ctx, res.ArtifactID)
		require.NoError(t, err)
		assert.Equal(t, datatypes.StatePending, artifact.State)
		assert.Equal(t, "digest-2", artifact.ContentDigest)
		assert.Equal(t, "b.mp3", artifact.OriginalName)
		assert.Empty(t, artifact.Fingerprint)
	})

	t.Run("concurrent admissions of one digest produce exactly one row", func(t *testing.T) {
		store := newTestStore(t)

		const attempts = 16
		var wg sync.WaitGroup
		results := make([]AdmitResult, attempts)
		errs := make([]error, attempts)

		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = store.TryAdmit(ctx, "hot-digest", testMeta(fmt.Sprintf("f%d.mp3", i)))
			}(i)
		}
		wg.Wait()

		admitted := 0
		for i := 0; i < attempts; i++ {
			require.NoError(t, errs[i])
			if results[i].Admitted {
				admitted++
			}
		}
		assert.Equal(t, 1, admitted, "exactly one concurrent TryAdmit must win")
	})

	t.Run("different digests are independent", func(t *testing.T) {
		store := newTestStore(t)
		a, err := store.TryAdmit(ctx, "digest-x", testMeta("x.mp3"))
		require.NoError(t, err)
		b, err := store.TryAdmit(ctx, "digest-y", testMeta("y.mp3"))
		require.NoError(t, err)
		assert.True(t, a.Admitted)
		assert.True(t, b.Admitted)
	})
}

func TestStoreFingerprint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	res, err := store.TryAdmit(ctx, "digest-fp", testMeta("c.mp3"))
	require.NoError(t, err)

	stored, err := store.StoreFingerprint(ctx, res.ArtifactID, "ZmluZ2VycHJpbnQ=", 180.5)
	require.NoError(t, err)
	assert.True(t, stored)

	artifact, err := store.FindArtifact(ctx, res.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StateAnalyzed, artifact.State)
	assert.Equal(t, "ZmluZ2VycHJpbnQ=", artifact.Fingerprint)
	require.NotNil(t, artifact.DurationSeconds)
	assert.Equal(t, 180.5, *artifact.DurationSeconds)
	assert.NotNil(t, artifact.AnalyzedAt)

	// Re-delivered task: the guard on state=pending makes it a no-op.
	stored, err = store.StoreFingerprint(ctx, res.ArtifactID, "b3RoZXI=", 99)
	require.NoError(t, err)
	assert.False(t, stored)

	artifact, err = store.FindArtifact(ctx, res.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, "ZmluZ2VycHJpbnQ=", artifact.Fingerprint, "no-op must not overwrite")
}

func TestMarkMatched(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	res, err := store.TryAdmit(ctx, "digest-m", testMeta("d.mp3"))
	require.NoError(t, err)

	// Pending artifacts are not movable to matched.
	require.NoError(t, store.MarkMatched(ctx, res.ArtifactID))
	artifact, err := store.FindArtifact(ctx, res.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatePending, artifact.State)

	_, err = store.StoreFingerprint(ctx, res.ArtifactID, "Zmlu", 10)
	require.NoError(t, err)
	require.NoError(t, store.MarkMatched(ctx, res.ArtifactID))

	artifact, err = store.FindArtifact(ctx, res.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StateMatched, artifact.State)

	// Matched is terminal; marking again changes nothing.
	require.NoError(t, store.MarkMatched(ctx, res.ArtifactID))
	artifact, err = store.FindArtifact(ctx, res.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StateMatched, artifact.State)
}

func TestListFingerprinted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := store.TryAdmit(ctx, fmt.Sprintf("digest-l%d", i), testMeta(fmt.Sprintf("l%d.mp3", i)))
		require.NoError(t, err)
		ids = append(ids, res.ArtifactID)
	}

	// Only the first two get fingerprints; the third stays pending.
	_, err := store.StoreFingerprint(ctx, ids[0], "QQ==", 1)
	require.NoError(t, err)
	_, err = store.StoreFingerprint(ctx, ids[1], "Qg==", 2)
	require.NoError(t, err)

	candidates, err := store.ListFingerprinted(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, ids[1], candidates[0].ID, "subject and pending artifacts are excluded")
}

func TestInsertWarning(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t.Run("idempotent per unordered pair", func(t *testing.T) {
		inserted, err := store.InsertWarning(ctx, "id-b", "id-a", 84.5)
		require.NoError(t, err)
		assert.True(t, inserted)

		// Same pair, both orders: no new rows.
		inserted, err = store.InsertWarning(ctx, "id-b", "id-a", 84.5)
		require.NoError(t, err)
		assert.False(t, inserted)
		inserted, err = store.InsertWarning(ctx, "id-a", "id-b", 84.5)
		require.NoError(t, err)
		assert.False(t, inserted)

		warnings, err := store.WarningsForArtifact(ctx, "id-a")
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Equal(t, "id-a", warnings[0].ArtifactAID, "pair is stored normalized")
		assert.Equal(t, "id-b", warnings[0].ArtifactBID)
		assert.Equal(t, 84.5, warnings[0].SimilarityPercent)
	})

	t.Run("queryable from either side", func(t *testing.T) {
		fromA, err := store.WarningsForArtifact(ctx, "id-a")
		require.NoError(t, err)
		fromB, err := store.WarningsForArtifact(ctx, "id-b")
		require.NoError(t, err)
		assert.Equal(t, fromA, fromB)
	})
}

func TestRecentWarnings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := store.InsertWarning(ctx, fmt.Sprintf("r%d", i), fmt.Sprintf("s%d", i), 75)
		require.NoError(t, err)
	}

	warnings, err := store.RecentWarnings(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, warnings, 3)
}

func TestArtifactsByID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	res, err := store.TryAdmit(ctx, "digest-by-id", testMeta("e.mp3"))
	require.NoError(t, err)

	got, err := store.ArtifactsByID(ctx, []string{res.ArtifactID, "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e.mp3", got[res.ArtifactID].OriginalName)

	empty, err := store.ArtifactsByID(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
