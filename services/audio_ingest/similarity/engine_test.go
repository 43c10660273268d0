// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package similarity

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
)

// encodeBytes is a helper producing a transport-encoded fingerprint from
// raw bits.
func encodeBytes(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

func TestPercent(t *testing.T) {
	t.Run("identical fingerprints are 100 percent", func(t *testing.T) {
		fp := encodeBytes(bytes.Repeat([]byte{0xAB}, 30))
		assert.Equal(t, 100.0, Percent(fp, fp))
	})

	t.Run("deterministic", func(t *testing.T) {
		a := encodeBytes([]byte{0x01, 0x02, 0x03, 0x04})
		b := encodeBytes([]byte{0x01, 0x02, 0xFF, 0x04})
		assert.Equal(t, Percent(a, b), Percent(a, b))
	})

	t.Run("symmetric", func(t *testing.T) {
		a := encodeBytes(bytes.Repeat([]byte{0x55}, 17))
		b := encodeBytes(bytes.Repeat([]byte{0x57}, 23))
		assert.Equal(t, Percent(a, b), Percent(b, a))
	})

	t.Run("exact threshold boundary is 70.00", func(t *testing.T) {
		// 30 raw bytes encode to 40 chars, so maxBits = 240. Flipping 9
		// full bytes gives a popcount distance of 72, and
		// (240-72)/240*100 = 70.00 exactly.
		a := bytes.Repeat([]byte{0x00}, 30)
		b := append(bytes.Repeat([]byte{0xFF}, 9), bytes.Repeat([]byte{0x00}, 21)...)
		pct := Percent(encodeBytes(a), encodeBytes(b))
		assert.Equal(t, 70.0, pct)
		assert.GreaterOrEqual(t, pct, MatchThreshold)
	})

	t.Run("one more flipped bit drops below threshold", func(t *testing.T) {
		a := bytes.Repeat([]byte{0x00}, 30)
		b := append(bytes.Repeat([]byte{0xFF}, 9), bytes.Repeat([]byte{0x00}, 21)...)
		b[9] = 0x01 // distance 73
		pct := Percent(encodeBytes(a), encodeBytes(b))
		assert.Less(t, pct, MatchThreshold)
	})

	t.Run("length mismatch is penalized", func(t *testing.T) {
		a := encodeBytes(bytes.Repeat([]byte{0x00}, 30))
		b := encodeBytes(bytes.Repeat([]byte{0x00}, 20))
		// 10 missing bytes cost 80 bits against maxBits 240.
		assert.InDelta(t, (240.0-80.0)/240.0*100.0, Percent(a, b), 0.01)
	})

	t.Run("empty or undecodable fingerprints never match", func(t *testing.T) {
		valid := encodeBytes([]byte{0x01, 0x02})
		assert.Equal(t, 0.0, Percent("", valid))
		assert.Equal(t, 0.0, Percent(valid, ""))
		assert.Equal(t, 0.0, Percent("!!!not-base64!!!", valid))
	})

	t.Run("rounded to two decimals", func(t *testing.T) {
		a := bytes.Repeat([]byte{0x00}, 30)
		b := append(bytes.Repeat([]byte{0x00}, 29), 0x01)
		// distance 1, (240-1)/240*100 = 99.58333... -> 99.58
		assert.Equal(t, 99.58, Percent(encodeBytes(a), encodeBytes(b)))
	})
}

// =============================================================================
// Engine
// =============================================================================

type fakeSource struct {
	candidates []datatypes.Artifact
	artifacts  map[string]*datatypes.Artifact

	insertedPairs [][2]string
	matchedIDs    []string
	insertResult  bool
}

func (f *fakeSource) ListFingerprinted(ctx context.Context, excludeID string) ([]datatypes.Artifact, error) {
	return f.candidates, nil
}

func (f *fakeSource) InsertWarning(ctx context.Context, idA, idB string, pct float64) (bool, error) {
	f.insertedPairs = append(f.insertedPairs, [2]string{idA, idB})
	return f.insertResult, nil
}

func (f *fakeSource) MarkMatched(ctx context.Context, id string) error {
	f.matchedIDs = append(f.matchedIDs, id)
	return nil
}

func (f *fakeSource) FindArtifact(ctx context.Context, id string) (*datatypes.Artifact, error) {
	return f.artifacts[id], nil
}

type fakeHub struct {
	events []datatypes.SimilarityEvent
	pairs  [][2]string
}

func (f *fakeHub) Broadcast(a, b string, event datatypes.SimilarityEvent) {
	f.pairs = append(f.pairs, [2]string{a, b})
	f.events = append(f.events, event)
}

func TestEngineEvaluate(t *testing.T) {
	subjectFP := encodeBytes(bytes.Repeat([]byte{0xAA}, 30))
	similarFP := subjectFP
	differentFP := encodeBytes(bytes.Repeat([]byte{0x00}, 30))

	t.Run("stops at first candidate above threshold", func(t *testing.T) {
		source := &fakeSource{
			candidates: []datatypes.Artifact{
				{ID: "cand-1", Fingerprint: differentFP, OriginalName: "noise.mp3"},
				{ID: "cand-2", Fingerprint: similarFP, OriginalName: "dup.mp3"},
				{ID: "cand-3", Fingerprint: similarFP, OriginalName: "also-dup.mp3"},
			},
			artifacts: map[string]*datatypes.Artifact{
				"subject": {ID: "subject", OriginalName: "new.mp3"},
			},
			insertResult: true,
		}
		hub := &fakeHub{}
		engine := NewEngine(source, hub)

		res, err := engine.Evaluate(context.Background(), "subject", subjectFP)
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, "cand-2", res.MatchedID)
		assert.Equal(t, 100.0, res.SimilarityPercent)

		// cand-3 was never considered: one warning, one broadcast.
		require.Len(t, source.insertedPairs, 1)
		assert.Equal(t, [2]string{"subject", "cand-2"}, source.insertedPairs[0])
		require.Len(t, hub.pairs, 1)
		assert.Equal(t, [2]string{"subject", "cand-2"}, hub.pairs[0])

		assert.ElementsMatch(t, []string{"subject", "cand-2"}, source.matchedIDs)
	})

	t.Run("broadcast payload carries both filenames", func(t *testing.T) {
		source := &fakeSource{
			candidates: []datatypes.Artifact{
				{ID: "cand", Fingerprint: similarFP, OriginalName: "existing.mp3"},
			},
			artifacts: map[string]*datatypes.Artifact{
				"subject": {ID: "subject", OriginalName: "incoming.mp3"},
			},
			insertResult: true,
		}
		hub := &fakeHub{}
		engine := NewEngine(source, hub)

		_, err := engine.Evaluate(context.Background(), "subject", subjectFP)
		require.NoError(t, err)

		require.Len(t, hub.events, 1)
		event := hub.events[0]
		assert.Equal(t, "similarity_detected", event.Type)
		assert.Equal(t, "incoming.mp3", event.File1.Filename)
		assert.Equal(t, "existing.mp3", event.File2.Filename)
		assert.Equal(t, 100.0, event.SimilarityPercent)
		assert.NotZero(t, event.Timestamp)
	})

	t.Run("no candidates above threshold yields no match", func(t *testing.T) {
		source := &fakeSource{
			candidates: []datatypes.Artifact{
				{ID: "cand-1", Fingerprint: differentFP},
			},
		}
		hub := &fakeHub{}
		engine := NewEngine(source, hub)

		res, err := engine.Evaluate(context.Background(), "subject", subjectFP)
		require.NoError(t, err)
		assert.False(t, res.Matched)
		assert.Empty(t, source.insertedPairs)
		assert.Empty(t, hub.events)
	})

	t.Run("empty candidate set yields no match", func(t *testing.T) {
		engine := NewEngine(&fakeSource{}, &fakeHub{})
		res, err := engine.Evaluate(context.Background(), "subject", subjectFP)
		require.NoError(t, err)
		assert.False(t, res.Matched)
	})
}
