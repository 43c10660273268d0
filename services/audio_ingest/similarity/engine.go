// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package similarity implements the perceptual-similarity scan over stored
// fingerprints.
package similarity

import (
	"context"
	"encoding/base64"
	"log/slog"
	"math"
	"math/bits"
	"time"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
)

// MatchThreshold is the minimum similarity percent that counts as a match.
// Fixed by design, not runtime-configurable: changing it would make newly
// persisted warnings incompatible with existing ones.
const MatchThreshold = 70.0

// encodedBitsPerChar is the scale factor applied to the encoded fingerprint
// string length when normalizing the distance. Note it deliberately uses
// the transport-encoded length, not the decoded byte length; this is baked
// into the similarity formula and preserved for compatibility.
const encodedBitsPerChar = 6

// CandidateSource supplies the fingerprinted artifacts to scan and records
// the outcome of a match.
type CandidateSource interface {
	ListFingerprinted(ctx context.Context, excludeID string) ([]datatypes.Artifact, error)
	InsertWarning(ctx context.Context, idA, idB string, similarityPercent float64) (bool, error)
	MarkMatched(ctx context.Context, id string) error
	FindArtifact(ctx context.Context, id string) (*datatypes.Artifact, error)
}

// Broadcaster pushes a similarity event to the live subscribers of both
// artifacts in a pair.
type Broadcaster interface {
	Broadcast(artifactA, artifactB string, event datatypes.SimilarityEvent)
}

// Result is the outcome of an Evaluate call.
type Result struct {
	Matched bool
	// MatchedID and SimilarityPercent are set only when Matched is true.
	MatchedID         string
	SimilarityPercent float64
}

// Engine compares a fingerprint against the stored candidate set.
type Engine struct {
	source CandidateSource
	hub    Broadcaster
}

// NewEngine wires the engine to its candidate source and notification hub.
func NewEngine(source CandidateSource, hub Broadcaster) *Engine {
	return &Engine{source: source, hub: hub}
}

// Evaluate scans all fingerprinted artifacts (newest analysis first) and
// stops at the first candidate whose similarity reaches the threshold.
//
// # Description
//
// First-match-wins is a policy decision, not an oversight: the engine never
// keeps scanning for a better or more complete match set, because that
// would change which warnings get persisted. On a match it records exactly
// one warning for the unordered pair (idempotent), transitions both
// artifacts' states, and broadcasts to subscribers of both ids. The scan is
// consistent only with whatever fingerprints are persisted at the moment it
// runs; near-simultaneous analyses of similar files may find zero, one, or
// both directions of a match, which is accepted.
func (e *Engine) Evaluate(ctx context.Context, subjectID, subjectFingerprint string) (Result, error) {
	candidates, err := e.source.ListFingerprinted(ctx, subjectID)
	if err != nil {
		return Result{}, err
	}

	for _, cand := range candidates {
		pct := Percent(subjectFingerprint, cand.Fingerprint)
		if pct < MatchThreshold {
			continue
		}

		inserted, err := e.source.InsertWarning(ctx, subjectID, cand.ID, pct)
		if err != nil {
			return Result{}, err
		}
		if !inserted {
			slog.Debug("warning pair already recorded", "subject", subjectID, "candidate", cand.ID)
		}
		if err := e.source.MarkMatched(ctx, subjectID); err != nil {
			return Result{}, err
		}
		if err := e.source.MarkMatched(ctx, cand.ID); err != nil {
			return Result{}, err
		}

		e.broadcast(ctx, subjectID, cand, pct)
		return Result{Matched: true, MatchedID: cand.ID, SimilarityPercent: pct}, nil
	}

	return Result{Matched: false}, nil
}

func (e *Engine) broadcast(ctx context.Context, subjectID string, cand datatypes.Artifact, pct float64) {
	subject, err := e.source.FindArtifact(ctx, subjectID)
	if err != nil {
		// The event is best-effort; the warning row is already durable.
		slog.Warn("could not load subject for broadcast", "id", subjectID, "error", err)
		return
	}
	e.hub.Broadcast(subjectID, cand.ID, datatypes.SimilarityEvent{
		Type:              "similarity_detected",
		File1:             &datatypes.WarningFileRef{ID: subject.ID, Filename: subject.OriginalName},
		File2:             &datatypes.WarningFileRef{ID: cand.ID, Filename: cand.OriginalName},
		SimilarityPercent: pct,
		Timestamp:         time.Now().UnixMilli(),
	})
}

// =============================================================================
// Distance
// =============================================================================

// Percent computes the symmetric similarity between two transport-encoded
// fingerprints, in [0,100] rounded to two decimals.
//
// distance = |lenA-lenB|*8 + popcount(xor over the common byte prefix),
// maxBits = max(encoded string lengths) * 6. An undecodable or empty
// fingerprint has infinite distance, so it never matches anything.
func Percent(encodedA, encodedB string) float64 {
	rawA := decode(encodedA)
	rawB := decode(encodedB)
	if len(rawA) == 0 || len(rawB) == 0 {
		return 0
	}

	dist := distance(rawA, rawB)
	maxBits := max(len(encodedA), len(encodedB)) * encodedBitsPerChar
	if maxBits == 0 {
		return 0
	}

	pct := float64(maxBits-dist) / float64(maxBits) * 100
	if pct < 0 {
		pct = 0
	}
	return math.Round(pct*100) / 100
}

// decode handles both padded standard base64 and the unpadded URL-safe
// alphabet chromaprint emits. A fingerprint that decodes under neither is
// treated as empty.
func decode(s string) []byte {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw
	}
	if raw, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return raw
	}
	return nil
}

// distance penalizes both length mismatch (8 bits per missing byte) and
// bit-level divergence over the overlapping prefix.
func distance(a, b []byte) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	d := (len(b) - len(a)) * 8
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}
