// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the persistent and wire-level types for the
// audio ingest service.
package datatypes

import (
	"time"
)

// =============================================================================
// Analysis States
// =============================================================================

// AnalysisState tracks where an artifact is in the fingerprinting pipeline.
//
// State machine:
//
//	pending ──extractor ok, no match──▶ analyzed
//	pending ──extractor ok, match────▶ matched
//
// Both analyzed and matched are terminal. An extractor failure leaves the
// artifact in pending permanently; it stays retrievable but never takes
// part in similarity detection.
type AnalysisState string

const (
	// StatePending means the digest was accepted but no fingerprint exists yet.
	StatePending AnalysisState = "pending"

	// StateAnalyzed means the fingerprint is stored and no similar artifact
	// was found at analysis time.
	StateAnalyzed AnalysisState = "analyzed"

	// StateMatched means the fingerprint is stored and at least one
	// similarity warning references this artifact.
	StateMatched AnalysisState = "matched"
)

// =============================================================================
// Persistent Models
// =============================================================================

// Artifact is one accepted audio upload, keyed by its content digest.
//
// Created exactly once by the admission ledger when a digest is first seen.
// Fingerprint, DurationSeconds and AnalysisState are written exactly once by
// the analysis worker. Rows are never deleted by this service.
type Artifact struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	// ContentDigest is the hex SHA-256 of the raw bytes. The unique index is
	// the single source of truth for duplicate rejection; concurrent inserts
	// of the same digest race on this constraint, not on process locks.
	ContentDigest string `gorm:"uniqueIndex:idx_artifact_digest;type:varchar(64);not null" json:"contentDigest"`

	// Fingerprint is the opaque perceptual fingerprint produced by the
	// extractor (base64 transport encoding). Empty until analysis completes.
	Fingerprint     string   `gorm:"type:text" json:"fingerprint,omitempty"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`

	OriginalName string        `gorm:"type:varchar(512)" json:"originalName"`
	ByteSize     int64         `json:"byteSize"`
	MediaType    string        `gorm:"type:varchar(128)" json:"mediaType"`
	State        AnalysisState `gorm:"type:varchar(16);index:idx_artifact_state" json:"analysisState"`

	AcceptedAt time.Time  `json:"acceptedAt"`
	AnalyzedAt *time.Time `json:"analyzedAt,omitempty"`
}

// SimilarityWarning records that two artifacts are perceptually similar
// above the fixed threshold.
//
// The pair is stored normalized (ArtifactAID < ArtifactBID) so the composite
// unique index enforces at most one warning per unordered pair. Rows are
// never mutated or deleted.
type SimilarityWarning struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	ArtifactAID string `gorm:"uniqueIndex:idx_warning_pair,priority:1;type:varchar(36);not null" json:"artifactA"`
	ArtifactBID string `gorm:"uniqueIndex:idx_warning_pair,priority:2;type:varchar(36);not null" json:"artifactB"`

	// SimilarityPercent is in [0,100], rounded to two decimals.
	SimilarityPercent float64   `json:"similarityPercent"`
	DetectedAt        time.Time `gorm:"index:idx_warning_detected" json:"detectedAt"`
}

// =============================================================================
// Audit
// =============================================================================

// UploadAttempt is one append-only audit record per submission, duplicate or
// not. Stored in the Badger audit trail, never read back for correctness.
type UploadAttempt struct {
	ID           string    `json:"id"`
	Digest       string    `json:"digest"`
	WasDuplicate bool      `json:"was_duplicate"`
	OriginalName string    `json:"original_name"`
	ByteSize     int64     `json:"byte_size"`
	At           time.Time `json:"at"`
}

// =============================================================================
// Wire Types
// =============================================================================

// UploadResponse is the body returned by POST /v1/upload.
type UploadResponse struct {
	Duplicate bool   `json:"duplicate"`
	AudioID   string `json:"audioId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// WarningFileRef identifies one side of a warning in API responses.
type WarningFileRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// WarningView is the API projection of a SimilarityWarning.
type WarningView struct {
	ID                string         `json:"id"`
	File1             WarningFileRef `json:"file1"`
	File2             WarningFileRef `json:"file2"`
	SimilarityPercent float64        `json:"similarityPercent"`
	DetectedAt        time.Time      `json:"detectedAt"`
}

// SimilarityEvent is pushed to subscribers when a new warning is recorded.
// Type is "connected" for the stream handshake and "similarity_detected"
// for warning events.
type SimilarityEvent struct {
	Type              string          `json:"type"`
	File1             *WarningFileRef `json:"file1,omitempty"`
	File2             *WarningFileRef `json:"file2,omitempty"`
	SimilarityPercent float64         `json:"similarityPercent,omitempty"`
	Timestamp         int64           `json:"timestamp,omitempty"`
}
