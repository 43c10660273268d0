// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage provides the relational admission ledger and warning
// store (SQLite via GORM), the append-only Badger audit trail, and the
// blob store implementations.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
)

// DefaultDBFile is the SQLite file used when AUDIO_DB_PATH is unset.
const DefaultDBFile = "aleutian_audio.sqlite3"

// Store wraps the relational backing store for artifacts and warnings.
//
// # Thread Safety
//
// Safe for concurrent use. Write paths rely on the database's uniqueness
// constraints rather than in-process locking, so the ledger stays correct
// even with multiple processes sharing one database file.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at dbPath and migrates the
// artifact and warning tables.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&datatypes.Artifact{}, &datatypes.SimilarityWarning{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// =============================================================================
// Admission Ledger
// =============================================================================

// AdmitResult is the outcome of a TryAdmit call.
type AdmitResult struct {
	Admitted bool
	// ArtifactID is set only when Admitted is true.
	ArtifactID string
}

// ArtifactMeta carries the immutable descriptive metadata captured at
// admission time.
type ArtifactMeta struct {
	OriginalName string
	ByteSize     int64
	MediaType    string
}

// TryAdmit attempts to record a never-before-seen digest.
//
// # Description
//
// Inserts an Artifact row in state pending using an insert-unless-exists
// on the content digest's unique index. Under N concurrent calls with the
// same digest exactly one insert lands; the losers see zero rows affected
// and report a duplicate with no partial state left behind.
//
// # Outputs
//
//   - AdmitResult: Admitted=false means the digest already exists.
//   - error: Non-nil only on storage failure, never for duplicates.
func (s *Store) TryAdmit(ctx context.Context, digest string, meta ArtifactMeta) (AdmitResult, error) {
	artifact := datatypes.Artifact{
		ID:            uuid.NewString(),
		ContentDigest: digest,
		OriginalName:  meta.OriginalName,
		ByteSize:      meta.ByteSize,
		MediaType:     meta.MediaType,
		State:         datatypes.StatePending,
		AcceptedAt:    time.Now().UTC(),
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_digest"}},
			DoNothing: true,
		}).
		Create(&artifact)
	if res.Error != nil {
		return AdmitResult{}, fmt.Errorf("admitting digest %s: %w", digest, res.Error)
	}
	if res.RowsAffected == 0 {
		return AdmitResult{Admitted: false}, nil
	}
	return AdmitResult{Admitted: true, ArtifactID: artifact.ID}, nil
}

// FindArtifact returns the artifact with the given id, or
// gorm.ErrRecordNotFound.
func (s *Store) FindArtifact(ctx context.Context, id string) (*datatypes.Artifact, error) {
	var a datatypes.Artifact
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListFingerprinted returns all artifacts that completed analysis, newest
// analysis first, excluding excludeID. This is the candidate set for the
// similarity scan; the ordering makes the first-match-wins scan
// deterministic for a given ledger state.
func (s *Store) ListFingerprinted(ctx context.Context, excludeID string) ([]datatypes.Artifact, error) {
	var out []datatypes.Artifact
	err := s.db.WithContext(ctx).
		Where("fingerprint <> '' AND id <> ?", excludeID).
		Order("analyzed_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing fingerprinted artifacts: %w", err)
	}
	return out, nil
}

// StoreFingerprint records the analysis result for a pending artifact and
// moves it to state analyzed.
//
// The update is guarded on state=pending so re-delivered analysis tasks are
// a no-op; the bool reports whether this call performed the transition.
func (s *Store) StoreFingerprint(ctx context.Context, id, fingerprint string, durationSeconds float64) (bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&datatypes.Artifact{}).
		Where("id = ? AND state = ?", id, datatypes.StatePending).
		Updates(map[string]any{
			"fingerprint":      fingerprint,
			"duration_seconds": durationSeconds,
			"state":            datatypes.StateAnalyzed,
			"analyzed_at":      now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("storing fingerprint for %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkMatched transitions an analyzed artifact to matched. Artifacts that
// are already matched stay matched; pending artifacts are never moved here
// because a match implies the fingerprint was just stored.
func (s *Store) MarkMatched(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&datatypes.Artifact{}).
		Where("id = ? AND state = ?", id, datatypes.StateAnalyzed).
		Update("state", datatypes.StateMatched).Error
	if err != nil {
		return fmt.Errorf("marking %s matched: %w", id, err)
	}
	return nil
}

// =============================================================================
// Warning Store
// =============================================================================

// InsertWarning persists a similarity warning for the unordered pair
// (idA, idB).
//
// The pair is normalized before insert so the composite unique index holds
// regardless of argument order. A second insert for the same pair is a
// silent no-op; the bool reports whether a row was actually created.
func (s *Store) InsertWarning(ctx context.Context, idA, idB string, similarityPercent float64) (bool, error) {
	if idB < idA {
		idA, idB = idB, idA
	}
	w := datatypes.SimilarityWarning{
		ID:                uuid.NewString(),
		ArtifactAID:       idA,
		ArtifactBID:       idB,
		SimilarityPercent: similarityPercent,
		DetectedAt:        time.Now().UTC(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "artifact_a_id"}, {Name: "artifact_b_id"}},
			DoNothing: true,
		}).
		Create(&w)
	if res.Error != nil {
		return false, fmt.Errorf("inserting warning %s/%s: %w", idA, idB, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// WarningsForArtifact returns every warning referencing the given artifact,
// newest first.
func (s *Store) WarningsForArtifact(ctx context.Context, id string) ([]datatypes.SimilarityWarning, error) {
	var out []datatypes.SimilarityWarning
	err := s.db.WithContext(ctx).
		Where("artifact_a_id = ? OR artifact_b_id = ?", id, id).
		Order("detected_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing warnings for %s: %w", id, err)
	}
	return out, nil
}

// RecentWarnings returns the most recent warnings across all artifacts,
// capped at limit.
func (s *Store) RecentWarnings(ctx context.Context, limit int) ([]datatypes.SimilarityWarning, error) {
	var out []datatypes.SimilarityWarning
	err := s.db.WithContext(ctx).
		Order("detected_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing recent warnings: %w", err)
	}
	return out, nil
}

// ArtifactsByID fetches the named artifacts in one query and returns them
// keyed by id. Missing ids are simply absent from the map.
func (s *Store) ArtifactsByID(ctx context.Context, ids []string) (map[string]datatypes.Artifact, error) {
	if len(ids) == 0 {
		return map[string]datatypes.Artifact{}, nil
	}
	var rows []datatypes.Artifact
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetching artifacts by id: %w", err)
	}
	out := make(map[string]datatypes.Artifact, len(rows))
	for _, a := range rows {
		out[a.ID] = a
	}
	return out, nil
}
