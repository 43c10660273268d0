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
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
)

// AuditTrail is the append-only record of upload attempts, backed by
// BadgerDB for low-latency local writes.
//
// Keys are "attempt/<RFC3339Nano>/<uuid>" so a prefix scan returns attempts
// in submission order. The trail is for audit and metrics only; nothing in
// the ingest path reads it back.
type AuditTrail struct {
	db *badger.DB
}

// AuditConfig holds configuration for the audit trail database.
type AuditConfig struct {
	// Path is the directory for Badger files. Ignored when InMemory is true.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
}

// OpenAuditTrail opens (or creates) the Badger-backed audit trail.
func OpenAuditTrail(cfg AuditConfig) (*AuditTrail, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	return &AuditTrail{db: db}, nil
}

// Close closes the underlying Badger database.
func (a *AuditTrail) Close() error {
	return a.db.Close()
}

// Record appends one upload attempt. The attempt's ID and timestamp are
// assigned here if unset.
func (a *AuditTrail) Record(attempt datatypes.UploadAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.At.IsZero() {
		attempt.At = time.Now().UTC()
	}

	val, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("encoding upload attempt: %w", err)
	}
	key := fmt.Sprintf("attempt/%s/%s", attempt.At.Format(time.RFC3339Nano), attempt.ID)

	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return fmt.Errorf("writing upload attempt: %w", err)
	}
	return nil
}

// Attempts returns up to limit attempts in submission order. Intended for
// operational tooling, not the request path.
func (a *AuditTrail) Attempts(limit int) ([]datatypes.UploadAttempt, error) {
	var out []datatypes.UploadAttempt
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("attempt/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var attempt datatypes.UploadAttempt
				if err := json.Unmarshal(val, &attempt); err != nil {
					return err
				}
				out = append(out, attempt)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning upload attempts: %w", err)
	}
	return out, nil
}
