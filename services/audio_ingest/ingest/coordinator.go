// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/analysis"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/observability"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/storage"
)

// ErrUnsupportedMediaType is returned before any byte is digested or
// stored when the declared media type is not on the allow-list.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// Ledger is the slice of the relational store the intake path needs.
type Ledger interface {
	TryAdmit(ctx context.Context, digest string, meta storage.ArtifactMeta) (storage.AdmitResult, error)
}

// AuditRecorder appends upload-attempt audit records. Failures here are
// logged, never surfaced: the audit trail is not load-bearing.
type AuditRecorder interface {
	Record(attempt datatypes.UploadAttempt) error
}

// Enqueuer schedules the asynchronous analysis continuation.
type Enqueuer interface {
	Enqueue(ctx context.Context, task analysis.Task) error
}

// Result is the synchronous outcome of one submission.
type Result struct {
	Duplicate bool
	// AudioID is set only for accepted submissions.
	AudioID string
	// ByteSize is the number of bytes read from the submission.
	ByteSize int64
}

// Coordinator orchestrates the end-to-end intake flow.
//
// # Description
//
// The caller waits for digest and admission only; analysis is enqueued and
// runs later on the worker pool. Duplicates are decided solely by the
// ledger's unique constraint, so the decision holds across concurrent
// requests and across processes sharing one database.
type Coordinator struct {
	ledger  Ledger
	blobs   storage.BlobStore
	audit   AuditRecorder
	queue   Enqueuer
	metrics *observability.Metrics
}

// NewCoordinator wires the intake path together.
func NewCoordinator(ledger Ledger, blobs storage.BlobStore, audit AuditRecorder,
	queue Enqueuer, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		ledger:  ledger,
		blobs:   blobs,
		audit:   audit,
		queue:   queue,
		metrics: metrics,
	}
}

// Meta is the caller-supplied description of a submission.
type Meta struct {
	OriginalName string
	MediaType    string
}

// Ingest processes one submitted artifact.
//
// # Description
//
// Steps, in order:
//  1. Reject unsupported media types before reading any bytes.
//  2. Stage the bytes to the blob store while digesting them in one pass.
//  3. Attempt admission. On duplicate: delete the staging object, record
//     the audit attempt, return immediately (no async work is scheduled).
//  4. On admission: move the staging object to its permanent digest-derived
//     key, record the audit attempt, enqueue analysis, return the new id.
//
// A failed relocation after admission is surfaced as an error; the ledger
// row already exists and is left for operational tooling to reconcile, by
// design not rolled back here.
func (c *Coordinator) Ingest(ctx context.Context, r io.Reader, meta Meta) (Result, error) {
	if !IsSupportedMediaType(meta.MediaType) {
		c.metrics.RecordUpload(observability.OutcomeUnsupported, 0)
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, meta.MediaType)
	}

	stagingKey := "staging/" + uuid.NewString()
	digester := NewDigester()
	if err := c.blobs.Put(ctx, stagingKey, io.TeeReader(r, digester), meta.MediaType); err != nil {
		c.metrics.RecordUpload(observability.OutcomeError, 0)
		return Result{}, fmt.Errorf("staging upload: %w", err)
	}
	digest := digester.Sum()
	size := digester.Bytes()

	admit, err := c.ledger.TryAdmit(ctx, digest, storage.ArtifactMeta{
		OriginalName: meta.OriginalName,
		ByteSize:     size,
		MediaType:    meta.MediaType,
	})
	if err != nil {
		c.metrics.RecordUpload(observability.OutcomeError, 0)
		// Leave the staging object for operational cleanup; the store being
		// down is no reason to also lose the bytes.
		return Result{}, fmt.Errorf("admission: %w", err)
	}

	if !admit.Admitted {
		if err := c.blobs.Delete(ctx, stagingKey); err != nil {
			slog.Warn("failed to delete duplicate staging object",
				"key", stagingKey, "error", err)
		}
		c.recordAttempt(digest, true, meta.OriginalName, size)
		c.metrics.RecordUpload(observability.OutcomeDuplicate, 0)
		slog.Info("duplicate upload rejected", "digest", digest, "name", meta.OriginalName)
		return Result{Duplicate: true, ByteSize: size}, nil
	}

	permanentKey := BlobKey(digest)
	if err := c.blobs.Move(ctx, stagingKey, permanentKey); err != nil {
		c.metrics.RecordUpload(observability.OutcomeError, 0)
		return Result{}, fmt.Errorf("relocating %s to permanent storage: %w", admit.ArtifactID, err)
	}

	c.recordAttempt(digest, false, meta.OriginalName, size)

	if err := c.queue.Enqueue(ctx, analysis.Task{
		ArtifactID: admit.ArtifactID,
		BlobKey:    permanentKey,
	}); err != nil {
		// The artifact is admitted and durable; it just stays pending until
		// an operator re-drives analysis.
		slog.Error("failed to enqueue analysis", "artifact_id", admit.ArtifactID, "error", err)
	}

	c.metrics.RecordUpload(observability.OutcomeAccepted, size)
	slog.Info("upload accepted", "artifact_id", admit.ArtifactID,
		"digest", digest, "bytes", size)
	return Result{AudioID: admit.ArtifactID, ByteSize: size}, nil
}

func (c *Coordinator) recordAttempt(digest string, wasDuplicate bool, name string, size int64) {
	err := c.audit.Record(datatypes.UploadAttempt{
		Digest:       digest,
		WasDuplicate: wasDuplicate,
		OriginalName: name,
		ByteSize:     size,
	})
	if err != nil {
		slog.Warn("failed to record upload attempt", "digest", digest, "error", err)
	}
}

// BlobKey is the permanent object key for an admitted artifact's bytes.
func BlobKey(digest string) string {
	return "audio/" + digest
}
