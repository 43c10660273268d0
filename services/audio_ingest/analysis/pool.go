// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/observability"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/similarity"
)

// DefaultWorkers is the analysis pool size when AUDIO_ANALYSIS_WORKERS is
// unset.
const DefaultWorkers = 4

// defaultQueueDepth bounds the in-flight task backlog. Enqueue blocks once
// the backlog is full, which back-pressures the upload path before memory
// does.
const defaultQueueDepth = 256

// ArtifactStore is the slice of the ledger the pipeline needs.
type ArtifactStore interface {
	FindArtifact(ctx context.Context, id string) (*datatypes.Artifact, error)
	StoreFingerprint(ctx context.Context, id, fingerprint string, durationSeconds float64) (bool, error)
}

// BlobReader fetches stored audio bytes for extraction.
type BlobReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Task is one unit of asynchronous analysis work.
type Task struct {
	ArtifactID string
	BlobKey    string
}

// Pool is the bounded worker pool that runs fingerprint analysis.
//
// # Description
//
// Tasks are delivered at least once; the whole pipeline is idempotent, so a
// re-delivered task either re-derives the same result or no-ops on the
// state guard in StoreFingerprint. Task failures are terminal: the artifact
// stays pending forever (fail-open) and nothing is retried here. Retry
// policy, if any, belongs to an external scheduler.
type Pool struct {
	store     ArtifactStore
	blobs     BlobReader
	extractor Extractor
	engine    *similarity.Engine
	metrics   *observability.Metrics

	tasks   chan Task
	workers int
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// NewPool creates a pool with the given worker count (<=0 means
// DefaultWorkers). Call Start before Enqueue.
func NewPool(store ArtifactStore, blobs BlobReader, extractor Extractor,
	engine *similarity.Engine, metrics *observability.Metrics, workers int) *Pool {

	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		store:     store,
		blobs:     blobs,
		extractor: extractor,
		engine:    engine,
		metrics:   metrics,
		tasks:     make(chan Task, defaultQueueDepth),
		workers:   workers,
	}
}

// Start launches the workers. They run until Stop is called and the task
// channel drains.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case task, ok := <-p.tasks:
					if !ok {
						return nil
					}
					p.run(ctx, task)
				}
			}
		})
	}
	slog.Info("analysis pool started", "workers", p.workers)
}

// Stop signals the workers and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		_ = p.group.Wait()
	}
}

// Enqueue submits a task. Blocks while the backlog is full; returns an
// error only once the pool is shutting down.
func (p *Pool) Enqueue(ctx context.Context, task Task) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueueing analysis for %s: %w", task.ArtifactID, ctx.Err())
	}
}

// run executes one analysis task end to end. Errors are logged and
// swallowed: the upload response went out long ago and the fail-open policy
// keeps the artifact usable in state pending.
func (p *Pool) run(ctx context.Context, task Task) {
	started := time.Now()
	err := p.analyze(ctx, task)
	p.metrics.ObserveAnalysis(time.Since(started), err == nil)
	if err != nil {
		slog.Error("analysis failed; artifact stays pending",
			"artifact_id", task.ArtifactID, "error", err)
	}
}

func (p *Pool) analyze(ctx context.Context, task Task) error {
	artifact, err := p.store.FindArtifact(ctx, task.ArtifactID)
	if err != nil {
		return fmt.Errorf("loading artifact: %w", err)
	}
	if artifact.State != datatypes.StatePending {
		// Re-delivered task; the first delivery already finished.
		slog.Debug("skipping analysis for non-pending artifact",
			"artifact_id", artifact.ID, "state", artifact.State)
		return nil
	}

	path, cleanup, err := p.materialize(ctx, task.BlobKey)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return fmt.Errorf("extracting fingerprint: %w", err)
	}

	stored, err := p.store.StoreFingerprint(ctx, artifact.ID, res.Fingerprint, res.DurationSeconds)
	if err != nil {
		return err
	}
	if !stored {
		// Lost a re-delivery race after the state check above.
		return nil
	}
	slog.Info("fingerprint stored", "artifact_id", artifact.ID,
		"duration_seconds", res.DurationSeconds)

	result, err := p.engine.Evaluate(ctx, artifact.ID, res.Fingerprint)
	if err != nil {
		return fmt.Errorf("similarity scan: %w", err)
	}
	if result.Matched {
		p.metrics.SimilarityMatch()
		slog.Info("similarity match recorded", "artifact_id", artifact.ID,
			"matched_id", result.MatchedID, "percent", result.SimilarityPercent)
	}
	return nil
}

// materialize copies the blob to a temp file so the extractor can run
// against a local path regardless of the blob backend.
func (p *Pool) materialize(ctx context.Context, key string) (string, func(), error) {
	rc, err := p.blobs.Get(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("fetching blob %s: %w", key, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "aleutian-audio-*.bin")
	if err != nil {
		return "", nil, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("copying blob %s to temp file: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, errors.Join(fmt.Errorf("closing temp file for %s", key), err)
	}

	cleanup := func() { os.Remove(tmp.Name()) }
	return tmp.Name(), cleanup, nil
}
