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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settlePollInterval is how often the watcher re-checks a new file's size
// while waiting for the writer to finish.
const settlePollInterval = 250 * time.Millisecond

// settleStableChecks is how many consecutive identical sizes count as
// "the writer is done".
const settleStableChecks = 3

// Watcher ingests audio files dropped into a local directory.
//
// A created file is ingested once its size has been stable for a few polls
// (copies into the drop folder are not atomic). Files whose extension maps
// to nothing on the MIME allow-list are skipped. Ingested files are removed
// from the drop folder; the blob store has the bytes from then on.
type Watcher struct {
	dir         string
	coordinator *Coordinator
}

// NewWatcher validates the drop directory and returns a watcher.
func NewWatcher(dir string, coordinator *Coordinator) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir %s is not a directory", dir)
	}
	return &Watcher{dir: dir, coordinator: coordinator}, nil
}

// Run watches the drop directory until ctx is cancelled. Each dropped file
// is ingested on its own goroutine so one large file cannot stall the
// event loop.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	slog.Info("watch-folder ingestion active", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			go w.ingestFile(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch-folder error", "error", err)
		}
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	mediaType := MediaTypeForPath(path)
	if mediaType == "" {
		slog.Debug("skipping non-audio file in drop folder", "path", path)
		return
	}

	if err := w.waitSettled(ctx, path); err != nil {
		slog.Warn("dropped file never settled", "path", path, "error", err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Warn("could not open dropped file", "path", path, "error", err)
		return
	}

	res, err := w.coordinator.Ingest(ctx, f, Meta{
		OriginalName: filepath.Base(path),
		MediaType:    mediaType,
	})
	f.Close()
	if err != nil {
		slog.Error("watch-folder ingest failed", "path", path, "error", err)
		return
	}

	if res.Duplicate {
		slog.Info("watch-folder file was a duplicate", "path", path)
	} else {
		slog.Info("watch-folder file ingested", "path", path, "artifact_id", res.AudioID)
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("could not remove ingested file from drop folder", "path", path, "error", err)
	}
}

// waitSettled polls the file size until it holds steady, the file
// disappears, or ctx is cancelled.
func (w *Watcher) waitSettled(ctx context.Context, path string) error {
	var lastSize int64 = -1
	stable := 0
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.Size() == lastSize {
				stable++
				if stable >= settleStableChecks {
					return nil
				}
			} else {
				stable = 0
				lastSize = info.Size()
			}
		}
	}
}
