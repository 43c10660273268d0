// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin HTTP handlers for the audio ingest
// service.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
)

// EventWriter writes similarity events to a live client connection.
//
// # Description
//
// Abstracts the transport (SSE or WebSocket) so the subscribe handlers
// share one delivery loop. Implementations flush after every event; a
// write error means the transport is gone and the subscription should be
// torn down.
type EventWriter interface {
	WriteEvent(event datatypes.SimilarityEvent) error
}

// =============================================================================
// SSE Implementation
// =============================================================================

// sseWriter writes events in Server-Sent Events wire format
// (data: <json>\n\n) and flushes immediately.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for event streaming and returns the
// writer. Returns an error if the ResponseWriter cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) WriteEvent(event datatypes.SimilarityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

var _ EventWriter = (*sseWriter)(nil)
