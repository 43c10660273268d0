// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/notify"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/observability"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/storage"
)

// HandleSubscribe streams similarity events for one artifact over SSE.
//
// The first message is {type:"connected"}; each subsequent message is a
// similarity_detected event. The subscription lives exactly as long as the
// connection: it is registered after the handshake and removed when the
// client disconnects or a write fails.
func HandleSubscribe(store *storage.Store, hub *notify.Hub,
	metrics *observability.Metrics) gin.HandlerFunc {

	return func(c *gin.Context) {
		audioID := c.Param("audioId")

		if _, err := store.FindArtifact(c.Request.Context(), audioID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown audio id"})
				return
			}
			slog.Error("failed to look up artifact", "audio_id", audioID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
			return
		}

		writer, err := newSSEWriter(c.Writer)
		if err != nil {
			slog.Error("streaming unsupported by response writer", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		sub := hub.Subscribe(audioID)
		defer hub.Unsubscribe(sub)
		metrics.SubscriberConnected()
		defer metrics.SubscriberDisconnected()

		if err := writer.WriteEvent(datatypes.SimilarityEvent{Type: "connected"}); err != nil {
			slog.Info("subscriber disconnected during handshake", "audio_id", audioID)
			return
		}
		slog.Info("subscriber connected", "audio_id", audioID, "subscription_id", sub.ID)

		pumpEvents(c, sub, writer)
		slog.Info("subscriber disconnected", "audio_id", audioID, "subscription_id", sub.ID)
	}
}

// pumpEvents forwards hub events to the client until the connection drops.
// Shared by the SSE and WebSocket subscribe handlers.
func pumpEvents(c *gin.Context, sub *notify.Subscription, writer EventWriter) {
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writer.WriteEvent(event); err != nil {
				// Transport is gone; the deferred Unsubscribe removes us
				// without disturbing broadcasts to other subscribers.
				slog.Info("event write failed; closing subscription",
					"subscription_id", sub.ID, "error", err)
				return
			}
		}
	}
}
