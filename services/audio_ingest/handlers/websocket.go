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
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/notify"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/observability"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// wsEventWriter adapts a websocket connection to the EventWriter used by
// the shared event pump.
type wsEventWriter struct {
	conn *websocket.Conn
}

func (w *wsEventWriter) WriteEvent(event datatypes.SimilarityEvent) error {
	return w.conn.WriteJSON(event)
}

// HandleSubscribeWebSocket is the WebSocket flavour of the subscribe
// endpoint; same events as the SSE stream, framed as JSON messages.
func HandleSubscribeWebSocket(store *storage.Store, hub *notify.Hub,
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

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sub := hub.Subscribe(audioID)
		defer hub.Unsubscribe(sub)
		metrics.SubscriberConnected()
		defer metrics.SubscriberDisconnected()

		writer := &wsEventWriter{conn: ws}
		if err := writer.WriteEvent(datatypes.SimilarityEvent{Type: "connected"}); err != nil {
			return
		}
		slog.Info("websocket subscriber connected", "audio_id", audioID, "subscription_id", sub.ID)

		// Drain client frames so we notice the close handshake; the stream
		// is one-way otherwise. The request context does not reliably
		// cancel after the hijack, so disconnect is signalled explicitly.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				slog.Info("websocket subscriber disconnected",
					"audio_id", audioID, "subscription_id", sub.ID)
				return
			case event, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writer.WriteEvent(event); err != nil {
					slog.Info("websocket write failed; closing subscription",
						"subscription_id", sub.ID, "error", err)
					return
				}
			}
		}
	}
}
