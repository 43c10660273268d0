// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/handlers"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/ingest"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/middleware"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/notify"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/observability"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/storage"
)

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Store       *storage.Store
	Hub         *notify.Hub
	Coordinator *ingest.Coordinator
	Metrics     *observability.Metrics
	UploadLimit *middleware.RateLimiter
}

// SetupRoutes registers every endpoint on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		upload := v1.Group("/upload")
		{
			upload.POST("", deps.UploadLimit.Middleware(), handlers.HandleUpload(deps.Coordinator))
			upload.GET("/warnings", handlers.HandleRecentWarnings(deps.Store))
			upload.GET("/:audioId/warnings", handlers.HandleArtifactWarnings(deps.Store))
			upload.GET("/:audioId/subscribe", handlers.HandleSubscribe(deps.Store, deps.Hub, deps.Metrics))
			upload.GET("/:audioId/ws", handlers.HandleSubscribeWebSocket(deps.Store, deps.Hub, deps.Metrics))
		}
	}
}
