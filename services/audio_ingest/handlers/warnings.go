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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/storage"
)

// RecentWarningsCap is the fixed maximum for the global warnings listing.
const RecentWarningsCap = 50

// HandleArtifactWarnings lists every similarity warning referencing one
// artifact. Unknown ids are a 404; an analyzed-but-unmatched (or still
// pending) artifact gets an empty list.
func HandleArtifactWarnings(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		audioID := c.Param("audioId")

		if _, err := store.FindArtifact(c.Request.Context(), audioID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown audio id"})
				return
			}
			slog.Error("failed to look up artifact", "audio_id", audioID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query warnings"})
			return
		}

		warnings, err := store.WarningsForArtifact(c.Request.Context(), audioID)
		if err != nil {
			slog.Error("failed to list warnings", "audio_id", audioID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query warnings"})
			return
		}

		views, err := buildWarningViews(c.Request.Context(), store, warnings)
		if err != nil {
			slog.Error("failed to resolve warning artifacts", "audio_id", audioID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query warnings"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"audioId":  audioID,
			"warnings": views,
		})
	}
}

// HandleRecentWarnings lists the most recent warnings across all
// artifacts, capped at RecentWarningsCap.
func HandleRecentWarnings(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		warnings, err := store.RecentWarnings(c.Request.Context(), RecentWarningsCap)
		if err != nil {
			slog.Error("failed to list recent warnings", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query warnings"})
			return
		}

		views, err := buildWarningViews(c.Request.Context(), store, warnings)
		if err != nil {
			slog.Error("failed to resolve warning artifacts", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query warnings"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"total":    len(views),
			"warnings": views,
		})
	}
}

// buildWarningViews resolves artifact filenames for a set of warnings in
// one batched lookup.
func buildWarningViews(ctx context.Context, store *storage.Store,
	warnings []datatypes.SimilarityWarning) ([]datatypes.WarningView, error) {

	ids := make([]string, 0, len(warnings)*2)
	for _, w := range warnings {
		ids = append(ids, w.ArtifactAID, w.ArtifactBID)
	}
	artifacts, err := store.ArtifactsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]datatypes.WarningView, 0, len(warnings))
	for _, w := range warnings {
		a := artifacts[w.ArtifactAID]
		b := artifacts[w.ArtifactBID]
		views = append(views, datatypes.WarningView{
			ID:                w.ID,
			File1:             datatypes.WarningFileRef{ID: w.ArtifactAID, Filename: a.OriginalName},
			File2:             datatypes.WarningFileRef{ID: w.ArtifactBID, Filename: b.OriginalName},
			SimilarityPercent: w.SimilarityPercent,
			DetectedAt:        w.DetectedAt,
		})
	}
	return views, nil
}
