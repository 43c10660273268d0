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

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/ingest"
)

// MaxUploadBytes caps a single upload. Bounds intake memory and staging
// disk under the simple buffered multipart scheme.
const MaxUploadBytes = 100 << 20 // 100 MiB

// duplicateMessage is the stable message returned with every 409. Clients
// match on it; do not reword.
const duplicateMessage = "This file has already been uploaded."

// HandleUpload accepts one audio file as multipart form data.
//
// Responses:
//
//	201 {duplicate:false, audioId} — admitted; analysis runs asynchronously
//	409 {duplicate:true, message}  — byte-identical file already exists
//	415                            — media type not on the allow-list
//	400/500                        — malformed request / storage failure
func HandleUpload(coordinator *ingest.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expected one file in field 'file'"})
			return
		}

		mediaType := fileHeader.Header.Get("Content-Type")
		if mediaType == "" {
			mediaType = ingest.MediaTypeForPath(fileHeader.Filename)
		}

		f, err := fileHeader.Open()
		if err != nil {
			slog.Error("failed to open multipart file", "filename", fileHeader.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
			return
		}
		defer f.Close()

		res, err := coordinator.Ingest(c.Request.Context(), f, ingest.Meta{
			OriginalName: fileHeader.Filename,
			MediaType:    mediaType,
		})
		if err != nil {
			if errors.Is(err, ingest.ErrUnsupportedMediaType) {
				c.JSON(http.StatusUnsupportedMediaType, gin.H{
					"error": "unsupported media type: " + mediaType,
				})
				return
			}
			slog.Error("ingestion failed", "filename", fileHeader.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
			return
		}

		if res.Duplicate {
			c.JSON(http.StatusConflict, datatypes.UploadResponse{
				Duplicate: true,
				Message:   duplicateMessage,
			})
			return
		}

		c.JSON(http.StatusCreated, datatypes.UploadResponse{
			Duplicate: false,
			AudioID:   res.AudioID,
		})
	}
}
