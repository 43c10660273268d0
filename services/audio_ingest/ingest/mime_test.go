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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSupportedMediaType(t *testing.T) {
	tests := []struct {
		name      string
		mediaType string
		want      bool
	}{
		{"mp3", "audio/mpeg", true},
		{"wav", "audio/wav", true},
		{"flac", "audio/flac", true},
		{"ogg", "audio/ogg", true},
		{"uppercase", "AUDIO/MPEG", true},
		{"surrounding whitespace", "  audio/mpeg  ", true},
		{"with codec parameter", "audio/ogg; codecs=opus", true},
		{"video", "video/mp4", false},
		{"image", "image/png", false},
		{"text", "text/plain", false},
		{"octet stream", "application/octet-stream", false},
		{"empty", "", false},
		{"bare audio prefix", "audio/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSupportedMediaType(tt.mediaType))
		})
	}
}

func TestMediaTypeForPath(t *testing.T) {
	// The platform mime table may pick a synonym (audio/x-wav vs audio/wav),
	// so assert supportedness rather than exact strings for most extensions.
	supported := []string{
		"/watch/song.mp3", "/watch/SONG.MP3", "take-1.wav", "master.flac",
		"clip.ogg", "voice.opus", "track.m4a", "clip.aac", "clip.webm",
	}
	for _, path := range supported {
		t.Run(path, func(t *testing.T) {
			got := MediaTypeForPath(path)
			assert.NotEmpty(t, got)
			assert.True(t, IsSupportedMediaType(got),
				"inferred types must round-trip through the allow-list")
		})
	}

	unsupported := []string{"notes.txt", "mystery", "clip.mp4.bak", "movie.avi"}
	for _, path := range unsupported {
		t.Run(path, func(t *testing.T) {
			assert.Empty(t, MediaTypeForPath(path))
		})
	}
}
