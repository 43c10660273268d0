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
	"mime"
	"path/filepath"
	"strings"
)

// supportedMediaTypes is the fixed allow-list of audio MIME types accepted
// by the intake path. Anything else is rejected before digesting.
var supportedMediaTypes = map[string]struct{}{
	"audio/mpeg":   {},
	"audio/mp3":    {},
	"audio/wav":    {},
	"audio/x-wav":  {},
	"audio/wave":   {},
	"audio/flac":   {},
	"audio/x-flac": {},
	"audio/ogg":    {},
	"audio/vorbis": {},
	"audio/opus":   {},
	"audio/aac":    {},
	"audio/mp4":    {},
	"audio/x-m4a":  {},
	"audio/webm":   {},
}

// IsSupportedMediaType reports whether the given MIME type is on the
// allow-list. Parameters (e.g. "; codecs=opus") are ignored.
func IsSupportedMediaType(mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	_, ok := supportedMediaTypes[mt]
	return ok
}

// MediaTypeForPath infers a MIME type from a filename extension. Used by
// the watch-folder source, which has no Content-Type header to go on.
// Returns "" when the extension maps to nothing supported.
func MediaTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	// mime.TypeByExtension covers the common cases; fill the gaps for
	// audio extensions missing from the platform's mime table.
	if mt := mime.TypeByExtension(ext); mt != "" && IsSupportedMediaType(mt) {
		return mt
	}
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".opus":
		return "audio/opus"
	case ".m4a":
		return "audio/x-m4a"
	case ".aac":
		return "audio/aac"
	case ".webm":
		return "audio/webm"
	}
	return ""
}
