// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis runs the asynchronous fingerprinting pipeline: fetch
// bytes, extract the perceptual fingerprint, persist it, and hand off to
// the similarity scan.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ExtractResult is the output of a fingerprint extraction.
type ExtractResult struct {
	// Fingerprint is the transport-encoded perceptual fingerprint.
	Fingerprint string `json:"fingerprint"`

	// DurationSeconds is the decoded audio duration.
	DurationSeconds float64 `json:"duration"`
}

// Extractor produces a perceptual fingerprint for a local audio file.
//
// Implementations wrap whatever actually computes the fingerprint: the
// default shells out to chromaprint's fpcalc, but an in-process library or
// a remote service can be substituted without touching the pipeline.
type Extractor interface {
	Extract(ctx context.Context, path string) (ExtractResult, error)
}

// =============================================================================
// fpcalc Implementation
// =============================================================================

// DefaultExtractTimeout bounds a single fpcalc invocation so a stuck
// decoder fails the task instead of occupying a worker forever.
const DefaultExtractTimeout = 2 * time.Minute

// FpcalcExtractor invokes the chromaprint fpcalc binary as a subprocess.
type FpcalcExtractor struct {
	// Binary is the fpcalc executable. Defaults to "fpcalc" on PATH.
	Binary string

	// Timeout bounds one invocation. Zero means DefaultExtractTimeout.
	Timeout time.Duration
}

// Extract runs `fpcalc -json <path>` and decodes its output.
func (f *FpcalcExtractor) Extract(ctx context.Context, path string) (ExtractResult, error) {
	binary := f.Binary
	if binary == "" {
		binary = "fpcalc"
	}
	timeout := f.Timeout
	if timeout == 0 {
		timeout = DefaultExtractTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "-json", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ExtractResult{}, fmt.Errorf("fpcalc failed for %s: %w (stderr: %s)",
			path, err, stderr.String())
	}

	var res ExtractResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return ExtractResult{}, fmt.Errorf("decoding fpcalc output for %s: %w", path, err)
	}
	if res.Fingerprint == "" {
		return ExtractResult{}, fmt.Errorf("fpcalc produced an empty fingerprint for %s", path)
	}
	return res, nil
}

var _ Extractor = (*FpcalcExtractor)(nil)
