// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest implements the synchronous intake path: content digest,
// admission, staging, and hand-off to asynchronous analysis.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Digester computes the streaming SHA-256 content digest of an artifact.
//
// It is an io.Writer so the intake path can tee upload bytes through it
// while staging them, producing the digest in one pass with constant
// memory. Byte-identical inputs always yield the same digest.
type Digester struct {
	h hash.Hash
	n int64
}

// NewDigester returns a fresh digester.
func NewDigester() *Digester {
	return &Digester{h: sha256.New()}
}

// Write feeds bytes into the digest. Never returns an error.
func (d *Digester) Write(p []byte) (int, error) {
	d.h.Write(p)
	d.n += int64(len(p))
	return len(p), nil
}

// Sum returns the lowercase hex digest of everything written so far.
func (d *Digester) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Bytes returns how many bytes have been written.
func (d *Digester) Bytes() int64 {
	return d.n
}
