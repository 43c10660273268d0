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
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigester(t *testing.T) {
	t.Run("known vector", func(t *testing.T) {
		d := NewDigester()
		_, err := d.Write([]byte("hello"))
		require.NoError(t, err)
		// sha256("hello")
		assert.Equal(t,
			"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
			d.Sum())
		assert.Equal(t, int64(5), d.Bytes())
	})

	t.Run("empty input", func(t *testing.T) {
		d := NewDigester()
		assert.Equal(t,
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			d.Sum())
		assert.Equal(t, int64(0), d.Bytes())
	})

	t.Run("chunking does not change the digest", func(t *testing.T) {
		payload := bytes.Repeat([]byte("audio-bytes-"), 1000)

		whole := NewDigester()
		_, err := whole.Write(payload)
		require.NoError(t, err)

		chunked := NewDigester()
		for i := 0; i < len(payload); i += 7 {
			end := i + 7
			if end > len(payload) {
				end = len(payload)
			}
			_, err := chunked.Write(payload[i:end])
			require.NoError(t, err)
		}

		assert.Equal(t, whole.Sum(), chunked.Sum())
		assert.Equal(t, whole.Bytes(), chunked.Bytes())
	})

	t.Run("tees through io.Copy", func(t *testing.T) {
		d := NewDigester()
		var sink bytes.Buffer
		n, err := io.Copy(&sink, io.TeeReader(bytes.NewReader([]byte("hello")), d))
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.Equal(t, "hello", sink.String())
		assert.Equal(t,
			"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
			d.Sum())
	})
}
