// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/upload", rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func post(router *gin.Engine, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiter(t *testing.T) {
	t.Run("requests beyond the burst get 429", func(t *testing.T) {
		router := limitedRouter(NewRateLimiter(0.001, 2))

		assert.Equal(t, http.StatusOK, post(router, "10.0.0.1:1234"))
		assert.Equal(t, http.StatusOK, post(router, "10.0.0.1:1234"))
		assert.Equal(t, http.StatusTooManyRequests, post(router, "10.0.0.1:1234"))
	})

	t.Run("limits are tracked per client ip", func(t *testing.T) {
		router := limitedRouter(NewRateLimiter(0.001, 1))

		assert.Equal(t, http.StatusOK, post(router, "10.0.0.1:1234"))
		assert.Equal(t, http.StatusTooManyRequests, post(router, "10.0.0.1:1234"))

		// A different client still has its full budget.
		assert.Equal(t, http.StatusOK, post(router, "10.0.0.2:1234"))
	})

	t.Run("generous limit never trips for normal traffic", func(t *testing.T) {
		router := limitedRouter(NewRateLimiter(100, 100))
		for i := 0; i < 20; i++ {
			assert.Equal(t, http.StatusOK, post(router, "10.0.0.3:1234"))
		}
	})
}
