// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify fans similarity events out to live per-artifact
// subscribers.
package notify

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
)

// DefaultBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events rather than slowing the
// analysis workers down.
const DefaultBuffer = 16

// Subscription is a live handle for one connection's interest in one
// artifact. Events arrive on C until Unsubscribe closes it.
type Subscription struct {
	// ID uniquely identifies this subscription within the hub.
	ID string

	// ArtifactID is the artifact this subscription listens on.
	ArtifactID string

	// C delivers events. Closed by Unsubscribe; never closed by Broadcast.
	C <-chan datatypes.SimilarityEvent

	ch chan datatypes.SimilarityEvent
}

// Hub is the process-scoped subscriber registry.
//
// # Description
//
// One Hub is created at process start and owns all subscription state: the
// registry is empty at boot and is populated and depleted solely through
// Subscribe/Unsubscribe, so no entry outlives its connection and nothing
// survives a restart. There is no cross-process fan-out; each server
// process notifies only its own connections.
//
// # Thread Safety
//
// Safe for concurrent use. Subscribe, Unsubscribe and Broadcast run
// concurrently from connection handlers and the analysis worker pool;
// the registry is guarded by an RWMutex and delivery is non-blocking, so
// removal of one subscriber never affects broadcasts in flight to others.
type Hub struct {
	mu     sync.RWMutex
	byID   map[string]map[string]*Subscription
	buffer int
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber channel depth.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		byID:   make(map[string]map[string]*Subscription),
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new subscription for the given artifact id and
// returns its handle.
func (h *Hub) Subscribe(artifactID string) *Subscription {
	ch := make(chan datatypes.SimilarityEvent, h.buffer)
	sub := &Subscription{
		ID:         uuid.NewString(),
		ArtifactID: artifactID,
		C:          ch,
		ch:         ch,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.byID[artifactID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.byID[artifactID] = subs
	}
	subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// once per handle; unknown handles are ignored.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.byID[sub.ArtifactID]
	if !ok {
		return
	}
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.byID, sub.ArtifactID)
	}
	close(sub.ch)
}

// Broadcast delivers event to every current subscriber of both artifact
// ids. A connection subscribed under both ids receives the event once per
// subscription, which reflects its two independent registrations.
//
// Delivery is best-effort and non-blocking per subscriber: a full channel
// means that subscriber loses this event (logged), and everyone else is
// unaffected. The subscriber stays registered; only its transport closing
// removes it, via Unsubscribe from the connection handler.
func (h *Hub) Broadcast(artifactA, artifactB string, event datatypes.SimilarityEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliverLocked(artifactA, event)
	if artifactB != artifactA {
		h.deliverLocked(artifactB, event)
	}
}

func (h *Hub) deliverLocked(artifactID string, event datatypes.SimilarityEvent) {
	for _, sub := range h.byID[artifactID] {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("dropping similarity event for slow subscriber",
				"artifact_id", artifactID, "subscription_id", sub.ID)
		}
	}
}

// Subscribers reports how many live subscriptions exist for the artifact.
func (h *Hub) Subscribers(artifactID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID[artifactID])
}
