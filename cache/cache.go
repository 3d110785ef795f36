// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache maps request fingerprints to their last-known backend
// results.
//
// A hit short-circuits the coordinator entirely: no network call and
// no circuit breaker interaction. Two implementations share one
// interface: a bounded in-memory cache with least-recently-stored
// eviction, and a badger-backed cache for surfaces that survive
// process restarts.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/AleutianAI/keyflow/transport"
)

// DefaultCapacity is the default in-memory entry bound.
const DefaultCapacity = 128

// ResponseCache maps fingerprints to last-known results.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ResponseCache interface {
	// Lookup returns the cached result for a fingerprint.
	Lookup(fingerprint string) (*transport.Response, bool)

	// Store records a result under its fingerprint. Re-storing an
	// existing fingerprint refreshes its eviction age.
	Store(fingerprint string, result *transport.Response)

	// Invalidate drops every entry. Called on mode or session reset.
	Invalidate()

	// Len returns the number of live entries.
	Len() int
}

// entry is one cached result.
type entry struct {
	fingerprint string
	result      *transport.Response
	storedAt    time.Time
}

// Memory is a fixed-capacity in-memory cache.
//
// Eviction is least-recently-stored: when full, the entry stored
// longest ago is dropped. Lookups do not refresh age; only Store does.
//
// Thread Safety: Safe for concurrent use.
type Memory struct {
	capacity int

	mu      sync.Mutex
	order   *list.List               // front = oldest stored
	entries map[string]*list.Element // fingerprint -> element holding *entry
}

// NewMemory creates a cache holding at most capacity entries.
// Non-positive capacities use DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Lookup implements ResponseCache.
func (m *Memory) Lookup(fingerprint string) (*transport.Response, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[fingerprint]
	if !ok {
		missesTotal.Inc()
		return nil, false
	}
	hitsTotal.Inc()
	return el.Value.(*entry).result, true
}

// Store implements ResponseCache.
func (m *Memory) Store(fingerprint string, result *transport.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[fingerprint]; ok {
		e := el.Value.(*entry)
		e.result = result
		e.storedAt = time.Now()
		m.order.MoveToBack(el)
		return
	}

	if m.order.Len() >= m.capacity {
		oldest := m.order.Front()
		if oldest != nil {
			m.order.Remove(oldest)
			delete(m.entries, oldest.Value.(*entry).fingerprint)
			evictionsTotal.Inc()
		}
	}

	m.entries[fingerprint] = m.order.PushBack(&entry{
		fingerprint: fingerprint,
		result:      result,
		storedAt:    time.Now(),
	})
}

// Invalidate implements ResponseCache.
func (m *Memory) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.entries = make(map[string]*list.Element, m.capacity)
}

// Len implements ResponseCache.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
