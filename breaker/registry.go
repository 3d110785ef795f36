// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import "sync"

// Registry owns one breaker per backend endpoint.
//
// Breakers are process-wide shared state with a documented lifecycle:
// created on first use, reset only by explicit user action via
// ResetAll, never implicitly. Sessions share the registry; the
// registry serializes per-endpoint mutations through each breaker's
// own lock.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	config Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry applying config to every breaker it
// creates.
func NewRegistry(config Config) *Registry {
	config.ApplyDefaults()
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the endpoint, creating it on first use.
func (r *Registry) Get(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[endpoint]
	if !ok {
		b = New(endpoint, r.config)
		r.breakers[endpoint] = b
	}
	return b
}

// ResetAll resets every breaker to closed state.
//
// Called on explicit user action such as sign-out.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
