// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker protects the backend from a high-frequency typing
// surface with a per-endpoint circuit breaker.
//
// States:
//
//	CLOSED ──[failure threshold]──► OPEN
//	   ▲                              │ [cooldown elapsed]
//	   │                              ▼
//	   └──[probe success]──── HALF_OPEN ──[probe failure]──► OPEN
//
// In half-open exactly one probe is in flight at a time. Each probe
// failure reopens the circuit with an exponentially extended cooldown,
// so a persistently degraded backend is probed less and less often.
//
// Throttling (HTTP 429) and user-driven cancellation never move the
// failure counter: neither says anything about backend health.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a request without
// attempting the network.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is normal operation; requests pass through.
	StateClosed State = iota

	// StateOpen rejects all requests immediately.
	StateOpen

	// StateHalfOpen allows a single probe to test recovery.
	StateHalfOpen
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one request resolution.
//
// Every resolution reports exactly once.
type Outcome int

const (
	// OutcomeSuccess is a successful backend response.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure is a health-relevant failure (network, timeout,
	// 5xx, exhausted retries on those).
	OutcomeFailure

	// OutcomeThrottled is a terminal rate-limit failure. The backend
	// is healthy; the counter is left untouched.
	OutcomeThrottled

	// OutcomeCancelled means the request was superseded by newer user
	// input. Reflects user behavior, not backend health.
	OutcomeCancelled

	// OutcomeClientError is an HTTP 4xx rejection. The backend is
	// reachable and answered; the request itself was at fault.
	OutcomeClientError
)

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is consecutive failures before opening. Default: 5.
	FailureThreshold int

	// Cooldown is the base open duration before probing. Default: 30s.
	Cooldown time.Duration

	// CooldownFactor extends the cooldown per consecutive trip.
	// Default: 2.0.
	CooldownFactor float64

	// MaxCooldown caps the extended cooldown. Default: 5m.
	MaxCooldown time.Duration

	// OnStateChange, when set, is called asynchronously on every
	// transition.
	OnStateChange func(endpoint string, from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		CooldownFactor:   2.0,
		MaxCooldown:      5 * time.Minute,
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.CooldownFactor < 1.0 {
		c.CooldownFactor = d.CooldownFactor
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = d.MaxCooldown
	}
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ConsecutiveTrips    int       `json:"consecutive_trips"`
	TotalRejections     int64     `json:"total_rejections"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// Breaker is a per-endpoint circuit breaker.
//
// Thread Safety: Safe for concurrent use.
type Breaker struct {
	config   Config
	endpoint string

	mu            sync.Mutex
	state         State
	failures      int
	trips         int
	openedAt      time.Time
	probeInFlight bool
	rejections    int64

	now func() time.Time // test seam
}

// New creates a breaker for one endpoint in closed state.
func New(endpoint string, config Config) *Breaker {
	config.ApplyDefaults()
	return &Breaker{
		config:   config,
		endpoint: endpoint,
		state:    StateClosed,
		now:      time.Now,
	}
}

// State returns the current state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown() {
		return StateHalfOpen
	}
	return b.state
}

// Allow checks whether a request may proceed.
//
// Outputs:
//   - bool: True if the request may proceed.
//   - func(): Probe-slot release. Nil unless the request is the
//     half-open probe; when non-nil it must be called exactly once
//     when the probed request resolves, regardless of outcome.
//
// Usage:
//
//	ok, release := b.Allow()
//	if !ok {
//	    return breaker.ErrOpen
//	}
//	if release != nil {
//	    defer release()
//	}
func (b *Breaker) Allow() (bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown() {
			b.rejections++
			rejectionsTotal.WithLabelValues(b.endpoint).Inc()
			return false, nil
		}
		b.transitionTo(StateHalfOpen)
		return b.tryProbe()

	case StateHalfOpen:
		return b.tryProbe()
	}

	return false, nil
}

// tryProbe grants the single half-open probe slot. Lock must be held.
func (b *Breaker) tryProbe() (bool, func()) {
	if b.probeInFlight {
		b.rejections++
		rejectionsTotal.WithLabelValues(b.endpoint).Inc()
		return false, nil
	}
	b.probeInFlight = true
	return true, func() {
		b.mu.Lock()
		b.probeInFlight = false
		b.mu.Unlock()
	}
}

// Report records the terminal outcome of one request resolution.
//
// Success closes the circuit (from half-open) and resets the failure
// counter and the trip streak. Failure increments the counter and may
// trip the circuit; a failed half-open probe reopens it with an
// extended cooldown. Throttled and Cancelled leave all counters
// untouched.
func (b *Breaker) Report(outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch outcome {
	case OutcomeSuccess:
		b.failures = 0
		b.trips = 0
		if b.state == StateHalfOpen {
			b.transitionTo(StateClosed)
		}

	case OutcomeFailure:
		switch b.state {
		case StateClosed:
			b.failures++
			if b.failures >= b.config.FailureThreshold {
				b.trip()
			}
		case StateHalfOpen:
			// Failed probe: back to open, longer cooldown.
			b.trip()
		}

	case OutcomeThrottled, OutcomeCancelled, OutcomeClientError:
		// No health signal.
	}
}

// trip opens the circuit. Lock must be held.
func (b *Breaker) trip() {
	b.trips++
	b.failures = 0
	b.openedAt = b.now()
	b.transitionTo(StateOpen)
	tripsTotal.WithLabelValues(b.endpoint).Inc()
}

// cooldown returns the current (possibly extended) cooldown. Lock must
// be held.
func (b *Breaker) cooldown() time.Duration {
	d := b.config.Cooldown
	for i := 1; i < b.trips; i++ {
		d = time.Duration(float64(d) * b.config.CooldownFactor)
		if d >= b.config.MaxCooldown {
			return b.config.MaxCooldown
		}
	}
	return d
}

// transitionTo changes state and emits metrics/hooks. Lock must be held.
func (b *Breaker) transitionTo(newState State) {
	from := b.state
	if from == newState {
		return
	}
	b.state = newState
	stateGauge.WithLabelValues(b.endpoint).Set(float64(newState))
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.endpoint, from, newState)
	}
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		ConsecutiveTrips:    b.trips,
		TotalRejections:     b.rejections,
		OpenedAt:            b.openedAt,
	}
}

// Reset returns the breaker to closed state with cleared counters.
//
// Reserved for explicit user action (e.g. sign-out); the breaker is
// never implicitly reset.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trips = 0
	b.probeInFlight = false
	b.transitionTo(StateClosed)
}
