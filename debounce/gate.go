// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package debounce coalesces bursts of request candidates into single
// fire events.
//
// The gate holds at most one pending candidate. Each newly scheduled
// candidate replaces the pending one and restarts the quiet-interval
// timer; the replaced candidate never fires. Mode switches bypass the
// delay entirely because they represent explicit user intent rather
// than transient typing.
package debounce

import (
	"sync"
	"time"

	"github.com/AleutianAI/keyflow/request"
)

// DefaultQuietInterval is the default typing quiet period before a
// pending candidate fires.
const DefaultQuietInterval = 300 * time.Millisecond

// Config configures the debounce gate.
type Config struct {
	// QuietInterval is how long input must be quiet before the pending
	// candidate fires. Default: 300ms.
	QuietInterval time.Duration
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.QuietInterval <= 0 {
		c.QuietInterval = DefaultQuietInterval
	}
}

// FireFunc receives the surviving candidate when the gate fires.
type FireFunc func(request.Candidate)

// Gate is a single-pending-timer debounce gate.
//
// Exactly one fire event is emitted per surviving candidate. After
// Close, no further fires occur.
//
// Thread Safety: Safe for concurrent use.
type Gate struct {
	quiet time.Duration
	fire  FireFunc

	mu      sync.Mutex
	timer   *time.Timer
	pending *request.Candidate
	gen     uint64
	closed  bool
}

// NewGate creates a gate that invokes fire when a candidate survives
// the quiet interval.
//
// Inputs:
//   - config: Gate configuration. Zero values use defaults.
//   - fire: Callback for fired candidates. Must not be nil. Invoked
//     from the gate's timer goroutine (or the caller's goroutine for
//     ScheduleImmediate); must not block for long.
func NewGate(config Config, fire FireFunc) *Gate {
	config.ApplyDefaults()
	return &Gate{
		quiet: config.QuietInterval,
		fire:  fire,
	}
}

// Schedule replaces the pending candidate and restarts the quiet timer.
//
// The previously pending candidate, if any, is superseded and will
// never fire.
func (g *Gate) Schedule(c request.Candidate) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}

	g.pending = &c
	g.gen++
	gen := g.gen
	if g.timer != nil {
		g.timer.Stop()
	}
	// The generation check below makes a lost Stop race harmless: an
	// already-fired timer for an older candidate finds a newer gen and
	// does nothing.
	g.timer = time.AfterFunc(g.quiet, func() { g.expire(gen) })
}

// ScheduleImmediate fires the candidate synchronously, bypassing the
// quiet interval. Any pending candidate is superseded first.
//
// Used for mode switches: they reflect deliberate user action, so
// delaying them only adds perceived latency.
func (g *Gate) ScheduleImmediate(c request.Candidate) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.pending = nil
	g.gen++
	g.mu.Unlock()

	g.fire(c)
}

// expire runs on timer expiry and emits the pending candidate.
func (g *Gate) expire(gen uint64) {
	g.mu.Lock()
	if g.closed || g.pending == nil || gen != g.gen {
		g.mu.Unlock()
		return
	}
	c := *g.pending
	g.pending = nil
	g.timer = nil
	g.mu.Unlock()

	g.fire(c)
}

// Pending reports whether a candidate is waiting on the quiet timer.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// Close cancels any pending timer and prevents further fires.
//
// Safe to call more than once.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.pending = nil
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
