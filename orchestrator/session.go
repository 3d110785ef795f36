// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/keyflow/debounce"
	"github.com/AleutianAI/keyflow/request"
)

// ErrSessionClosed is returned by Session methods after Close.
var ErrSessionClosed = errors.New("session is closed")

// inflight tracks the at-most-one outstanding backend call for a
// session.
type inflight struct {
	cancel context.CancelFunc
	seq    uint64
}

// Session is one input surface: a mode, a sequencer, a debounce gate,
// and at most one in-flight candidate.
//
// Edits flow through the debounce gate; mode switches bypass it. When
// a candidate fires, any older in-flight call is cancelled
// synchronously before the new one dispatches, so the session never
// has two concurrent backend calls.
//
// Thread Safety: Safe for concurrent use.
type Session struct {
	id    string
	coord *Coordinator
	sink  Sink
	seq   *request.Sequencer
	gate  *debounce.Gate

	mu       sync.Mutex
	mode     request.Mode
	inflight *inflight
	closed   bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewSession creates a session in the given starting mode.
//
// Inputs:
//   - config: Debounce configuration. Zero values use defaults.
//   - mode: Starting mode. Must be a valid Mode.
//   - sink: Receiver for published outcomes. Must not be nil.
//
// Outputs:
//   - *Session: Ready for Edit/SetMode. Callers must Close it.
func (c *Coordinator) NewSession(config debounce.Config, mode request.Mode, sink Sink) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		coord:      c,
		sink:       sink,
		seq:        request.NewSequencer(),
		mode:       mode,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
	s.gate = debounce.NewGate(config, s.fire)

	c.logger.Debug("session created", "session_id", s.id, "mode", mode.String())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Mode returns the current operating mode.
func (s *Session) Mode() request.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Edit stamps the current text as a candidate and schedules it through
// the debounce gate. Earlier pending candidates are superseded.
//
// Stamping happens at edit time, not fire time: any result already in
// flight becomes stale the moment Edit returns, even if the new
// candidate never survives the quiet interval.
func (s *Session) Edit(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	mode := s.mode
	s.mu.Unlock()

	cand := s.seq.Stamp(mode, text)
	s.gate.Schedule(cand)
	return nil
}

// SetMode switches the operating mode and, if text is non-empty,
// re-stamps it under the new mode and fires immediately, bypassing the
// debounce delay.
//
// A mode switch with empty text only cancels outstanding work; nothing
// fires.
func (s *Session) SetMode(mode request.Mode, text string) error {
	if !mode.Valid() {
		return errors.New("invalid mode")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mode = mode
	s.mu.Unlock()

	cand := s.seq.Stamp(mode, text)
	if text == "" {
		// Stamp alone invalidates in-flight work; cancel it too so the
		// transport stops immediately.
		s.cancelInflight(cand.Seq)
		return nil
	}
	s.gate.ScheduleImmediate(cand)
	return nil
}

// Reset invalidates all outstanding work for this session: the pending
// candidate is discarded and the in-flight call is cancelled. The
// sequencer keeps counting, so nothing stamped before Reset can
// publish.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// A throwaway stamp bumps the sequence past everything outstanding.
	cand := s.seq.Stamp(s.Mode(), "")
	s.cancelInflight(cand.Seq)
}

// Close tears the session down: the gate stops firing, the in-flight
// call is cancelled, and Close blocks until the dispatch goroutine
// exits. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.gate.Close()
	s.rootCancel()
	s.wg.Wait()

	s.coord.logger.Debug("session closed", "session_id", s.id)
}

// fire is the gate's FireFunc: it claims the in-flight slot for the
// candidate and dispatches resolution on a new goroutine.
func (s *Session) fire(cand request.Candidate) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	// A fired candidate can itself already be stale (a newer edit
	// stamped while it sat in the quiet interval). Skip the dispatch.
	if !s.seq.Current(cand) {
		s.mu.Unlock()
		dropsTotal.WithLabelValues("stale_at_fire").Inc()
		return
	}

	if s.inflight != nil {
		s.inflight.cancel()
	}
	ctx, cancel := context.WithCancel(s.rootCtx)
	s.inflight = &inflight{cancel: cancel, seq: cand.Seq}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.clearInflight(cand.Seq)
		s.coord.resolve(ctx, s, cand)
	}()
}

// publishIfCurrent delivers the outcome to the sink only while the
// candidate is still the latest stamped. Stale results are dropped
// silently.
func (s *Session) publishIfCurrent(o Outcome) {
	if !s.seq.Current(o.Candidate) {
		dropsTotal.WithLabelValues("stale").Inc()
		s.coord.logger.Debug("stale result dropped",
			"session_id", s.id,
			"seq", o.Candidate.Seq,
			"latest", s.seq.Latest(),
		)
		return
	}

	resolveSeconds.Observe(o.Elapsed.Seconds())
	s.sink.Publish(o)
}

// cancelInflight cancels the outstanding call if its sequence is older
// than upTo.
func (s *Session) cancelInflight(upTo uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil && s.inflight.seq < upTo {
		s.inflight.cancel()
		s.inflight = nil
	}
}

// clearInflight releases the slot after resolution, unless a newer
// candidate already claimed it.
func (s *Session) clearInflight(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil && s.inflight.seq == seq {
		s.inflight.cancel()
		s.inflight = nil
	}
}
