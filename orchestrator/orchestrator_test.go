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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/keyflow/breaker"
	"github.com/AleutianAI/keyflow/cache"
	"github.com/AleutianAI/keyflow/debounce"
	"github.com/AleutianAI/keyflow/pkg/logging"
	"github.com/AleutianAI/keyflow/request"
	"github.com/AleutianAI/keyflow/retry"
	"github.com/AleutianAI/keyflow/transport"
)

// fakeBackend scripts backend behavior per call.
type fakeBackend struct {
	mu      sync.Mutex
	calls   int32
	delay   time.Duration
	started chan transport.Request
	respond func(call int, req transport.Request) (*transport.Response, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		started: make(chan transport.Request, 64),
		respond: func(_ int, req transport.Request) (*transport.Response, error) {
			return &transport.Response{Result: "echo: " + req.Text}, nil
		},
	}
}

func (f *fakeBackend) Complete(ctx context.Context, req transport.Request) (*transport.Response, error) {
	call := int(atomic.AddInt32(&f.calls, 1))
	select {
	case f.started <- req:
	default:
	}

	f.mu.Lock()
	delay := f.delay
	respond := f.respond
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return respond(call, req)
}

func (f *fakeBackend) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func (f *fakeBackend) setDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

func (f *fakeBackend) setRespond(fn func(call int, req transport.Request) (*transport.Response, error)) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

// chanSink forwards published outcomes to a channel.
type chanSink chan Outcome

func (s chanSink) Publish(o Outcome) { s <- o }

func waitOutcome(t *testing.T, ch <-chan Outcome, timeout time.Duration) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a published outcome")
		return Outcome{}
	}
}

func assertNoOutcome(t *testing.T, ch <-chan Outcome, window time.Duration) {
	t.Helper()
	select {
	case o := <-ch:
		t.Fatalf("unexpected outcome published: %+v", o)
	case <-time.After(window):
	}
}

// fastConfig is a coordinator config with test-sized budgets.
func fastConfig() Config {
	return Config{
		AttemptTimeout: time.Second,
		Retry: retry.Config{
			MaxAttempts:    3,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
			BackoffFactor:  2.0,
			JitterFactor:   0,
			MaxElapsed:     2 * time.Second,
		},
		Breaker: breaker.Config{
			FailureThreshold: 2,
			Cooldown:         time.Hour, // stays open for the test's duration
		},
	}
}

func quietGate() debounce.Config {
	return debounce.Config{QuietInterval: 10 * time.Millisecond}
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError})
}

func TestSessionPublishesSuccess(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 4)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	require.NoError(t, session.Edit("hello world"))

	o := waitOutcome(t, sink, time.Second)
	require.True(t, o.OK())
	assert.Equal(t, "echo: hello world", o.Response.Result)
	assert.Equal(t, 1, o.Attempts)
	assert.False(t, o.FromCache)
	assert.Equal(t, uint64(1), o.Candidate.Seq)
}

func TestDebounceCoalescesBurst(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 8)
	session := coord.NewSession(debounce.Config{QuietInterval: 30 * time.Millisecond}, request.ModeCompose, sink)
	defer session.Close()

	// Simulated typing burst: intermediate prefixes must never reach
	// the backend.
	for _, text := range []string{"h", "he", "hel", "hell", "hello"} {
		require.NoError(t, session.Edit(text))
		time.Sleep(5 * time.Millisecond)
	}

	o := waitOutcome(t, sink, time.Second)
	require.True(t, o.OK())
	assert.Equal(t, "echo: hello", o.Response.Result)
	assert.Equal(t, 1, backend.callCount(), "burst should collapse to one backend call")
	assertNoOutcome(t, sink, 60*time.Millisecond)
}

func TestNewerEditSupersedesInFlight(t *testing.T) {
	backend := newFakeBackend()
	backend.setDelay(150 * time.Millisecond)
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 8)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	require.NoError(t, session.Edit("first"))

	// Wait until the first call is actually in flight, then supersede.
	select {
	case <-backend.started:
	case <-time.After(time.Second):
		t.Fatal("first call never started")
	}
	require.NoError(t, session.Edit("second"))

	o := waitOutcome(t, sink, time.Second)
	require.True(t, o.OK())
	assert.Equal(t, "echo: second", o.Response.Result, "only the newest candidate may publish")
	assertNoOutcome(t, sink, 100*time.Millisecond)

	// The superseded call is user behavior, not backend health.
	assert.Equal(t, 0, coord.Breaker().Stats().ConsecutiveFailures)
}

func TestRetryOnServerErrorThenSuccess(t *testing.T) {
	backend := newFakeBackend()
	backend.setRespond(func(call int, req transport.Request) (*transport.Response, error) {
		if call == 1 {
			return nil, &transport.Error{Kind: transport.KindServerError, StatusCode: 502}
		}
		return &transport.Response{Result: "recovered"}, nil
	})
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 4)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	require.NoError(t, session.Edit("flaky"))

	o := waitOutcome(t, sink, 2*time.Second)
	require.True(t, o.OK())
	assert.Equal(t, "recovered", o.Response.Result)
	assert.Equal(t, 2, o.Attempts)

	// The resolution succeeded; the transient 502 must not linger in
	// the breaker's counters.
	assert.Equal(t, 0, coord.Breaker().Stats().ConsecutiveFailures)
}

func TestExhaustedRetriesPublishTerminalFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.setRespond(func(int, transport.Request) (*transport.Response, error) {
		return nil, &transport.Error{Kind: transport.KindServerError, StatusCode: 500}
	})
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 4)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	require.NoError(t, session.Edit("doomed"))

	o := waitOutcome(t, sink, 2*time.Second)
	require.False(t, o.OK())
	assert.Equal(t, transport.KindServerError, o.Failure.Kind)
	assert.Equal(t, 3, o.Attempts)

	// One resolution, one breaker report.
	assert.Equal(t, 1, coord.Breaker().Stats().ConsecutiveFailures)
}

func TestBreakerOpensAndRejects(t *testing.T) {
	backend := newFakeBackend()
	backend.setRespond(func(int, transport.Request) (*transport.Response, error) {
		return nil, &transport.Error{Kind: transport.KindServerError, StatusCode: 500}
	})
	config := fastConfig()
	config.Retry.MaxAttempts = 1
	coord := NewCoordinator(config, backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 8)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	// Two failing resolutions trip the threshold-2 breaker.
	require.NoError(t, session.Edit("fail one"))
	waitOutcome(t, sink, time.Second)
	require.NoError(t, session.Edit("fail two"))
	waitOutcome(t, sink, time.Second)

	require.Equal(t, breaker.StateOpen, coord.Breaker().State())
	callsBefore := backend.callCount()

	// The next candidate is rejected without touching the network.
	require.NoError(t, session.Edit("rejected"))
	o := waitOutcome(t, sink, time.Second)
	require.False(t, o.OK())
	assert.Equal(t, transport.KindCircuitOpen, o.Failure.Kind)
	assert.Equal(t, 0, o.Attempts)
	assert.Equal(t, callsBefore, backend.callCount())
}

func TestBreakerRecoversThroughProbe(t *testing.T) {
	backend := newFakeBackend()
	var healthy atomic.Bool
	backend.setRespond(func(_ int, req transport.Request) (*transport.Response, error) {
		if !healthy.Load() {
			return nil, &transport.Error{Kind: transport.KindServerError, StatusCode: 500}
		}
		return &transport.Response{Result: "echo: " + req.Text}, nil
	})

	config := fastConfig()
	config.Retry.MaxAttempts = 1
	config.Breaker.Cooldown = 50 * time.Millisecond
	coord := NewCoordinator(config, backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 8)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	require.NoError(t, session.Edit("one"))
	waitOutcome(t, sink, time.Second)
	require.NoError(t, session.Edit("two"))
	waitOutcome(t, sink, time.Second)
	require.Equal(t, breaker.StateOpen, coord.Breaker().State())

	// Backend recovers; after the cooldown the next candidate is the
	// probe, and its success closes the circuit.
	healthy.Store(true)
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, session.Edit("probe"))
	o := waitOutcome(t, sink, time.Second)
	require.True(t, o.OK())
	assert.Equal(t, breaker.StateClosed, coord.Breaker().State())
}

func TestRateLimitedDoesNotFeedBreaker(t *testing.T) {
	backend := newFakeBackend()
	backend.setRespond(func(int, transport.Request) (*transport.Response, error) {
		return nil, &transport.Error{Kind: transport.KindRateLimited, StatusCode: 429, RetryAfter: 5 * time.Millisecond}
	})
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 8)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, session.Edit(text))
		o := waitOutcome(t, sink, 2*time.Second)
		require.False(t, o.OK())
		assert.Equal(t, transport.KindRateLimited, o.Failure.Kind)
	}

	// Repeated terminal 429s: the backend is healthy and shedding
	// load, so the circuit must stay closed with a clean counter.
	stats := coord.Breaker().Stats()
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, 0, stats.ConsecutiveFailures)
}

func TestCacheHitBypassesOpenBreaker(t *testing.T) {
	backend := newFakeBackend()
	responseCache := cache.NewMemory(16)
	coord := NewCoordinator(fastConfig(), backend, responseCache, testLogger())

	// Seed the cache and force the breaker open.
	fp := request.Fingerprint(request.ModeCompose, "cached text")
	responseCache.Store(fp, &transport.Response{Result: "from cache"})
	coord.Breaker().Report(breaker.OutcomeFailure)
	coord.Breaker().Report(breaker.OutcomeFailure)
	require.Equal(t, breaker.StateOpen, coord.Breaker().State())

	sink := make(chanSink, 4)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	require.NoError(t, session.Edit("cached text"))

	o := waitOutcome(t, sink, time.Second)
	require.True(t, o.OK())
	assert.True(t, o.FromCache)
	assert.Equal(t, "from cache", o.Response.Result)
	assert.Equal(t, 0, o.Attempts)
	assert.Equal(t, 0, backend.callCount())
}

func TestSuccessPopulatesCache(t *testing.T) {
	backend := newFakeBackend()
	responseCache := cache.NewMemory(16)
	coord := NewCoordinator(fastConfig(), backend, responseCache, testLogger())

	sink := make(chanSink, 4)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	require.NoError(t, session.Edit("memoize me"))
	waitOutcome(t, sink, time.Second)

	// Retyping the same text hits the cache; the backend sees one call.
	require.NoError(t, session.Edit("memoize me"))
	o := waitOutcome(t, sink, time.Second)
	require.True(t, o.OK())
	assert.True(t, o.FromCache)
	assert.Equal(t, 1, backend.callCount())
}

func TestFingerprintNormalizationSharesCache(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 4)
	session := coord.NewSession(quietGate(), request.ModeSearchQuery, sink)
	defer session.Close()

	require.NoError(t, session.Edit("Go Tutorial"))
	waitOutcome(t, sink, time.Second)

	// Same query modulo case and whitespace: search mode folds both.
	require.NoError(t, session.Edit("  go   TUTORIAL "))
	o := waitOutcome(t, sink, time.Second)
	require.True(t, o.OK())
	assert.True(t, o.FromCache)
	assert.Equal(t, 1, backend.callCount())
}

func TestSetModeFiresImmediately(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 4)
	// A quiet interval long enough that only the bypass can fire.
	session := coord.NewSession(debounce.Config{QuietInterval: time.Hour}, request.ModeCompose, sink)
	defer session.Close()

	require.NoError(t, session.SetMode(request.ModeSearchQuery, "find this"))

	o := waitOutcome(t, sink, time.Second)
	require.True(t, o.OK())
	assert.Equal(t, request.ModeSearchQuery, o.Candidate.Mode)
	assert.Equal(t, request.ModeSearchQuery, session.Mode())
}

func TestSetModeEmptyTextCancelsInFlight(t *testing.T) {
	backend := newFakeBackend()
	backend.setDelay(200 * time.Millisecond)
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 4)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)
	defer session.Close()

	require.NoError(t, session.Edit("in flight"))
	select {
	case <-backend.started:
	case <-time.After(time.Second):
		t.Fatal("call never started")
	}

	require.NoError(t, session.SetMode(request.ModeConversational, ""))

	assertNoOutcome(t, sink, 300*time.Millisecond)
	assert.Equal(t, 0, coord.Breaker().Stats().ConsecutiveFailures)
}

func TestSingleFlightCoalescesAcrossSessions(t *testing.T) {
	backend := newFakeBackend()
	backend.setDelay(100 * time.Millisecond)
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sinkA := make(chanSink, 4)
	sinkB := make(chanSink, 4)
	sessionA := coord.NewSession(quietGate(), request.ModeCompose, sinkA)
	defer sessionA.Close()
	sessionB := coord.NewSession(quietGate(), request.ModeCompose, sinkB)
	defer sessionB.Close()

	require.NoError(t, sessionA.Edit("same text"))
	require.NoError(t, sessionB.Edit("same text"))

	oa := waitOutcome(t, sinkA, time.Second)
	ob := waitOutcome(t, sinkB, time.Second)
	require.True(t, oa.OK())
	require.True(t, ob.OK())
	assert.Equal(t, oa.Response.Result, ob.Response.Result)
	assert.Equal(t, 1, backend.callCount(), "identical concurrent fingerprints should share one flight")
}

func TestSessionCloseStopsWork(t *testing.T) {
	backend := newFakeBackend()
	backend.setDelay(200 * time.Millisecond)
	coord := NewCoordinator(fastConfig(), backend, cache.NewMemory(16), testLogger())

	sink := make(chanSink, 4)
	session := coord.NewSession(quietGate(), request.ModeCompose, sink)

	require.NoError(t, session.Edit("abandoned"))
	select {
	case <-backend.started:
	case <-time.After(time.Second):
		t.Fatal("call never started")
	}

	session.Close()

	assert.ErrorIs(t, session.Edit("after close"), ErrSessionClosed)
	assertNoOutcome(t, sink, 100*time.Millisecond)
}

func TestCoordinatorReset(t *testing.T) {
	backend := newFakeBackend()
	responseCache := cache.NewMemory(16)
	coord := NewCoordinator(fastConfig(), backend, responseCache, testLogger())

	responseCache.Store("fp", &transport.Response{Result: "stale"})
	coord.Breaker().Report(breaker.OutcomeFailure)
	coord.Breaker().Report(breaker.OutcomeFailure)
	require.Equal(t, breaker.StateOpen, coord.Breaker().State())

	coord.Reset()

	assert.Equal(t, breaker.StateClosed, coord.Breaker().State())
	assert.Equal(t, 0, responseCache.Len())
}
