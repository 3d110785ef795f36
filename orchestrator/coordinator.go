// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator decides when backend calls happen and which
// results reach the user.
//
// The Coordinator owns the process-wide collaborators (response
// cache, circuit breakers, transport, retry policy) and is shared by
// sessions. Each Session owns one input surface: its mode, its
// sequencer, its debounce gate, and at most one in-flight candidate.
//
// The pipeline for a fired candidate:
//
//	cache lookup → breaker permission → transport under retry policy
//	→ sequence gate → publish or drop
//
// Cancellation is cooperative: a newer candidate synchronously clears
// the in-flight pointer and cancels the outstanding call's context.
// The aborted call's eventual result is discarded by the sequence
// gate, so no special-case cancellation-response path exists.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/keyflow/breaker"
	"github.com/AleutianAI/keyflow/cache"
	"github.com/AleutianAI/keyflow/pkg/logging"
	"github.com/AleutianAI/keyflow/request"
	"github.com/AleutianAI/keyflow/retry"
	"github.com/AleutianAI/keyflow/transport"
)

// DefaultEndpoint is the breaker key used when config names none.
const DefaultEndpoint = "backend"

// DefaultAttemptTimeout bounds a single backend attempt.
const DefaultAttemptTimeout = 30 * time.Second

// Config configures a Coordinator.
type Config struct {
	// Endpoint is the circuit breaker key for the backend. Default:
	// "backend".
	Endpoint string

	// AttemptTimeout bounds each backend attempt. Default: 30s.
	AttemptTimeout time.Duration

	// RateLimit caps backend dispatches per second across all
	// sessions, independent of debouncing. Zero disables the cap.
	RateLimit float64

	// RateBurst is the dispatch burst allowance. Default: 1 when
	// RateLimit is set.
	RateBurst int

	// Retry configures the retry scheduler.
	Retry retry.Config

	// Breaker configures circuit breakers created by the coordinator.
	Breaker breaker.Config
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	c.Retry.ApplyDefaults()
	c.Breaker.ApplyDefaults()
}

// Coordinator owns the shared orchestration collaborators.
//
// Lifecycle: created at process start, shared by all sessions, reset
// only through explicit user action (Reset). It runs no background
// work of its own; sessions own their goroutines.
//
// Thread Safety: Safe for concurrent use.
type Coordinator struct {
	config   Config
	backend  transport.Transport
	cache    cache.ResponseCache
	breakers *breaker.Registry
	sched    *retry.Scheduler
	limiter  *rate.Limiter
	group    singleflight.Group
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewCoordinator creates a coordinator.
//
// Inputs:
//   - config: Coordinator configuration. Zero values use defaults.
//   - backend: Backend transport. Must not be nil.
//   - responseCache: Shared response cache. Must not be nil.
//   - logger: Logger. Nil uses the default stderr logger.
//
// Outputs:
//   - *Coordinator: Ready to create sessions against.
func NewCoordinator(config Config, backend transport.Transport, responseCache cache.ResponseCache, logger *logging.Logger) *Coordinator {
	config.ApplyDefaults()
	if logger == nil {
		logger = logging.Default()
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	return &Coordinator{
		config:   config,
		backend:  backend,
		cache:    responseCache,
		breakers: breaker.NewRegistry(config.Breaker),
		sched:    retry.NewScheduler(config.Retry),
		limiter:  limiter,
		logger:   logger.With("component", "coordinator"),
		tracer:   otel.Tracer("keyflow.orchestrator"),
	}
}

// Breaker returns the breaker guarding the configured endpoint.
func (c *Coordinator) Breaker() *breaker.Breaker {
	return c.breakers.Get(c.config.Endpoint)
}

// Reset clears shared state: every breaker closes and the response
// cache empties. Reserved for explicit user action such as sign-out.
func (c *Coordinator) Reset() {
	c.breakers.ResetAll()
	c.cache.Invalidate()
	c.logger.Info("coordinator reset")
}

// resolve runs one fired candidate to completion: publish, terminal
// failure, or silent drop. It is the only path that talks to the
// backend.
func (c *Coordinator) resolve(ctx context.Context, s *Session, cand request.Candidate) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "keyflow.resolve",
		trace.WithAttributes(
			attribute.String("mode", cand.Mode.String()),
			attribute.Int64("seq", int64(cand.Seq)),
		))
	defer span.End()

	// Cache first: a hit bypasses the breaker and the network.
	if resp, ok := c.cache.Lookup(cand.Fingerprint); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		s.publishIfCurrent(Outcome{
			Candidate: cand,
			Response:  resp,
			FromCache: true,
			Elapsed:   time.Since(start),
		})
		return
	}

	br := c.breakers.Get(c.config.Endpoint)
	allowed, release := br.Allow()
	if !allowed {
		requestsTotal.WithLabelValues("circuit_open").Inc()
		s.publishIfCurrent(Outcome{
			Candidate: cand,
			Failure:   &transport.Error{Kind: transport.KindCircuitOpen, Err: breaker.ErrOpen},
			Elapsed:   time.Since(start),
		})
		return
	}
	if release != nil {
		defer release()
	}

	resp, terr, attempts := c.dispatch(ctx, cand)
	elapsed := time.Since(start)

	switch {
	case terr == nil:
		c.cache.Store(cand.Fingerprint, resp)
		br.Report(breaker.OutcomeSuccess)
		requestsTotal.WithLabelValues("success").Inc()
		s.publishIfCurrent(Outcome{
			Candidate: cand,
			Response:  resp,
			Attempts:  attempts,
			Elapsed:   elapsed,
		})

	case terr.Kind == transport.KindCancelled:
		// Superseded by newer input: no publish, no health signal.
		br.Report(breaker.OutcomeCancelled)
		requestsTotal.WithLabelValues("cancelled").Inc()
		dropsTotal.WithLabelValues("cancelled").Inc()
		c.logger.Debug("candidate cancelled in flight", "seq", cand.Seq)

	default:
		br.Report(breakerOutcome(terr))
		requestsTotal.WithLabelValues(terr.Kind.String()).Inc()
		s.publishIfCurrent(Outcome{
			Candidate: cand,
			Failure:   terr,
			Attempts:  attempts,
			Elapsed:   elapsed,
		})
	}
}

// dispatch runs the attempt loop under the retry scheduler.
//
// Outputs:
//   - *transport.Response: Non-nil on success.
//   - *transport.Error: Non-nil on terminal failure or cancellation.
//   - int: Attempts made.
func (c *Coordinator) dispatch(ctx context.Context, cand request.Candidate) (*transport.Response, *transport.Error, int) {
	req := transport.Request{
		Mode: cand.Mode.String(),
		Text: cand.Text,
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &transport.Error{Kind: transport.KindCancelled, Err: err}, attempt - 1
			}
		}

		resp, err := c.attempt(ctx, cand.Fingerprint, req)
		if err == nil {
			return resp, nil, attempt
		}

		terr := transport.Classify(err)
		if terr.Kind == transport.KindCancelled || !terr.Kind.Retryable() {
			return nil, terr, attempt
		}

		delay, ok := c.sched.NextDelay(attempt, terr.ReasonOf(), terr.RetryAfter, time.Since(start))
		if !ok {
			return nil, terr, attempt
		}

		c.logger.Warn("backend attempt failed, retrying",
			"attempt", attempt,
			"reason", terr.Kind.String(),
			"delay_ms", delay.Milliseconds(),
		)
		retriesTotal.WithLabelValues(terr.Kind.String()).Inc()

		select {
		case <-ctx.Done():
			return nil, &transport.Error{Kind: transport.KindCancelled, Err: ctx.Err()}, attempt
		case <-time.After(delay):
		}
	}
}

// attempt performs one backend call, coalescing identical concurrent
// fingerprints across sessions through singleflight.
//
// The winning caller's context drives the shared call. If that caller
// is cancelled while others still wait, waiters with live contexts
// fall back to a direct call rather than inheriting the cancellation.
func (c *Coordinator) attempt(ctx context.Context, fingerprint string, req transport.Request) (*transport.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.AttemptTimeout)
	defer cancel()

	ch := c.group.DoChan(fingerprint, func() (any, error) {
		return c.backend.Complete(attemptCtx, req)
	})

	select {
	case <-ctx.Done():
		c.group.Forget(fingerprint)
		return nil, ctx.Err()

	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
				// The flight owner bailed; our candidate is still live.
				c.group.Forget(fingerprint)
				directCtx, directCancel := context.WithTimeout(ctx, c.config.AttemptTimeout)
				defer directCancel()
				return c.backend.Complete(directCtx, req)
			}
			return nil, res.Err
		}
		if res.Shared {
			sharedFlightsTotal.Inc()
		}
		return res.Val.(*transport.Response), nil
	}
}

// breakerOutcome maps a terminal transport failure to the breaker's
// outcome taxonomy.
func breakerOutcome(terr *transport.Error) breaker.Outcome {
	switch terr.Kind {
	case transport.KindRateLimited:
		return breaker.OutcomeThrottled
	case transport.KindClientError:
		return breaker.OutcomeClientError
	default:
		return breaker.OutcomeFailure
	}
}
