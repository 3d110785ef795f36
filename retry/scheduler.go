// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry computes backoff delays for retryable backend failures.
//
// The scheduler is policy only: it never sleeps. Callers ask for the
// next delay, wait cancellably themselves, and retry. Rate-limited
// failures are scheduled from the server's retry hint when one is
// present; they are tracked as a distinct reason because throttling
// indicates a healthy backend and must not feed circuit breaker
// failure counts.
package retry

import (
	"errors"
	"math/rand"
	"time"
)

// Reason classifies why an attempt failed, for scheduling purposes.
type Reason int

const (
	// ReasonNetwork is an unreachable backend or connection failure.
	ReasonNetwork Reason = iota

	// ReasonTimeout is a request that exceeded its deadline.
	ReasonTimeout

	// ReasonServerError is an HTTP 5xx class failure.
	ReasonServerError

	// ReasonRateLimited is an HTTP 429; the backend is healthy but
	// throttling.
	ReasonRateLimited
)

// String returns the human-readable reason name.
func (r Reason) String() string {
	switch r {
	case ReasonNetwork:
		return "network"
	case ReasonTimeout:
		return "timeout"
	case ReasonServerError:
		return "server_error"
	case ReasonRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// CountsTowardBreaker reports whether this failure reason should feed
// circuit breaker failure counting.
//
// Throttling does not: the backend answered, it is just shedding load.
func (r Reason) CountsTowardBreaker() bool {
	return r != ReasonRateLimited
}

// ErrInvalidConfig is returned for invalid scheduler configuration.
var ErrInvalidConfig = errors.New("invalid retry scheduler configuration")

// Config configures the retry scheduler.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the
	// initial one). Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps a single delay, including server hints. Default: 10s.
	MaxBackoff time.Duration

	// BackoffFactor is the exponential multiplier. Default: 2.0.
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of the delay
	// (0-1). Prevents synchronized retries. Default: 0.2.
	JitterFactor float64

	// MaxElapsed caps the total time a single candidate may spend
	// retrying. Once exceeded, the scheduler gives up regardless of
	// remaining attempts. Default: 15s.
	MaxElapsed time.Duration
}

// DefaultConfig returns sensible defaults for an interactive surface.
//
// The budget is deliberately tight: results answer keystrokes, and a
// retry that lands after the user has moved on is wasted work.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
		MaxElapsed:     15 * time.Second,
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = d.JitterFactor
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = d.MaxElapsed
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidConfig
	}
	if c.InitialBackoff <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxBackoff < c.InitialBackoff {
		return ErrInvalidConfig
	}
	if c.BackoffFactor < 1.0 {
		return ErrInvalidConfig
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidConfig
	}
	return nil
}

// Scheduler computes backoff delays for failed attempts.
//
// Thread Safety: Safe for concurrent use.
type Scheduler struct {
	config Config
}

// NewScheduler creates a scheduler with the given configuration.
// Zero-valued fields use defaults.
func NewScheduler(config Config) *Scheduler {
	config.ApplyDefaults()
	return &Scheduler{config: config}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// NextDelay computes the delay before the next attempt.
//
// Inputs:
//   - attempt: The 1-based number of the attempt that just failed.
//   - reason: Why it failed.
//   - hint: Server-supplied retry hint (Retry-After). Zero if absent.
//     Only consulted for ReasonRateLimited.
//   - elapsed: Total time already spent resolving this candidate.
//
// Outputs:
//   - time.Duration: Delay to wait before retrying. Meaningless when
//     ok is false.
//   - bool: False when the scheduler gives up (attempt or elapsed
//     budget exhausted). The caller surfaces a terminal failure.
func (s *Scheduler) NextDelay(attempt int, reason Reason, hint time.Duration, elapsed time.Duration) (time.Duration, bool) {
	if attempt >= s.config.MaxAttempts {
		return 0, false
	}
	if elapsed >= s.config.MaxElapsed {
		return 0, false
	}

	if reason == ReasonRateLimited && hint > 0 {
		delay := hint
		if delay > s.config.MaxBackoff {
			delay = s.config.MaxBackoff
		}
		// A hint that blows the elapsed budget is a give-up: honoring
		// it would retry after the user-facing deadline anyway.
		if elapsed+delay > s.config.MaxElapsed {
			return 0, false
		}
		return delay, true
	}

	backoff := s.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * s.config.BackoffFactor)
		if backoff >= s.config.MaxBackoff {
			backoff = s.config.MaxBackoff
			break
		}
	}

	return jitter(backoff, s.config.JitterFactor), true
}

// jitter spreads the delay across [base*(1-f), base*(1+f)].
func jitter(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	spread := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(base) * (1.0 + spread))
}
