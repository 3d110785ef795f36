// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/keyflow/retry"
)

// FailureKind is the closed taxonomy of request failures.
type FailureKind int

const (
	// KindNetwork is an unreachable backend or connection failure.
	KindNetwork FailureKind = iota

	// KindTimeout is a request that exceeded its deadline.
	KindTimeout

	// KindRateLimited is HTTP 429, optionally with a retry hint.
	KindRateLimited

	// KindServerError is HTTP 5xx.
	KindServerError

	// KindClientError is HTTP 4xx other than 429. Not retryable; the
	// request itself is likely malformed.
	KindClientError

	// KindCircuitOpen means the breaker rejected the request before
	// any network attempt.
	KindCircuitOpen

	// KindCancelled means the candidate was superseded by newer input.
	// Not an error condition; never surfaced to the user.
	KindCancelled
)

// String returns the human-readable kind name.
func (k FailureKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	case KindCircuitOpen:
		return "circuit_open"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind may be retried.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// Error is a classified transport failure.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind FailureKind

	// StatusCode is the HTTP status, when one was received.
	StatusCode int

	// RetryAfter is the server's throttle hint. Zero if absent. Only
	// meaningful for KindRateLimited.
	RetryAfter time.Duration

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns a short, user-actionable description.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return "You appear to be offline."
	case KindTimeout:
		return "The service is taking too long. Try again."
	case KindRateLimited:
		return "Too many requests. Try again shortly."
	case KindServerError, KindCircuitOpen:
		return "The service is degraded. Try again later."
	case KindClientError:
		return "The request could not be processed."
	default:
		return "Something went wrong."
	}
}

// Classify maps an arbitrary transport-layer error into the taxonomy.
//
// Already-classified errors pass through. Context cancellation maps to
// KindCancelled, deadline expiry to KindTimeout, go-openai API errors
// by status code, and everything else to KindNetwork.
//
// Outputs:
//   - *Error: Never nil for a non-nil input.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var te *Error
	if errors.As(err, &te) {
		return te
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, 0, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, 0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &Error{Kind: KindNetwork, Err: err}
	}

	return &Error{Kind: KindNetwork, Err: err}
}

// classifyStatus buckets an HTTP status code.
func classifyStatus(status int, retryAfter time.Duration, err error) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, StatusCode: status, RetryAfter: retryAfter, Err: err}
	case status >= 500:
		return &Error{Kind: KindServerError, StatusCode: status, Err: err}
	case status >= 400:
		return &Error{Kind: KindClientError, StatusCode: status, Err: err}
	case status == 0:
		return &Error{Kind: KindNetwork, Err: err}
	default:
		return &Error{Kind: KindServerError, StatusCode: status, Err: err}
	}
}

// ReasonOf bridges a retryable failure to the retry scheduler's reason
// taxonomy. Callers must check Kind.Retryable() first.
func (e *Error) ReasonOf() retry.Reason {
	switch e.Kind {
	case KindTimeout:
		return retry.ReasonTimeout
	case KindRateLimited:
		return retry.ReasonRateLimited
	case KindServerError:
		return retry.ReasonServerError
	default:
		return retry.ReasonNetwork
	}
}
