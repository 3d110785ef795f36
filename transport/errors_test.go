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
	"net/url"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/keyflow/retry"
)

// timeoutErr implements net.Error with Timeout() == true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"context canceled", context.Canceled, KindCancelled},
		{"wrapped cancel", fmt.Errorf("call: %w", context.Canceled), KindCancelled},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"net timeout", timeoutErr{}, KindTimeout},
		{"url error", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("refused")}, KindNetwork},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429}, KindRateLimited},
		{"openai 500", &openai.APIError{HTTPStatusCode: 500}, KindServerError},
		{"openai 401", &openai.APIError{HTTPStatusCode: 401}, KindClientError},
		{"openai request error", &openai.RequestError{HTTPStatusCode: 503}, KindServerError},
		{"plain error", errors.New("connection reset"), KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got == nil {
				t.Fatal("Classify returned nil for non-nil error")
			}
			if got.Kind != tt.want {
				t.Errorf("Classify(%v).Kind = %v, want %v", tt.err, got.Kind, tt.want)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Errorf("Classify(nil) = %v, want nil", got)
	}
}

func TestClassifyPassthrough(t *testing.T) {
	original := &Error{Kind: KindRateLimited, StatusCode: 429, RetryAfter: 3 * time.Second}
	got := Classify(fmt.Errorf("attempt: %w", original))
	if got != original {
		t.Error("already-classified errors should pass through unchanged")
	}
	if got.RetryAfter != 3*time.Second {
		t.Error("retry hint lost in passthrough")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want bool
	}{
		{KindNetwork, true},
		{KindTimeout, true},
		{KindRateLimited, true},
		{KindServerError, true},
		{KindClientError, false},
		{KindCircuitOpen, false},
		{KindCancelled, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Retryable(); got != tt.want {
			t.Errorf("%v.Retryable() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestReasonOf(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want retry.Reason
	}{
		{KindNetwork, retry.ReasonNetwork},
		{KindTimeout, retry.ReasonTimeout},
		{KindRateLimited, retry.ReasonRateLimited},
		{KindServerError, retry.ReasonServerError},
	}
	for _, tt := range tests {
		e := &Error{Kind: tt.kind}
		if got := e.ReasonOf(); got != tt.want {
			t.Errorf("ReasonOf(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := &Error{Kind: KindServerError, StatusCode: 502, Err: cause}
	if !errors.Is(e, cause) {
		t.Error("errors.Is should reach the underlying cause")
	}
}
