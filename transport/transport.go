// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport defines the backend boundary: the request and
// response envelope, the failure taxonomy, and concrete clients for
// the keyflow JSON protocol and OpenAI-compatible completion APIs.
//
// The orchestration core depends only on the Transport interface and
// the taxonomy. Everything else here is a collaborator implementation.
package transport

import (
	"context"
	"time"
)

// DefaultTimeout is the default per-attempt request timeout.
const DefaultTimeout = 30 * time.Second

// Request is one backend invocation for a stamped candidate.
type Request struct {
	// Mode is the operating mode name ("compose", "search-query",
	// "conversational", "snippet").
	Mode string `json:"mode"`

	// Text is the normalized input text.
	Text string `json:"text"`

	// ContextLength is the surrounding-context size in characters the
	// surface attached to the request. Zero when the surface sent none.
	ContextLength int `json:"context_length,omitempty"`
}

// Usage is optional backend-reported token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a successful backend result.
type Response struct {
	// Result is the transformed text.
	Result string `json:"result"`

	// Usage is backend-reported usage metadata, when available.
	Usage *Usage `json:"usage,omitempty"`
}

// Transport performs one backend call.
//
// Implementations must honor context cancellation and deadlines, and
// must return errors classifiable by Classify: wrap HTTP status
// failures in *Error or return SDK/stdlib errors unmodified.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Transport interface {
	// Complete sends the request and returns the backend's result.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout. Must not be nil.
	//   - req: The request envelope.
	//
	// Outputs:
	//   - *Response: Never nil on success.
	//   - error: Classifiable failure (see Classify).
	Complete(ctx context.Context, req Request) (*Response, error)
}
