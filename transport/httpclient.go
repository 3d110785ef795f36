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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// completePath is the keyflow backend completion endpoint.
const completePath = "/v1/complete"

// maxErrorBody bounds how much of an error response body is read for
// diagnostics.
const maxErrorBody = 4 << 10

// HTTPClient speaks the keyflow JSON protocol to a backend.
//
// POST {base}/v1/complete with a Request body returns a Response on
// 200. Failures are classified by status; 429 responses carry an
// optional Retry-After header that is propagated as the throttle hint.
//
// Thread Safety: Safe for concurrent use.
type HTTPClient struct {
	base   string
	apiKey string
	client *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPTimeout sets the per-attempt request timeout.
// If d <= 0, this option is ignored.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// NewHTTPClient creates a client for the backend at base
// (e.g. "https://api.example.com").
func NewHTTPClient(base string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		base:   base,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete implements Transport.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindClientError, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+completePath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindClientError, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		// Classify distinguishes context cancellation, deadline
		// expiry, and connection failures.
		return nil, Classify(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		cause := fmt.Errorf("%s", bytes.TrimSpace(snippet))
		return nil, classifyStatus(httpResp.StatusCode, parseRetryAfter(httpResp.Header.Get("Retry-After")), cause)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, &Error{Kind: KindServerError, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &resp, nil
}

// parseRetryAfter parses a Retry-After header value.
//
// Supports the delta-seconds form and the HTTP-date form. Returns zero
// for anything unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
