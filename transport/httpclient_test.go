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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/complete" {
			t.Errorf("path = %s, want /v1/complete", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Mode != "compose" || req.Text != "hello" {
			t.Errorf("request = %+v", req)
		}

		json.NewEncoder(w).Encode(Response{
			Result: "Hello!",
			Usage:  &Usage{InputTokens: 1, OutputTokens: 2},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithAPIKey("sekrit"))
	resp, err := c.Complete(context.Background(), Request{Mode: "compose", Text: "hello"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Result != "Hello!" {
		t.Errorf("Result = %q", resp.Result)
	}
	if resp.Usage == nil || resp.Usage.OutputTokens != 2 {
		t.Error("usage metadata missing")
	}
}

func TestHTTPClientClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   FailureKind
	}{
		{"server error", http.StatusBadGateway, KindServerError},
		{"client error", http.StatusUnprocessableEntity, KindClientError},
		{"rate limited", http.StatusTooManyRequests, KindRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL)
			_, err := c.Complete(context.Background(), Request{Mode: "compose", Text: "x"})
			var terr *Error
			if !errors.As(err, &terr) {
				t.Fatalf("error %v is not a transport Error", err)
			}
			if terr.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", terr.Kind, tt.want)
			}
			if terr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", terr.StatusCode, tt.status)
			}
		})
	}
}

func TestHTTPClientPropagatesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.Complete(context.Background(), Request{Mode: "compose", Text: "x"})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error %v is not a transport Error", err)
	}
	if terr.Kind != KindRateLimited {
		t.Fatalf("Kind = %v, want rate_limited", terr.Kind)
	}
	if terr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", terr.RetryAfter)
	}
}

func TestHTTPClientCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read;
		// otherwise it never notices the client disconnect and the
		// request context is never cancelled.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.Complete(ctx, Request{Mode: "compose", Text: "x"})
	terr := Classify(err)
	if terr.Kind != KindCancelled {
		t.Errorf("Kind = %v, want cancelled", terr.Kind)
	}
}

func TestHTTPClientConnectionRefused(t *testing.T) {
	// A closed server yields a connection error, not a status.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.Complete(context.Background(), Request{Mode: "compose", Text: "x"})
	terr := Classify(err)
	if terr.Kind != KindNetwork {
		t.Errorf("Kind = %v, want network", terr.Kind)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"delta seconds", "12", 12 * time.Second},
		{"zero seconds", "0", 0},
		{"negative", "-3", 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	if got < 25*time.Second || got > 30*time.Second {
		t.Errorf("parseRetryAfter(date) = %v, want ~30s", got)
	}

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(past); got != 0 {
		t.Errorf("parseRetryAfter(past date) = %v, want 0", got)
	}
}
