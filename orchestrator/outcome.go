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
	"time"

	"github.com/AleutianAI/keyflow/request"
	"github.com/AleutianAI/keyflow/transport"
)

// Outcome is what the coordinator publishes to the result sink:
// either a backend response or a classified terminal failure, never
// both. Cancelled candidates are dropped and never produce an Outcome.
type Outcome struct {
	// Candidate is the stamped request this outcome answers.
	Candidate request.Candidate

	// Response is the backend result. Nil on failure.
	Response *transport.Response

	// Failure is the terminal failure. Nil on success. KindCancelled
	// never appears here.
	Failure *transport.Error

	// FromCache is true when the result was served without a network
	// call.
	FromCache bool

	// Attempts is the number of backend attempts made. Zero for cache
	// hits and circuit-open rejections.
	Attempts int

	// Elapsed is the time from fire to publish.
	Elapsed time.Duration
}

// OK reports whether the outcome carries a successful response.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Sink receives published outcomes for the input surface.
//
// The coordinator guarantees zero or one publish per candidate, never
// more. Publish is invoked from the coordinator's dispatch goroutine
// and must not block for long.
type Sink interface {
	Publish(Outcome)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Outcome)

// Publish implements Sink.
func (f SinkFunc) Publish(o Outcome) { f(o) }
