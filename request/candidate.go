// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package request

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"
)

// fingerprintSep separates mode and text inside the digest input so
// that (mode, text) pairs cannot collide across modes.
const fingerprintSep = 0x1f

// Candidate is a stamped request: one qualifying edit or mode change.
//
// Candidates are immutable. Superseded candidates are discarded, never
// mutated; a fresh edit produces a fresh candidate with a higher
// sequence number even when the fingerprint is unchanged.
type Candidate struct {
	// Fingerprint is the hex-encoded digest of (mode, normalized text).
	Fingerprint string

	// Seq is the session-scoped monotonically increasing sequence number.
	Seq uint64

	// Mode is the operating mode at stamp time.
	Mode Mode

	// Text is the normalized input text.
	Text string

	// CreatedAt is the stamp time.
	CreatedAt time.Time
}

// Fingerprint computes the stable content fingerprint for (mode, text).
//
// The text is normalized per the mode's rules before hashing, so two
// inputs that differ only in collapsed whitespace (or case, for
// case-insensitive modes) produce the same fingerprint.
func Fingerprint(mode Mode, text string) string {
	h := sha256.New()
	h.Write([]byte{byte(mode), fingerprintSep})
	h.Write([]byte(mode.Normalize(text)))
	return hex.EncodeToString(h.Sum(nil))
}

// Sequencer issues candidates with session-scoped sequence numbers.
//
// The sequencer is the single authority for "is this result still
// relevant": a result may be published only while its candidate's Seq
// equals Latest().
//
// Thread Safety: Safe for concurrent use.
type Sequencer struct {
	seq atomic.Uint64
}

// NewSequencer creates a sequencer starting at sequence 0.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Stamp normalizes the input, fingerprints it, and issues the next
// sequence number.
//
// A new sequence number is issued on every call, even for an unchanged
// fingerprint. This enables staleness detection independent of content
// equality: retyping the same text still invalidates earlier in-flight
// work.
//
// Inputs:
//   - mode: Operating mode. Must be a valid Mode.
//   - text: Raw input text.
//
// Outputs:
//   - Candidate: The stamped candidate.
func (s *Sequencer) Stamp(mode Mode, text string) Candidate {
	normalized := mode.Normalize(text)
	return Candidate{
		Fingerprint: Fingerprint(mode, text),
		Seq:         s.seq.Add(1),
		Mode:        mode,
		Text:        normalized,
		CreatedAt:   time.Now(),
	}
}

// Latest returns the most recently issued sequence number.
func (s *Sequencer) Latest() uint64 {
	return s.seq.Load()
}

// Current reports whether the candidate is still the latest issued.
//
// Strict equality is required: a candidate issued before a newer one
// is stale even if the newer one has not fired yet.
func (s *Sequencer) Current(c Candidate) bool {
	return c.Seq == s.seq.Load()
}
