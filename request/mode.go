// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package request stamps user input into immutable request candidates.
//
// A candidate pairs a content fingerprint (mode + normalized text) with
// a monotonically increasing sequence number. The fingerprint detects
// unchanged input and keys the response cache; the sequence number is
// the only authority for deciding whether a backend result still
// corresponds to the user's latest intent.
package request

import (
	"strings"
	"unicode"
)

// Mode identifies the operating mode of the input surface.
//
// The set is closed: normalization and cache behavior are handled
// exhaustively per mode. Changing the mode invalidates prior in-flight
// work for the session.
type Mode int

const (
	// ModeCompose is free-form writing assistance.
	ModeCompose Mode = iota

	// ModeSearchQuery shapes text into a web search query.
	ModeSearchQuery

	// ModeConversational is chat-style AI completion.
	ModeConversational

	// ModeSnippet expands a locally stored snippet trigger.
	ModeSnippet
)

// String returns the human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeCompose:
		return "compose"
	case ModeSearchQuery:
		return "search-query"
	case ModeConversational:
		return "conversational"
	case ModeSnippet:
		return "snippet"
	default:
		return "unknown"
	}
}

// Valid reports whether m is a member of the closed mode set.
func (m Mode) Valid() bool {
	return m >= ModeCompose && m <= ModeSnippet
}

// CaseSensitive reports whether text case is significant for this mode.
//
// Conversational and compose input preserve case (prose). Search
// queries and snippet triggers are matched case-insensitively.
func (m Mode) CaseSensitive() bool {
	switch m {
	case ModeConversational, ModeCompose:
		return true
	default:
		return false
	}
}

// ParseMode converts a mode name to a Mode.
//
// Outputs:
//   - Mode: The parsed mode.
//   - bool: False if the name is not a known mode.
func ParseMode(name string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "compose":
		return ModeCompose, true
	case "search-query", "search":
		return ModeSearchQuery, true
	case "conversational", "chat":
		return ModeConversational, true
	case "snippet":
		return ModeSnippet, true
	default:
		return ModeCompose, false
	}
}

// Normalize applies the mode's normalization rules to raw input text.
//
// All modes trim leading/trailing whitespace and collapse internal
// whitespace runs to a single space. Case-insensitive modes also fold
// the text to lower case.
//
// Inputs:
//   - text: Raw input text as typed.
//
// Outputs:
//   - string: Normalized text suitable for fingerprinting.
func (m Mode) Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inSpace := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte(' ')
			inSpace = false
		}
		if !m.CaseSensitive() {
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
