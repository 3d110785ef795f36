// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snippets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/keyflow/pkg/logging"
)

const sampleLibrary = `snippets:
  - trigger: sig-work
    expansion: "Best regards,\nA. Person"
    description: Work signature
  - trigger: Standup Update
    expansion: "Yesterday / Today / Blockers:"
  - trigger: addr
    expansion: "1 Example Street"
`

func writeLibrary(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snippets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testStoreLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError})
}

func TestLoad(t *testing.T) {
	store, err := Load(writeLibrary(t, sampleLibrary), testStoreLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, 3, store.Len())

	snip, ok := store.Get("sig-work")
	require.True(t, ok)
	assert.Equal(t, "Best regards,\nA. Person", snip.Expansion)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), testStoreLogger())
	require.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeLibrary(t, "snippets: [unclosed"), testStoreLogger())
	require.Error(t, err)
}

func TestGetCaseInsensitive(t *testing.T) {
	store, err := Load(writeLibrary(t, sampleLibrary), testStoreLogger())
	require.NoError(t, err)
	defer store.Close()

	tests := []struct {
		trigger string
		wantOK  bool
	}{
		{"SIG-WORK", true},
		{"Sig-Work", true},
		{"standup update", true},
		{"  Standup   Update  ", true}, // whitespace normalized too
		{"unknown", false},
	}
	for _, tt := range tests {
		_, ok := store.Get(tt.trigger)
		assert.Equal(t, tt.wantOK, ok, "trigger %q", tt.trigger)
	}
}

func TestDuplicateTriggerFirstWins(t *testing.T) {
	lib := `snippets:
  - trigger: greet
    expansion: "first"
  - trigger: GREET
    expansion: "second"
`
	store, err := Load(writeLibrary(t, lib), testStoreLogger())
	require.NoError(t, err)
	defer store.Close()

	snip, ok := store.Get("greet")
	require.True(t, ok)
	assert.Equal(t, "first", snip.Expansion)
	assert.Equal(t, 1, store.Len())
}

func TestAllPreservesFileOrder(t *testing.T) {
	store, err := Load(writeLibrary(t, sampleLibrary), testStoreLogger())
	require.NoError(t, err)
	defer store.Close()

	all := store.All()
	require.Len(t, all, 3)
	assert.Equal(t, "sig-work", all[0].Trigger)
	assert.Equal(t, "addr", all[2].Trigger)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeLibrary(t, sampleLibrary)
	store, err := Load(path, testStoreLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Watch())

	updated := `snippets:
  - trigger: fresh
    expansion: "newly added"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	require.Eventually(t, func() bool {
		_, ok := store.Get("fresh")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "library should reload after write")

	if _, ok := store.Get("sig-work"); ok {
		t.Error("old library should be replaced")
	}
}

func TestWatchKeepsPreviousLibraryOnParseError(t *testing.T) {
	path := writeLibrary(t, sampleLibrary)
	store, err := Load(path, testStoreLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Watch())

	require.NoError(t, os.WriteFile(path, []byte("snippets: [broken"), 0644))
	time.Sleep(100 * time.Millisecond)

	// The working set survives a bad write.
	_, ok := store.Get("sig-work")
	assert.True(t, ok)
}
