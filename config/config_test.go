// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// An explicit path that does not exist is an error...
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	// ...but the built-in defaults are themselves valid.
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "openai", cfg.Backend.Kind)
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce.QuietInterval.Std())
	assert.Equal(t, 128, cfg.Cache.Capacity)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
backend:
  kind: http
  base_url: http://localhost:8089
  timeout: 5s
debounce:
  quiet_interval: 150ms
cache:
  capacity: 64
retry:
  max_attempts: 4
  initial_backoff: 200ms
  max_backoff: 4s
breaker:
  failure_threshold: 3
  cooldown: 20s
orchestrator:
  rate_limit: 2.5
  rate_burst: 3
snippets:
  path: /tmp/snips.yaml
  watch: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http", cfg.Backend.Kind)
	assert.Equal(t, "http://localhost:8089", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout.Std())
	assert.Equal(t, 150*time.Millisecond, cfg.Debounce.QuietInterval.Std())
	assert.Equal(t, 64, cfg.Cache.Capacity)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2.5, cfg.Orchestrator.RateLimit)
	assert.True(t, cfg.Snippets.Watch)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: warn
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "openai", cfg.Backend.Kind, "unset sections keep defaults")
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce.QuietInterval.Std())
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad backend kind", "backend:\n  kind: carrier-pigeon\n"},
		{"bad base url", "backend:\n  kind: http\n  base_url: not-a-url\n"},
		{"quiet interval too small", "debounce:\n  quiet_interval: 1ms\n"},
		{"zero capacity rejected", "cache:\n  capacity: -1\n"},
		{"too many attempts", "retry:\n  max_attempts: 50\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsInconsistentBudgets(t *testing.T) {
	_, err := Load(writeConfig(t, `
retry:
  initial_backoff: 10s
  max_backoff: 1s
`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `
breaker:
  cooldown: 10m
  max_cooldown: 1m
`))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "logging: [whoops"))
	assert.Error(t, err)
}
