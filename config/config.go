// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the keyflow YAML configuration.
//
// Precedence: file values override defaults; the CLI overrides file
// values via flags. A missing config file is not an error; defaults
// apply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file consulted when none is given.
const DefaultPath = "~/.keyflow/config.yaml"

// validate is the shared validator instance.
var validate = validator.New()

// Duration wraps time.Duration with YAML support for the "150ms" /
// "30s" string forms. Bare integers are taken as nanoseconds.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(v)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Config is the root configuration document.
type Config struct {
	Logging      Logging      `yaml:"logging"`
	Backend      Backend      `yaml:"backend"`
	Debounce     Debounce     `yaml:"debounce"`
	Cache        Cache        `yaml:"cache"`
	Retry        Retry        `yaml:"retry"`
	Breaker      Breaker      `yaml:"breaker"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Snippets     Snippets     `yaml:"snippets"`
}

// Logging configures log output.
type Logging struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables JSON file logging in the given directory.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// Backend configures the transport.
type Backend struct {
	// Kind selects the transport: "openai" or "http".
	Kind string `yaml:"kind" validate:"omitempty,oneof=openai http"`

	// BaseURL overrides the backend base URL.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Model is the model name for the openai transport.
	Model string `yaml:"model"`

	// Timeout bounds one backend attempt.
	Timeout Duration `yaml:"timeout"`
}

// Debounce configures the typing quiet interval.
type Debounce struct {
	// QuietInterval is how long input must be quiet before a candidate
	// fires.
	QuietInterval Duration `yaml:"quiet_interval"`
}

// Cache configures the response cache.
type Cache struct {
	// Capacity is the in-memory entry limit.
	Capacity int `yaml:"capacity" validate:"omitempty,min=1"`

	// Dir enables the disk-backed cache in the given directory.
	Dir string `yaml:"dir"`

	// TTL is the disk-backed entry lifetime.
	TTL Duration `yaml:"ttl"`
}

// Retry configures the retry policy.
type Retry struct {
	MaxAttempts    int      `yaml:"max_attempts" validate:"omitempty,min=1,max=10"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	MaxElapsed     Duration `yaml:"max_elapsed"`
}

// Breaker configures the circuit breaker.
type Breaker struct {
	FailureThreshold int      `yaml:"failure_threshold" validate:"omitempty,min=1"`
	Cooldown         Duration `yaml:"cooldown"`
	MaxCooldown      Duration `yaml:"max_cooldown"`
}

// Orchestrator configures cross-session dispatch.
type Orchestrator struct {
	// Endpoint is the breaker key for the backend.
	Endpoint string `yaml:"endpoint"`

	// RateLimit caps backend dispatches per second. Zero disables.
	RateLimit float64 `yaml:"rate_limit" validate:"omitempty,min=0"`

	// RateBurst is the dispatch burst allowance.
	RateBurst int `yaml:"rate_burst" validate:"omitempty,min=1"`
}

// Snippets configures the snippet library.
type Snippets struct {
	// Path is the YAML snippet library file.
	Path string `yaml:"path"`

	// Watch enables live reload on file change.
	Watch bool `yaml:"watch"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging:  Logging{Level: "info"},
		Backend:  Backend{Kind: "openai"},
		Debounce: Debounce{QuietInterval: Duration(300 * time.Millisecond)},
		Cache:    Cache{Capacity: 128},
	}
}

// Load reads the config file at path, layered over defaults.
//
// Inputs:
//   - path: YAML file. Empty uses DefaultPath. A missing file at the
//     default path is not an error; a missing explicit path is.
//
// Outputs:
//   - Config: Validated configuration.
//   - error: Non-nil on read, parse, or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints. Duration ranges are checked here
// because the validator tags do not understand the Duration wrapper.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	checks := []struct {
		name     string
		value    Duration
		min, max time.Duration
	}{
		{"backend.timeout", c.Backend.Timeout, time.Second, 10 * time.Minute},
		{"debounce.quiet_interval", c.Debounce.QuietInterval, 10 * time.Millisecond, 5 * time.Second},
		{"cache.ttl", c.Cache.TTL, time.Minute, 0},
		{"retry.initial_backoff", c.Retry.InitialBackoff, 10 * time.Millisecond, 0},
		{"retry.max_backoff", c.Retry.MaxBackoff, 100 * time.Millisecond, 0},
		{"retry.max_elapsed", c.Retry.MaxElapsed, time.Second, 0},
		{"breaker.cooldown", c.Breaker.Cooldown, time.Second, 0},
		{"breaker.max_cooldown", c.Breaker.MaxCooldown, time.Second, 0},
	}
	for _, ck := range checks {
		if ck.value == 0 {
			continue // unset; package defaults apply downstream
		}
		if ck.value.Std() < ck.min {
			return fmt.Errorf("%s: %s is below the minimum %s", ck.name, ck.value, ck.min)
		}
		if ck.max > 0 && ck.value.Std() > ck.max {
			return fmt.Errorf("%s: %s is above the maximum %s", ck.name, ck.value, ck.max)
		}
	}

	if c.Retry.MaxBackoff > 0 && c.Retry.InitialBackoff > c.Retry.MaxBackoff {
		return fmt.Errorf("retry: initial_backoff exceeds max_backoff")
	}
	if c.Breaker.MaxCooldown > 0 && c.Breaker.Cooldown > c.Breaker.MaxCooldown {
		return fmt.Errorf("breaker: cooldown exceeds max_cooldown")
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
