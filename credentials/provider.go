// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package credentials resolves and holds the backend API key.
//
// Resolution is provider-chain based: environment variable first, then
// key file. The resolved key is held in a memguard enclave so it is
// encrypted at rest in process memory and excluded from core dumps;
// callers open it briefly per request and let the lock destroy itself.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// EnvVar is the environment variable consulted by the default chain.
const EnvVar = "KEYFLOW_API_KEY"

// DefaultKeyFile is the key file consulted by the default chain.
const DefaultKeyFile = "~/.keyflow/api_key"

// ErrNotFound is returned when no provider in a chain yields a key.
var ErrNotFound = errors.New("no API key found")

// Provider yields an API key from one source.
type Provider interface {
	// Resolve returns the key, or ErrNotFound when this source has
	// none. Other errors indicate the source exists but is unreadable.
	Resolve() (string, error)

	// Name identifies the source for log messages.
	Name() string
}

// Env resolves the key from an environment variable.
type Env struct {
	// Var is the variable name. Empty uses EnvVar.
	Var string
}

// Name implements Provider.
func (e Env) Name() string {
	if e.Var == "" {
		return "env:" + EnvVar
	}
	return "env:" + e.Var
}

// Resolve implements Provider.
func (e Env) Resolve() (string, error) {
	name := e.Var
	if name == "" {
		name = EnvVar
	}
	key := strings.TrimSpace(os.Getenv(name))
	if key == "" {
		return "", ErrNotFound
	}
	return key, nil
}

// File resolves the key from the first line of a file.
type File struct {
	// Path is the key file. Empty uses DefaultKeyFile. Supports ~
	// expansion.
	Path string
}

// Name implements Provider.
func (f File) Name() string {
	return "file:" + f.path()
}

// Resolve implements Provider.
func (f File) Resolve() (string, error) {
	path := expandPath(f.path())
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read key file %s: %w", path, err)
	}
	key := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	if key == "" {
		return "", ErrNotFound
	}
	return key, nil
}

func (f File) path() string {
	if f.Path == "" {
		return DefaultKeyFile
	}
	return f.Path
}

// Chain tries providers in order and returns the first key found.
type Chain []Provider

// DefaultChain is environment variable, then key file.
func DefaultChain() Chain {
	return Chain{Env{}, File{}}
}

// Name implements Provider.
func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, p := range c {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

// Resolve implements Provider.
func (c Chain) Resolve() (string, error) {
	for _, p := range c {
		key, err := p.Resolve()
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("provider %s: %w", p.Name(), err)
		}
	}
	return "", ErrNotFound
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
