// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snippets resolves snippet-mode triggers from a YAML library
// on disk, with live reload on file change.
//
// Snippet lookups are local: a trigger that resolves here never
// reaches the backend. Triggers are matched case-insensitively, which
// mirrors how snippet-mode input is normalized before fingerprinting.
package snippets

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/keyflow/pkg/logging"
)

// Snippet is one trigger/expansion pair.
type Snippet struct {
	// Trigger is the text that activates the snippet. Matched
	// case-insensitively after whitespace normalization.
	Trigger string `yaml:"trigger"`

	// Expansion is the replacement text.
	Expansion string `yaml:"expansion"`

	// Description is an optional human-readable note for listings.
	Description string `yaml:"description,omitempty"`
}

// library is the on-disk YAML document shape.
type library struct {
	Snippets []Snippet `yaml:"snippets"`
}

// Store is a reloadable snippet library.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	path   string
	logger *logging.Logger

	mu      sync.RWMutex
	byKey   map[string]Snippet
	ordered []Snippet

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Load reads the snippet library at path.
//
// Inputs:
//   - path: YAML file. Must exist and parse.
//   - logger: Logger. Nil uses the default stderr logger.
//
// Outputs:
//   - *Store: Loaded store. Call Watch to enable live reload.
//   - error: Non-nil if the file cannot be read or parsed.
func Load(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With("component", "snippets"),
		done:   make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get resolves a trigger to its snippet.
//
// The trigger is matched after the same normalization snippet-mode
// input receives: surrounding whitespace trimmed, inner runs
// collapsed, case folded.
func (s *Store) Get(trigger string) (Snippet, bool) {
	key := normalizeTrigger(trigger)

	s.mu.RLock()
	defer s.mu.RUnlock()
	snip, ok := s.byKey[key]
	return snip, ok
}

// All returns the snippets in file order.
func (s *Store) All() []Snippet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snippet, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len returns the number of loaded snippets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Watch starts watching the library file and reloads on change.
//
// A reload that fails to parse keeps the previous library and logs a
// warning; editors mid-save must not wipe the working set.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("snippets: create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("snippets: watch %s: %w", s.path, err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.done:
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Warn("snippet reload failed, keeping previous library", "error", err)
					continue
				}
				s.logger.Info("snippet library reloaded", "count", s.Len())

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("snippet watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running. Safe to call more than once.
func (s *Store) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	return err
}

// reload parses the file and swaps the library atomically.
func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("snippets: read %s: %w", s.path, err)
	}

	var lib library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return fmt.Errorf("snippets: parse %s: %w", s.path, err)
	}

	byKey := make(map[string]Snippet, len(lib.Snippets))
	for _, snip := range lib.Snippets {
		if snip.Trigger == "" {
			continue
		}
		// First occurrence wins on duplicate triggers.
		key := normalizeTrigger(snip.Trigger)
		if _, exists := byKey[key]; exists {
			s.logger.Warn("duplicate snippet trigger ignored", "trigger", snip.Trigger)
			continue
		}
		byKey[key] = snip
	}

	s.mu.Lock()
	s.byKey = byKey
	s.ordered = lib.Snippets
	s.mu.Unlock()
	return nil
}

// normalizeTrigger applies snippet-mode text normalization: trim,
// collapse whitespace runs, case fold.
func normalizeTrigger(trigger string) string {
	return strings.ToLower(strings.Join(strings.Fields(trigger), " "))
}
