// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/keyflow/transport"
)

// DefaultBadgerTTL is how long a persisted result stays valid.
const DefaultBadgerTTL = 24 * time.Hour

// keyPrefix namespaces response entries inside the badger keyspace.
var keyPrefix = []byte("resp:")

// Badger is a disk-backed response cache for surfaces that survive
// process restarts.
//
// Entries expire via badger's native TTL instead of explicit
// capacity-based eviction; badger's value log GC bounds disk use.
//
// Thread Safety: Safe for concurrent use.
type Badger struct {
	db  *badger.DB
	ttl time.Duration
}

// BadgerConfig configures the disk-backed cache.
type BadgerConfig struct {
	// Path is the directory for the badger files. Required unless
	// InMemory is set.
	Path string

	// InMemory runs badger without disk persistence. For tests.
	InMemory bool

	// TTL is the entry lifetime. Default: 24h.
	TTL time.Duration
}

// NewBadger opens (or creates) a disk-backed cache.
//
// Inputs:
//   - config: Cache configuration.
//
// Outputs:
//   - *Badger: Open cache. Callers must Close it.
//   - error: Non-nil if the database cannot be opened.
func NewBadger(config BadgerConfig) (*Badger, error) {
	if config.Path == "" && !config.InMemory {
		return nil, fmt.Errorf("badger cache: path is required")
	}
	if config.TTL <= 0 {
		config.TTL = DefaultBadgerTTL
	}

	opts := badger.DefaultOptions(config.Path).
		WithInMemory(config.InMemory).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger cache: open %s: %w", config.Path, err)
	}
	return &Badger{db: db, ttl: config.TTL}, nil
}

// Lookup implements ResponseCache.
func (b *Badger) Lookup(fingerprint string) (*transport.Response, bool) {
	var result *transport.Response

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(fingerprint))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r transport.Response
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			result = &r
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			// Corrupt or unreadable entry; treat as a miss.
			_ = b.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(b.key(fingerprint))
			})
		}
		missesTotal.Inc()
		return nil, false
	}
	hitsTotal.Inc()
	return result, true
}

// Store implements ResponseCache.
func (b *Badger) Store(fingerprint string, result *transport.Response) {
	val, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(b.key(fingerprint), val).WithTTL(b.ttl)
		return txn.SetEntry(e)
	})
}

// Invalidate implements ResponseCache.
func (b *Badger) Invalidate() {
	_ = b.db.DropPrefix(keyPrefix)
}

// Len implements ResponseCache. Counts live (unexpired) entries.
func (b *Badger) Len() int {
	count := 0
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// Close releases the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) key(fingerprint string) []byte {
	return append(append([]byte{}, keyPrefix...), fingerprint...)
}
