// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package credentials

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"

	"github.com/AleutianAI/keyflow/pkg/logging"
)

// minMemlockBytes is the RLIMIT_MEMLOCK floor below which memguard's
// page locking is likely to fail mid-run.
const minMemlockBytes = 64 * 1024

// ErrDestroyed is returned by Use after Destroy.
var ErrDestroyed = errors.New("credential store destroyed")

// Secure holds the resolved API key in a memguard enclave.
//
// The plaintext key exists in process memory only inside Use, in a
// locked buffer that is wiped when the callback returns.
//
// Thread Safety: Safe for concurrent use; Use may run concurrently
// with itself but not with Destroy.
type Secure struct {
	enclave *memguard.Enclave
	source  string
}

// NewSecure resolves a key through the provider and seals it.
//
// Inputs:
//   - provider: Key source. Must not be nil.
//   - logger: Logger for degradation warnings. Nil uses the default.
//
// Outputs:
//   - *Secure: Sealed store. Callers should Destroy it on shutdown.
//   - error: ErrNotFound if the provider chain has no key.
func NewSecure(provider Provider, logger *logging.Logger) (*Secure, error) {
	if logger == nil {
		logger = logging.Default()
	}

	checkMemlockLimit(logger)

	key, err := provider.Resolve()
	if err != nil {
		return nil, err
	}

	// NewEnclave wipes the input slice; the string copy below is the
	// last plaintext outside the enclave and goes out of scope here.
	return &Secure{
		enclave: memguard.NewEnclave([]byte(key)),
		source:  provider.Name(),
	}, nil
}

// Source identifies which provider supplied the key.
func (s *Secure) Source() string {
	return s.source
}

// Use opens the enclave and invokes fn with the plaintext key. The
// locked buffer is destroyed when fn returns; fn must not retain the
// key.
func (s *Secure) Use(fn func(key string) error) error {
	if s.enclave == nil {
		return ErrDestroyed
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("open credential enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// Destroy wipes the sealed key. The store is unusable afterwards.
func (s *Secure) Destroy() {
	s.enclave = nil
	memguard.Purge()
}

// checkMemlockLimit warns when RLIMIT_MEMLOCK is too low for reliable
// page locking. memguard degrades rather than fails, but the operator
// should know.
func checkMemlockLimit(logger *logging.Logger) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		return
	}
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
		return
	}
	if limit.Cur != unix.RLIM_INFINITY && limit.Cur < minMemlockBytes {
		logger.Warn("RLIMIT_MEMLOCK is low; secure key storage may degrade",
			"current_bytes", limit.Cur,
			"recommended_bytes", minMemlockBytes,
		)
	}
}
