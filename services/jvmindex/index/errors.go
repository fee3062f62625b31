// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index is the persistent store of lifted classes.
//
// Entries are keyed by (class name, content hash of the class bytes) and
// hold the serialized class descriptor together with every method body.
// An entry is written once per key in a single atomic upsert and never
// patched. Because the content hash is part of the key, an archive that
// changes simply stops finding its old entries; Invalidate and Prune
// reclaim them.
//
// Every stored value carries a SHA256 checksum of its payload. A value that
// fails the check is deleted and reported as a miss, so callers re-lift
// instead of seeing corruption.
//
// # Thread Safety
//
// Index is safe for concurrent use. Writes to one key are serialized by a
// per-key lock; reads never take it.
package index

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for index operations.
var (
	// ErrMiss is returned when no valid entry exists for a key.
	ErrMiss = errors.New("index miss")

	// ErrCorruptEntry marks a stored value that failed its checksum or
	// could not be decoded. It is never returned by Get; it is logged and
	// counted, and the entry is removed.
	ErrCorruptEntry = errors.New("corrupt index entry")

	// ErrUnknownBackend is returned by OpenStore for an unsupported backend.
	ErrUnknownBackend = errors.New("unknown index backend")

	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("index store closed")
)

// BatchError aggregates the failures of a multi-key operation.
type BatchError struct {
	// Errors holds one error per failed key.
	Errors []error
}

// Error returns a summary: the single error, or the count and the first.
func (e *BatchError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "batch error with no errors"
	case 1:
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v (and %d more)", len(e.Errors), e.Errors[0], len(e.Errors)-1)
}

// Unwrap returns the individual errors for errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	return e.Errors
}

// ErrorList returns every error, one per line.
func (e *BatchError) ErrorList() string {
	lines := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}
