// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"errors"
	"fmt"
)

// ErrHashMismatch is returned when class bytes no longer hash to the value
// the archive listing reported, i.e. the archive changed mid-walk.
var ErrHashMismatch = errors.New("class content changed during indexing")

// ClassError is a failure to index one class. Indexing of the rest of the
// archive continues.
type ClassError struct {
	Archive string
	Class   string
	Err     error
}

// Error implements error.
func (e *ClassError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("%s: %v", e.Archive, e.Err)
	}
	return fmt.Sprintf("%s: class %s: %v", e.Archive, e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *ClassError) Unwrap() error {
	return e.Err
}
