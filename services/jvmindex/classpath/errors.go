// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classpath

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive access.
var (
	// ErrArchiveNotFound is returned by Open when the path does not exist.
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrNotFound is returned when a class is absent from an archive.
	ErrNotFound = errors.New("class not found")

	// ErrCorrupt is returned when an archive or one of its entries cannot
	// be read as a zip or class container.
	ErrCorrupt = errors.New("corrupt archive")

	// ErrArchiveClosed is returned by operations on a closed archive.
	ErrArchiveClosed = errors.New("archive closed")
)

// ArchiveError carries the archive and, when relevant, the class a failure
// concerns.
type ArchiveError struct {
	// Path is the archive path as given to Open.
	Path string

	// Class is the dotted class name, empty for archive-level failures.
	Class string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ArchiveError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("archive %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("archive %s: class %s: %v", e.Path, e.Class, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ArchiveError) Unwrap() error {
	return e.Err
}
