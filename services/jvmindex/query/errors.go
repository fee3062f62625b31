// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classpath"
)

var (
	// ErrNotFound is returned when no archive of a view holds a class, or a
	// class has no method with the requested key.
	ErrNotFound = errors.New("not found")

	// ErrArchiveNotFound is returned by OpenClasspath for a missing path.
	ErrArchiveNotFound = classpath.ErrArchiveNotFound

	// ErrViewClosed is returned by operations on a closed view.
	ErrViewClosed = errors.New("view closed")

	// ErrEngineClosed is returned by OpenClasspath after Close.
	ErrEngineClosed = errors.New("engine closed")

	// ErrEmptyClasspath is returned by OpenClasspath without paths.
	ErrEmptyClasspath = errors.New("classpath is empty")
)

// NotFoundError names what a view could not find.
type NotFoundError struct {
	View   string
	Class  string
	Method string
}

// Error implements error.
func (e *NotFoundError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("view %s: method %s.%s not found", e.View, e.Class, e.Method)
	}
	return fmt.Sprintf("view %s: class %s not found", e.View, e.Class)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}
