// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs runs background indexing work on a bounded worker pool.
//
// Each submitted unit of work becomes a Job with its own identifier,
// cancellation and failure record. AwaitOutstanding is a barrier over the
// jobs that existed when it was called; work submitted afterwards is not
// waited on.
//
// Thread Safety: Scheduler and Job are safe for concurrent use.
package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Submit after the scheduler has been closed.
	ErrClosed = errors.New("scheduler closed")

	// ErrNilFunc is returned by Submit when no work function is given.
	ErrNilFunc = errors.New("job function must not be nil")

	// ErrCancelled is recorded on a job cancelled before or while running.
	ErrCancelled = errors.New("job cancelled")
)

// FailureError is the error of a job that ran to completion but recorded
// item failures along the way.
type FailureError struct {
	JobID    string
	Failures []error
}

// Error implements error.
func (e *FailureError) Error() string {
	switch len(e.Failures) {
	case 0:
		return fmt.Sprintf("job %s failed", e.JobID)
	case 1:
		return fmt.Sprintf("job %s: %v", e.JobID, e.Failures[0])
	}
	return fmt.Sprintf("job %s: %d failures, first: %v", e.JobID, len(e.Failures), e.Failures[0])
}

// Unwrap returns the recorded failures for errors.Is/As.
func (e *FailureError) Unwrap() []error {
	return e.Failures
}
