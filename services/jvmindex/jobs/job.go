// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a job.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

var statusNames = [...]string{"pending", "running", "succeeded", "failed", "cancelled"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool {
	return s >= StatusSucceeded
}

// Func is the work of a job. Item-level problems that should not stop the
// job are reported with Job.Fail; a returned error ends the job.
type Func func(ctx context.Context, j *Job) error

// Job is one submitted unit of work.
type Job struct {
	id     string
	kind   string
	target string
	fn     Func

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	status    Status
	err       error
	failures  []error
	submitted time.Time
	started   time.Time
	finished  time.Time
	progress  int
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Kind returns the job kind, for example "archive" or "class".
func (j *Job) Kind() string { return j.kind }

// Target returns what the job works on.
func (j *Job) Target() string { return j.target }

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel requests cooperative cancellation. A pending job never starts; a
// running job sees its context cancelled.
func (j *Job) Cancel() {
	j.cancel()
}

// Wait blocks until the job finishes or ctx is done and returns the job's
// error.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail records an item failure. The job keeps running and finishes as
// failed.
func (j *Job) Fail(err error) {
	if err == nil {
		return
	}
	j.mu.Lock()
	j.failures = append(j.failures, err)
	j.mu.Unlock()
}

// Step records one unit of progress.
func (j *Job) Step() {
	j.mu.Lock()
	j.progress++
	j.mu.Unlock()
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the terminal error: nil on success, ErrCancelled, the error
// returned by the job, or a *FailureError listing recorded failures.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Failures returns a copy of the recorded item failures.
func (j *Job) Failures() []error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]error(nil), j.failures...)
}

// Info is a point-in-time snapshot of a job.
type Info struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Target      string     `json:"target"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Failures    []string   `json:"failures,omitempty"`
	Progress    int        `json:"progress"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Info returns a snapshot of the job.
func (j *Job) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := Info{
		ID:          j.id,
		Kind:        j.kind,
		Target:      j.target,
		Status:      j.status.String(),
		Progress:    j.progress,
		SubmittedAt: j.submitted,
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	for _, f := range j.failures {
		info.Failures = append(info.Failures, f.Error())
	}
	if !j.started.IsZero() {
		t := j.started
		info.StartedAt = &t
	}
	if !j.finished.IsZero() {
		t := j.finished
		info.FinishedAt = &t
	}
	return info
}

func (j *Job) start(now time.Time) {
	j.mu.Lock()
	j.status = StatusRunning
	j.started = now
	j.mu.Unlock()
}

// finish settles the terminal status from the run result. The caller
// closes done once its own bookkeeping is complete.
func (j *Job) finish(runErr error, now time.Time) Status {
	j.mu.Lock()
	switch {
	case runErr == nil && len(j.failures) == 0:
		j.status = StatusSucceeded
	case runErr == nil:
		j.status = StatusFailed
		j.err = &FailureError{JobID: j.id, Failures: append([]error(nil), j.failures...)}
	case j.ctx.Err() != nil:
		j.status = StatusCancelled
		j.err = ErrCancelled
	default:
		j.status = StatusFailed
		j.err = runErr
	}
	j.finished = now
	status := j.status
	j.mu.Unlock()

	j.cancel()
	return status
}
