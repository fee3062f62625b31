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
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Config configures a Scheduler.
type Config struct {
	// Workers bounds how many jobs run at once. Zero means GOMAXPROCS.
	Workers int

	// Retain is how many finished jobs are kept for List and Get. Zero
	// means 1024.
	Retain int

	// Logger receives job lifecycle logs. Nil means slog.Default().
	Logger *slog.Logger
}

// Scheduler runs jobs on a bounded pool.
type Scheduler struct {
	sem    *semaphore.Weighted
	base   context.Context
	stop   context.CancelFunc
	logger *slog.Logger
	retain int
	now    func() time.Time
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*Job
	order  []*Job
	closed bool
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Retain <= 0 {
		cfg.Retain = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		base:   base,
		stop:   stop,
		logger: cfg.Logger,
		retain: cfg.Retain,
		now:    time.Now,
		jobs:   make(map[string]*Job),
	}
}

// Submit enqueues fn and returns its job immediately.
//
// Description:
//
//	The job waits for a free worker, then runs fn with a context that is
//	cancelled by Job.Cancel or Close. Its terminal status is derived from
//	fn's result and any failures recorded with Job.Fail. A panic in fn
//	fails the job without affecting the scheduler.
//
// Inputs:
//
//	kind - Short job category used in logs and metrics.
//	target - What the job works on, for example an archive path.
//	fn - The work.
//
// Outputs:
//
//	*Job - The submitted job.
//	error - ErrClosed after Close, ErrNilFunc for a nil fn.
func (s *Scheduler) Submit(kind, target string, fn Func) (*Job, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	ctx, cancel := context.WithCancel(s.base)
	j := &Job{
		id:     uuid.NewString(),
		kind:   kind,
		target: target,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	j.submitted = s.now()
	s.jobs[j.id] = j
	s.order = append(s.order, j)
	s.wg.Add(1)
	s.mu.Unlock()

	jobsSubmitted.WithLabelValues(kind).Inc()
	jobsInFlight.Inc()
	go s.run(j)
	return j, nil
}

func (s *Scheduler) run(j *Job) {
	defer s.wg.Done()

	var runErr error
	if err := s.sem.Acquire(j.ctx, 1); err != nil {
		runErr = err
	} else {
		j.start(s.now())
		runErr = s.call(j)
		s.sem.Release(1)
	}

	status := j.finish(runErr, s.now())
	jobsInFlight.Dec()
	jobsFinished.WithLabelValues(j.kind, status.String()).Inc()
	info := j.Info()
	if info.StartedAt != nil {
		jobDuration.WithLabelValues(j.kind).Observe(info.FinishedAt.Sub(*info.StartedAt).Seconds())
	}

	attrs := []any{
		slog.String("job_id", j.id),
		slog.String("kind", j.kind),
		slog.String("target", j.target),
		slog.String("status", status.String()),
	}
	if status == StatusFailed {
		s.logger.Warn("job failed", append(attrs,
			slog.Int("failures", len(info.Failures)),
			slog.String("error", info.Error))...)
	} else {
		s.logger.Debug("job finished", attrs...)
	}
	s.trim()
	close(j.done)
}

func (s *Scheduler) call(j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.fn(j.ctx, j)
}

// trim drops the oldest finished jobs beyond the retention limit.
func (s *Scheduler) trim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	excess := len(s.order) - s.retain
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, j := range s.order {
		if excess > 0 && j.Status().Terminal() {
			delete(s.jobs, j.id)
			excess--
			continue
		}
		kept = append(kept, j)
	}
	clear(s.order[len(kept):])
	s.order = kept
}

// AwaitOutstanding blocks until every job submitted before the call has
// finished, successfully or not, or ctx is done. Jobs submitted during the
// wait are not waited on.
func (s *Scheduler) AwaitOutstanding(ctx context.Context) error {
	s.mu.Lock()
	var pending []*Job
	for _, j := range s.order {
		if !j.Status().Terminal() {
			pending = append(pending, j)
		}
	}
	s.mu.Unlock()

	for _, j := range pending {
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Get returns the job with the given id, if it is still retained.
func (s *Scheduler) Get(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// List returns snapshots of the retained jobs in submission order.
func (s *Scheduler) List() []Info {
	s.mu.Lock()
	jobs := append([]*Job(nil), s.order...)
	s.mu.Unlock()

	out := make([]Info, len(jobs))
	for i, j := range jobs {
		out[i] = j.Info()
	}
	return out
}

// Outstanding returns the number of retained jobs that have not finished.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.order {
		if !j.Status().Terminal() {
			n++
		}
	}
	return n
}

// Close stops accepting jobs, cancels the ones in flight and waits for
// them to return or for ctx to be done.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
