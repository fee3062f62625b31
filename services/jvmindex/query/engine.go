// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query answers classpath-scoped questions about classes, methods
// and lifted instructions.
//
// An Engine owns the shared index and job scheduler. Each OpenClasspath
// call returns a View: an ordered set of archives with its own resolution
// memo. Views read through the index, lifting a class on demand when it is
// missing, and schedule background walks for archives the index has not
// seen at their current content hash.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classpath"
	"github.com/AleutianAI/jvmindex/services/jvmindex/index"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ingest"
	"github.com/AleutianAI/jvmindex/services/jvmindex/jobs"
)

// Engine coordinates views, the index and background indexing.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	idx        *index.Index
	ing        *ingest.Ingester
	sched      *jobs.Scheduler
	logger     *slog.Logger
	background bool

	mu     sync.Mutex
	views  map[string]*View
	walks  map[string]*jobs.Job
	watch  *Watcher
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBackgroundIndexing controls whether opening a view schedules walks
// of cold or changed archives. It is on by default. With it off, classes
// are only lifted when a query reaches them.
func WithBackgroundIndexing(on bool) Option {
	return func(e *Engine) { e.background = on }
}

// NewEngine creates an engine. The caller keeps ownership of idx and
// sched and closes them after the engine.
func NewEngine(idx *index.Index, sched *jobs.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		idx:        idx,
		sched:      sched,
		logger:     slog.Default(),
		background: true,
		views:      make(map[string]*View),
		walks:      make(map[string]*jobs.Job),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ing = ingest.New(idx, e.logger)
	return e
}

// OpenClasspath opens the archives at paths, in precedence order, as a new
// view.
//
// Description:
//
//	Archive metadata is read in parallel; the call returns once every
//	archive is open and hashed. Each archive is then compared with its
//	index record. A record with another hash is invalidated, and cold or
//	changed archives get a background walk, putting the view in
//	StateIndexing until the walks finish.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	paths - Jar/zip files or class directories. First match wins.
//
// Outputs:
//
//	*View - The open view. Close it when done.
//	error - Wraps ErrArchiveNotFound for a missing path, ErrEmptyClasspath,
//	        ErrEngineClosed, or an archive error.
func (e *Engine) OpenClasspath(ctx context.Context, paths []string) (*View, error) {
	ctx, span := tracer.Start(ctx, "Engine.OpenClasspath")
	defer span.End()
	span.SetAttributes(attribute.Int("classpath.archives", len(paths)))

	if len(paths) == 0 {
		return nil, ErrEmptyClasspath
	}

	archives := make([]classpath.Archive, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", p, err)
			}
			a, err := classpath.Open(abs)
			if err != nil {
				return err
			}
			archives[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(archives)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	v := newView(e, uuid.NewString(), archives)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		closeAll(archives)
		return nil, ErrEngineClosed
	}
	e.views[v.id] = v
	w := e.watch
	e.mu.Unlock()
	recordViews(ctx, 1)

	for _, a := range archives {
		if err := e.reconcile(ctx, v, a); err != nil {
			e.logger.Warn("archive not scheduled for indexing",
				slog.String("view_id", v.id),
				slog.String("archive", a.Path()),
				slog.String("error", err.Error()))
		}
		if w != nil {
			if err := w.Add(a.Path()); err != nil {
				e.logger.Debug("archive not watched",
					slog.String("archive", a.Path()),
					slog.String("error", err.Error()))
			}
		}
	}
	v.opened()

	span.SetAttributes(attribute.String("view.id", v.id), attribute.String("view.state", v.State().String()))
	e.logger.Info("classpath opened",
		slog.String("view_id", v.id),
		slog.Int("archives", len(archives)),
		slog.String("state", v.State().String()))
	return v, nil
}

func closeAll(archives []classpath.Archive) {
	for _, a := range archives {
		if a != nil {
			a.Close()
		}
	}
}

// reconcile compares an open archive with its index record and schedules
// a walk when the index is cold or stale for it.
func (e *Engine) reconcile(ctx context.Context, v *View, a classpath.Archive) error {
	reason := "cold"
	rec, err := e.idx.Archive(ctx, a.Path())
	switch {
	case errors.Is(err, index.ErrMiss):
	case err != nil:
		return err
	case rec.Hash == a.Hash():
		return nil
	default:
		reason = "changed"
		if _, err := e.idx.Invalidate(ctx, rec.Hash); err != nil {
			return err
		}
	}
	if !e.background {
		return nil
	}
	j, err := e.scheduleWalk(ctx, a.Path(), a.Hash(), reason)
	if err != nil {
		return err
	}
	v.track(j)
	return nil
}

// scheduleWalk submits an archive walk unless one for the same path and
// hash is already pending.
func (e *Engine) scheduleWalk(ctx context.Context, path, hash, reason string) (*jobs.Job, error) {
	key := path + "@" + hash
	e.mu.Lock()
	defer e.mu.Unlock()
	if j, ok := e.walks[key]; ok && !j.Status().Terminal() {
		return j, nil
	}

	j, err := e.sched.Submit("archive", path, func(ctx context.Context, j *jobs.Job) error {
		a, err := classpath.Open(path)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Hash() != hash {
			e.logger.Info("archive changed before indexing",
				slog.String("archive", path),
				slog.String("job_id", j.ID()))
		}
		_, err = e.ing.Archive(ctx, a, j)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.walks[key] = j
	go func() {
		<-j.Done()
		e.mu.Lock()
		if e.walks[key] == j {
			delete(e.walks, key)
		}
		e.mu.Unlock()
	}()
	recordReindex(ctx, reason)
	return j, nil
}

// AwaitOutstandingJobs blocks until every job submitted before the call
// has finished, or ctx is done. Jobs submitted during the wait are not
// waited on.
func (e *Engine) AwaitOutstandingJobs(ctx context.Context) error {
	return e.sched.AwaitOutstanding(ctx)
}

// OutstandingJobs returns the number of jobs that have not finished.
func (e *Engine) OutstandingJobs() int {
	return e.sched.Outstanding()
}

// Jobs returns snapshots of retained jobs in submission order.
func (e *Engine) Jobs() []jobs.Info {
	return e.sched.List()
}

// View returns an open view by id.
func (e *Engine) View(id string) (*View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	return v, ok
}

// Views returns snapshots of the open views ordered by id.
func (e *Engine) Views() []ViewInfo {
	e.mu.Lock()
	views := make([]*View, 0, len(e.views))
	for _, v := range e.views {
		views = append(views, v)
	}
	e.mu.Unlock()

	out := make([]ViewInfo, len(views))
	for i, v := range views {
		out[i] = v.Info()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.views, id)
	e.mu.Unlock()
}

// Refresh re-checks path in every view that contains it and returns how
// many views picked up a change.
func (e *Engine) Refresh(ctx context.Context, path string) int {
	e.mu.Lock()
	views := make([]*View, 0, len(e.views))
	for _, v := range e.views {
		views = append(views, v)
	}
	e.mu.Unlock()

	n := 0
	for _, v := range views {
		if !v.contains(path) {
			continue
		}
		changed, err := v.refresh(ctx)
		if err != nil && !errors.Is(err, ErrViewClosed) {
			e.logger.Warn("view refresh failed",
				slog.String("view_id", v.id),
				slog.String("error", err.Error()))
		}
		if changed > 0 {
			n++
		}
	}
	return n
}

// Prune drops index records and entries for archives that no longer exist
// or whose content hash changed.
func (e *Engine) Prune(ctx context.Context) (index.PruneReport, error) {
	ctx, span := tracer.Start(ctx, "Engine.Prune")
	defer span.End()
	start := time.Now()

	report, err := e.idx.Prune(ctx, probeArchive)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	span.SetAttributes(
		attribute.Int("prune.archives", len(report.Archives)),
		attribute.Int("prune.entries", report.Entries),
	)
	e.logger.Info("index pruned",
		slog.Int("archives", len(report.Archives)),
		slog.Int("entries", report.Entries),
		slog.Duration("duration", time.Since(start)))
	return report, nil
}

// probeArchive reports whether path still exists and its current hash. An
// archive that no longer parses counts as changed.
func probeArchive(path string) (index.ArchiveState, error) {
	a, err := classpath.Open(path)
	switch {
	case errors.Is(err, classpath.ErrArchiveNotFound):
		return index.ArchiveState{}, nil
	case errors.Is(err, classpath.ErrCorrupt):
		return index.ArchiveState{Exists: true}, nil
	case err != nil:
		return index.ArchiveState{}, err
	}
	defer a.Close()
	return index.ArchiveState{Exists: true, Hash: a.Hash()}, nil
}

// Close closes every open view. Further OpenClasspath calls fail. The
// index and scheduler are left to the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	views := make([]*View, 0, len(e.views))
	for _, v := range e.views {
		views = append(views, v)
	}
	w := e.watch
	e.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	var errs []error
	for _, v := range views {
		if err := v.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
