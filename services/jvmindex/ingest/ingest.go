// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest is the write path from archives into the index: read
// class bytes, lift them, and commit the result under the class's content
// hash.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classpath"
	"github.com/AleutianAI/jvmindex/services/jvmindex/index"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
	"github.com/AleutianAI/jvmindex/services/jvmindex/lift"
)

var tracer = otel.Tracer("aleutian.jvmindex.ingest")

// Progress receives per-class outcomes of an archive walk. *jobs.Job
// implements it.
type Progress interface {
	Step()
	Fail(err error)
}

// Ingester lifts classes into an index.
type Ingester struct {
	idx    *index.Index
	logger *slog.Logger
}

// New creates an ingester writing to idx. A nil logger means
// slog.Default().
func New(idx *index.Index, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{idx: idx, logger: logger}
}

// Report summarizes an archive walk.
type Report struct {
	Archive string `json:"archive"`
	Hash    string `json:"hash"`
	Classes int    `json:"classes"`
	Lifted  int    `json:"lifted"`
	Reused  int    `json:"reused"`
	Failed  int    `json:"failed"`

	// MethodFailures counts methods whose body could not be lifted in
	// classes that were otherwise indexed.
	MethodFailures int `json:"method_failures"`

	Duration time.Duration `json:"duration"`
}

// ClassBytes returns the index entry for a class given its raw bytes,
// lifting and storing it on a miss.
//
// Description:
//
//	The key is the class name with the SHA256 of raw. Concurrent calls for
//	the same key lift once; the others wait and read the stored entry.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	a - Archive the bytes came from. The class is linked to its hash for
//	    invalidation and errors name its path. May be nil.
//	name - Dotted class name.
//	raw - Class file bytes.
//
// Outputs:
//
//	*index.Entry - The stored entry.
//	bool - True when this call lifted the class.
//	error - *ClassError wrapping lift or store failures.
func (g *Ingester) ClassBytes(ctx context.Context, a classpath.Archive, name string, raw []byte) (*index.Entry, bool, error) {
	var archiveHash, archivePath string
	if a != nil {
		archiveHash, archivePath = a.Hash(), a.Path()
	}
	key := index.Key{Name: name, Hash: classpath.HashBytes(raw)}
	e, filled, err := g.idx.Fill(ctx, archiveHash, key, func(ctx context.Context) (*index.Entry, error) {
		return g.build(ctx, key, raw)
	})
	if err != nil {
		return nil, false, &ClassError{Archive: archivePath, Class: name, Err: err}
	}
	return e, filled, nil
}

// Class returns the entry for a listed class of a, lifting it on a miss.
// On a hit the class is linked to a so that invalidating a covers it.
func (g *Ingester) Class(ctx context.Context, a classpath.Archive, ce classpath.Entry) (*index.Entry, bool, error) {
	key := index.Key{Name: ce.Name, Hash: ce.Hash}
	e, filled, err := g.idx.Fill(ctx, a.Hash(), key, func(ctx context.Context) (*index.Entry, error) {
		raw, err := a.ReadBytes(ce.Name)
		if err != nil {
			return nil, err
		}
		if classpath.HashBytes(raw) != ce.Hash {
			return nil, ErrHashMismatch
		}
		return g.build(ctx, key, raw)
	})
	if err != nil {
		return nil, false, &ClassError{Archive: a.Path(), Class: ce.Name, Err: err}
	}
	if !filled {
		if err := g.idx.Link(ctx, a.Hash(), key); err != nil {
			return nil, false, &ClassError{Archive: a.Path(), Class: ce.Name, Err: err}
		}
	}
	return e, filled, nil
}

// build lifts raw. Once started, a lift runs to completion even if ctx is
// cancelled; callers check cancellation between classes.
func (g *Ingester) build(ctx context.Context, key index.Key, raw []byte) (*index.Entry, error) {
	l, err := lift.Lift(context.WithoutCancel(ctx), raw)
	if err != nil {
		return nil, err
	}
	if l.Class.Name != key.Name {
		return nil, fmt.Errorf("%w: file declares %s", lift.ErrMalformedBytecode, l.Class.Name)
	}
	return index.NewEntry(key, l)
}

// Archive indexes every class of a and records the archive in the index.
//
// Description:
//
//	Walks the archive in listing order. Cancellation is checked between
//	classes, never during a lift, so each class is either fully committed
//	or untouched. A class that fails to read or lift is reported to p and
//	counted; the walk continues. The archive record is written only when
//	the walk completes.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	a - The archive.
//	p - Receives per-class steps and failures. May be nil.
//
// Outputs:
//
//	Report - Counts for the walk so far.
//	error - The context error when cancelled, or a store error writing the
//	        archive record. Per-class failures are not returned here.
func (g *Ingester) Archive(ctx context.Context, a classpath.Archive, p Progress) (Report, error) {
	ctx, span := tracer.Start(ctx, "Ingester.Archive")
	defer span.End()
	span.SetAttributes(attribute.String("archive.path", a.Path()))

	start := time.Now()
	report := Report{Archive: a.Path(), Hash: a.Hash()}
	fail := func(err error) {
		report.Failed++
		if p != nil {
			p.Fail(err)
		}
		g.logger.Warn("class not indexed",
			slog.String("archive", a.Path()),
			slog.String("error", err.Error()))
	}

	for ce, err := range a.Classes() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			report.Duration = time.Since(start)
			span.SetStatus(codes.Error, "cancelled")
			return report, ctxErr
		}
		report.Classes++
		if p != nil {
			p.Step()
		}
		if err != nil {
			fail(&ClassError{Archive: a.Path(), Class: ce.Name, Err: err})
			continue
		}

		e, filled, err := g.Class(ctx, a, ce)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				report.Duration = time.Since(start)
				return report, ctx.Err()
			}
			fail(err)
			continue
		}
		if filled {
			report.Lifted++
			report.MethodFailures += g.methodFailures(a.Path(), e)
		} else {
			report.Reused++
		}
	}

	report.Duration = time.Since(start)
	if err := g.idx.PutArchive(ctx, index.ArchiveRecord{
		Path:       a.Path(),
		Hash:       a.Hash(),
		ClassCount: report.Classes,
	}); err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("recording archive %s: %w", a.Path(), err)
	}

	span.SetAttributes(
		attribute.Int("archive.classes", report.Classes),
		attribute.Int("archive.lifted", report.Lifted),
		attribute.Int("archive.failed", report.Failed),
	)
	g.logger.Info("archive indexed",
		slog.String("archive", a.Path()),
		slog.Int("classes", report.Classes),
		slog.Int("lifted", report.Lifted),
		slog.Int("reused", report.Reused),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// methodFailures logs and counts the method bodies of e that carry a lift
// failure.
func (g *Ingester) methodFailures(archive string, e *index.Entry) int {
	l, err := e.Lifted()
	if err != nil {
		return 0
	}
	fails := Failures(l)
	for _, err := range fails {
		g.logger.Debug("method not lifted",
			slog.String("archive", archive),
			slog.String("class", e.Key.Name),
			slog.String("error", err.Error()))
	}
	return len(fails)
}

// Failures returns the method-level failures of a lifted class as
// *lift.MethodError values in declaration order.
func Failures(l *ir.Lifted) []error {
	var out []error
	for _, b := range l.Bodies {
		if err := lift.BodyError(l.Class.Name, b); err != nil {
			out = append(out, err)
		}
	}
	return out
}
