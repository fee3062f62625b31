// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Index stores lifted classes keyed by name and content hash.
type Index struct {
	store  Store
	locks  *keyLocks
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(x *Index) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithClock replaces time.Now for archive record timestamps.
func WithClock(now func() time.Time) Option {
	return func(x *Index) { x.now = now }
}

// New creates an index over store. The index owns the store.
func New(store Store, opts ...Option) *Index {
	x := &Index{
		store:  store,
		locks:  newKeyLocks(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Close closes the backing store.
func (x *Index) Close() error {
	return x.store.Close()
}

// Get returns the entry for k.
//
// Description:
//
//	Reads and verifies the stored value. A value that fails its checksum,
//	cannot be decoded, or belongs to a different key is deleted and
//	reported as ErrMiss.
//
// Outputs:
//
//	*Entry - The verified entry.
//	error - ErrMiss when absent or discarded, or a store error.
//
// Thread Safety: Safe for concurrent use; does not take the writer lock.
func (x *Index) Get(ctx context.Context, k Key) (*Entry, error) {
	start := time.Now()
	e, err := x.get(ctx, k)
	recordOperation(ctx, "get", time.Since(start), err == nil || errors.Is(err, ErrMiss))
	return e, err
}

func (x *Index) get(ctx context.Context, k Key) (*Entry, error) {
	raw, err := x.store.Get(ctx, k.bytes())
	if errors.Is(err, ErrMiss) {
		recordLookup(ctx, "miss")
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("index get %s: %w", k, err)
	}

	var e Entry
	err = open(raw, &e)
	if err == nil && e.Key != k {
		err = fmt.Errorf("%w: entry for %s stored under %s", ErrCorruptEntry, e.Key, k)
	}
	if err != nil {
		recordLookup(ctx, "corrupt")
		x.logger.Warn("discarding corrupt index entry",
			slog.String("class", k.Name),
			slog.String("hash", k.Hash),
			slog.String("error", err.Error()))
		x.discard(ctx, k, raw)
		return nil, ErrMiss
	}
	recordLookup(ctx, "hit")
	return &e, nil
}

// discard deletes k if it still holds raw. A concurrent writer may already
// have replaced it with a good value.
func (x *Index) discard(ctx context.Context, k Key, raw []byte) {
	unlock, err := x.locks.lock(ctx, k)
	if err != nil {
		return
	}
	defer unlock()
	cur, err := x.store.Get(ctx, k.bytes())
	if err != nil || !bytes.Equal(cur, raw) {
		return
	}
	if err := x.store.Apply(ctx, Op{Key: k.bytes(), Delete: true}); err != nil {
		x.logger.Warn("failed to delete corrupt index entry",
			slog.String("class", k.Name),
			slog.String("error", err.Error()))
		return
	}
	recordInvalidated(ctx, 1)
}

// Put writes e and, when archiveHash is set, records that the archive
// contains the class. Both writes commit together.
func (x *Index) Put(ctx context.Context, archiveHash string, e *Entry) error {
	unlock, err := x.locks.lock(ctx, e.Key)
	if err != nil {
		return err
	}
	defer unlock()
	return x.put(ctx, archiveHash, e)
}

func (x *Index) put(ctx context.Context, archiveHash string, e *Entry) error {
	ctx, span := startSpan(ctx, "put", attribute.String("index.class", e.Key.Name))
	defer span.End()
	start := time.Now()

	value, err := seal(e)
	if err != nil {
		return err
	}
	ops := []Op{{Key: e.Key.bytes(), Value: value}}
	if archiveHash != "" {
		ops = append(ops, Op{Key: memberKey(archiveHash, e.Key.Name), Value: []byte(e.Key.Hash)})
	}
	err = x.store.Apply(ctx, ops...)
	recordOperation(ctx, "put", time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("index put %s: %w", e.Key, err)
	}
	recordWrite(ctx)
	return nil
}

// Link records that the archive contains the class k without rewriting
// the entry.
func (x *Index) Link(ctx context.Context, archiveHash string, k Key) error {
	return x.store.Apply(ctx, Op{Key: memberKey(archiveHash, k.Name), Value: []byte(k.Hash)})
}

// Fill returns the entry for k, building and storing it with build on a
// miss.
//
// Description:
//
//	Checks the index, then takes the writer lock for k and checks again
//	so that concurrent callers build at most once. build runs under the
//	lock; its result is committed atomically before Fill returns.
//
// Inputs:
//
//	ctx - Context for cancellation. Waiting for the lock honours it.
//	archiveHash - Archive to link the class to on a fill. May be empty.
//	k - Class key.
//	build - Produces the entry on a miss.
//
// Outputs:
//
//	*Entry - The stored entry.
//	bool - True when build ran.
//	error - Error from build, the store, or the context.
func (x *Index) Fill(ctx context.Context, archiveHash string, k Key, build func(context.Context) (*Entry, error)) (*Entry, bool, error) {
	if e, err := x.Get(ctx, k); err == nil {
		return e, false, nil
	} else if !errors.Is(err, ErrMiss) {
		return nil, false, err
	}

	unlock, err := x.locks.lock(ctx, k)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if e, err := x.get(ctx, k); err == nil {
		return e, false, nil
	} else if !errors.Is(err, ErrMiss) {
		return nil, false, err
	}

	e, err := build(ctx)
	if err != nil {
		return nil, false, err
	}
	if e.Key != k {
		return nil, false, fmt.Errorf("index fill %s: built entry for %s", k, e.Key)
	}
	if err := x.put(ctx, archiveHash, e); err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Invalidate removes every class entry linked to archiveHash together with
// the links, and returns how many entries were removed.
func (x *Index) Invalidate(ctx context.Context, archiveHash string) (int, error) {
	ctx, span := startSpan(ctx, "invalidate", attribute.String("index.archive_hash", archiveHash))
	defer span.End()

	var keys []Key
	err := x.store.Scan(ctx, memberScanPrefix(archiveHash), func(key, value []byte) error {
		keys = append(keys, Key{Name: memberName(key, archiveHash), Hash: string(value)})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("index invalidate: %w", err)
	}

	removed := 0
	var errs []error
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		unlock, err := x.locks.lock(ctx, k)
		if err != nil {
			errs = append(errs, err)
			break
		}
		err = x.store.Apply(ctx,
			Op{Key: k.bytes(), Delete: true},
			Op{Key: memberKey(archiveHash, k.Name), Delete: true},
		)
		unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		removed++
	}
	recordInvalidated(ctx, removed)
	span.SetAttributes(attribute.Int("index.removed", removed))
	if len(errs) > 0 {
		return removed, &BatchError{Errors: errs}
	}
	return removed, nil
}

// PutArchive stores the record for an archive path, stamping the time.
func (x *Index) PutArchive(ctx context.Context, rec ArchiveRecord) error {
	rec.IndexedAtMilli = x.now().UnixMilli()
	value, err := seal(rec)
	if err != nil {
		return err
	}
	return x.store.Apply(ctx, Op{Key: archiveKey(rec.Path), Value: value})
}

// Archive returns the record for path, or ErrMiss.
func (x *Index) Archive(ctx context.Context, path string) (*ArchiveRecord, error) {
	raw, err := x.store.Get(ctx, archiveKey(path))
	if err != nil {
		return nil, err
	}
	var rec ArchiveRecord
	if err := open(raw, &rec); err != nil {
		x.logger.Warn("discarding corrupt archive record", slog.String("archive", path), slog.String("error", err.Error()))
		_ = x.store.Apply(ctx, Op{Key: archiveKey(path), Delete: true})
		return nil, ErrMiss
	}
	return &rec, nil
}

// Archives returns every archive record in path order.
func (x *Index) Archives(ctx context.Context) ([]ArchiveRecord, error) {
	var out []ArchiveRecord
	err := x.store.Scan(ctx, []byte(archivePrefix), func(key, value []byte) error {
		var rec ArchiveRecord
		if err := open(value, &rec); err != nil {
			x.logger.Warn("skipping corrupt archive record",
				slog.String("archive", strings.TrimPrefix(string(key), archivePrefix)),
				slog.String("error", err.Error()))
			return nil
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// DeleteArchive removes the record for path.
func (x *Index) DeleteArchive(ctx context.Context, path string) error {
	return x.store.Apply(ctx, Op{Key: archiveKey(path), Delete: true})
}

// ArchiveState is what Prune learns about a recorded archive path.
type ArchiveState struct {
	Exists bool
	Hash   string
}

// PruneReport lists what Prune removed.
type PruneReport struct {
	Archives []ArchiveRecord `json:"archives"`
	Entries  int             `json:"entries"`
}

// Prune discards the entries of archives that no longer exist or whose
// content hash changed, along with their records.
//
// Description:
//
//	For every archive record, current reports whether the path still
//	exists and its present hash. Records that are gone or stale are
//	invalidated and deleted; the others are left untouched.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	current - Probes an archive path.
//
// Outputs:
//
//	PruneReport - Removed records and the number of entries dropped.
//	error - First store or probe error; pruning stops there.
func (x *Index) Prune(ctx context.Context, current func(path string) (ArchiveState, error)) (PruneReport, error) {
	var report PruneReport
	recs, err := x.Archives(ctx)
	if err != nil {
		return report, err
	}
	for _, rec := range recs {
		st, err := current(rec.Path)
		if err != nil {
			return report, fmt.Errorf("prune %s: %w", rec.Path, err)
		}
		if st.Exists && st.Hash == rec.Hash {
			continue
		}
		n, err := x.Invalidate(ctx, rec.Hash)
		report.Entries += n
		if err != nil {
			return report, err
		}
		if err := x.DeleteArchive(ctx, rec.Path); err != nil {
			return report, err
		}
		report.Archives = append(report.Archives, rec)
		x.logger.Info("pruned archive",
			slog.String("archive", rec.Path),
			slog.Bool("exists", st.Exists),
			slog.Int("entries", n))
	}
	return report, nil
}

// Stats counts stored classes and archive records.
type Stats struct {
	Classes  int `json:"classes"`
	Archives int `json:"archives"`
}

// Stats scans the store and counts entries.
func (x *Index) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := x.store.Scan(ctx, []byte(classPrefix), func(_, _ []byte) error {
		s.Classes++
		return nil
	})
	if err != nil {
		return s, err
	}
	err = x.store.Scan(ctx, []byte(archivePrefix), func(_, _ []byte) error {
		s.Archives++
		return nil
	})
	return s, err
}
