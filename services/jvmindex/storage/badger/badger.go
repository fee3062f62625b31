// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the BadgerDB instance that backs the
// persistent class index.
//
// The index keeps one small value per lifted class plus one record per
// archive, so the defaults favour durability (synchronous writes) and a
// single retained version per key. Value log garbage collection runs in
// the background for on-disk databases.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrPathRequired is returned when a persistent database has no directory.
var ErrPathRequired = errors.New("path is required for persistent database")

// Config holds configuration for the index database.
type Config struct {
	// Path is the index directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage fraction that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns the production configuration: synchronous writes
// and value log GC every five minutes at a 0.5 discard ratio.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk, no fsync, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter routes BadgerDB's printf-style logger into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (l slogAdapter) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l slogAdapter) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l slogAdapter) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l slogAdapter) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func options(cfg Config) (badger.Options, error) {
	if cfg.InMemory {
		return badger.DefaultOptions("").WithInMemory(true), nil
	}
	if cfg.Path == "" {
		return badger.Options{}, ErrPathRequired
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return badger.Options{}, fmt.Errorf("create index directory %s: %w", cfg.Path, err)
	}
	return badger.DefaultOptions(cfg.Path), nil
}

// gcLoop runs value log GC on a ticker until stopped.
type gcLoop struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newGCLoop(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*gcLoop, error) {
	if interval <= 0 {
		return nil, errors.New("gc interval must be positive")
	}
	if ratio <= 0 || ratio >= 1 {
		return nil, fmt.Errorf("gc discard ratio %v must be in (0, 1)", ratio)
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &gcLoop{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go g.run()
	return g, nil
}

func (g *gcLoop) run() {
	defer close(g.done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.collect()
		}
	}
}

// collect rewrites value log files until BadgerDB reports nothing to do.
func (g *gcLoop) collect() {
	for {
		err := g.db.RunValueLogGC(g.ratio)
		switch {
		case err == nil:
			g.logger.Debug("index value log rewritten")
			continue
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
		default:
			g.logger.Warn("index value log GC failed", slog.String("error", err.Error()))
		}
		return
	}
}

func (g *gcLoop) close() {
	g.stopOnce.Do(func() { close(g.stop) })
	<-g.done
}

// DB is an open index database.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	*badger.DB
	gc       *gcLoop
	path     string
	inMemory bool
	closed   sync.Once
	closeErr error
}

// Open opens the database described by cfg.
//
// Description:
//
//	Creates the directory if needed, opens BadgerDB with the configured
//	durability, and starts value log GC for on-disk databases when
//	GCInterval is set.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*DB - The open database. Close releases it.
//	error - Non-nil if the directory or database cannot be opened.
func Open(cfg Config) (*DB, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	db := &DB{DB: bdb, path: cfg.Path, inMemory: cfg.InMemory}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.gc, err = newGCLoop(bdb, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = bdb.Close()
			return nil, fmt.Errorf("start value log GC: %w", err)
		}
	}
	return db, nil
}

// OpenInMemory opens a throwaway in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database. Later calls return the first
// result.
func (d *DB) Close() error {
	d.closed.Do(func() {
		if d.gc != nil {
			d.gc.close()
		}
		d.closeErr = d.DB.Close()
	})
	return d.closeErr
}

// Path returns the database directory, or "" for in-memory databases.
func (d *DB) Path() string { return d.path }

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool { return d.inMemory }

// Update runs fn in a read-write transaction and commits it when fn
// returns nil. The context is checked before the transaction starts.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}
