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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/jvmindex/services/jvmindex/storage/badger"
)

// Op is one write in an atomic batch.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Store is the durable key-value backing of the index.
type Store interface {
	// Get returns the value for key, or ErrMiss.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Scan calls fn for every key with the given prefix in key order.
	// Returning an error from fn stops the scan and returns that error.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// Apply commits ops atomically: all or none.
	Apply(ctx context.Context, ops ...Op) error

	// Close releases the store.
	Close() error
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	// Backend is "badger" (default) or "sqlite".
	Backend string

	// Dir is the index directory.
	Dir string

	// InMemory keeps the store in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit (badger only).
	SyncWrites bool

	// GCInterval and GCDiscardRatio configure badger value log GC.
	GCInterval     time.Duration
	GCDiscardRatio float64

	Logger *slog.Logger
}

// OpenStore opens the configured backend.
func OpenStore(cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "badger":
		bcfg := badger.Config{
			Path:           cfg.Dir,
			InMemory:       cfg.InMemory,
			SyncWrites:     cfg.SyncWrites,
			GCInterval:     cfg.GCInterval,
			GCDiscardRatio: cfg.GCDiscardRatio,
			Logger:         cfg.Logger,
		}
		db, err := badger.Open(bcfg)
		if err != nil {
			return nil, err
		}
		return NewBadgerStore(db), nil
	case "sqlite":
		if cfg.InMemory {
			return OpenSQLiteStore(":memory:")
		}
		return OpenSQLiteStore(filepath.Join(cfg.Dir, "index.db"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// BadgerStore is a Store over an index BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps db. The store owns db and closes it on Close.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrMiss
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Scan implements Store.
func (s *BadgerStore) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Apply implements Store.
func (s *BadgerStore) Apply(ctx context.Context, ops ...Op) error {
	return s.db.Update(ctx, func(txn *badgerdb.Txn) error {
		for _, op := range ops {
			var err error
			if op.Delete {
				err = txn.Delete(op.Key)
			} else {
				err = txn.Set(op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
