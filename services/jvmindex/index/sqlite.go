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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	key   BLOB PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID`

// SQLiteStore is a Store in a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// OpenSQLiteStore opens or creates the database at path. ":memory:" gives
// a private in-memory database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: writes are serialized by SQLite anyway, and an
	// in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing database: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("querying key: %w", err)
	}
	return value, nil
}

// Scan implements Store. Rows are read fully before fn runs, so fn may
// call back into the store.
func (s *SQLiteStore) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	if err := s.check(); err != nil {
		return err
	}
	var (
		rows *sql.Rows
		err  error
	)
	if end := prefixEnd(prefix); end != nil {
		rows, err = s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key", prefix, end)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key >= ? ORDER BY key", prefix)
	}
	if err != nil {
		return fmt.Errorf("scanning prefix: %w", err)
	}

	type kv struct{ k, v []byte }
	var all []kv
	for rows.Next() {
		var r kv
		if err := rows.Scan(&r.k, &r.v); err != nil {
			rows.Close()
			return fmt.Errorf("scanning row: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r.k, r.v); err != nil {
			return err
		}
	}
	return nil
}

// Apply implements Store.
func (s *SQLiteStore) Apply(ctx context.Context, ops ...Op) error {
	if err := s.check(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if op.Delete {
			_, err = tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", op.Key)
		} else {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
				op.Key, op.Value)
		}
		if err != nil {
			return fmt.Errorf("applying op: %w", err)
		}
	}
	return tx.Commit()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
