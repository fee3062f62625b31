// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readKey(t *testing.T, db *DB, key string) string {
	t.Helper()
	var out string
	err := db.View(context.Background(), func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		out = string(v)
		return err
	})
	require.NoError(t, err)
	return out
}

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())

	err = db.Update(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte("v1/class/a.B/00"), []byte("payload"))
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", readKey(t, db, "v1/class/a.B/00"))
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false

	db, err := Open(cfg)
	require.NoError(t, err)
	err = db.Update(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("kept"))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, dir, db.Path())
	assert.Equal(t, "kept", readKey(t, db, "k"))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrPathRequired)
}

func TestOpenRejectsBadGCRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCDiscardRatio = 1.5
	_, err := Open(cfg)
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.True(t, cfg.SyncWrites)
		assert.False(t, cfg.InMemory)
		assert.Equal(t, 5*time.Minute, cfg.GCInterval)
		assert.Equal(t, 0.5, cfg.GCDiscardRatio)
	})
	t.Run("in memory", func(t *testing.T) {
		cfg := InMemoryConfig()
		assert.True(t, cfg.InMemory)
		assert.False(t, cfg.SyncWrites)
		assert.Zero(t, cfg.GCInterval)
	})
}

func TestUpdateRollsBackOnError(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("boom")
	err = db.Update(context.Background(), func(txn *badger.Txn) error {
		if err := txn.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = db.View(context.Background(), func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("k"))
		return err
	})
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestTransactionsHonorCancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = db.Update(ctx, func(*badger.Txn) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	err = db.View(ctx, func(*badger.Txn) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCloseIsIdempotentWithGC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 10 * time.Millisecond

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, db.gc)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, db.Close())
	assert.NoError(t, db.Close())
}
