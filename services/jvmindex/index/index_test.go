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
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

func backends(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"badger": func() Store {
			s, err := OpenStore(StoreConfig{Backend: "badger", InMemory: true})
			require.NoError(t, err)
			return s
		},
		"sqlite": func() Store {
			s, err := OpenStore(StoreConfig{Backend: "sqlite", Dir: t.TempDir()})
			require.NoError(t, err)
			return s
		},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, x *Index)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			x := New(open())
			defer x.Close()
			fn(t, x)
		})
	}
}

func sampleLifted(name string) *ir.Lifted {
	return &ir.Lifted{
		Class: &ir.Class{
			Name:  name,
			Super: "java.lang.Object",
			Methods: []ir.Method{{
				Owner: name, Name: "bar", Descriptor: "(I)V",
				Params: []ir.TypeName{ir.TypeInt}, Return: ir.TypeVoid, HasBody: true,
			}},
		},
		Bodies: []*ir.Body{{
			Method:       "bar(I)V",
			Instructions: ir.InstructionList{{Op: ir.OpReturn, Opcode: 0xb1}},
		}},
	}
}

func sampleEntry(t *testing.T, name, hash string) *Entry {
	t.Helper()
	e, err := NewEntry(Key{Name: name, Hash: hash}, sampleLifted(name))
	require.NoError(t, err)
	return e
}

func TestPutGetRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, x *Index) {
		ctx := context.Background()
		e := sampleEntry(t, "com.example.Foo", "aa11")
		require.NoError(t, x.Put(ctx, "jar1", e))

		got, err := x.Get(ctx, e.Key)
		require.NoError(t, err)
		assert.Equal(t, e.Class, got.Class)
		assert.Equal(t, e.Bodies, got.Bodies)

		l, err := got.Lifted()
		require.NoError(t, err)
		assert.Equal(t, "com.example.Foo", l.Class.Name)
		require.Len(t, l.Bodies, 1)
		assert.Equal(t, ir.OpReturn, l.Bodies[0].Instructions[0].Op)
	})
}

func TestGetMissOnOtherHash(t *testing.T) {
	eachBackend(t, func(t *testing.T, x *Index) {
		ctx := context.Background()
		require.NoError(t, x.Put(ctx, "", sampleEntry(t, "com.example.Foo", "aa11")))
		_, err := x.Get(ctx, Key{Name: "com.example.Foo", Hash: "bb22"})
		assert.ErrorIs(t, err, ErrMiss)
	})
}

func TestCorruptEntryBecomesMissAndIsDeleted(t *testing.T) {
	eachBackend(t, func(t *testing.T, x *Index) {
		ctx := context.Background()
		e := sampleEntry(t, "com.example.Foo", "aa11")
		require.NoError(t, x.Put(ctx, "", e))

		raw, err := x.store.Get(ctx, e.Key.bytes())
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		require.NoError(t, x.store.Apply(ctx, Op{Key: e.Key.bytes(), Value: raw}))

		_, err = x.Get(ctx, e.Key)
		assert.ErrorIs(t, err, ErrMiss)
		_, err = x.store.Get(ctx, e.Key.bytes())
		assert.ErrorIs(t, err, ErrMiss, "corrupt value should have been removed")
	})
}

func TestEntryUnderWrongKeyIsCorrupt(t *testing.T) {
	eachBackend(t, func(t *testing.T, x *Index) {
		ctx := context.Background()
		value, err := seal(sampleEntry(t, "com.example.Other", "aa11"))
		require.NoError(t, err)
		k := Key{Name: "com.example.Foo", Hash: "aa11"}
		require.NoError(t, x.store.Apply(ctx, Op{Key: k.bytes(), Value: value}))

		_, err = x.Get(ctx, k)
		assert.ErrorIs(t, err, ErrMiss)
	})
}

func TestFillBuildsOnceUnderContention(t *testing.T) {
	eachBackend(t, func(t *testing.T, x *Index) {
		ctx := context.Background()
		k := Key{Name: "com.example.Foo", Hash: "aa11"}
		var builds atomic.Int32

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e, _, err := x.Fill(ctx, "jar1", k, func(context.Context) (*Entry, error) {
					builds.Add(1)
					time.Sleep(5 * time.Millisecond)
					return sampleEntry(t, k.Name, k.Hash), nil
				})
				assert.NoError(t, err)
				assert.Equal(t, k, e.Key)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), builds.Load())
		assert.Zero(t, x.locks.held())

		_, filled, err := x.Fill(ctx, "jar1", k, func(context.Context) (*Entry, error) {
			t.Fatal("build must not run on a hit")
			return nil, nil
		})
		require.NoError(t, err)
		assert.False(t, filled)
	})
}

func TestFillPropagatesBuildError(t *testing.T) {
	eachBackend(t, func(t *testing.T, x *Index) {
		boom := errors.New("lift failed")
		k := Key{Name: "a.B", Hash: "01"}
		_, _, err := x.Fill(context.Background(), "", k, func(context.Context) (*Entry, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = x.Get(context.Background(), k)
		assert.ErrorIs(t, err, ErrMiss)
	})
}

func TestInvalidateRemovesArchiveEntries(t *testing.T) {
	eachBackend(t, func(t *testing.T, x *Index) {
		ctx := context.Background()
		foo := sampleEntry(t, "com.example.Foo", "aa11")
		bar := sampleEntry(t, "com.example.Bar", "bb22")
		other := sampleEntry(t, "org.Other", "cc33")
		require.NoError(t, x.Put(ctx, "jar1", foo))
		require.NoError(t, x.Put(ctx, "jar1", bar))
		require.NoError(t, x.Put(ctx, "jar2", other))

		n, err := x.Invalidate(ctx, "jar1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = x.Get(ctx, foo.Key)
		assert.ErrorIs(t, err, ErrMiss)
		_, err = x.Get(ctx, bar.Key)
		assert.ErrorIs(t, err, ErrMiss)
		_, err = x.Get(ctx, other.Key)
		assert.NoError(t, err)

		n, err = x.Invalidate(ctx, "jar1")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestArchiveRecordsAndPrune(t *testing.T) {
	eachBackend(t, func(t *testing.T, x *Index) {
		ctx := context.Background()
		x.now = func() time.Time { return time.UnixMilli(1700000000000) }

		require.NoError(t, x.Put(ctx, "h-gone", sampleEntry(t, "a.Gone", "01")))
		require.NoError(t, x.Put(ctx, "h-old", sampleEntry(t, "a.Stale", "02")))
		require.NoError(t, x.Put(ctx, "h-keep", sampleEntry(t, "a.Kept", "03")))
		for _, rec := range []ArchiveRecord{
			{Path: "/lib/gone.jar", Hash: "h-gone", ClassCount: 1},
			{Path: "/lib/stale.jar", Hash: "h-old", ClassCount: 1},
			{Path: "/lib/kept.jar", Hash: "h-keep", ClassCount: 1},
		} {
			require.NoError(t, x.PutArchive(ctx, rec))
		}

		rec, err := x.Archive(ctx, "/lib/kept.jar")
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000000), rec.IndexedAtMilli)

		report, err := x.Prune(ctx, func(path string) (ArchiveState, error) {
			switch path {
			case "/lib/gone.jar":
				return ArchiveState{}, nil
			case "/lib/stale.jar":
				return ArchiveState{Exists: true, Hash: "h-new"}, nil
			default:
				return ArchiveState{Exists: true, Hash: "h-keep"}, nil
			}
		})
		require.NoError(t, err)
		assert.Equal(t, 2, report.Entries)
		require.Len(t, report.Archives, 2)
		assert.Equal(t, "/lib/gone.jar", report.Archives[0].Path)
		assert.Equal(t, "/lib/stale.jar", report.Archives[1].Path)

		recs, err := x.Archives(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "/lib/kept.jar", recs[0].Path)

		stats, err := x.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Classes: 1, Archives: 1}, stats)
	})
}

func TestIndexSurvivesReopen(t *testing.T) {
	for _, backend := range []string{"badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "idx")
			cfg := StoreConfig{Backend: backend, Dir: dir}
			ctx := context.Background()

			s, err := OpenStore(cfg)
			require.NoError(t, err)
			x := New(s)
			e := sampleEntry(t, "com.example.Foo", "aa11")
			require.NoError(t, x.Put(ctx, "jar1", e))
			require.NoError(t, x.Close())

			s, err = OpenStore(cfg)
			require.NoError(t, err)
			x = New(s)
			defer x.Close()
			got, err := x.Get(ctx, e.Key)
			require.NoError(t, err)
			assert.Equal(t, e.Class, got.Class)
		})
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	_, err := OpenStore(StoreConfig{Backend: "leveldb"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestLockHonorsContext(t *testing.T) {
	l := newKeyLocks()
	k := Key{Name: "a.B", Hash: "01"}
	unlock, err := l.lock(context.Background(), k)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.lock(ctx, k)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Zero(t, l.held())
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("v1/clast"), prefixEnd([]byte("v1/class")))
	assert.Equal(t, []byte{0x01}, prefixEnd([]byte{0x00, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}

func TestBatchError(t *testing.T) {
	a, b := errors.New("a"), errors.New("b")
	err := &BatchError{Errors: []error{a, b}}
	assert.ErrorIs(t, err, b)
	assert.Equal(t, "2 errors: a (and 1 more)", err.Error())
	assert.Equal(t, "a\nb", err.ErrorList())
}
