// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classfile"
	"github.com/AleutianAI/jvmindex/services/jvmindex/classpath"
	"github.com/AleutianAI/jvmindex/services/jvmindex/index"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ingest"
	"github.com/AleutianAI/jvmindex/services/jvmindex/internal/classgen"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
	"github.com/AleutianAI/jvmindex/services/jvmindex/jobs"
	"github.com/AleutianAI/jvmindex/services/jvmindex/lift"
	"github.com/AleutianAI/jvmindex/services/jvmindex/query"
)

const foo = "com/example/Foo"

// fooClass has bar(int) with two putfield instructions and a call to a
// class that no archive provides. Extra fields change the class bytes.
func fooClass(extraFields ...string) *classgen.Class {
	c := classgen.New(foo).Field(classgen.AccPrivate, "count", "I")
	for _, f := range extraFields {
		c.Field(classgen.AccPublic, f, "J")
	}
	return c.
		Method(classgen.AccPublic, "bar", "(I)V").
		Op(classfile.Aload0, classfile.Iload1).
		Field(classfile.Putfield, foo, "count", "I").
		Op(classfile.Aload0, classfile.Dup).
		Field(classfile.Getfield, foo, "count", "I").
		Op(classfile.Iload1, classfile.Iadd).
		Field(classfile.Putfield, foo, "count", "I").
		Invoke(classfile.Invokestatic, "absent/Class", "run", "()V").
		Op(classfile.Return).
		End()
}

func barClass() *classgen.Class {
	return classgen.New("com/example/Bar").
		Method(classgen.AccPublic|classgen.AccStatic, "make", "()Lcom/example/Foo;").
		Op(classfile.AconstNull, classfile.Areturn).
		End()
}

func legacyClass() *classgen.Class {
	return classgen.New("com/example/Legacy").
		Method(classgen.AccStatic, "old", "()V").
		Jump(classfile.Jsr, "sub").
		Op(classfile.Return).
		Label("sub").
		Var(classfile.Astore, 0).
		Var(classfile.Ret, 0).
		End()
}

func writeJar(t *testing.T, path string, classes ...*classgen.Class) string {
	t.Helper()
	files := classgen.Files{}
	for _, c := range classes {
		files.Add(c)
	}
	require.NoError(t, classgen.WriteJar(path, files))
	return path
}

type fixture struct {
	engine *query.Engine
	idx    *index.Index
	sched  *jobs.Scheduler
	dir    string
}

func newFixture(t *testing.T, opts ...query.Option) *fixture {
	t.Helper()
	store, err := index.OpenStore(index.StoreConfig{InMemory: true})
	require.NoError(t, err)
	idx := index.New(store)
	sched := jobs.New(jobs.Config{Workers: 2})
	e := query.NewEngine(idx, sched, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Close()
		sched.Close(ctx)
		idx.Close()
	})
	return &fixture{engine: e, idx: idx, sched: sched, dir: t.TempDir()}
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

func coldQuery(t *testing.T, v *query.View) (*ir.Class, ir.InstructionList) {
	t.Helper()
	ctx := context.Background()
	c, err := v.FindClass(ctx, "com.example.Foo")
	require.NoError(t, err)
	methods := v.MethodsOf(c)
	require.Len(t, methods, 1)
	list, err := v.InstructionsOf(ctx, &methods[0])
	require.NoError(t, err)
	return c, list
}

func TestColdQuery(t *testing.T) {
	f := newFixture(t, query.WithBackgroundIndexing(false))
	jar := writeJar(t, f.path("app.jar"), fooClass())

	v, err := f.engine.OpenClasspath(context.Background(), []string{jar})
	require.NoError(t, err)
	defer v.Close()
	assert.Equal(t, query.StateReady, v.State())

	c, list := coldQuery(t, v)
	bar := c.Methods[0]
	assert.Equal(t, "bar", bar.Name)
	assert.Equal(t, []ir.TypeName{ir.TypeInt}, bar.Params)
	assert.Equal(t, ir.TypeVoid, bar.Return)

	assert.Equal(t, 2, list.Count(ir.OpFieldWrite))
	assert.Equal(t, 1, list.Count(ir.OpFieldRead))
	for _, in := range list.Filter(ir.OpFieldWrite) {
		require.NotNil(t, in.Symbol)
		assert.Equal(t, ir.SymbolField, in.Symbol.Kind)
		assert.Equal(t, "com.example.Foo", in.Symbol.Class)
		assert.Equal(t, jar, in.Symbol.Archive)
	}

	calls := list.Filter(ir.OpCall)
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Symbol)
	assert.Equal(t, ir.Unresolved("absent.Class"), *calls[0].Symbol)
	assert.Equal(t, ir.OpReturn, list[len(list)-1].Op)

	stats, err := f.idx.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Classes)
}

func TestWarmQueryMatchesCold(t *testing.T) {
	f := newFixture(t, query.WithBackgroundIndexing(false))
	jar := writeJar(t, f.path("app.jar"), fooClass())
	ctx := context.Background()

	cold, err := f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	coldClass, coldList := coldQuery(t, cold)
	require.NoError(t, cold.Close())

	a, err := classpath.Open(jar)
	require.NoError(t, err)
	raw, err := a.ReadBytes("com.example.Foo")
	require.NoError(t, err)
	a.Close()
	_, err = f.idx.Get(ctx, index.Key{Name: "com.example.Foo", Hash: classpath.HashBytes(raw)})
	require.NoError(t, err, "cold query should have populated the index")

	warm, err := f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	defer warm.Close()
	warmClass, warmList := coldQuery(t, warm)

	coldBytes, err := ir.EncodeClass(coldClass)
	require.NoError(t, err)
	warmBytes, err := ir.EncodeClass(warmClass)
	require.NoError(t, err)
	assert.Equal(t, coldBytes, warmBytes)

	coldBody, err := ir.EncodeBody(&ir.Body{Method: "bar(I)V", Instructions: coldList})
	require.NoError(t, err)
	warmBody, err := ir.EncodeBody(&ir.Body{Method: "bar(I)V", Instructions: warmList})
	require.NoError(t, err)
	assert.Equal(t, coldBody, warmBody)
	assert.Equal(t, coldList, warmList)
}

func TestBackgroundIndexingIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	files := classgen.Files{}.Add(fooClass()).Add(barClass())
	files["com/example/Broken.class"] = []byte{0xca, 0xfe, 0xba, 0xbe, 0x00}
	jar := f.path("app.jar")
	require.NoError(t, classgen.WriteJar(jar, files))
	ctx := context.Background()

	v, err := f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, f.engine.AwaitOutstandingJobs(ctx))

	a, err := classpath.Open(jar)
	require.NoError(t, err)
	defer a.Close()
	for ce, err := range a.Classes() {
		require.NoError(t, err)
		_, getErr := f.idx.Get(ctx, index.Key{Name: ce.Name, Hash: ce.Hash})
		if ce.Name == "com.example.Broken" {
			assert.ErrorIs(t, getErr, index.ErrMiss)
			continue
		}
		assert.NoError(t, getErr, ce.Name)
	}

	infos := f.engine.Jobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "archive", infos[0].Kind)
	assert.Equal(t, "failed", infos[0].Status)
	require.Len(t, infos[0].Failures, 1)
	assert.Contains(t, infos[0].Failures[0], "com.example.Broken")
	assert.Contains(t, infos[0].Failures[0], lift.ErrMalformedBytecode.Error())

	assert.Eventually(t, func() bool { return v.State() == query.StateReady }, time.Second, 5*time.Millisecond)

	_, err = v.FindClass(ctx, "com.example.Broken")
	assert.ErrorIs(t, err, lift.ErrMalformedBytecode)
	var ce *ingest.ClassError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, jar, ce.Archive)
	assert.Contains(t, err.Error(), jar)
	_, err = v.FindClass(ctx, "com.example.Bar")
	assert.NoError(t, err)
}

func TestFindClassNotFound(t *testing.T) {
	f := newFixture(t)
	jar := writeJar(t, f.path("app.jar"), fooClass())
	v, err := f.engine.OpenClasspath(context.Background(), []string{jar})
	require.NoError(t, err)
	defer v.Close()

	_, err = v.FindClass(context.Background(), "com.example.Missing")
	assert.ErrorIs(t, err, query.ErrNotFound)
	var nf *query.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "com.example.Missing", nf.Class)

	_, err = v.Method(context.Background(), "com.example.Foo", "bar(J)V")
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestFindClassAcceptsInternalName(t *testing.T) {
	f := newFixture(t, query.WithBackgroundIndexing(false))
	jar := writeJar(t, f.path("app.jar"), fooClass())
	ctx := context.Background()
	v, err := f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	defer v.Close()

	c, err := v.FindClass(ctx, "com/example/Foo")
	require.NoError(t, err)
	assert.Equal(t, "com.example.Foo", c.Name)

	m, err := v.Method(ctx, "com/example/Foo", "bar(I)V")
	require.NoError(t, err)
	assert.Equal(t, "com.example.Foo", m.Owner)

	_, err = v.FindClass(ctx, "com/example/Missing")
	var nf *query.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "com.example.Missing", nf.Class)
}

func TestOpenClasspathErrors(t *testing.T) {
	f := newFixture(t)
	jar := writeJar(t, f.path("app.jar"), fooClass())

	_, err := f.engine.OpenClasspath(context.Background(), []string{jar, f.path("nope.jar")})
	assert.ErrorIs(t, err, query.ErrArchiveNotFound)
	assert.Empty(t, f.engine.Views())

	_, err = f.engine.OpenClasspath(context.Background(), nil)
	assert.ErrorIs(t, err, query.ErrEmptyClasspath)
}

func TestArchivePrecedence(t *testing.T) {
	f := newFixture(t, query.WithBackgroundIndexing(false))
	first := writeJar(t, f.path("first.jar"), fooClass("fromFirst"))
	second := writeJar(t, f.path("second.jar"), fooClass("fromSecond"), barClass())
	ctx := context.Background()

	v, err := f.engine.OpenClasspath(ctx, []string{first, second})
	require.NoError(t, err)
	defer v.Close()

	c, err := v.FindClass(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.NotNil(t, c.Field("fromFirst", ""))
	assert.Nil(t, c.Field("fromSecond", ""))

	sym := v.Resolve(ctx, ir.MemberRef{Class: "com.example.Bar", Name: "make", Descriptor: "()Lcom/example/Foo;"})
	assert.Equal(t, second, sym.Archive)
	sym = v.Resolve(ctx, ir.MemberRef{Class: "com.example.Foo", Name: "count", Descriptor: "I"})
	assert.Equal(t, first, sym.Archive)
}

func TestRequeryAfterMutationSeesNewContent(t *testing.T) {
	f := newFixture(t, query.WithBackgroundIndexing(false))
	jar := writeJar(t, f.path("app.jar"), fooClass())
	ctx := context.Background()

	v, err := f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	defer v.Close()

	c, err := v.FindClass(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.Nil(t, c.Field("added", ""))
	hashBefore := v.Info().Archives[0].Hash

	writeJar(t, jar, fooClass("added"))

	c, err = v.FindClass(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.NotNil(t, c.Field("added", ""), "a re-query must not serve the old class")
	assert.NotEqual(t, hashBefore, v.Info().Archives[0].Hash)

	stats, err := f.idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Classes)
}

func TestRemovedArchiveLeavesView(t *testing.T) {
	f := newFixture(t, query.WithBackgroundIndexing(false))
	first := writeJar(t, f.path("first.jar"), fooClass("fromFirst"))
	second := writeJar(t, f.path("second.jar"), fooClass("fromSecond"))
	ctx := context.Background()

	v, err := f.engine.OpenClasspath(ctx, []string{first, second})
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, os.Remove(first))
	c, err := v.FindClass(ctx, "com.example.Foo")
	require.NoError(t, err)
	assert.NotNil(t, c.Field("fromSecond", ""))
	assert.Len(t, v.Info().Archives, 1)
}

func TestReopenChangedArchiveReindexes(t *testing.T) {
	f := newFixture(t)
	jar := writeJar(t, f.path("app.jar"), fooClass())
	ctx := context.Background()

	v, err := f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	require.NoError(t, f.engine.AwaitOutstandingJobs(ctx))
	oldHash := v.Info().Archives[0].Hash
	require.NoError(t, v.Close())

	// Reopening unchanged content schedules nothing.
	v, err = f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	assert.Equal(t, query.StateReady, v.State())
	require.NoError(t, v.Close())
	assert.Len(t, f.engine.Jobs(), 1)

	writeJar(t, jar, fooClass("added"), barClass())
	v, err = f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, f.engine.AwaitOutstandingJobs(ctx))
	assert.Len(t, f.engine.Jobs(), 2)

	rec, err := f.idx.Archive(ctx, jar)
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, rec.Hash)
	assert.Equal(t, 2, rec.ClassCount)

	n, err := f.idx.Invalidate(ctx, oldHash)
	require.NoError(t, err)
	assert.Zero(t, n, "old archive entries should already be gone")
}

func TestMissReliftsOnlyThatClass(t *testing.T) {
	f := newFixture(t)
	jar := writeJar(t, f.path("app.jar"), fooClass(), barClass())
	ctx := context.Background()

	v, err := f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, f.engine.AwaitOutstandingJobs(ctx))

	hash := v.Info().Archives[0].Hash
	n, err := f.idx.Invalidate(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, list := coldQuery(t, v)
	assert.Equal(t, 2, list.Count(ir.OpFieldWrite))

	stats, err := f.idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Classes, "only the queried class is lifted again")
}

func TestInstructionsOfReportsMethodFailure(t *testing.T) {
	f := newFixture(t, query.WithBackgroundIndexing(false))
	jar := writeJar(t, f.path("app.jar"), legacyClass())
	ctx := context.Background()

	v, err := f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	defer v.Close()

	m, err := v.Method(ctx, "com.example.Legacy", "old()V")
	require.NoError(t, err)
	_, err = v.InstructionsOf(ctx, m)
	assert.ErrorIs(t, err, lift.ErrUnsupportedFeature)
	var me *lift.MethodError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "com.example.Legacy", me.Class)
}

func TestPruneDropsRemovedArchives(t *testing.T) {
	f := newFixture(t)
	keep := writeJar(t, f.path("keep.jar"), barClass())
	gone := writeJar(t, f.path("gone.jar"), fooClass())
	ctx := context.Background()

	v, err := f.engine.OpenClasspath(ctx, []string{keep, gone})
	require.NoError(t, err)
	require.NoError(t, f.engine.AwaitOutstandingJobs(ctx))
	require.NoError(t, v.Close())

	require.NoError(t, os.Remove(gone))
	report, err := f.engine.Prune(ctx)
	require.NoError(t, err)
	require.Len(t, report.Archives, 1)
	assert.Equal(t, gone, report.Archives[0].Path)
	assert.Equal(t, 1, report.Entries)

	stats, err := f.idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, index.Stats{Classes: 1, Archives: 1}, stats)
}

func TestClosedView(t *testing.T) {
	f := newFixture(t)
	jar := writeJar(t, f.path("app.jar"), fooClass())
	v, err := f.engine.OpenClasspath(context.Background(), []string{jar})
	require.NoError(t, err)

	_, ok := f.engine.View(v.ID())
	assert.True(t, ok)
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	_, ok = f.engine.View(v.ID())
	assert.False(t, ok)
	_, err = v.FindClass(context.Background(), "com.example.Foo")
	assert.ErrorIs(t, err, query.ErrViewClosed)
}

func TestWatcherRefreshesView(t *testing.T) {
	f := newFixture(t, query.WithBackgroundIndexing(false))
	w, err := query.NewWatcher(f.engine, 10*time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	jar := writeJar(t, f.path("app.jar"), fooClass())
	v, err := f.engine.OpenClasspath(ctx, []string{jar})
	require.NoError(t, err)
	defer v.Close()
	before := v.Info().Archives[0].Hash

	writeJar(t, jar, fooClass("added"))
	assert.Eventually(t, func() bool {
		return v.Info().Archives[0].Hash != before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherAddRetriesAfterFailure(t *testing.T) {
	f := newFixture(t, query.WithBackgroundIndexing(false))
	w, err := query.NewWatcher(f.engine, 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	jar := f.path("late.jar")
	assert.Error(t, w.Add(jar))
	assert.False(t, w.Watching(jar))

	writeJar(t, jar, fooClass())
	require.NoError(t, w.Add(jar))
	assert.True(t, w.Watching(jar))
}
