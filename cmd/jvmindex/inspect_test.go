// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/jvmindex/pkg/ux"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
	"github.com/AleutianAI/jvmindex/services/jvmindex/jobs"
	"github.com/AleutianAI/jvmindex/services/jvmindex/lift"
)

type fakeSource struct {
	bodies map[string]ir.InstructionList
	errs   map[string]error
	calls  []string
}

func (f *fakeSource) MethodsOf(c *ir.Class) []ir.Method {
	return c.Methods
}

func (f *fakeSource) InstructionsOf(_ context.Context, m *ir.Method) (ir.InstructionList, error) {
	f.calls = append(f.calls, m.Key())
	if err := f.errs[m.Key()]; err != nil {
		return nil, err
	}
	return f.bodies[m.Key()], nil
}

func sampleClass() *ir.Class {
	return &ir.Class{
		Name:       "com.example.Foo",
		Super:      "java.lang.Object",
		Interfaces: []string{"java.lang.Runnable", "java.io.Serializable"},
		Methods: []ir.Method{
			{
				Owner: "com.example.Foo", Name: "run", Descriptor: "()V",
				Return: ir.TypeVoid, Access: ir.AccPublic, HasBody: true,
				Annotations: []ir.AnnotationRef{{Type: "java.lang.Override"}, {Type: "a.Marker"}},
			},
			{
				Owner: "com.example.Foo", Name: "bar", Descriptor: "(I)V",
				Params: []ir.TypeName{ir.TypeInt}, Return: ir.TypeVoid,
				Access: ir.AccPublic | ir.AccSynchronized, HasBody: true,
			},
			{
				Owner: "com.example.Foo", Name: "size", Descriptor: "()I",
				Return: ir.TypeInt, Access: ir.AccPublic | ir.AccNative,
			},
		},
	}
}

func sampleSource() *fakeSource {
	count := &ir.MemberRef{Class: "com.example.Foo", Name: "count", Descriptor: "I"}
	return &fakeSource{
		bodies: map[string]ir.InstructionList{
			"bar(I)V": {
				{Op: ir.OpFieldRead, Target: count},
				{Op: ir.OpAssign},
				{Op: ir.OpFieldWrite, Target: count},
				{Op: ir.OpFieldWrite, Element: true},
				{Op: ir.OpCall, Target: &ir.MemberRef{Class: "java.lang.System", Name: "gc", Descriptor: "()V"}},
				{Op: ir.OpReturn},
			},
		},
		errs: map[string]error{
			"run()V": &lift.MethodError{Class: "com.example.Foo", Method: "run()V", PC: 3, Err: lift.ErrUnsupportedFeature},
		},
	}
}

func TestInspectionRender(t *testing.T) {
	src := sampleSource()
	in, err := collect(context.Background(), src, sampleClass())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, in.render(&out, ux.NewPrinter(&out, &out, true)))

	want := `Target: com.example.Foo
interfaces: 2
- java.io.Serializable
- java.lang.Runnable
methods: 3

public synchronized com.example.Foo#bar(int) -> void
annotations: 0
ir:
[r] com.example.Foo.count
[w] com.example.Foo.count
[c] java.lang.System.gc()

public com.example.Foo#run() -> void
annotations: 2
- a.Marker
- java.lang.Override
ir:
error: com.example.Foo.run()V at pc 3: unsupported feature

public native com.example.Foo#size() -> int
annotations: 0
ir:

`
	assert.Equal(t, want, out.String())
	assert.ElementsMatch(t, []string{"run()V", "bar(I)V"}, src.calls, "bodiless methods are not lifted")
}

func TestCollectKeepsOverloadOrder(t *testing.T) {
	cls := &ir.Class{
		Name: "a.B",
		Methods: []ir.Method{
			{Owner: "a.B", Name: "f", Descriptor: "(J)V", Params: []ir.TypeName{ir.TypeLong}, Return: ir.TypeVoid},
			{Owner: "a.B", Name: "a", Descriptor: "()V", Return: ir.TypeVoid},
			{Owner: "a.B", Name: "f", Descriptor: "(I)V", Params: []ir.TypeName{ir.TypeInt}, Return: ir.TypeVoid},
		},
	}
	in, err := collect(context.Background(), &fakeSource{}, cls)
	require.NoError(t, err)
	require.Len(t, in.Methods, 3)
	assert.Equal(t, "a()V", in.Methods[0].Method.Key())
	assert.Equal(t, "f(J)V", in.Methods[1].Method.Key())
	assert.Equal(t, "f(I)V", in.Methods[2].Method.Key())
}

func TestCollectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{errs: map[string]error{"run()V": context.Canceled}}
	_, err := collect(ctx, src, sampleClass())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSplitClasspath(t *testing.T) {
	assert.Equal(t, []string{"a.jar", "build/classes"}, splitClasspath("a.jar, build/classes,,"))
	assert.Nil(t, splitClasspath(""))
}

func TestReportJobs(t *testing.T) {
	var out, errOut bytes.Buffer
	p := ux.NewPrinter(&out, &errOut, true)

	total, failed := reportJobs(p, []jobs.Info{
		{Target: "/lib/a.jar", Status: "succeeded", Progress: 4},
		{Target: "/lib/b.jar", Status: "failed", Progress: 3, Failures: []string{
			"/lib/b.jar: class com.example.Broken: malformed bytecode",
		}},
	})
	assert.Equal(t, 7, total)
	assert.Equal(t, 1, failed)
	assert.Equal(t, "OK: /lib/a.jar: 4 classes\n  /lib/b.jar: class com.example.Broken: malformed bytecode\n", out.String())
	assert.Equal(t, "WARN: /lib/b.jar: failed\n", errOut.String())
	assert.True(t, hasJob([]jobs.Info{{Target: "/lib/a.jar"}}, "/lib/a.jar"))
	assert.False(t, hasJob(nil, "/lib/a.jar"))
}
