// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lift converts JVM class files into the ir model.
//
// Class-level structure (names, members, annotations) is decoded eagerly.
// Each method body is lifted from the operand-stack bytecode into a
// three-address instruction list by abstract interpretation over basic
// blocks. Lifting is pure and deterministic: the same bytes always yield
// an identical result.
//
// Failures inside one method body are recorded on that body's ir.Failure
// and do not prevent the rest of the class from lifting. Only structural
// problems with the class file itself fail the whole call.
package lift

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classfile"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

// Lift decodes and lifts one class file.
//
// Description:
//
//	Parses the class file, builds the class descriptor and lifts every
//	method body. Cancellation is checked between methods.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	raw - The class file bytes.
//
// Outputs:
//
//	*ir.Lifted - Class descriptor plus one body per method.
//	error - Wraps ErrMalformedBytecode when the class file is structurally
//	        invalid, or the context error.
//
// Thread Safety:
//
//	Safe for concurrent use; Lift holds no shared state.
func Lift(ctx context.Context, raw []byte) (*ir.Lifted, error) {
	ctx, span := startLiftSpan(ctx, len(raw))
	defer span.End()
	start := time.Now()

	lifted, err := lift(ctx, raw)
	recordLift(ctx, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("lift.class", lifted.Class.Name),
		attribute.Int("lift.methods", len(lifted.Class.Methods)),
	)
	return lifted, nil
}

func lift(ctx context.Context, raw []byte) (*ir.Lifted, error) {
	f, err := classfile.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBytecode, err)
	}
	class, err := describe(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedBytecode, classfile.DottedName(f.ThisClass), err)
	}

	bodies := make([]*ir.Body, len(class.Methods))
	for i := range f.Methods {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body := liftMethod(f, class, &class.Methods[i], &f.Methods[i])
		if body.Failure != nil {
			recordMethodFailure(ctx, body.Failure.Kind.String())
		}
		bodies[i] = body
	}
	return &ir.Lifted{Class: class, Bodies: bodies}, nil
}

// describe builds the class descriptor from the decoded structure.
func describe(f *classfile.File) (*ir.Class, error) {
	c := &ir.Class{
		Name:    classfile.DottedName(f.ThisClass),
		Access:  ir.Access(f.Access),
		Version: ir.Version{Major: f.Major, Minor: f.Minor},
	}
	if f.SuperClass != "" {
		c.Super = classfile.DottedName(f.SuperClass)
	}
	for _, iface := range f.Interfaces {
		c.Interfaces = append(c.Interfaces, classfile.DottedName(iface))
	}

	var err error
	if c.Annotations, err = annotationsOf(f.Attributes, f.Pool); err != nil {
		return nil, err
	}
	if a := f.Attribute(classfile.AttrSourceFile); a != nil {
		if c.SourceFile, err = classfile.ParseSourceFile(a.Data, f.Pool); err != nil {
			return nil, fmt.Errorf("SourceFile: %w", err)
		}
	}

	for i := range f.Fields {
		m := &f.Fields[i]
		ft, err := classfile.ParseFieldType(m.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", m.Name, err)
		}
		anns, err := annotationsOf(m.Attributes, f.Pool)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", m.Name, err)
		}
		c.Fields = append(c.Fields, ir.Field{
			Owner:       c.Name,
			Name:        m.Name,
			Descriptor:  m.Descriptor,
			Type:        ft.Type,
			Access:      ir.Access(m.Access),
			Annotations: anns,
		})
	}

	seen := make(map[string]bool, len(f.Methods))
	for i := range f.Methods {
		m := &f.Methods[i]
		mt, err := classfile.ParseMethodType(m.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", m.Name, err)
		}
		anns, err := annotationsOf(m.Attributes, f.Pool)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", m.Name, err)
		}
		md := ir.Method{
			Owner:       c.Name,
			Name:        m.Name,
			Descriptor:  m.Descriptor,
			Return:      mt.Return.Type,
			Access:      ir.Access(m.Access),
			Annotations: anns,
			HasBody:     m.Attribute(classfile.AttrCode) != nil,
		}
		for _, p := range mt.Params {
			md.Params = append(md.Params, p.Type)
		}
		if a := m.Attribute(classfile.AttrExceptions); a != nil {
			names, err := classfile.ParseExceptions(a.Data, f.Pool)
			if err != nil {
				return nil, fmt.Errorf("method %s exceptions: %w", m.Name, err)
			}
			for _, n := range names {
				md.Exceptions = append(md.Exceptions, classfile.DottedName(n))
			}
		}
		if seen[md.Key()] {
			return nil, fmt.Errorf("duplicate method %s", md.Key())
		}
		seen[md.Key()] = true
		c.Methods = append(c.Methods, md)
	}
	return c, nil
}

func annotationsOf(attrs []classfile.Attribute, pool classfile.Pool) ([]ir.AnnotationRef, error) {
	var out []ir.AnnotationRef
	for _, a := range attrs {
		var visible bool
		switch a.Name {
		case classfile.AttrRuntimeVisibleAnnotations:
			visible = true
		case classfile.AttrRuntimeInvisibleAnnotations:
		default:
			continue
		}
		descs, err := classfile.ParseAnnotations(a.Data, pool)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Name, err)
		}
		for _, d := range descs {
			t, err := classfile.TypeOf(d)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.Name, err)
			}
			out = append(out, ir.AnnotationRef{Type: t, Visible: visible})
		}
	}
	return out, nil
}
