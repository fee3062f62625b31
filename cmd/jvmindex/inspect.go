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
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/AleutianAI/jvmindex/pkg/ux"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

// methodSource is the part of a classpath view the inspection needs.
type methodSource interface {
	MethodsOf(c *ir.Class) []ir.Method
	InstructionsOf(ctx context.Context, m *ir.Method) (ir.InstructionList, error)
}

type inspectedMethod struct {
	Method ir.Method
	Body   ir.InstructionList
	Err    error
}

// inspection is a class with its method bodies, ordered for display.
type inspection struct {
	Class   *ir.Class
	Methods []inspectedMethod
}

// collect lifts every method of cls through src. A method that fails to
// lift keeps its error and the others are still shown.
func collect(ctx context.Context, src methodSource, cls *ir.Class) (inspection, error) {
	methods := src.MethodsOf(cls)
	in := inspection{Class: cls, Methods: make([]inspectedMethod, 0, len(methods))}
	for i := range methods {
		m := methods[i]
		im := inspectedMethod{Method: m}
		if m.HasBody {
			im.Body, im.Err = src.InstructionsOf(ctx, &m)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return in, ctxErr
			}
		}
		in.Methods = append(in.Methods, im)
	}
	sort.SliceStable(in.Methods, func(i, j int) bool {
		return in.Methods[i].Method.Name < in.Methods[j].Method.Name
	})
	return in, nil
}

// render writes the report:
//
//	Target: com.example.Foo
//	interfaces: 1
//	- java.io.Serializable
//	methods: 1
//
//	public com.example.Foo#bar(int) -> void
//	annotations: 0
//	ir:
//	[w] com.example.Foo.count
func (in inspection) render(w io.Writer, p *ux.Printer) error {
	var sb strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&sb, format, args...)
		sb.WriteByte('\n')
	}

	line("%s", p.Render(ux.Styles.Title, "Target: "+in.Class.Name))

	ifaces := append([]string(nil), in.Class.Interfaces...)
	sort.Strings(ifaces)
	line("interfaces: %d", len(ifaces))
	for _, name := range ifaces {
		line("- %s", name)
	}

	line("methods: %d", len(in.Methods))
	line("")
	for _, im := range in.Methods {
		line("%s", p.Render(ux.Styles.Bold, im.Method.Signature()))

		annotations := make([]string, len(im.Method.Annotations))
		for i, a := range im.Method.Annotations {
			annotations[i] = string(a.Type)
		}
		sort.Strings(annotations)
		line("annotations: %d", len(annotations))
		for _, name := range annotations {
			line("- %s", name)
		}

		line("ir:")
		if im.Err != nil {
			line("%s", p.Render(ux.Styles.Error, "error: "+im.Err.Error()))
		}
		for _, text := range accesses(im.Body) {
			line("%s", text)
		}
		line("")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// accesses lists the calls, field reads and field writes of body in
// instruction order. Array element accesses have no member and are left
// out.
func accesses(body ir.InstructionList) []string {
	var out []string
	for i := range body {
		in := &body[i]
		if in.Target == nil {
			continue
		}
		switch in.Op {
		case ir.OpCall:
			out = append(out, fmt.Sprintf("[c] %s.%s()", in.Target.Class, in.Target.Name))
		case ir.OpFieldRead:
			out = append(out, "[r] "+in.Target.String())
		case ir.OpFieldWrite:
			out = append(out, "[w] "+in.Target.String())
		}
	}
	return out
}
