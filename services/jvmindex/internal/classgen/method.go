// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classgen

import (
	"encoding/binary"
	"fmt"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classfile"
)

type fixup struct {
	at    int // where the offset is written
	base  int // pc the offset is relative to
	label string
	wide  bool
}

type handler struct {
	start, end, target string
	class              string
}

// Method emits the code of one method.
type Method struct {
	c           *Class
	access      uint16
	name, desc  string
	hasCode     bool
	maxStack    int
	maxLocals   int
	code        []byte
	labels      map[string]int
	fixups      []fixup
	handlers    []handler
	annotations []annotation
	exceptions  []string
}

// End returns to the class builder.
func (m *Method) End() *Class { return m.c }

// Max overrides max_stack and max_locals (both default to 16).
func (m *Method) Max(stack, locals int) *Method {
	m.maxStack, m.maxLocals = stack, locals
	return m
}

// Annotate attaches an annotation by type descriptor.
func (m *Method) Annotate(desc string, visible bool) *Method {
	m.annotations = append(m.annotations, annotation{desc, visible})
	return m
}

// Throws declares checked exceptions by internal name.
func (m *Method) Throws(names ...string) *Method {
	m.exceptions = append(m.exceptions, names...)
	return m
}

// PC returns the offset the next instruction will be written at.
func (m *Method) PC() int { return len(m.code) }

// Raw appends bytes verbatim.
func (m *Method) Raw(b ...byte) *Method {
	m.code = append(m.code, b...)
	return m
}

// Op appends an instruction without operands.
func (m *Method) Op(ops ...uint8) *Method {
	m.code = append(m.code, ops...)
	return m
}

// Var appends a load or store of local idx, using the wide form when needed.
func (m *Method) Var(op uint8, idx int) *Method {
	if idx > 255 {
		m.code = append(m.code, classfile.Wide, op)
		m.code = binary.BigEndian.AppendUint16(m.code, uint16(idx))
		return m
	}
	m.code = append(m.code, op, byte(idx))
	return m
}

// Iinc appends an increment of local idx.
func (m *Method) Iinc(idx int, delta int) *Method {
	if idx > 255 || delta < -128 || delta > 127 {
		m.code = append(m.code, classfile.Wide, classfile.Iinc)
		m.code = binary.BigEndian.AppendUint16(m.code, uint16(idx))
		m.code = binary.BigEndian.AppendUint16(m.code, uint16(int16(delta)))
		return m
	}
	m.code = append(m.code, classfile.Iinc, byte(idx), byte(int8(delta)))
	return m
}

// Int pushes an int constant with the shortest encoding.
func (m *Method) Int(v int32) *Method {
	switch {
	case v >= -1 && v <= 5:
		m.code = append(m.code, byte(int32(classfile.Iconst0)+v))
	case v >= -128 && v <= 127:
		m.code = append(m.code, classfile.Bipush, byte(int8(v)))
	case v >= -32768 && v <= 32767:
		m.code = append(m.code, classfile.Sipush)
		m.code = binary.BigEndian.AppendUint16(m.code, uint16(int16(v)))
	default:
		m.ldcIndex(m.c.pool.integer(v))
	}
	return m
}

// Ldc pushes a constant. Supported values are string, int32, float32,
// int64 and float64; the last two use ldc2_w.
func (m *Method) Ldc(v any) *Method {
	p := m.c.pool
	switch x := v.(type) {
	case string:
		m.ldcIndex(p.str(x))
	case int32:
		m.ldcIndex(p.integer(x))
	case float32:
		m.ldcIndex(p.float(x))
	case int64:
		m.code = append(m.code, classfile.Ldc2W)
		m.code = binary.BigEndian.AppendUint16(m.code, p.long(x))
	case float64:
		m.code = append(m.code, classfile.Ldc2W)
		m.code = binary.BigEndian.AppendUint16(m.code, p.double(x))
	default:
		panic(fmt.Sprintf("classgen: unsupported ldc constant %T", v))
	}
	return m
}

// LdcClass pushes a class literal.
func (m *Method) LdcClass(name string) *Method {
	m.ldcIndex(m.c.pool.class(name))
	return m
}

func (m *Method) ldcIndex(idx uint16) {
	if idx <= 255 {
		m.code = append(m.code, classfile.Ldc, byte(idx))
		return
	}
	m.code = append(m.code, classfile.LdcW)
	m.code = binary.BigEndian.AppendUint16(m.code, idx)
}

// Field appends getstatic, putstatic, getfield or putfield.
func (m *Method) Field(op uint8, owner, name, desc string) *Method {
	m.code = append(m.code, op)
	m.code = binary.BigEndian.AppendUint16(m.code, m.c.pool.ref(classfile.TagFieldref, owner, name, desc))
	return m
}

// Invoke appends invokevirtual, invokespecial, invokestatic or
// invokeinterface.
func (m *Method) Invoke(op uint8, owner, name, desc string) *Method {
	tag := classfile.TagMethodref
	if op == classfile.Invokeinterface {
		tag = classfile.TagInterfaceMethodref
	}
	m.code = append(m.code, op)
	m.code = binary.BigEndian.AppendUint16(m.code, m.c.pool.ref(tag, owner, name, desc))
	if op == classfile.Invokeinterface {
		mt, err := classfile.ParseMethodType(desc)
		if err != nil {
			panic(fmt.Sprintf("classgen: %v", err))
		}
		m.code = append(m.code, byte(mt.ParamWords()+1), 0)
	}
	return m
}

// InvokeDynamic appends an invokedynamic call site.
func (m *Method) InvokeDynamic(name, desc string) *Method {
	m.code = append(m.code, classfile.Invokedynamic)
	m.code = binary.BigEndian.AppendUint16(m.code, m.c.pool.invokeDynamic(name, desc))
	m.code = append(m.code, 0, 0)
	return m
}

// Type appends new, anewarray, checkcast or instanceof.
func (m *Method) Type(op uint8, class string) *Method {
	m.code = append(m.code, op)
	m.code = binary.BigEndian.AppendUint16(m.code, m.c.pool.class(class))
	return m
}

// Newarray appends a primitive array allocation (atype 10 is int).
func (m *Method) Newarray(atype uint8) *Method {
	m.code = append(m.code, classfile.Newarray, atype)
	return m
}

// Multianewarray appends a multi-dimensional allocation.
func (m *Method) Multianewarray(desc string, dims uint8) *Method {
	m.code = append(m.code, classfile.Multianewarray)
	m.code = binary.BigEndian.AppendUint16(m.code, m.c.pool.class(desc))
	m.code = append(m.code, dims)
	return m
}

// Label binds name to the current offset.
func (m *Method) Label(name string) *Method {
	if _, dup := m.labels[name]; dup {
		panic("classgen: duplicate label " + name)
	}
	m.labels[name] = len(m.code)
	return m
}

// Jump appends a branch to label. goto_w and jsr_w use a 4-byte offset.
func (m *Method) Jump(op uint8, label string) *Method {
	pc := len(m.code)
	m.code = append(m.code, op)
	wide := op == classfile.GotoW || op == classfile.JsrW
	m.fixups = append(m.fixups, fixup{at: len(m.code), base: pc, label: label, wide: wide})
	if wide {
		m.code = append(m.code, 0, 0, 0, 0)
	} else {
		m.code = append(m.code, 0, 0)
	}
	return m
}

// pad aligns the switch operands to a multiple of four from the code start.
func (m *Method) pad() {
	for len(m.code)%4 != 0 {
		m.code = append(m.code, 0)
	}
}

func (m *Method) offset32(pc int, label string) {
	m.fixups = append(m.fixups, fixup{at: len(m.code), base: pc, label: label, wide: true})
	m.code = append(m.code, 0, 0, 0, 0)
}

// TableSwitch appends a tableswitch over low..low+len(labels)-1.
func (m *Method) TableSwitch(low int32, def string, labels ...string) *Method {
	pc := len(m.code)
	m.code = append(m.code, classfile.Tableswitch)
	m.pad()
	m.offset32(pc, def)
	m.code = binary.BigEndian.AppendUint32(m.code, uint32(low))
	m.code = binary.BigEndian.AppendUint32(m.code, uint32(low+int32(len(labels))-1))
	for _, l := range labels {
		m.offset32(pc, l)
	}
	return m
}

// LookupSwitch appends a lookupswitch; keys must be sorted.
func (m *Method) LookupSwitch(def string, keys []int32, labels []string) *Method {
	pc := len(m.code)
	m.code = append(m.code, classfile.Lookupswitch)
	m.pad()
	m.offset32(pc, def)
	m.code = binary.BigEndian.AppendUint32(m.code, uint32(len(keys)))
	for i, k := range keys {
		m.code = binary.BigEndian.AppendUint32(m.code, uint32(k))
		m.offset32(pc, labels[i])
	}
	return m
}

// Catch adds an exception table entry. An empty class catches everything.
func (m *Method) Catch(start, end, target, class string) *Method {
	m.handlers = append(m.handlers, handler{start, end, target, class})
	return m
}

func (m *Method) label(name string) int {
	pc, ok := m.labels[name]
	if !ok {
		panic(fmt.Sprintf("classgen: %s.%s: undefined label %q", m.c.name, m.name, name))
	}
	return pc
}

func (m *Method) attributes() []rawAttribute {
	p := m.c.pool
	var attrs []rawAttribute
	if m.hasCode {
		code := append([]byte(nil), m.code...)
		for _, f := range m.fixups {
			off := m.label(f.label) - f.base
			if f.wide {
				binary.BigEndian.PutUint32(code[f.at:], uint32(int32(off)))
			} else {
				binary.BigEndian.PutUint16(code[f.at:], uint16(int16(off)))
			}
		}
		data := binary.BigEndian.AppendUint16(nil, uint16(m.maxStack))
		data = binary.BigEndian.AppendUint16(data, uint16(m.maxLocals))
		data = binary.BigEndian.AppendUint32(data, uint32(len(code)))
		data = append(data, code...)
		data = binary.BigEndian.AppendUint16(data, uint16(len(m.handlers)))
		for _, h := range m.handlers {
			data = binary.BigEndian.AppendUint16(data, uint16(m.label(h.start)))
			data = binary.BigEndian.AppendUint16(data, uint16(m.label(h.end)))
			data = binary.BigEndian.AppendUint16(data, uint16(m.label(h.target)))
			var ct uint16
			if h.class != "" {
				ct = p.class(h.class)
			}
			data = binary.BigEndian.AppendUint16(data, ct)
		}
		data = binary.BigEndian.AppendUint16(data, 0)
		attrs = append(attrs, rawAttribute{"Code", data})
	}
	if len(m.exceptions) > 0 {
		data := binary.BigEndian.AppendUint16(nil, uint16(len(m.exceptions)))
		for _, e := range m.exceptions {
			data = binary.BigEndian.AppendUint16(data, p.class(e))
		}
		attrs = append(attrs, rawAttribute{"Exceptions", data})
	}
	return append(attrs, annotationAttributes(p, m.annotations)...)
}
