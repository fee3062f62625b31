// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classgen assembles small JVM class files for tests.
//
// It produces structurally valid class files without a JDK: a constant
// pool builder, member and attribute layout, and a code emitter with
// labels for branches, switches and exception handlers.
//
// Example:
//
//	raw := classgen.New("com/example/Foo").
//		Field(classgen.AccPrivate, "count", "I").
//		Method(classgen.AccPublic, "bar", "(I)V").
//		Var(classfile.Aload, 0).Var(classfile.Iload, 1).
//		Field(classfile.Putfield, "com/example/Foo", "count", "I").
//		Op(classfile.Return).
//		End().
//		Bytes()
package classgen

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classfile"
)

// Access flags re-exported for brevity in tests.
const (
	AccPublic    uint16 = 0x0001
	AccPrivate   uint16 = 0x0002
	AccProtected uint16 = 0x0004
	AccStatic    uint16 = 0x0008
	AccFinal     uint16 = 0x0010
	AccSuper     uint16 = 0x0020
	AccNative    uint16 = 0x0100
	AccInterface uint16 = 0x0200
	AccAbstract  uint16 = 0x0400
)

// ---------------------------------------------------------------------------
// constant pool
// ---------------------------------------------------------------------------

type pool struct {
	entries [][]byte
	index   map[string]uint16
	slots   int
}

func newPool() *pool {
	return &pool{index: make(map[string]uint16), slots: 1}
}

func (p *pool) add(key string, data []byte, wide bool) uint16 {
	if i, ok := p.index[key]; ok {
		return i
	}
	i := uint16(p.slots)
	p.entries = append(p.entries, data)
	p.index[key] = i
	p.slots++
	if wide {
		p.slots++
	}
	return i
}

func (p *pool) utf8(s string) uint16 {
	data := []byte{byte(classfile.TagUtf8)}
	data = binary.BigEndian.AppendUint16(data, uint16(len(s)))
	data = append(data, s...)
	return p.add("U"+s, data, false)
}

func (p *pool) class(name string) uint16 {
	n := p.utf8(name)
	return p.add("C"+name, u16pair(classfile.TagClass, n), false)
}

func (p *pool) str(s string) uint16 {
	n := p.utf8(s)
	return p.add("S"+s, u16pair(classfile.TagString, n), false)
}

func (p *pool) integer(v int32) uint16 {
	data := binary.BigEndian.AppendUint32([]byte{byte(classfile.TagInteger)}, uint32(v))
	return p.add(fmt.Sprintf("I%d", v), data, false)
}

func (p *pool) float(v float32) uint16 {
	data := binary.BigEndian.AppendUint32([]byte{byte(classfile.TagFloat)}, math.Float32bits(v))
	return p.add(fmt.Sprintf("F%x", math.Float32bits(v)), data, false)
}

func (p *pool) long(v int64) uint16 {
	data := binary.BigEndian.AppendUint64([]byte{byte(classfile.TagLong)}, uint64(v))
	return p.add(fmt.Sprintf("J%d", v), data, true)
}

func (p *pool) double(v float64) uint16 {
	data := binary.BigEndian.AppendUint64([]byte{byte(classfile.TagDouble)}, math.Float64bits(v))
	return p.add(fmt.Sprintf("D%x", math.Float64bits(v)), data, true)
}

func (p *pool) nameAndType(name, desc string) uint16 {
	n, d := p.utf8(name), p.utf8(desc)
	data := u16pair(classfile.TagNameAndType, n)
	data = binary.BigEndian.AppendUint16(data, d)
	return p.add("N"+name+":"+desc, data, false)
}

func (p *pool) ref(tag classfile.Tag, owner, name, desc string) uint16 {
	c, nt := p.class(owner), p.nameAndType(name, desc)
	data := u16pair(tag, c)
	data = binary.BigEndian.AppendUint16(data, nt)
	return p.add(fmt.Sprintf("R%d%s.%s:%s", tag, owner, name, desc), data, false)
}

func (p *pool) invokeDynamic(name, desc string) uint16 {
	nt := p.nameAndType(name, desc)
	data := u16pair(classfile.TagInvokeDynamic, 0)
	data = binary.BigEndian.AppendUint16(data, nt)
	return p.add("Y"+name+":"+desc, data, false)
}

func u16pair(tag classfile.Tag, v uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{byte(tag)}, v)
}

// ---------------------------------------------------------------------------
// class
// ---------------------------------------------------------------------------

type annotation struct {
	desc    string
	visible bool
}

type field struct {
	access      uint16
	name, desc  string
	annotations []annotation
}

// Class builds one class file.
type Class struct {
	major       uint16
	access      uint16
	name        string
	super       string
	interfaces  []string
	fields      []field
	methods     []*Method
	annotations []annotation
	sourceFile  string
	pool        *pool
}

// New starts a public class with the given internal name extending
// java/lang/Object, using class file version 52 (Java 8).
func New(name string) *Class {
	return &Class{
		major:  52,
		access: AccPublic | AccSuper,
		name:   name,
		super:  "java/lang/Object",
		pool:   newPool(),
	}
}

// Version sets the class file major version.
func (c *Class) Version(major uint16) *Class { c.major = major; return c }

// Access replaces the class access flags.
func (c *Class) Access(a uint16) *Class { c.access = a; return c }

// Super sets the superclass; an empty name writes super_class 0.
func (c *Class) Super(name string) *Class { c.super = name; return c }

// Implements appends superinterfaces.
func (c *Class) Implements(names ...string) *Class {
	c.interfaces = append(c.interfaces, names...)
	return c
}

// Source sets the SourceFile attribute.
func (c *Class) Source(name string) *Class { c.sourceFile = name; return c }

// Annotate attaches an annotation by type descriptor.
func (c *Class) Annotate(desc string, visible bool) *Class {
	c.annotations = append(c.annotations, annotation{desc, visible})
	return c
}

// Field declares a field.
func (c *Class) Field(access uint16, name, desc string) *Class {
	c.fields = append(c.fields, field{access: access, name: name, desc: desc})
	return c
}

// AnnotatedField declares a field with one annotation.
func (c *Class) AnnotatedField(access uint16, name, desc, annotationDesc string) *Class {
	c.fields = append(c.fields, field{access: access, name: name, desc: desc, annotations: []annotation{{annotationDesc, true}}})
	return c
}

// Method starts a method with a body. Call End to return to the class.
func (c *Class) Method(access uint16, name, desc string) *Method {
	m := &Method{
		c:         c,
		access:    access,
		name:      name,
		desc:      desc,
		hasCode:   true,
		maxStack:  16,
		maxLocals: 16,
		labels:    make(map[string]int),
	}
	c.methods = append(c.methods, m)
	return m
}

// AbstractMethod declares a method without a Code attribute.
func (c *Class) AbstractMethod(access uint16, name, desc string) *Class {
	c.methods = append(c.methods, &Method{c: c, access: access | AccAbstract, name: name, desc: desc})
	return c
}

// Bytes lays out the class file. It panics on an undefined label, which is
// a bug in the test that built the class.
func (c *Class) Bytes() []byte {
	p := c.pool
	var body []byte
	body = binary.BigEndian.AppendUint16(body, c.access)
	body = binary.BigEndian.AppendUint16(body, p.class(c.name))
	if c.super == "" {
		body = binary.BigEndian.AppendUint16(body, 0)
	} else {
		body = binary.BigEndian.AppendUint16(body, p.class(c.super))
	}
	body = binary.BigEndian.AppendUint16(body, uint16(len(c.interfaces)))
	for _, i := range c.interfaces {
		body = binary.BigEndian.AppendUint16(body, p.class(i))
	}

	body = binary.BigEndian.AppendUint16(body, uint16(len(c.fields)))
	for _, f := range c.fields {
		body = binary.BigEndian.AppendUint16(body, f.access)
		body = binary.BigEndian.AppendUint16(body, p.utf8(f.name))
		body = binary.BigEndian.AppendUint16(body, p.utf8(f.desc))
		body = appendAttributes(body, p, annotationAttributes(p, f.annotations))
	}

	body = binary.BigEndian.AppendUint16(body, uint16(len(c.methods)))
	for _, m := range c.methods {
		body = binary.BigEndian.AppendUint16(body, m.access)
		body = binary.BigEndian.AppendUint16(body, p.utf8(m.name))
		body = binary.BigEndian.AppendUint16(body, p.utf8(m.desc))
		body = appendAttributes(body, p, m.attributes())
	}

	attrs := annotationAttributes(p, c.annotations)
	if c.sourceFile != "" {
		attrs = append(attrs, rawAttribute{"SourceFile", binary.BigEndian.AppendUint16(nil, p.utf8(c.sourceFile))})
	}
	body = appendAttributes(body, p, attrs)

	var out []byte
	out = binary.BigEndian.AppendUint32(out, classfile.Magic)
	out = binary.BigEndian.AppendUint16(out, 0)
	out = binary.BigEndian.AppendUint16(out, c.major)
	out = binary.BigEndian.AppendUint16(out, uint16(p.slots))
	for _, e := range p.entries {
		out = append(out, e...)
	}
	return append(out, body...)
}

type rawAttribute struct {
	name string
	data []byte
}

func appendAttributes(out []byte, p *pool, attrs []rawAttribute) []byte {
	out = binary.BigEndian.AppendUint16(out, uint16(len(attrs)))
	for _, a := range attrs {
		out = binary.BigEndian.AppendUint16(out, p.utf8(a.name))
		out = binary.BigEndian.AppendUint32(out, uint32(len(a.data)))
		out = append(out, a.data...)
	}
	return out
}

func annotationAttributes(p *pool, anns []annotation) []rawAttribute {
	var visible, invisible []annotation
	for _, a := range anns {
		if a.visible {
			visible = append(visible, a)
		} else {
			invisible = append(invisible, a)
		}
	}
	var out []rawAttribute
	encode := func(name string, list []annotation) {
		if len(list) == 0 {
			return
		}
		data := binary.BigEndian.AppendUint16(nil, uint16(len(list)))
		for _, a := range list {
			data = binary.BigEndian.AppendUint16(data, p.utf8(a.desc))
			data = binary.BigEndian.AppendUint16(data, 0)
		}
		out = append(out, rawAttribute{name, data})
	}
	encode("RuntimeVisibleAnnotations", visible)
	encode("RuntimeInvisibleAnnotations", invisible)
	return out
}
