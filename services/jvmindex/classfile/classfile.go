// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classfile

import (
	"fmt"
)

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// Attribute names the parser understands.
const (
	AttrCode                        = "Code"
	AttrSourceFile                  = "SourceFile"
	AttrExceptions                  = "Exceptions"
	AttrRuntimeVisibleAnnotations   = "RuntimeVisibleAnnotations"
	AttrRuntimeInvisibleAnnotations = "RuntimeInvisibleAnnotations"
)

// Attribute is a raw, named attribute.
type Attribute struct {
	Name string
	Data []byte
}

// Member is a field_info or method_info structure.
type Member struct {
	Access     uint16
	Name       string
	Descriptor string
	Attributes []Attribute
}

// Attribute returns the first attribute with the given name, or nil.
func (m *Member) Attribute(name string) *Attribute {
	return findAttribute(m.Attributes, name)
}

// File is a structurally decoded class file.
type File struct {
	Minor      uint16
	Major      uint16
	Pool       Pool
	Access     uint16
	ThisClass  string // internal name
	SuperClass string // internal name, empty for java/lang/Object and modules
	Interfaces []string
	Fields     []Member
	Methods    []Member
	Attributes []Attribute
}

// Attribute returns the first class attribute with the given name, or nil.
func (f *File) Attribute(name string) *Attribute {
	return findAttribute(f.Attributes, name)
}

func findAttribute(attrs []Attribute, name string) *Attribute {
	for i := range attrs {
		if attrs[i].Name == name {
			return &attrs[i]
		}
	}
	return nil
}

// Parse decodes a complete class file.
//
// Description:
//
//	Validates the magic number and version, decodes the constant pool,
//	class header, fields, methods and attributes. Attribute payloads are
//	kept raw; use ParseCode, ParseAnnotations and friends to decode them.
//
// Inputs:
//
//	data - The class file bytes.
//
// Outputs:
//
//	*File - The decoded structure.
//	error - Wraps ErrTruncated, ErrBadMagic, ErrUnsupportedVersion,
//	        ErrBadConstant or ErrTrailingData.
func Parse(data []byte) (*File, error) {
	r := newReader(data)
	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadMagic, magic)
	}

	f := &File{}
	if f.Minor, err = r.u16(); err != nil {
		return nil, err
	}
	if f.Major, err = r.u16(); err != nil {
		return nil, err
	}
	if f.Major < MinMajorVersion || f.Major > MaxMajorVersion {
		return nil, fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, f.Major, f.Minor)
	}

	if f.Pool, err = parsePool(r); err != nil {
		return nil, fmt.Errorf("constant pool: %w", err)
	}

	if f.Access, err = r.u16(); err != nil {
		return nil, err
	}
	this, err := r.u16()
	if err != nil {
		return nil, err
	}
	if f.ThisClass, err = f.Pool.ClassName(this); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	super, err := r.u16()
	if err != nil {
		return nil, err
	}
	if super != 0 {
		if f.SuperClass, err = f.Pool.ClassName(super); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}

	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	f.Interfaces = make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		idx, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := f.Pool.ClassName(idx)
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		f.Interfaces = append(f.Interfaces, name)
	}

	if f.Fields, err = parseMembers(r, f.Pool); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	if f.Methods, err = parseMembers(r, f.Pool); err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}
	if f.Attributes, err = parseAttributes(r, f.Pool); err != nil {
		return nil, fmt.Errorf("class attributes: %w", err)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, r.remaining())
	}
	return f, nil
}

func parseMembers(r *reader, pool Pool) ([]Member, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, n)
	for i := 0; i < int(n); i++ {
		var m Member
		if m.Access, err = r.u16(); err != nil {
			return nil, err
		}
		nameIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		descIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		if m.Name, err = pool.Utf8(nameIdx); err != nil {
			return nil, fmt.Errorf("member %d name: %w", i, err)
		}
		if m.Descriptor, err = pool.Utf8(descIdx); err != nil {
			return nil, fmt.Errorf("member %s descriptor: %w", m.Name, err)
		}
		if m.Attributes, err = parseAttributes(r, pool); err != nil {
			return nil, fmt.Errorf("member %s: %w", m.Name, err)
		}
		members = append(members, m)
	}
	return members, nil
}

func parseAttributes(r *reader, pool Pool) ([]Attribute, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	attrs := make([]Attribute, 0, n)
	for i := 0; i < int(n); i++ {
		nameIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := pool.Utf8(nameIdx)
		if err != nil {
			return nil, fmt.Errorf("attribute %d name: %w", i, err)
		}
		length, err := r.u32()
		if err != nil {
			return nil, err
		}
		data, err := r.bytes(int(length))
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		attrs = append(attrs, Attribute{Name: name, Data: data})
	}
	return attrs, nil
}

// Handler is one exception table entry.
type Handler struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	// CatchType is the internal name of the caught class, or empty for a
	// catch-all (finally) handler.
	CatchType string
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack  int
	MaxLocals int
	Bytecode  []byte
	Handlers  []Handler
}

// ParseCode decodes a Code attribute payload.
func ParseCode(data []byte, pool Pool) (*Code, error) {
	r := newReader(data)
	maxStack, err := r.u16()
	if err != nil {
		return nil, err
	}
	maxLocals, err := r.u16()
	if err != nil {
		return nil, err
	}
	length, err := r.u32()
	if err != nil {
		return nil, err
	}
	if length == 0 || length >= 65536 {
		return nil, fmt.Errorf("%w: code length %d", ErrTruncated, length)
	}
	code, err := r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	c := &Code{MaxStack: int(maxStack), MaxLocals: int(maxLocals), Bytecode: code}

	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		var vals [4]uint16
		for j := range vals {
			if vals[j], err = r.u16(); err != nil {
				return nil, err
			}
		}
		h := Handler{StartPC: int(vals[0]), EndPC: int(vals[1]), HandlerPC: int(vals[2])}
		if h.StartPC >= h.EndPC || h.EndPC > len(code) || h.HandlerPC >= len(code) {
			return nil, fmt.Errorf("%w: exception handler %d out of range", ErrBadBranch, i)
		}
		if vals[3] != 0 {
			if h.CatchType, err = pool.ClassName(vals[3]); err != nil {
				return nil, fmt.Errorf("exception handler %d: %w", i, err)
			}
		}
		c.Handlers = append(c.Handlers, h)
	}
	// Nested attributes (LineNumberTable, StackMapTable, ...) are not used
	// but must be well formed.
	if _, err := parseAttributes(r, pool); err != nil {
		return nil, fmt.Errorf("code attributes: %w", err)
	}
	return c, nil
}

// ParseExceptions decodes an Exceptions attribute into internal names.
func ParseExceptions(data []byte, pool Pool) ([]string, error) {
	r := newReader(data)
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		idx, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := pool.ClassName(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// ParseSourceFile decodes a SourceFile attribute.
func ParseSourceFile(data []byte, pool Pool) (string, error) {
	r := newReader(data)
	idx, err := r.u16()
	if err != nil {
		return "", err
	}
	return pool.Utf8(idx)
}
