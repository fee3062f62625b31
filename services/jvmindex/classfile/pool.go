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
	"math"
	"strings"
)

// Tag is a constant pool entry tag.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

// Constant is one constant pool entry. Which fields are set depends on Tag:
// Utf8 uses Str; Integer/Float/Long/Double use Int, Float; references use
// Index1 and Index2; MethodHandle uses Kind and Index1.
type Constant struct {
	Tag    Tag
	Str    string
	Int    int64
	Float  float64
	Kind   uint8
	Index1 uint16
	Index2 uint16
}

// Pool is a parsed constant pool. Index 0 and the slot following a Long or
// Double are unusable and hold a zero Constant.
type Pool []Constant

func parsePool(r *reader) (Pool, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty constant pool", ErrBadConstant)
	}
	pool := make(Pool, count)
	for i := 1; i < int(count); i++ {
		tag, err := r.u8()
		if err != nil {
			return nil, err
		}
		c := Constant{Tag: Tag(tag)}
		switch c.Tag {
		case TagUtf8:
			n, err := r.u16()
			if err != nil {
				return nil, err
			}
			raw, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			s, ok := decodeModifiedUTF8(raw)
			if !ok {
				return nil, fmt.Errorf("%w: #%d: invalid modified UTF-8", ErrBadConstant, i)
			}
			c.Str = s
		case TagInteger:
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			c.Int = int64(int32(v))
		case TagFloat:
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			c.Float = float64(math.Float32frombits(v))
		case TagLong:
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			c.Int = int64(v)
		case TagDouble:
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			c.Float = math.Float64frombits(v)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			if c.Index1, err = r.u16(); err != nil {
				return nil, err
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			if c.Index1, err = r.u16(); err != nil {
				return nil, err
			}
			if c.Index2, err = r.u16(); err != nil {
				return nil, err
			}
		case TagMethodHandle:
			if c.Kind, err = r.u8(); err != nil {
				return nil, err
			}
			if c.Index1, err = r.u16(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: #%d: unknown tag %d", ErrBadConstant, i, tag)
		}
		pool[i] = c
		if c.Tag == TagLong || c.Tag == TagDouble {
			// Eight-byte constants take two slots.
			i++
		}
	}
	return pool, nil
}

// Entry returns constant i, checking its tag against any of want.
func (p Pool) Entry(i uint16, want ...Tag) (*Constant, error) {
	if i == 0 || int(i) >= len(p) || p[i].Tag == 0 {
		return nil, fmt.Errorf("%w: index %d out of range", ErrBadConstant, i)
	}
	c := &p[i]
	if len(want) == 0 {
		return c, nil
	}
	for _, t := range want {
		if c.Tag == t {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: #%d has tag %d", ErrBadConstant, i, c.Tag)
}

// Utf8 returns the string at index i.
func (p Pool) Utf8(i uint16) (string, error) {
	c, err := p.Entry(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Str, nil
}

// ClassName returns the internal name ("java/lang/String") of the Class
// constant at index i.
func (p Pool) ClassName(i uint16) (string, error) {
	c, err := p.Entry(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.Index1)
}

// NameAndType returns the name and descriptor of the NameAndType at i.
func (p Pool) NameAndType(i uint16) (name, descriptor string, err error) {
	c, err := p.Entry(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.Index1); err != nil {
		return "", "", err
	}
	if descriptor, err = p.Utf8(c.Index2); err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

// Ref is a decoded Fieldref, Methodref or InterfaceMethodref.
type Ref struct {
	Tag        Tag
	Owner      string // internal name
	Name       string
	Descriptor string
}

// MemberRef decodes the field or method reference at index i.
func (p Pool) MemberRef(i uint16) (Ref, error) {
	c, err := p.Entry(i, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return Ref{}, err
	}
	owner, err := p.ClassName(c.Index1)
	if err != nil {
		return Ref{}, err
	}
	name, desc, err := p.NameAndType(c.Index2)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Tag: c.Tag, Owner: owner, Name: name, Descriptor: desc}, nil
}

// InvokeDynamic decodes the name and descriptor of an InvokeDynamic or
// Dynamic constant at index i.
func (p Pool) InvokeDynamic(i uint16) (name, descriptor string, err error) {
	c, err := p.Entry(i, TagInvokeDynamic, TagDynamic)
	if err != nil {
		return "", "", err
	}
	return p.NameAndType(c.Index2)
}

// DottedName converts an internal name ("com/example/Foo") to its binary
// form ("com.example.Foo"). Array descriptors are converted to type names.
func DottedName(internal string) string {
	if strings.HasPrefix(internal, "[") {
		if t, err := TypeOf(internal); err == nil {
			return string(t)
		}
	}
	return strings.ReplaceAll(internal, "/", ".")
}
