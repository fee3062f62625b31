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
	"strings"

	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

// Category is the computational category of a value on the operand stack.
type Category uint8

const (
	CatVoid Category = iota
	CatInt
	CatLong
	CatFloat
	CatDouble
	CatRef
)

// Words returns the number of stack words a value of category c occupies.
func (c Category) Words() int {
	switch c {
	case CatLong, CatDouble:
		return 2
	case CatVoid:
		return 0
	default:
		return 1
	}
}

var categoryNames = [...]string{"V", "I", "J", "F", "D", "A"}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "?"
}

// FieldType is one parsed field descriptor.
type FieldType struct {
	Descriptor string
	Type       ir.TypeName
	Category   Category
}

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []FieldType
	Return FieldType
}

// ParamWords returns the number of stack words taken by the parameters.
func (m MethodType) ParamWords() int {
	n := 0
	for _, p := range m.Params {
		n += p.Category.Words()
	}
	return n
}

// ParseFieldType parses a single field descriptor such as "I" or
// "[Ljava/lang/String;".
func ParseFieldType(desc string) (FieldType, error) {
	ft, n, err := parseOne(desc, false)
	if err != nil {
		return FieldType{}, err
	}
	if n != len(desc) {
		return FieldType{}, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	return ft, nil
}

// ParseMethodType parses a method descriptor such as "(I[J)V".
func ParseMethodType(desc string) (MethodType, error) {
	if !strings.HasPrefix(desc, "(") {
		return MethodType{}, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	var mt MethodType
	i := 1
	for {
		if i >= len(desc) {
			return MethodType{}, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
		if desc[i] == ')' {
			i++
			break
		}
		ft, n, err := parseOne(desc[i:], false)
		if err != nil {
			return MethodType{}, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
		mt.Params = append(mt.Params, ft)
		i += n
	}
	ret, n, err := parseOne(desc[i:], true)
	if err != nil || i+n != len(desc) {
		return MethodType{}, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	mt.Return = ret
	return mt, nil
}

// TypeOf converts a field descriptor to a type name.
func TypeOf(desc string) (ir.TypeName, error) {
	ft, err := ParseFieldType(desc)
	if err != nil {
		return "", err
	}
	return ft.Type, nil
}

func parseOne(desc string, allowVoid bool) (FieldType, int, error) {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	if dims > 255 || dims >= len(desc) {
		return FieldType{}, 0, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	var (
		base ir.TypeName
		cat  Category
		end  = dims + 1
	)
	switch desc[dims] {
	case 'B':
		base, cat = "byte", CatInt
	case 'C':
		base, cat = "char", CatInt
	case 'S':
		base, cat = "short", CatInt
	case 'Z':
		base, cat = "boolean", CatInt
	case 'I':
		base, cat = ir.TypeInt, CatInt
	case 'J':
		base, cat = ir.TypeLong, CatLong
	case 'F':
		base, cat = ir.TypeFloat, CatFloat
	case 'D':
		base, cat = ir.TypeDouble, CatDouble
	case 'V':
		if !allowVoid || dims > 0 {
			return FieldType{}, 0, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
		base, cat = ir.TypeVoid, CatVoid
	case 'L':
		semi := strings.IndexByte(desc[dims:], ';')
		if semi <= 1 {
			return FieldType{}, 0, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
		base = ir.TypeName(strings.ReplaceAll(desc[dims+1:dims+semi], "/", "."))
		cat = CatRef
		end = dims + semi + 1
	default:
		return FieldType{}, 0, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	if dims > 0 {
		base += ir.TypeName(strings.Repeat("[]", dims))
		cat = CatRef
	}
	return FieldType{Descriptor: desc[:end], Type: base, Category: cat}, end, nil
}
