// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ir defines the language-neutral model produced by lifting JVM
// class files: class and member descriptors, the three-address instruction
// list of a method body, and symbol references.
//
// Values in this package are plain data. They are encoded with a canonical
// CBOR encoding (see codec.go) so that the same class bytes always produce
// the same persisted bytes.
package ir

import (
	"strings"
)

// Access is the JVM access flag bit set shared by classes, fields and methods.
type Access uint16

const (
	AccPublic       Access = 0x0001
	AccPrivate      Access = 0x0002
	AccProtected    Access = 0x0004
	AccStatic       Access = 0x0008
	AccFinal        Access = 0x0010
	AccSynchronized Access = 0x0020 // methods; ACC_SUPER on classes
	AccVolatile     Access = 0x0040 // fields; ACC_BRIDGE on methods
	AccTransient    Access = 0x0080 // fields; ACC_VARARGS on methods
	AccNative       Access = 0x0100
	AccInterface    Access = 0x0200
	AccAbstract     Access = 0x0400
	AccStrict       Access = 0x0800
	AccSynthetic    Access = 0x1000
	AccAnnotation   Access = 0x2000
	AccEnum         Access = 0x4000
	AccModule       Access = 0x8000
)

// Has reports whether every bit of flag is set.
func (a Access) Has(flag Access) bool {
	return a&flag == flag
}

// Modifiers renders method or field modifiers in source order.
//
// Only the modifiers that have a source-level keyword are rendered:
// public, private, protected, static, final, synchronized, native.
func (a Access) Modifiers() []string {
	var mods []string
	for _, m := range modifierOrder {
		if a.Has(m.flag) {
			mods = append(mods, m.name)
		}
	}
	return mods
}

var modifierOrder = []struct {
	flag Access
	name string
}{
	{AccPublic, "public"},
	{AccPrivate, "private"},
	{AccProtected, "protected"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccSynchronized, "synchronized"},
	{AccNative, "native"},
}

// TypeName is a source-level type name such as "int", "java.lang.String"
// or "byte[][]".
type TypeName string

// Well-known type names.
const (
	TypeVoid   TypeName = "void"
	TypeInt    TypeName = "int"
	TypeLong   TypeName = "long"
	TypeFloat  TypeName = "float"
	TypeDouble TypeName = "double"
	TypeObject TypeName = "java.lang.Object"
	TypeString TypeName = "java.lang.String"
	TypeClass  TypeName = "java.lang.Class"
)

// IsArray reports whether t names an array type.
func (t TypeName) IsArray() bool {
	return strings.HasSuffix(string(t), "[]")
}

// Elem returns the component type of an array type, or TypeObject when t is
// not an array.
func (t TypeName) Elem() TypeName {
	if !t.IsArray() {
		return TypeObject
	}
	return t[:len(t)-2]
}

// AnnotationRef names an annotation attached to a class, field or method.
type AnnotationRef struct {
	Type    TypeName `json:"type"`
	Visible bool     `json:"visible,omitempty"`
}

// Version is the class file format version.
type Version struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor,omitempty"`
}

// Class describes one lifted class.
type Class struct {
	Name        string          `json:"name"`
	Access      Access          `json:"access,omitempty"`
	Super       string          `json:"super,omitempty"`
	Interfaces  []string        `json:"interfaces,omitempty"`
	Fields      []Field         `json:"fields,omitempty"`
	Methods     []Method        `json:"methods,omitempty"`
	Annotations []AnnotationRef `json:"annotations,omitempty"`
	SourceFile  string          `json:"source_file,omitempty"`
	Version     Version         `json:"version"`
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool {
	return c.Access.Has(AccInterface)
}

// Method returns the method with the given key, or nil.
func (c *Class) Method(key string) *Method {
	for i := range c.Methods {
		if c.Methods[i].Key() == key {
			return &c.Methods[i]
		}
	}
	return nil
}

// MethodsNamed returns all overloads of name in declaration order.
func (c *Class) MethodsNamed(name string) []*Method {
	var out []*Method
	for i := range c.Methods {
		if c.Methods[i].Name == name {
			out = append(out, &c.Methods[i])
		}
	}
	return out
}

// Field returns the field with the given name and descriptor, or nil. An
// empty descriptor matches any.
func (c *Class) Field(name, descriptor string) *Field {
	for i := range c.Fields {
		f := &c.Fields[i]
		if f.Name == name && (descriptor == "" || f.Descriptor == descriptor) {
			return f
		}
	}
	return nil
}

// Field describes one declared field.
type Field struct {
	Owner       string          `json:"owner"`
	Name        string          `json:"name"`
	Descriptor  string          `json:"descriptor"`
	Type        TypeName        `json:"type"`
	Access      Access          `json:"access,omitempty"`
	Annotations []AnnotationRef `json:"annotations,omitempty"`
}

// Method describes one declared method. Its body is stored separately and
// materialized on demand.
type Method struct {
	Owner       string          `json:"owner"`
	Name        string          `json:"name"`
	Descriptor  string          `json:"descriptor"`
	Params      []TypeName      `json:"params,omitempty"`
	Return      TypeName        `json:"return"`
	Access      Access          `json:"access,omitempty"`
	Annotations []AnnotationRef `json:"annotations,omitempty"`
	Exceptions  []string        `json:"exceptions,omitempty"`
	HasBody     bool            `json:"has_body,omitempty"`
}

// Key identifies the method within its owner. It joins the name with the
// full descriptor, return type included, so bridge methods that differ only
// by return type stay distinct.
func (m *Method) Key() string {
	return m.Name + m.Descriptor
}

// Signature renders the method as "<mods> <owner>#<name>(<params>) -> <ret>".
func (m *Method) Signature() string {
	var sb strings.Builder
	for _, mod := range m.Access.Modifiers() {
		sb.WriteString(mod)
		sb.WriteByte(' ')
	}
	sb.WriteString(m.Owner)
	sb.WriteByte('#')
	sb.WriteString(m.Name)
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(string(p))
	}
	sb.WriteString(") -> ")
	sb.WriteString(string(m.Return))
	return sb.String()
}

// Lifted is the complete output of lifting a single class file. Bodies is
// parallel to Class.Methods.
type Lifted struct {
	Class  *Class
	Bodies []*Body
}
