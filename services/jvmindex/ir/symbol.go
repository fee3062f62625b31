// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ir

// SymbolKind says what a SymbolRef resolved to.
type SymbolKind uint8

const (
	SymbolUnresolved SymbolKind = iota
	SymbolClass
	SymbolMethod
	SymbolField
)

var symbolKindNames = [...]string{"unresolved", "class", "method", "field"}

func (k SymbolKind) String() string {
	if int(k) < len(symbolKindNames) {
		return symbolKindNames[k]
	}
	return "unknown"
}

// SymbolRef is a reference to a class or member, either resolved against
// the classes of a view or left unresolved with the name that was looked up.
type SymbolRef struct {
	Kind SymbolKind `json:"kind"`
	// Name is the looked-up name. For an unresolved reference it is the
	// missing class ("absent.Class") or the missing member ("Owner.member").
	Name string `json:"name"`
	// Class is the declaring class of a resolved member or the class itself.
	Class      string `json:"class,omitempty"`
	Member     string `json:"member,omitempty"`
	Descriptor string `json:"descriptor,omitempty"`
	// Archive is the classpath entry that supplied Class.
	Archive string `json:"archive,omitempty"`
}

// Unresolved returns an unresolved reference to name.
func Unresolved(name string) SymbolRef {
	return SymbolRef{Kind: SymbolUnresolved, Name: name}
}

// Resolved reports whether the reference points at a known declaration.
func (s SymbolRef) Resolved() bool {
	return s.Kind != SymbolUnresolved
}

// String renders the reference for dumps.
func (s SymbolRef) String() string {
	switch s.Kind {
	case SymbolUnresolved:
		return "unresolved(" + s.Name + ")"
	case SymbolClass:
		return s.Class
	default:
		return s.Class + "." + s.Member
	}
}
