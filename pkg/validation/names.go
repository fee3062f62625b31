// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package validation checks user-provided JVM names before they reach the
// index.
//
// Class names and method keys arrive as URL path segments and CLI
// arguments. They become index keys, so anything that is not a well-formed
// binary name or descriptor is rejected up front.
package validation

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxNameLength bounds class names and method keys.
const MaxNameLength = 1024

// ErrInvalidName is wrapped by every validation failure.
var ErrInvalidName = errors.New("invalid name")

// segment is one package or class name component. Hyphens cover
// module-info and package-info.
const segment = `[\p{L}_$][\p{L}\p{N}_$-]*`

// classPattern matches dotted or slashed binary names, e.g.
// com.example.Foo$Inner or com/example/Foo.
var classPattern = regexp.MustCompile(`^` + segment + `([./]` + segment + `)*$`)

// fieldType matches one descriptor field type.
const fieldType = `\[*(?:[BCDFIJSZ]|L` + segment + `(?:/` + segment + `)*;)`

// methodKeyPattern matches a method name followed by its descriptor, e.g.
// bar(ILjava/lang/String;)V.
var methodKeyPattern = regexp.MustCompile(
	`^(?:<init>|<clinit>|[\p{L}_$][\p{L}\p{N}_$]*)\((?:` + fieldType + `)*\)(?:V|` + fieldType + `)$`)

// ValidateClassName validates a binary class name.
//
// Example:
//
//	if err := validation.ValidateClassName(name); err != nil {
//	    return nil, err
//	}
func ValidateClassName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: class name cannot be empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: class name longer than %d bytes", ErrInvalidName, MaxNameLength)
	}
	if !classPattern.MatchString(name) {
		return fmt.Errorf("%w: class name %q", ErrInvalidName, name)
	}
	return nil
}

// ValidateMethodKey validates a method key: the method name immediately
// followed by its full descriptor.
func ValidateMethodKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: method key cannot be empty", ErrInvalidName)
	}
	if len(key) > MaxNameLength {
		return fmt.Errorf("%w: method key longer than %d bytes", ErrInvalidName, MaxNameLength)
	}
	if !methodKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: method key %q (want name and descriptor, e.g. bar(I)V)", ErrInvalidName, key)
	}
	return nil
}
