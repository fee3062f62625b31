// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lift

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

var (
	// ErrMalformedBytecode indicates the class file or a method body is
	// structurally invalid.
	ErrMalformedBytecode = errors.New("malformed bytecode")

	// ErrUnsupportedFeature indicates a method uses a construct the lifter
	// does not model (jsr/ret subroutines).
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrStackShapeMismatch indicates two control-flow paths reach the same
	// instruction with different operand stack depth or categories.
	ErrStackShapeMismatch = errors.New("stack shape mismatch")
)

// MethodError is a method-level lift failure. The other methods of the
// class are unaffected.
type MethodError struct {
	Class  string
	Method string
	PC     int
	Err    error
}

// Error implements the error interface.
func (e *MethodError) Error() string {
	return fmt.Sprintf("%s.%s at pc %d: %v", e.Class, e.Method, e.PC, e.Err)
}

// Unwrap returns the underlying error.
func (e *MethodError) Unwrap() error {
	return e.Err
}

// failure carries a kind through the lifting passes until it is recorded on
// the body.
type failure struct {
	kind ir.FailureKind
	pc   int
	msg  string
}

func (f *failure) Error() string { return f.msg }

func malformed(pc int, format string, args ...any) *failure {
	return &failure{kind: ir.FailureMalformed, pc: pc, msg: fmt.Sprintf(format, args...)}
}

func unsupported(pc int, format string, args ...any) *failure {
	return &failure{kind: ir.FailureUnsupported, pc: pc, msg: fmt.Sprintf(format, args...)}
}

func shapeMismatch(pc int, format string, args ...any) *failure {
	return &failure{kind: ir.FailureStackShape, pc: pc, msg: fmt.Sprintf(format, args...)}
}

// BodyError converts the failure recorded on a body into a *MethodError
// wrapping the matching sentinel. It returns nil for a body that lifted.
func BodyError(class string, b *ir.Body) error {
	if b == nil || b.Failure == nil {
		return nil
	}
	var sentinel error
	switch b.Failure.Kind {
	case ir.FailureUnsupported:
		sentinel = ErrUnsupportedFeature
	case ir.FailureStackShape:
		sentinel = ErrStackShapeMismatch
	default:
		sentinel = ErrMalformedBytecode
	}
	return &MethodError{
		Class:  class,
		Method: b.Method,
		PC:     b.Failure.PC,
		Err:    fmt.Errorf("%w: %s", sentinel, b.Failure.Message),
	}
}
