// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classfile decodes the JVM class file format: the constant pool,
// members, attributes, descriptors and the bytecode instruction stream.
//
// It performs structural validation only. Anything it cannot read is
// reported as one of the errors below; callers map them to a
// malformed-bytecode failure.
package classfile

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated indicates the input ended before a structure was complete.
	ErrTruncated = errors.New("truncated class data")

	// ErrBadMagic indicates the input does not start with 0xCAFEBABE.
	ErrBadMagic = errors.New("bad magic number")

	// ErrUnsupportedVersion indicates a class file version outside the
	// supported range.
	ErrUnsupportedVersion = errors.New("unsupported class file version")

	// ErrBadConstant indicates an invalid constant pool tag or reference.
	ErrBadConstant = errors.New("invalid constant pool entry")

	// ErrBadDescriptor indicates a field or method descriptor that does not
	// parse.
	ErrBadDescriptor = errors.New("invalid descriptor")

	// ErrBadOpcode indicates an undefined or reserved opcode.
	ErrBadOpcode = errors.New("invalid opcode")

	// ErrBadBranch indicates a branch whose target is not an instruction
	// boundary inside the code array.
	ErrBadBranch = errors.New("invalid branch target")

	// ErrTrailingData indicates bytes after the last class structure.
	ErrTrailingData = errors.New("trailing data after class structure")
)

// Supported class file major versions (JDK 1.1 through JDK 25).
const (
	MinMajorVersion = 45
	MaxMajorVersion = 69
)

// PCError attaches a bytecode offset to a decoding error.
type PCError struct {
	PC  int
	Err error
}

// Error implements the error interface.
func (e *PCError) Error() string {
	return fmt.Sprintf("pc %d: %v", e.PC, e.Err)
}

// Unwrap returns the underlying error.
func (e *PCError) Unwrap() error {
	return e.Err
}
