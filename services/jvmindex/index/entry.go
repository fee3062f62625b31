// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

// formatVersion is bumped whenever the encoded IR changes shape.
const formatVersion = 1

// Entry is the stored form of one lifted class.
type Entry struct {
	Key Key `json:"key"`

	// Class is the canonical encoding of the class descriptor.
	Class []byte `json:"class"`

	// Bodies holds one canonical body encoding per method, in declaration
	// order.
	Bodies [][]byte `json:"bodies"`
}

// NewEntry encodes a lifted class under key.
func NewEntry(key Key, l *ir.Lifted) (*Entry, error) {
	class, err := ir.EncodeClass(l.Class)
	if err != nil {
		return nil, err
	}
	e := &Entry{Key: key, Class: class, Bodies: make([][]byte, len(l.Bodies))}
	for i, b := range l.Bodies {
		if e.Bodies[i], err = ir.EncodeBody(b); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Lifted decodes the entry back into the IR.
func (e *Entry) Lifted() (*ir.Lifted, error) {
	class, err := ir.DecodeClass(e.Class)
	if err != nil {
		return nil, err
	}
	if len(e.Bodies) != len(class.Methods) {
		return nil, fmt.Errorf("%w: %d bodies for %d methods", ErrCorruptEntry, len(e.Bodies), len(class.Methods))
	}
	l := &ir.Lifted{Class: class, Bodies: make([]*ir.Body, len(e.Bodies))}
	for i, raw := range e.Bodies {
		if l.Bodies[i], err = ir.DecodeBody(raw); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Body decodes a single method body by declaration index.
func (e *Entry) Body(i int) (*ir.Body, error) {
	if i < 0 || i >= len(e.Bodies) {
		return nil, fmt.Errorf("body index %d out of range", i)
	}
	return ir.DecodeBody(e.Bodies[i])
}

// ArchiveRecord remembers what the index last saw at an archive path.
type ArchiveRecord struct {
	Path           string `json:"path"`
	Hash           string `json:"hash"`
	ClassCount     int    `json:"class_count"`
	IndexedAtMilli int64  `json:"indexed_at_milli"`
}

// envelope wraps every stored value with a format version and a checksum
// of the payload.
type envelope struct {
	Version  int    `json:"v"`
	Checksum string `json:"sum"`
	Payload  []byte `json:"p"`
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func seal(v any) ([]byte, error) {
	payload, err := ir.Marshal(v)
	if err != nil {
		return nil, err
	}
	return ir.Marshal(envelope{Version: formatVersion, Checksum: checksum(payload), Payload: payload})
}

// open verifies and decodes a sealed value. Every failure wraps
// ErrCorruptEntry.
func open(raw []byte, v any) error {
	var env envelope
	if err := ir.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	if env.Version != formatVersion {
		return fmt.Errorf("%w: format version %d", ErrCorruptEntry, env.Version)
	}
	if checksum(env.Payload) != env.Checksum {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptEntry)
	}
	if err := ir.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	return nil
}
