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

// ParseAnnotations returns the type descriptors of the annotations in a
// Runtime(In)VisibleAnnotations attribute. Element values are validated
// and skipped.
func ParseAnnotations(data []byte, pool Pool) ([]string, error) {
	r := newReader(data)
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		desc, err := readAnnotation(r, pool, 0)
		if err != nil {
			return nil, fmt.Errorf("annotation %d: %w", i, err)
		}
		out = append(out, desc)
	}
	return out, nil
}

// maxAnnotationDepth bounds nested annotation values.
const maxAnnotationDepth = 64

func readAnnotation(r *reader, pool Pool, depth int) (string, error) {
	if depth > maxAnnotationDepth {
		return "", fmt.Errorf("%w: annotation nesting too deep", ErrBadConstant)
	}
	typeIdx, err := r.u16()
	if err != nil {
		return "", err
	}
	desc, err := pool.Utf8(typeIdx)
	if err != nil {
		return "", err
	}
	pairs, err := r.u16()
	if err != nil {
		return "", err
	}
	for i := 0; i < int(pairs); i++ {
		if _, err := r.u16(); err != nil {
			return "", err
		}
		if err := skipElementValue(r, pool, depth); err != nil {
			return "", err
		}
	}
	return desc, nil
}

func skipElementValue(r *reader, pool Pool, depth int) error {
	tag, err := r.u8()
	if err != nil {
		return err
	}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		return r.skip(2)
	case 'e':
		return r.skip(4)
	case '@':
		_, err := readAnnotation(r, pool, depth+1)
		return err
	case '[':
		n, err := r.u16()
		if err != nil {
			return err
		}
		for i := 0; i < int(n); i++ {
			if err := skipElementValue(r, pool, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: element value tag %q", ErrBadConstant, tag)
	}
}
