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

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is canonical CBOR: map keys are sorted, so equal values always
// encode to equal bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ir: cbor dec mode: %v", err))
	}
}

// Marshal encodes v canonically.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ir marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes data produced by Marshal into v.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ir unmarshal: %w", err)
	}
	return nil
}

// EncodeClass encodes a class descriptor.
func EncodeClass(c *Class) ([]byte, error) {
	return Marshal(c)
}

// DecodeClass decodes a class descriptor.
func DecodeClass(data []byte) (*Class, error) {
	var c Class
	if err := Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// EncodeBody encodes a method body.
func EncodeBody(b *Body) ([]byte, error) {
	return Marshal(b)
}

// DecodeBody decodes a method body.
func DecodeBody(data []byte) (*Body, error) {
	var b Body
	if err := Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
