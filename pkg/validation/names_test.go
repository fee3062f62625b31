// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateClassName(t *testing.T) {
	tests := []struct {
		name    string
		class   string
		wantErr bool
	}{
		// Valid names
		{"dotted", "com.example.Foo", false},
		{"slashed", "com/example/Foo", false},
		{"nested", "com.example.Foo$Inner", false},
		{"default package", "Foo", false},
		{"module info", "module-info", false},
		{"unicode", "com.exämple.Fôo", false},
		{"underscore", "_.a_b", false},

		// Invalid names
		{"empty", "", true},
		{"leading dot", ".Foo", true},
		{"trailing dot", "com.Foo.", true},
		{"double dot", "com..Foo", true},
		{"starts with digit", "1com.Foo", true},
		{"space", "com.Foo Bar", true},
		{"path traversal", "../etc/passwd", true},
		{"newline", "com.Foo\n", true},
		{"descriptor", "Lcom/Foo;", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateClassName(tt.class)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClassName(%q) error = %v, wantErr %v", tt.class, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ValidateClassName(%q) error = %v, want ErrInvalidName", tt.class, err)
			}
		})
	}
}

func TestValidateMethodKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		// Valid keys
		{"void no args", "run()V", false},
		{"primitive", "bar(I)V", false},
		{"reference", "name(Ljava/lang/String;)Ljava/lang/String;", false},
		{"arrays", "main([Ljava/lang/String;)V", false},
		{"multi dim", "m([[IJ)[[D", false},
		{"constructor", "<init>(Lcom/example/Foo;Z)V", false},
		{"static init", "<clinit>()V", false},
		{"lambda", "lambda$main$0(I)Z", false},

		// Invalid keys
		{"empty", "", true},
		{"no descriptor", "bar", true},
		{"dotted reference", "f(Ljava.lang.String;)V", true},
		{"void parameter", "f(V)V", true},
		{"missing return", "f(I)", true},
		{"unterminated reference", "f(Ljava/lang/String)V", true},
		{"unknown type", "f(Q)V", true},
		{"bad special name", "<cinit>()V", true},
		{"trailing junk", "f()V;drop", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMethodKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMethodKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}
