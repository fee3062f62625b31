// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func newTestPrinter(plain bool) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewPrinter(&out, &errOut, plain), &out, &errOut
}

func TestPlainPrinter(t *testing.T) {
	p, out, errOut := newTestPrinter(true)

	p.Title("jvmindex")
	p.Success("indexed /lib/a.jar")
	p.Info("2 classes")
	p.Warning("class not indexed")
	p.Error("archive not found")
	p.Summary(3, 1, 4)

	assert.Equal(t, "OK: indexed /lib/a.jar\n2 classes\nSUMMARY: indexed=3 failed=1 total=4\n", out.String())
	assert.Equal(t, "WARN: class not indexed\nERROR: archive not found\n", errOut.String())
	assert.True(t, p.Plain())
	assert.Same(t, out, p.Out())
}

func TestStyledPrinter(t *testing.T) {
	p, out, errOut := newTestPrinter(false)

	p.Success("indexed")
	p.Error("failed")

	assert.Contains(t, out.String(), string(IconSuccess))
	assert.Contains(t, out.String(), "indexed")
	assert.Contains(t, errOut.String(), string(IconError))
	assert.Contains(t, errOut.String(), "failed")
}

func TestRender(t *testing.T) {
	style := lipgloss.NewStyle().Bold(true)
	plain, _, _ := newTestPrinter(true)
	assert.Equal(t, "Target: a.B", plain.Render(style, "Target: a.B"))

	styled, _, _ := newTestPrinter(false)
	assert.Contains(t, styled.Render(style, "Target: a.B"), "Target: a.B")
}

func TestIsTerminal_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, IsTerminal(os.Stdout))
}

func TestIsTerminal_File(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	assert.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTerminal(f))
}
