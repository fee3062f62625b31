// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders human-facing CLI output.
//
// Output is styled with lipgloss when stdout is a terminal and falls back
// to plain, script-friendly lines otherwise.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Printer writes status lines. Plain printers emit no escape sequences and
// prefix lines with OK:, WARN: or ERROR: so output stays greppable.
type Printer struct {
	out   io.Writer
	err   io.Writer
	plain bool
}

// NewPrinter returns a printer writing to out and errOut.
func NewPrinter(out, errOut io.Writer, plain bool) *Printer {
	return &Printer{out: out, err: errOut, plain: plain}
}

// Stdio returns a printer for the process streams. It is plain when stdout
// is not a terminal or NO_COLOR is set.
func Stdio() *Printer {
	return NewPrinter(os.Stdout, os.Stderr, !IsTerminal(os.Stdout))
}

// IsTerminal reports whether f is an interactive terminal that accepts
// color.
func IsTerminal(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Plain reports whether styling is off.
func (p *Printer) Plain() bool { return p.plain }

// Out returns the primary writer.
func (p *Printer) Out() io.Writer { return p.out }

// Render applies style unless the printer is plain.
func (p *Printer) Render(style lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return style.Render(text)
}

// Title prints a styled title. Plain printers skip it.
func (p *Printer) Title(text string) {
	if p.plain {
		return
	}
	fmt.Fprintln(p.out, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.plain {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", Styles.Success.Render(string(IconSuccess)), Styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if p.plain {
		fmt.Fprintf(p.err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", Styles.Warning.Render(string(IconWarning)), Styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if p.plain {
		fmt.Fprintf(p.err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", Styles.Error.Render(string(IconError)), Styles.Error.Render(text))
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.plain {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Summary prints a summary line with counts
func (p *Printer) Summary(indexed, failed, total int) {
	if p.plain {
		fmt.Fprintf(p.out, "SUMMARY: indexed=%d failed=%d total=%d\n", indexed, failed, total)
		return
	}
	fmt.Fprintf(p.out, "\n%s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", indexed)), Styles.Muted.Render("indexed"),
		Styles.Error.Render(fmt.Sprintf("%d", failed)), Styles.Muted.Render("failed"),
		Styles.Bold.Render(fmt.Sprintf("%d", total)), Styles.Muted.Render("total"),
	)
}
