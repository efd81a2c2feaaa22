// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette for terminal output.
var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorSlate   = lipgloss.Color("#2C4A54")
)

var styles = struct {
	Title    lipgloss.Style
	Muted    lipgloss.Style
	Box      lipgloss.Style
	OK       lipgloss.Style
	Warn     lipgloss.Style
	Fail     lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title: lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
	Muted: lipgloss.NewStyle().Foreground(colorSlate),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorTeal).
		Padding(0, 1),
	OK:   lipgloss.NewStyle().SetString("✓").Foreground(colorTeal),
	Warn: lipgloss.NewStyle().SetString("⚠").Foreground(colorWarning),
	Fail: lipgloss.NewStyle().SetString("✗").Foreground(colorError),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorError).
		Padding(0, 1),
}

// printer writes styled report lines. lipgloss drops the colors on its
// own when stdout is not a terminal.
type printer struct {
	w io.Writer
}

func (p printer) title(text string) {
	fmt.Fprintln(p.w, styles.Title.Render(text))
}

func (p printer) ok(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", styles.OK, fmt.Sprintf(format, args...))
}

func (p printer) warn(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", styles.Warn, fmt.Sprintf(format, args...))
}

func (p printer) fail(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", styles.Fail, fmt.Sprintf(format, args...))
}

func (p printer) muted(format string, args ...any) {
	fmt.Fprintln(p.w, styles.Muted.Render(fmt.Sprintf(format, args...)))
}

func (p printer) box(content string) {
	fmt.Fprintln(p.w, styles.Box.Render(content))
}

func (p printer) errorBox(content string) {
	fmt.Fprintln(p.w, styles.ErrorBox.Render(content))
}
