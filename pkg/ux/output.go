// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Sentria color palette - signal greens and alert ambers
var (
	// Primary palette
	ColorGreenBright  = lipgloss.Color("#3DDC97") // Bright green - approvals, success
	ColorGreenPrimary = lipgloss.Color("#2BB881") // Primary green - main brand color
	ColorGreenDeep    = lipgloss.Color("#1E8A63") // Deep green - borders, accents

	// Dark palette
	ColorSlate   = lipgloss.Color("#4A5568") // Slate - muted text, borders
	ColorCharcoa = lipgloss.Color("#1A202C") // Charcoal - backgrounds

	// Semantic colors
	ColorSuccess = lipgloss.Color("#3DDC97") // Bright green for approved content
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorBlocked = lipgloss.Color("#E74C3C") // Red for blocked content
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
	ColorMuted   = lipgloss.Color("#4A5568") // Slate for muted text
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

	Box        lipgloss.Style
	BlockedBox lipgloss.Style
	ErrorBox   lipgloss.Style

	StatusOK      lipgloss.Style
	StatusWarning lipgloss.Style
	StatusError   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorGreenBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorGreenPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorGreenBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorGreenDeep).
		Padding(0, 1),
	BlockedBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBlocked).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	StatusOK:      lipgloss.NewStyle().SetString("✓").Foreground(ColorSuccess),
	StatusWarning: lipgloss.NewStyle().SetString("⚠").Foreground(ColorWarning),
	StatusError:   lipgloss.NewStyle().SetString("✗").Foreground(ColorError),
}

// Success prints a success message with a check mark.
func Success(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s %s\n",
		Styles.StatusOK.String(),
		Styles.Success.Render(fmt.Sprintf(format, args...)))
}

// Warn prints a warning message.
func Warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n",
		Styles.StatusWarning.String(),
		Styles.Warning.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func Error(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n",
		Styles.StatusError.String(),
		Styles.Error.Render(fmt.Sprintf(format, args...)))
}

// Info prints a muted informational message.
func Info(format string, args ...any) {
	fmt.Fprintln(os.Stdout, Styles.Muted.Render(fmt.Sprintf(format, args...)))
}
