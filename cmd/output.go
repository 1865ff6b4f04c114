// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Styles shared by the line-oriented commands
var (
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)
)

// renderReply colours a processor reply by outcome
func renderReply(r Reply) string {
	if r.OK {
		return okStyle.Render(r.Text)
	}
	return failStyle.Render(r.Text)
}

// formatProgress renders load progress as "written/total bytes (pct%)"
func formatProgress(written, total uint32) string {
	pct := 100.0
	if total > 0 {
		pct = float64(written) * 100.0 / float64(total)
	}
	return fmt.Sprintf("%d/%d bytes (%.0f%%)", written, total, pct)
}
