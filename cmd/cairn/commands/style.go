// Copyright 2026 The Cairn Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/cairn-run/cairn/lib/runbook"
)

// Styles follow the terminal's detected color profile; a dumb
// terminal or piped output degrades to plain text.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	tokenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
)

func init() {
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// statusBadge renders a step status with its conventional glyph.
func statusBadge(status runbook.Status) string {
	switch status {
	case runbook.StatusSuccess:
		return successStyle.Render("✓")
	case runbook.StatusFailed:
		return failureStyle.Render("✗")
	case runbook.StatusRunning:
		return runningStyle.Render("▶")
	case runbook.StatusSkipped:
		return dimStyle.Render("–")
	}
	return dimStyle.Render("·")
}

// stepLine renders one step for list output.
func stepLine(index int, step runbook.Step) string {
	return fmt.Sprintf("  %s %s %s", statusBadge(step.Status),
		dimStyle.Render(fmt.Sprintf("%2d", index)), titleStyle.Render(step.Title))
}
