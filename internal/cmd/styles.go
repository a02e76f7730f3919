package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	stepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	transStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// stateStyle colours a lifecycle state the same way in record and watch.
func stateStyle(state lifecycle.State) lipgloss.Style {
	switch state {
	case lifecycle.Recording:
		return activeStyle
	case lifecycle.Paused, lifecycle.Processing:
		return transStyle
	default:
		return dimStyle
	}
}

// stepLine renders "Step N: description" with degraded-step markers.
func stepLine(step tutorial.Step) string {
	line := stepStyle.Render(fmt.Sprintf("Step %d:", step.ID)) + " " + step.Description
	var notes []string
	if step.Fallback && step.Coordinates != nil {
		notes = append(notes, "no label")
	}
	if step.Clamped {
		notes = append(notes, "clamped")
	}
	for _, note := range notes {
		line += " " + dimStyle.Render("["+note+"]")
	}
	return line
}
