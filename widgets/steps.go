package widgets

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"go-syncstart/theme"
)

// StepCell is one cell of the step grid as drawn.
type StepCell struct {
	On       bool
	Playhead bool
	Cursor   bool
}

// StepSymbol picks the glyph for a cell.
func StepSymbol(sym theme.Symbols, c StepCell) rune {
	state := theme.CellOff
	switch {
	case c.Playhead:
		state = theme.CellPlayhead
	case c.On:
		state = theme.CellOn
	}
	if c.Cursor {
		return sym.Cursor[state]
	}
	return sym.Step[state]
}

// RenderStepRow draws one track: label, then the cells with a gap every
// group steps.
func RenderStepRow(th *theme.Theme, label string, color lipgloss.Color, cells []StepCell, group int) string {
	on := lipgloss.NewStyle().Foreground(color)
	off := lipgloss.NewStyle().Foreground(th.Muted())
	cursor := lipgloss.NewStyle().Foreground(th.Cursor()).Bold(true)
	head := lipgloss.NewStyle().Foreground(th.Success())

	var out strings.Builder
	out.WriteString(lipgloss.NewStyle().Width(6).Render(label))
	for i, c := range cells {
		if group > 0 && i > 0 && i%group == 0 {
			out.WriteString("  ")
		} else if i > 0 {
			out.WriteString(" ")
		}
		style := off
		switch {
		case c.Cursor:
			style = cursor
		case c.Playhead:
			style = head
		case c.On:
			style = on
		}
		out.WriteString(style.Render(string(StepSymbol(th.Symbols, c))))
	}
	return out.String()
}
