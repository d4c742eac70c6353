package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// padRow draws lit pads as filled squares and dark ones as outlines.
func padRow(colors [][3]uint8) string {
	cells := make([]string, len(colors))
	for i, c := range colors {
		if c == ([3]uint8{}) {
			cells[i] = "□"
			continue
		}
		cells[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(rgbToHex(c))).Render("■")
	}
	return strings.Join(cells, " ")
}

// PadGrid is a controller's lights: 8x8 grid (row 0 at bottom) plus the
// top row of buttons.
type PadGrid struct {
	Pads [8][8][3]uint8
	Top  [8][3]uint8
}

// Set lights one pad; row 8 is the top row. Others are ignored.
func (g *PadGrid) Set(row, col int, color [3]uint8) {
	switch {
	case col < 0 || col > 7:
	case row == 8:
		g.Top[col] = color
	case row >= 0 && row < 8:
		g.Pads[row][col] = color
	}
}

// RenderPadGrid renders the top row followed by the 8x8 grid, top row of
// pads first.
func RenderPadGrid(g PadGrid) string {
	lines := []string{padRow(g.Top[:])}
	for row := 7; row >= 0; row-- {
		lines = append(lines, padRow(g.Pads[row][:]))
	}
	return strings.Join(lines, "\n")
}

// RenderKeyHelp formats key bindings in a friendly way
func RenderKeyHelp(sections []KeySection) string {
	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, sec.Title)
		}
		for _, k := range sec.Keys {
			lines = append(lines, fmt.Sprintf("  %-12s %s", k.Key, k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}

// KeySection groups related key bindings
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// KeyBinding is a single key and its description
type KeyBinding struct {
	Key  string
	Desc string
}

func rgbToHex(c [3]uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}
