package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Role is a position (0-1) along the palette gradient.
type Role float64

const (
	RoleBG      Role = 0.0 // deep purple
	RoleMuted   Role = 0.2
	RoleAccent  Role = 0.5 // vivid magenta
	RoleCursor  Role = 0.6
	RoleActive  Role = 0.7 // soft red
	RoleWarning Role = 0.8
	RoleSuccess Role = 1.0 // bright yellow
)

// Cell states, used to index Symbols.
const (
	CellOff = iota
	CellOn
	CellPlayhead
)

// Symbols holds the grid glyphs, one per cell state, with and without the
// cursor on the cell.
type Symbols struct {
	Step   [3]rune
	Cursor [3]rune
}

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

// New builds a theme over palette, or over Plasma when palette is empty.
func New(palette *Palette) *Theme {
	if palette == nil || len(palette.Colors) == 0 {
		palette = Plasma()
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			Step:   [3]rune{'·', '●', '▶'},
			Cursor: [3]rune{'○', '◉', '▷'},
		},
	}
}

// Of returns the color at a role's palette position.
func (t *Theme) Of(r Role) lipgloss.Color {
	return t.Color(float64(r))
}

func (t *Theme) BG() lipgloss.Color      { return t.Of(RoleBG) }
func (t *Theme) Muted() lipgloss.Color   { return t.Of(RoleMuted) }
func (t *Theme) Accent() lipgloss.Color  { return t.Of(RoleAccent) }
func (t *Theme) Cursor() lipgloss.Color  { return t.Of(RoleCursor) }
func (t *Theme) Active() lipgloss.Color  { return t.Of(RoleActive) }
func (t *Theme) Warning() lipgloss.Color { return t.Of(RoleWarning) }
func (t *Theme) Success() lipgloss.Color { return t.Of(RoleSuccess) }

// Track spreads the drum tracks across the upper half of the palette.
func (t *Theme) Track(track, tracks int) lipgloss.Color {
	if tracks <= 1 {
		return t.Active()
	}
	return t.Color(0.4 + 0.6*(float64(track)/float64(tracks-1)))
}

// Color maps any position 0-1 to a terminal color.
func (t *Theme) Color(pos float64) lipgloss.Color {
	c := t.Palette.Lookup(pos)
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
