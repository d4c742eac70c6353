package theme

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type RGB [3]uint8

type Palette struct {
	Name   string
	Colors []RGB
}

// Plasma is the built-in palette, sampled from the matplotlib colormap.
func Plasma() *Palette {
	return &Palette{
		Name: "plasma",
		Colors: []RGB{
			{13, 8, 135},
			{84, 2, 163},
			{139, 10, 165},
			{185, 50, 137},
			{219, 92, 104},
			{244, 136, 73},
			{254, 188, 43},
			{240, 249, 33},
		},
	}
}

// Load reads a GIMP palette from path, or returns Plasma when path is
// empty.
func Load(path string) (*Palette, error) {
	if path == "" {
		return Plasma(), nil
	}
	return LoadGPL(path)
}

func LoadGPL(path string) (*Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "palette")
	}
	defer f.Close()

	p, err := ParseGPL(f)
	if err != nil {
		return nil, errors.Wrapf(err, "palette %s", path)
	}
	return p, nil
}

// ParseGPL reads the GIMP palette format: a "GIMP Palette" header, optional
// Name and Columns lines, comments, then one "R G B [name]" line per color.
func ParseGPL(r io.Reader) (*Palette, error) {
	p := &Palette{}
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "", line[0] == '#', line == "GIMP Palette",
			strings.HasPrefix(line, "Columns:"):
		case strings.HasPrefix(line, "Name:"):
			p.Name = strings.TrimSpace(line[len("Name:"):])
		default:
			c, err := parseRGB(strings.Fields(line))
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", n)
			}
			p.Colors = append(p.Colors, c)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(p.Colors) == 0 {
		return nil, errors.New("no colors found")
	}
	return p, nil
}

func parseRGB(fields []string) (RGB, error) {
	var c RGB
	if len(fields) < 3 {
		return c, errors.Errorf("want R G B, got %q", strings.Join(fields, " "))
	}
	for i := range c {
		v, err := strconv.ParseUint(fields[i], 10, 8)
		if err != nil {
			return c, errors.Wrapf(err, "channel %d", i)
		}
		c[i] = uint8(v)
	}
	return c, nil
}

// Lookup interpolates between the two colors around pos (0-1).
func (p *Palette) Lookup(pos float64) RGB {
	last := len(p.Colors) - 1
	if pos <= 0 || last == 0 {
		return p.Colors[0]
	}
	if pos >= 1 {
		return p.Colors[last]
	}
	i, frac := math.Modf(pos * float64(last))
	a, b := p.Colors[int(i)], p.Colors[int(i)+1]
	var c RGB
	for k := range c {
		c[k] = uint8(float64(a[k]) + (float64(b[k])-float64(a[k]))*frac)
	}
	return c
}
