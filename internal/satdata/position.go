package satdata

import (
	"fmt"
	"slices"

	"github.com/IWF-helio/PREDSTORM/internal/frames"
)

// Convention is the coordinate convention of a Position series.
type Convention int

const (
	// Cartesian positions have components x, y and z.
	Cartesian Convention = iota
	// Spherical positions have components r, lon and lat, angles in radians.
	Spherical
)

func (c Convention) String() string {
	if c == Spherical {
		return "rlonlat"
	}
	return "xyz"
}

// Components returns the component names valid for c.
func (c Convention) Components() [3]string {
	if c == Spherical {
		return [3]string{"r", "lon", "lat"}
	}
	return [3]string{"x", "y", "z"}
}

// PositionHeader describes a position series.
type PositionHeader struct {
	Units          string // "AU", "km" or "m"
	ReferenceFrame string
	Observer       string
	Object         string
}

// Position is a series of spacecraft positions, one per timestamp of the
// owning Series.
type Position struct {
	Header PositionHeader

	conv  Convention
	comps [3][]float64
}

// NewPosition builds a position series from a 3×N or N×3 stack. A 3×3 stack
// is read as 3×N.
func NewPosition(stack [][]float64, conv Convention) (*Position, error) {
	if conv != Cartesian && conv != Spherical {
		return nil, fmt.Errorf("new position: unknown convention %d: %w", conv, ErrSchema)
	}
	p := &Position{conv: conv}
	switch {
	case len(stack) == 3 && len(stack[0]) == len(stack[1]) && len(stack[1]) == len(stack[2]):
		for i := range p.comps {
			p.comps[i] = slices.Clone(stack[i])
		}
	case allRowsLen(stack, 3):
		for i := range p.comps {
			p.comps[i] = make([]float64, len(stack))
		}
		for j, row := range stack {
			for i := range p.comps {
				p.comps[i][j] = row[i]
			}
		}
	default:
		return nil, fmt.Errorf("new position: stack must be 3xN or Nx3: %w", ErrSchema)
	}
	return p, nil
}

// NewPositionFromComponents builds a position series from three component
// arrays in the order given by conv.Components.
func NewPositionFromComponents(a, b, c []float64, conv Convention) (*Position, error) {
	return NewPosition([][]float64{a, b, c}, conv)
}

func allRowsLen(stack [][]float64, n int) bool {
	for _, row := range stack {
		if len(row) != n {
			return false
		}
	}
	return true
}

// Convention returns the coordinate convention fixed at construction.
func (p *Position) Convention() Convention {
	return p.conv
}

// Len returns the number of samples.
func (p *Position) Len() int {
	return len(p.comps[0])
}

// Component returns the values of a named component. The slice is shared.
func (p *Position) Component(name string) ([]float64, error) {
	for i, n := range p.conv.Components() {
		if n == name {
			return p.comps[i], nil
		}
	}
	return nil, fmt.Errorf("position component %q not valid for %s positions: %w", name, p.conv, ErrSchema)
}

// Cartesian returns sample i as a Cartesian vector.
func (p *Position) Cartesian(i int) frames.Vec {
	if p.conv == Spherical {
		return frames.SphereToCart(p.comps[0][i], p.comps[1][i], p.comps[2][i])
	}
	return frames.Vec{p.comps[0][i], p.comps[1][i], p.comps[2][i]}
}

// Spherical returns radius, longitude and latitude of sample i.
func (p *Position) Spherical(i int) (r, lon, lat float64) {
	if p.conv == Spherical {
		return p.comps[0][i], p.comps[1][i], p.comps[2][i]
	}
	r, lat, lon = frames.CartToSphere(p.Cartesian(i))
	return r, lon, lat
}

// InterpToTime linearly interpolates every component from oldTimes onto
// newTimes and returns a new position series with the same convention and
// header.
func (p *Position) InterpToTime(oldTimes, newTimes []float64) (*Position, error) {
	if len(oldTimes) != p.Len() {
		return nil, fmt.Errorf("interp position: %d times for %d positions: %w", len(oldTimes), p.Len(), ErrSchema)
	}
	out := &Position{Header: p.Header, conv: p.conv}
	for i := range p.comps {
		values, err := interpLinear(oldTimes, p.comps[i], newTimes)
		if err != nil {
			return nil, fmt.Errorf("interp position: %w", err)
		}
		out.comps[i] = values
	}
	return out, nil
}

// Select returns the samples at idx.
func (p *Position) Select(idx []int) *Position {
	out := &Position{Header: p.Header, conv: p.conv}
	for i := range p.comps {
		out.comps[i] = make([]float64, len(idx))
		for j, k := range idx {
			out.comps[i][j] = p.comps[i][k]
		}
	}
	return out
}

// Clone returns a deep copy of p.
func (p *Position) Clone() *Position {
	out := &Position{Header: p.Header, conv: p.conv}
	for i := range p.comps {
		out.comps[i] = slices.Clone(p.comps[i])
	}
	return out
}
