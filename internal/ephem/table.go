package ephem

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

type tableEntry struct {
	times  []float64
	xyz    *satdata.Position // Cartesian
	header satdata.PositionHeader
}

// Table serves trajectories from tabulated positions, interpolating linearly
// between samples. It is safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	bodies map[string]tableEntry
}

func NewTable() *Table {
	return &Table{bodies: make(map[string]tableEntry)}
}

// Add registers the positions of body at times, replacing earlier data.
// times must be strictly increasing. Spherical positions are stored as
// Cartesian; empty units mean AU.
func (t *Table) Add(body string, times []float64, pos *satdata.Position) error {
	if len(times) == 0 {
		return fmt.Errorf("add %s: no positions", body)
	}
	if len(times) != pos.Len() {
		return fmt.Errorf("add %s: %d times for %d positions", body, len(times), pos.Len())
	}
	for i := 1; i < len(times); i++ {
		if !(times[i] > times[i-1]) {
			return fmt.Errorf("add %s: times not strictly increasing at %d", body, i)
		}
	}
	var xyz [3][]float64
	for c := range xyz {
		xyz[c] = make([]float64, pos.Len())
	}
	for i := 0; i < pos.Len(); i++ {
		v := pos.Cartesian(i)
		xyz[0][i], xyz[1][i], xyz[2][i] = v[0], v[1], v[2]
	}
	cart, err := satdata.NewPositionFromComponents(xyz[0], xyz[1], xyz[2], satdata.Cartesian)
	if err != nil {
		return fmt.Errorf("add %s: %w", body, err)
	}
	h := pos.Header
	if h.Units == "" {
		h.Units = "AU"
	}
	cart.Header = h

	t.mu.Lock()
	defer t.mu.Unlock()
	t.bodies[NormalizeBody(body)] = tableEntry{times: slices.Clone(times), xyz: cart, header: h}
	return nil
}

// Bodies lists the registered bodies.
func (t *Table) Bodies() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.bodies))
	for b := range t.bodies {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// Trajectory interpolates the stored positions. The requested frame and
// observer must match the stored ones; units and convention are converted.
// Times outside the table are an error.
func (t *Table) Trajectory(ctx context.Context, body string, times []float64, opts Options) (*satdata.Position, error) {
	t.mu.RLock()
	e, ok := t.bodies[NormalizeBody(body)]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("table %q: %w", body, ErrUnknownBody)
	}
	if !strings.EqualFold(e.header.ReferenceFrame, opts.Frame) || !strings.EqualFold(e.header.Observer, opts.Observer) {
		return nil, fmt.Errorf("table %q: stored %s/%s, requested %s/%s: %w",
			body, e.header.ReferenceFrame, e.header.Observer, opts.Frame, opts.Observer, ErrUnsupported)
	}
	if len(times) > 0 && (times[0] < e.times[0] || times[len(times)-1] > e.times[len(e.times)-1]) {
		return nil, fmt.Errorf("table %q: requested times outside [%s, %s]: %w", body,
			satdata.NumToTime(e.times[0]), satdata.NumToTime(e.times[len(e.times)-1]), ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	interp, err := e.xyz.InterpToTime(e.times, times)
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", body, err)
	}
	var xyz [3][]float64
	for c, name := range satdata.Cartesian.Components() {
		xyz[c], _ = interp.Component(name)
	}
	return buildPosition(xyz, e.header.Units, opts)
}

// Chain asks each provider in turn, moving on when a provider does not know
// the body.
type Chain []Provider

func (c Chain) Trajectory(ctx context.Context, body string, times []float64, opts Options) (*satdata.Position, error) {
	for _, p := range c {
		pos, err := p.Trajectory(ctx, body, times, opts)
		if errors.Is(err, ErrUnknownBody) {
			continue
		}
		return pos, err
	}
	return nil, fmt.Errorf("trajectory %q: %w", body, ErrUnknownBody)
}
