package forecast

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

// MatchPolicy decides how the magnetic components pick their analogue.
type MatchPolicy int

const (
	// PerVariable ranks every variable on its own distances.
	PerVariable MatchPolicy = iota
	// SharedBtot gives bx, by and bz the analogues found for btot.
	SharedBtot
)

func (p MatchPolicy) String() string {
	if p == SharedBtot {
		return "shared-btot"
	}
	return "per-variable"
}

func ParseMatchPolicy(name string) (MatchPolicy, error) {
	switch strings.ToLower(name) {
	case "per-variable", "":
		return PerVariable, nil
	case "shared-btot":
		return SharedBtot, nil
	}
	return 0, fmt.Errorf("unknown match policy %q", name)
}

// Config sizes an analogue search. Window and Horizon count samples of the
// training series.
type Config struct {
	Window  int
	Horizon int
	TopK    int

	// TrainStart and TrainEnd bound the training range, [start, end).
	// Zero values leave the side open.
	TrainStart time.Time
	TrainEnd   time.Time

	Vars   []satdata.Var
	Policy MatchPolicy

	// MinValidFraction is the share of valid pairs a window needs to be
	// ranked at all.
	MinValidFraction float64

	Workers int
}

func DefaultConfig() Config {
	return Config{
		Window:  24,
		Horizon: 24,
		TopK:    50,
		Vars: []satdata.Var{
			satdata.VarBtot, satdata.VarBx, satdata.VarBy, satdata.VarBz,
			satdata.VarSpeed, satdata.VarDensity,
		},
		Policy:           PerVariable,
		MinValidFraction: 0.5,
		Workers:          runtime.GOMAXPROCS(0),
	}
}

func (c Config) validate() error {
	switch {
	case c.Window < 1:
		return fmt.Errorf("window must be positive, got %d: %w", c.Window, satdata.ErrPrecondition)
	case c.Horizon < 1:
		return fmt.Errorf("horizon must be positive, got %d: %w", c.Horizon, satdata.ErrPrecondition)
	case c.TopK < 1:
		return fmt.Errorf("top-k must be positive, got %d: %w", c.TopK, satdata.ErrPrecondition)
	case len(c.Vars) == 0:
		return fmt.Errorf("no variables to match: %w", satdata.ErrPrecondition)
	case c.MinValidFraction < 0 || c.MinValidFraction > 1:
		return fmt.Errorf("min valid fraction %v outside [0, 1]: %w", c.MinValidFraction, satdata.ErrPrecondition)
	}
	if !c.TrainStart.IsZero() && !c.TrainEnd.IsZero() && !c.TrainStart.Before(c.TrainEnd) {
		return fmt.Errorf("training range %s - %s is empty: %w", c.TrainStart, c.TrainEnd, satdata.ErrPrecondition)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
