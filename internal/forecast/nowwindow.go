package forecast

import (
	"fmt"
	"log"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

// NowWindow interpolates the last observations of s onto window samples
// spaced step apart, the last one at the final observation. The result is
// the "now" input of Search.
func NowWindow(s *satdata.Series, window int, step time.Duration) (*satdata.Series, error) {
	if window < 1 || step <= 0 {
		return nil, fmt.Errorf("now window: window %d step %s: %w", window, step, satdata.ErrPrecondition)
	}
	if s.Len() == 0 {
		return nil, fmt.Errorf("now window: %q has no samples: %w", s.Source, satdata.ErrPrecondition)
	}
	t := s.Time()
	end := t[len(t)-1]
	grid := make([]float64, window)
	for i := range grid {
		grid[i] = end - float64(window-1-i)*step.Seconds()
	}
	if grid[0] < t[0] {
		log.Printf("forecast: %q covers %s of the %s now window, early samples are clamped",
			s.Source, time.Duration((end-t[0])*float64(time.Second)).Round(time.Minute), time.Duration(window-1)*step)
	}

	out, err := s.InterpToTime(grid)
	if err != nil {
		return nil, fmt.Errorf("now window: %w", err)
	}
	out.Header.SamplingRate = step
	return out, nil
}
