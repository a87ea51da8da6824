package frames

import (
	"runtime"
	"sync"
	"time"
)

// minChunk keeps tiny batches on one goroutine.
const minChunk = 256

// Transform applies fn to every (vs[i], ts[i]) pair and returns the results
// in input order. The loop is split across up to workers goroutines; zero or
// a negative count means GOMAXPROCS. vs and ts must have equal length.
func Transform(vs []Vec, ts []time.Time, workers int, fn func(Vec, time.Time) Vec) []Vec {
	out := make([]Vec, len(vs))
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if maxWorkers := (len(vs) + minChunk - 1) / minChunk; workers > maxWorkers {
		workers = maxWorkers
	}
	if workers <= 1 {
		for i := range vs {
			out[i] = fn(vs[i], ts[i])
		}
		return out
	}

	chunk := (len(vs) + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < len(vs); start += chunk {
		end := min(start+chunk, len(vs))
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				out[i] = fn(vs[i], ts[i])
			}
		}(start, end)
	}
	wg.Wait()
	return out
}
