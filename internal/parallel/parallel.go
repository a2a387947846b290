// Package parallel spreads independent work items over goroutines. The cpu
// device uses it to run the work-groups of one dispatch concurrently.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns defaults based on CPU count. Items are work-groups,
// so a chunk of 4 groups of 256 lanes already amortizes goroutine start-up.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 4,
	}
}

// Sequential returns a config that runs everything on the calling goroutine.
func Sequential() Config {
	return Config{NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	ForRange(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			f(i)
		}
	}, cfg)
}

// ForRange splits [0, n) into contiguous chunks and calls f(lo, hi) for each.
// Chunks never overlap, so f may write to disjoint slots without locking.
func ForRange(n int, f func(lo, hi int), cfg Config) {
	if n <= 0 {
		return
	}
	workers := max(cfg.NumWorkers, 1)
	if !cfg.Enabled || workers == 1 || n < 2*max(cfg.MinChunkSize, 1) {
		f(0, n)
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+workers-1)/workers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}
