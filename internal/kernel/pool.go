package kernel

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/alitto/pond/v2"
)

// Pool runs data-parallel kernels. Each ParallelFor call splits an index
// range into disjoint spans, submits them, and blocks until every span has
// finished. Kernels never yield mid-computation, so callers can consume the
// output as soon as ParallelFor returns.
type Pool struct {
	pool    pond.Pool
	workers int
}

// NewPool starts a pool with the given number of workers. Zero or negative
// selects GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		pool:    pond.NewPool(workers),
		workers: workers,
	}
}

// Workers reports the configured concurrency.
func (p *Pool) Workers() int {
	return p.workers
}

// Spans splits [0, n) into at most parts contiguous ranges, each at least
// grain long (except possibly the last).
func Spans(n, parts, grain int) [][2]int {
	if n <= 0 {
		return nil
	}
	if grain <= 0 {
		grain = 1
	}
	if parts <= 0 {
		parts = 1
	}
	size := (n + parts - 1) / parts
	if size < grain {
		size = grain
	}
	spans := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		spans = append(spans, [2]int{start, end})
	}
	return spans
}

// ParallelFor invokes fn over disjoint spans of [0, n). A panic inside fn is
// re-raised on the calling goroutine after all spans have stopped.
func (p *Pool) ParallelFor(n, grain int, fn func(start, end int)) {
	spans := Spans(n, p.workers*2, grain)
	if len(spans) == 0 {
		return
	}
	if len(spans) == 1 || p.pool == nil {
		for _, s := range spans {
			fn(s[0], s[1])
		}
		return
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		panicked any
	)
	for _, s := range spans {
		start, end := s[0], s[1]
		wg.Add(1)
		p.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					if panicked == nil {
						panicked = r
					}
					mu.Unlock()
				}
			}()
			fn(start, end)
		})
	}
	wg.Wait()

	if panicked != nil {
		panic(fmt.Sprintf("kernel: worker panic: %v", panicked))
	}
}

// Close waits for in-flight work and stops the workers.
func (p *Pool) Close() {
	if p.pool != nil {
		p.pool.StopAndWait()
	}
}
