package sandbox

import "golang.org/x/sync/semaphore"

// DefaultWorkers is the default bounded worker pool size (spec.md §5:
// "a bounded worker pool of OS threads (default 4)").
const DefaultWorkers = 4

// Pool bounds how many executions may run concurrently. It is a thin
// wrapper over a weighted semaphore rather than a fixed set of OS threads:
// each accepted job runs on its own goroutine, and the semaphore caps how
// many are in flight at once — the concurrency property spec.md asks for
// without committing to the teacher's Rust thread-pool's literal thread
// count.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool builds a pool that admits at most `workers` concurrently running
// jobs.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Submit runs fn on a new goroutine once a slot is free. It never blocks
// the caller waiting for a slot to open — spec.md §9 asks for backpressure
// rather than unbounded queueing, so Submit makes one non-blocking
// acquisition attempt and returns a KindPoolSaturated *Error instead of buffering
// indefinitely when every slot is busy.
func (p *Pool) Submit(fn func()) error {
	if !p.sem.TryAcquire(1) {
		return poolSaturated("worker pool has no free slot")
	}
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}
