package joinqueue

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BlockingPool bounds how many CPU-bound closures execute at once across every
// queue that shares it, so thumbnailing and hashing cannot starve the goroutines
// serving requests.
type BlockingPool struct {
	slots *semaphore.Weighted
	size  int
}

var defaultPool = sync.OnceValue(func() *BlockingPool {
	return NewBlockingPool(0)
})

// NewBlockingPool returns a pool with the given number of slots. A non-positive
// size falls back to runtime.NumCPU().
func NewBlockingPool(size int) *BlockingPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &BlockingPool{
		slots: semaphore.NewWeighted(int64(size)),
		size:  size,
	}
}

// Size reports the number of slots in the pool.
func (p *BlockingPool) Size() int {
	return p.size
}

// Do waits for a free slot and runs fn on the calling goroutine. It returns the
// context error if the wait is abandoned; fn is never started in that case.
func (p *BlockingPool) Do(ctx context.Context, fn func()) error {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slots.Release(1)
	fn()
	return nil
}

func poolOrDefault(pool *BlockingPool) *BlockingPool {
	if pool == nil {
		return defaultPool()
	}
	return pool
}
