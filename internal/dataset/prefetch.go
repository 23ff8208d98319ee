package dataset

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// DefaultWorkers returns the default prefetch pool size: the logical CPU
// count reported by the hardware, falling back to the runtime's view.
func DefaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// prefetcher runs batch construction on a bounded worker pool while
// delivering results to the single consumer in submission order.
//
// Workers only hide decode/transform latency: the futures queue preserves
// order exactly, so the optimizer sees the same batch sequence as a
// sequential loader, and no batch is duplicated or dropped.
//
// Not safe for concurrent use; next and close belong to the one consumer.
type prefetcher struct {
	futures chan chan *Batch
	done    chan struct{}

	// Sequential mode (futures nil): batches built on demand.
	build func(index int) *Batch
	index int
	total int
}

// newPrefetcher starts building numBatches batches with build. With workers
// < 2 no goroutines run and each batch is built lazily on the consumer
// goroutine.
func newPrefetcher(workers, numBatches int, build func(index int) *Batch) *prefetcher {
	if workers < 2 {
		return &prefetcher{build: build, total: numBatches}
	}

	// The futures channel doubles as the prefetch depth limit: at most
	// `workers` batches are in flight or buffered ahead of the consumer.
	futures := make(chan chan *Batch, workers)
	sem := make(chan struct{}, workers)
	done := make(chan struct{})

	go func() {
		defer close(futures)
		for i := 0; i < numBatches; i++ {
			result := make(chan *Batch, 1)
			select {
			case futures <- result:
			case <-done:
				return
			}
			select {
			case sem <- struct{}{}:
			case <-done:
				return
			}
			go func(index int, result chan<- *Batch) {
				defer func() { <-sem }()
				result <- build(index)
			}(i, result)
		}
	}()

	return &prefetcher{futures: futures, done: done}
}

// next returns the next batch in order, or nil when exhausted or closed.
func (p *prefetcher) next() *Batch {
	if p.futures == nil {
		if p.index >= p.total {
			return nil
		}
		batch := p.build(p.index)
		p.index++
		return batch
	}

	select {
	case <-p.done:
		return nil
	default:
	}
	result, ok := <-p.futures
	if !ok {
		return nil
	}
	return <-result
}

// close releases producer and workers when the consumer abandons the epoch
// before exhaustion. Idempotent; in-flight batches finish into their
// buffered result channels and are discarded.
func (p *prefetcher) close() {
	p.index = p.total
	if p.done == nil {
		return
	}
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}
