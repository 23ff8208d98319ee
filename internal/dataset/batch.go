package dataset

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// Batch is a fixed-size (except possibly the last) collection of transformed
// samples. Created fresh per step, owned transiently by the consumer and
// discarded after use.
type Batch struct {
	// Images holds normalized pixels with shape [size, features].
	Images *tensor.Tensor

	// Labels holds the label assigned to each row.
	Labels []int

	// Paths identifies the source file of each row, for diagnostics.
	Paths []string

	// Skipped counts samples that were dropped from this batch because
	// their image file could not be read or decoded.
	Skipped int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// Loader assembles batches from a scanned dataset and a parallel label
// slice (resolved once by the label source, so the loader itself is
// label-source-agnostic).
type Loader struct {
	samples   []Sample
	labels    []int
	transform *Transform
	batchSize int
	shuffle   bool
	seed      int64
	workers   int
	logger    *zap.Logger
}

// NewLoader creates a batch loader.
//
// labels must be parallel to samples. When shuffle is true the sample order
// is re-shuffled each epoch from a generator derived from seed and the epoch
// number, so a given (seed, epoch) pair always produces the same order.
// workers bounds the prefetch pool; values < 1 mean synchronous loading.
func NewLoader(samples []Sample, labels []int, transform *Transform,
	batchSize int, shuffle bool, seed int64, workers int, logger *zap.Logger) *Loader {
	if len(samples) != len(labels) {
		panic("dataset.NewLoader: samples and labels length mismatch")
	}
	if batchSize <= 0 {
		panic("dataset.NewLoader: batch size must be positive")
	}
	return &Loader{
		samples:   samples,
		labels:    labels,
		transform: transform,
		batchSize: batchSize,
		shuffle:   shuffle,
		seed:      seed,
		workers:   workers,
		logger:    logger,
	}
}

// NumSamples returns the number of samples the loader draws from.
func (l *Loader) NumSamples() int {
	return len(l.samples)
}

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (len(l.samples) + l.batchSize - 1) / l.batchSize
}

// Epoch returns an iterator over the batches of one epoch.
//
// Batch order and augmentation are functions of (seed, epoch) only: the
// prefetch pool parallelizes decode/transform latency but hands batches to
// the single consumer in exactly the sequential order.
func (l *Loader) Epoch(epoch int) *EpochIterator {
	order := make([]int, len(l.samples))
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		rng := rand.New(rand.NewSource(l.seed + int64(epoch)))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	it := &EpochIterator{loader: l, epoch: epoch, order: order}
	it.prefetch = newPrefetcher(l.workers, l.NumBatches(), it.buildBatch)
	return it
}

// EpochIterator yields the batches of a single epoch in order.
type EpochIterator struct {
	loader   *Loader
	epoch    int
	order    []int
	prefetch *prefetcher

	// SkippedSamples accumulates unreadable images seen this epoch.
	SkippedSamples int
}

// Next returns the next batch, or nil when the epoch is exhausted.
//
// Batches in which every sample failed to decode are returned with Size 0;
// the caller decides whether to skip or abort.
func (it *EpochIterator) Next() *Batch {
	batch := it.prefetch.next()
	if batch == nil {
		return nil
	}
	it.SkippedSamples += batch.Skipped
	return batch
}

// Close releases the prefetch workers when the epoch is abandoned before
// exhaustion. Draining the iterator to nil makes Close a no-op, but calling
// it unconditionally is safe and keeps early-abort paths leak-free.
func (it *EpochIterator) Close() {
	it.prefetch.close()
}

// buildBatch decodes and transforms the samples of one batch index.
//
// Augmentation randomness is seeded per batch from (seed, epoch, index) so
// the result is independent of which worker runs it.
func (it *EpochIterator) buildBatch(index int) *Batch {
	l := it.loader
	start := index * l.batchSize
	end := start + l.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	indices := it.order[start:end]

	// Knuth multiplicative hashing keeps per-batch streams decorrelated.
	rng := rand.New(rand.NewSource(l.seed ^ (int64(it.epoch) * 2654435761) ^ (int64(index) * 40503)))

	features := l.transform.Features()
	pixels := make([]float32, 0, len(indices)*features)
	labels := make([]int, 0, len(indices))
	paths := make([]string, 0, len(indices))
	skipped := 0

	row := make([]float32, features)
	for _, si := range indices {
		sample := l.samples[si]
		img, err := DecodeImage(sample.Path)
		if err != nil {
			l.logger.Warn("skipping unreadable image",
				zap.String("path", sample.Path),
				zap.Error(err))
			skipped++
			continue
		}
		l.transform.Apply(img, rng, row)
		pixels = append(pixels, row...)
		labels = append(labels, l.labels[si])
		paths = append(paths, sample.Path)
	}

	images, err := tensor.FromSlice(pixels, tensor.Shape{len(labels), features})
	if err != nil {
		// Unreachable: pixels is built as len(labels)*features.
		panic(err)
	}

	return &Batch{
		Images:  images,
		Labels:  labels,
		Paths:   paths,
		Skipped: skipped,
	}
}
