package dataset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webtrain-ml/webtrain/internal/dataset"
)

// scanFixture builds a 2-class partition and returns the scanned dataset.
func scanFixture(t *testing.T, perClass int) *dataset.Dataset {
	t.Helper()
	dir := t.TempDir()
	makePartition(t, dir, map[string]int{"cat": perClass, "dog": perClass})

	ds, err := dataset.Scan(dir, []string{"cat", "dog"}, zap.NewNop())
	require.NoError(t, err)
	return ds
}

func newTestLoader(ds *dataset.Dataset, batchSize int, shuffle bool, seed int64, workers int) *dataset.Loader {
	tf := dataset.NewEvalTransform(8, 8)
	return dataset.NewLoader(ds.Samples, ds.Labels(), tf, batchSize, shuffle, seed, workers, zap.NewNop())
}

// drain collects every batch of one epoch.
func drain(it *dataset.EpochIterator) []*dataset.Batch {
	var out []*dataset.Batch
	for b := it.Next(); b != nil; b = it.Next() {
		out = append(out, b)
	}
	return out
}

func TestLoader_BatchCount(t *testing.T) {
	ds := scanFixture(t, 4) // 8 samples total

	loader := newTestLoader(ds, 4, false, 1, 1)
	assert.Equal(t, 2, loader.NumBatches())

	batches := drain(loader.Epoch(1))
	require.Len(t, batches, 2)
	assert.Equal(t, 4, batches[0].Size())
	assert.Equal(t, 4, batches[1].Size())
}

func TestLoader_ShortLastBatch(t *testing.T) {
	ds := scanFixture(t, 3) // 6 samples, batch 4 -> 4 + 2

	batches := drain(newTestLoader(ds, 4, false, 1, 1).Epoch(1))
	require.Len(t, batches, 2)
	assert.Equal(t, 4, batches[0].Size())
	assert.Equal(t, 2, batches[1].Size())
}

func TestLoader_ShuffleReproducible(t *testing.T) {
	ds := scanFixture(t, 4)

	a := drain(newTestLoader(ds, 4, true, 42, 1).Epoch(3))
	b := drain(newTestLoader(ds, 4, true, 42, 1).Epoch(3))

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Paths, b[i].Paths)
		assert.Equal(t, a[i].Labels, b[i].Labels)
	}
}

func TestLoader_ShuffleVariesByEpoch(t *testing.T) {
	ds := scanFixture(t, 8)

	a := drain(newTestLoader(ds, 16, true, 42, 1).Epoch(1))
	b := drain(newTestLoader(ds, 16, true, 42, 1).Epoch(2))

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.NotEqual(t, a[0].Paths, b[0].Paths)
}

func TestLoader_ValidationOrderFixed(t *testing.T) {
	ds := scanFixture(t, 4)

	a := drain(newTestLoader(ds, 4, false, 1, 1).Epoch(1))
	b := drain(newTestLoader(ds, 4, false, 99, 1).Epoch(7))

	for i := range a {
		assert.Equal(t, a[i].Paths, b[i].Paths)
	}
}

func TestLoader_PrefetchPreservesOrder(t *testing.T) {
	ds := scanFixture(t, 16) // 32 samples, 8 batches of 4

	sequential := drain(newTestLoader(ds, 4, true, 7, 1).Epoch(2))
	parallel := drain(newTestLoader(ds, 4, true, 7, 8).Epoch(2))

	require.Equal(t, len(sequential), len(parallel))
	for i := range sequential {
		assert.Equal(t, sequential[i].Paths, parallel[i].Paths, "batch %d order", i)
		assert.Equal(t, sequential[i].Labels, parallel[i].Labels, "batch %d labels", i)
		assert.Equal(t, sequential[i].Images.Data(), parallel[i].Images.Data(), "batch %d pixels", i)
	}
}

func TestLoader_CorruptImageSkipped(t *testing.T) {
	dir := t.TempDir()
	makePartition(t, dir, map[string]int{"cat": 3})
	// Overwrite one file with garbage.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cat", "imga.png"), []byte("not a png"), 0o644))

	ds, err := dataset.Scan(dir, []string{"cat"}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, ds.Samples, 3)

	it := newTestLoader(ds, 3, false, 1, 1).Epoch(1)
	batches := drain(it)

	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Size())
	assert.Equal(t, 1, it.SkippedSamples)
}

func TestEpochIterator_CloseAbandonsEpoch(t *testing.T) {
	ds := scanFixture(t, 16) // 32 samples, 8 batches of 4

	for _, workers := range []int{1, 4} {
		it := newTestLoader(ds, 4, false, 0, workers).Epoch(0)
		require.NotNil(t, it.Next(), "workers=%d", workers)

		it.Close()
		assert.Nil(t, it.Next(), "workers=%d: closed iterator must stop", workers)
		// Idempotent, and safe after drain too.
		it.Close()
	}
}

func TestEpochIterator_CloseAfterDrain(t *testing.T) {
	ds := scanFixture(t, 4)
	it := newTestLoader(ds, 4, false, 0, 4).Epoch(0)
	drain(it)
	it.Close()
	assert.Nil(t, it.Next())
}

func TestDefaultWorkers_Positive(t *testing.T) {
	assert.Greater(t, dataset.DefaultWorkers(), 0)
}
