package checkpoint_test

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtrain-ml/webtrain/internal/checkpoint"
	"github.com/webtrain-ml/webtrain/internal/nn"
	"github.com/webtrain-ml/webtrain/internal/optim"
)

// trainedFixture returns a model/optimizer pair with non-trivial state:
// a few SGD momentum steps so velocity buffers exist.
func trainedFixture(t *testing.T, seed int64) (nn.Classifier, optim.Optimizer) {
	t.Helper()
	model := nn.NewMLP(6, 4, 2, rand.New(rand.NewSource(seed)))
	opt := optim.NewSGD(model.Parameters(), optim.Config{LR: 0.1, Momentum: 0.9})

	for step := 0; step < 3; step++ {
		for _, p := range model.Parameters() {
			g := p.Grad().Data()
			for i := range g {
				g[i] = float32(step+1) * 0.01
			}
		}
		opt.Step()
		opt.ZeroGrad()
	}
	return model, opt
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.ckpt")
	model, opt := trainedFixture(t, 1)

	meta := checkpoint.Meta{
		Model:       "mlp",
		Optimizer:   "sgd",
		LabelSource: "candidate",
		Epoch:       7,
		Step:        421,
		BestAcc1:    0.625,
		LR:          0.01,
	}
	require.NoError(t, checkpoint.Save(path, model, opt, meta))

	// Fresh model/optimizer with different init.
	restored := nn.NewMLP(6, 4, 2, rand.New(rand.NewSource(99)))
	restoredOpt := optim.NewSGD(restored.Parameters(), optim.Config{LR: 0.1, Momentum: 0.9})

	got, err := checkpoint.Load(path, restored, restoredOpt)
	require.NoError(t, err)

	assert.Equal(t, 7, got.Epoch)
	assert.Equal(t, int64(421), got.Step)
	assert.Equal(t, 0.625, got.BestAcc1)
	assert.Equal(t, "candidate", got.LabelSource)
	assert.Equal(t, "sgd", got.Optimizer)

	// Parameters restored bit for bit.
	for name, want := range model.StateDict() {
		assert.Equal(t, want.Data(), restored.StateDict()[name].Data(), name)
	}
	// Optimizer velocities restored bit for bit.
	for name, want := range opt.StateDict() {
		assert.Equal(t, want.Data(), restoredOpt.StateDict()[name].Data(), name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	model, opt := trainedFixture(t, 1)
	_, err := checkpoint.Load(filepath.Join(t.TempDir(), "absent.ckpt"), model, opt)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("this is not a checkpoint at all"), 0o644))

	model, opt := trainedFixture(t, 1)
	_, err := checkpoint.Load(path, model, opt)
	assert.ErrorIs(t, err, checkpoint.ErrBadMagic)
}

func TestLoad_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.ckpt")
	model, opt := trainedFixture(t, 1)
	require.NoError(t, checkpoint.Save(path, model, opt, checkpoint.Meta{Model: "mlp", Optimizer: "sgd"}))

	// Flip one payload byte at the end of the file.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = checkpoint.Load(path, model, opt)
	assert.ErrorIs(t, err, checkpoint.ErrChecksumMismatch)
}

func TestLoad_ShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.ckpt")
	model, opt := trainedFixture(t, 1)
	require.NoError(t, checkpoint.Save(path, model, opt, checkpoint.Meta{Model: "mlp", Optimizer: "sgd"}))

	// A model with a different hidden width cannot accept the snapshot.
	other := nn.NewMLP(6, 8, 2, rand.New(rand.NewSource(2)))
	otherOpt := optim.NewSGD(other.Parameters(), optim.Config{LR: 0.1, Momentum: 0.9})

	_, err := checkpoint.Load(path, other, otherOpt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shape mismatch")
	assert.Contains(t, err.Error(), "expected")
}

func TestLoad_ModelMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.ckpt")
	model, opt := trainedFixture(t, 1)
	require.NoError(t, checkpoint.Save(path, model, opt, checkpoint.Meta{Model: "mlp", Optimizer: "sgd"}))

	linear := nn.NewLinear(6, 2, rand.New(rand.NewSource(2)))
	linearOpt := optim.NewSGD(linear.Parameters(), optim.Config{LR: 0.1})

	_, err := checkpoint.Load(path, linear, linearOpt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model mismatch")
}

func TestLoad_OptimizerMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.ckpt")
	model, opt := trainedFixture(t, 1)
	require.NoError(t, checkpoint.Save(path, model, opt, checkpoint.Meta{Model: "mlp", Optimizer: "sgd"}))

	// Same architecture, different algorithm: the sgd velocity state would
	// silently be ignored by adam's moment keys, so the load must refuse.
	restored := nn.NewMLP(6, 4, 2, rand.New(rand.NewSource(2)))
	adam := optim.NewAdam(restored.Parameters(), optim.Config{LR: 0.001})

	_, err := checkpoint.Load(path, restored, adam)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimizer mismatch")
}

func TestSave_NoTemporaryLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.ckpt")
	model, opt := trainedFixture(t, 1)
	require.NoError(t, checkpoint.Save(path, model, opt, checkpoint.Meta{Model: "mlp", Optimizer: "sgd"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "latest.ckpt", entries[0].Name())
}

func TestReadMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best.ckpt")
	model, opt := trainedFixture(t, 1)
	require.NoError(t, checkpoint.Save(path, model, opt, checkpoint.Meta{
		Model: "mlp", Optimizer: "sgd", Epoch: 3, BestAcc1: 0.5,
	}))

	meta, err := checkpoint.ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Epoch)
	assert.Equal(t, 0.5, meta.BestAcc1)
}
