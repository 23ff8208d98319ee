package main

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webtrain-ml/webtrain/internal/config"
)

func ptr[T any](v T) *T { return &v }

// writeDataTree creates root/{train,val}/<class> with n solid-shade 8x8
// images per class.
func writeDataTree(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	shades := map[string]uint8{"dark": 20, "light": 230}
	for _, partition := range []string{"train", "val"} {
		for class, v := range shades {
			dir := filepath.Join(root, partition, class)
			require.NoError(t, os.MkdirAll(dir, 0o755))
			for i := 0; i < n; i++ {
				img := image.NewRGBA(image.Rect(0, 0, 8, 8))
				for y := 0; y < 8; y++ {
					for x := 0; x < 8; x++ {
						img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
					}
				}
				f, err := os.Create(filepath.Join(dir, "img"+string(rune('a'+i))+".png"))
				require.NoError(t, err)
				require.NoError(t, png.Encode(f, img))
				require.NoError(t, f.Close())
			}
		}
	}
	return root
}

func TestConfigPrecedence_FlagOverridesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"epochs: 5\nlr: 0.5\nmodel: mlp\nlabel_source: candidate\nseed: 7\nnorandomflip: true\n",
	), 0o644))

	cfg := config.Default()
	require.NoError(t, config.LoadFile(&cfg, file, zap.NewNop()))

	applyOverrides(&cfg, cliArgs{
		LR:          ptr(float32(0.01)),
		Model:       ptr("linear"),
		Seed:        ptr(int64(3)),
		InjectNoise: ptr(0.2),
		Workers:     ptr(2),
	})

	// Flags win over the file.
	assert.InDelta(t, 0.01, cfg.LR, 1e-9)
	assert.Equal(t, "linear", cfg.Model)
	assert.Equal(t, int64(3), cfg.Seed)
	assert.InDelta(t, 0.2, cfg.InjectNoise, 1e-9)
	assert.Equal(t, 2, cfg.Workers)

	// File keys with no flag keep the file's value.
	assert.Equal(t, 5, cfg.Epochs)
	assert.Equal(t, "candidate", cfg.LabelSource)
	assert.True(t, cfg.NoRandomFlip)

	// Untouched keys keep the defaults.
	assert.Equal(t, 128, cfg.BatchSize)
	assert.Equal(t, "sgd", cfg.Optimizer)
}

func TestApplyOverrides_UnsetFlagsAreNoops(t *testing.T) {
	cfg := config.Default()
	before := cfg
	applyOverrides(&cfg, cliArgs{})
	assert.Equal(t, before, cfg)
}

func TestRun_EvaluateWritesNothing(t *testing.T) {
	root := writeDataTree(t, 2)
	out := filepath.Join(root, "out")

	err := run(cliArgs{
		Root:       ptr(root),
		ResizeSize: ptr(8),
		CropSize:   ptr(8),
		BatchSize:  ptr(4),
		OutputDir:  ptr(out),
		Evaluate:   true,
	}, zap.NewNop())
	require.NoError(t, err)

	// A validation-only pass takes no optimizer step and persists no
	// checkpoint or metric log.
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_NumClassesMismatchIsFatal(t *testing.T) {
	root := writeDataTree(t, 2)

	err := run(cliArgs{
		Root:       ptr(root),
		NumClasses: ptr(1000),
		ResizeSize: ptr(8),
		CropSize:   ptr(8),
		OutputDir:  ptr(filepath.Join(root, "out")),
		Evaluate:   true,
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_classes=1000")
	assert.Contains(t, err.Error(), "2 usable classes")
}

func TestRun_TrainsTinyDataset(t *testing.T) {
	root := writeDataTree(t, 4)
	out := filepath.Join(root, "out")

	err := run(cliArgs{
		Root:       ptr(root),
		Epochs:     ptr(1),
		BatchSize:  ptr(4),
		ResizeSize: ptr(8),
		CropSize:   ptr(8),
		LR:         ptr(float32(0.05)),
		OutputDir:  ptr(out),
	}, zap.NewNop())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(out, "latest.ckpt"))
	assert.FileExists(t, filepath.Join(out, "metrics.jsonl"))
}
