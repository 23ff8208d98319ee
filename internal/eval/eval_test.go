package eval_test

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webtrain-ml/webtrain/internal/dataset"
	"github.com/webtrain-ml/webtrain/internal/eval"
	"github.com/webtrain-ml/webtrain/internal/nn"
)

// fixtureLoader builds a small validation loader over two synthetic classes
// with visually distinct images (dark vs bright).
func fixtureLoader(t *testing.T) *dataset.Loader {
	t.Helper()
	dir := t.TempDir()
	shades := map[string]uint8{"dark": 20, "light": 230}
	for class, v := range shades {
		classDir := filepath.Join(dir, class)
		require.NoError(t, os.MkdirAll(classDir, 0o755))
		for i := 0; i < 3; i++ {
			img := image.NewRGBA(image.Rect(0, 0, 8, 8))
			for y := 0; y < 8; y++ {
				for x := 0; x < 8; x++ {
					img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
				}
			}
			f, err := os.Create(filepath.Join(classDir, "img"+string(rune('a'+i))+".png"))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
	}

	ds, err := dataset.Scan(dir, []string{"dark", "light"}, zap.NewNop())
	require.NoError(t, err)

	tf := dataset.NewEvalTransform(8, 8)
	return dataset.NewLoader(ds.Samples, ds.Labels(), tf, 4, false, 0, 1, zap.NewNop())
}

func TestRun_Deterministic(t *testing.T) {
	loader := fixtureLoader(t)
	model := nn.NewLinear(3*8*8, 2, rand.New(rand.NewSource(1)))
	evaluator := eval.New(loader, nn.CrossEntropy{}, zap.NewNop())

	a, err := evaluator.Run(model)
	require.NoError(t, err)
	b, err := evaluator.Run(model)
	require.NoError(t, err)

	assert.Equal(t, a.Loss, b.Loss)
	assert.Equal(t, a.Acc1, b.Acc1)
	assert.Equal(t, a.Acc5, b.Acc5)
	assert.Equal(t, 6, a.Samples)
}

func TestRun_DoesNotMutateModel(t *testing.T) {
	loader := fixtureLoader(t)
	model := nn.NewLinear(3*8*8, 2, rand.New(rand.NewSource(1)))

	before := make(map[string][]float32)
	for name, tns := range model.StateDict() {
		before[name] = append([]float32(nil), tns.Data()...)
	}

	_, err := eval.New(loader, nn.CrossEntropy{}, zap.NewNop()).Run(model)
	require.NoError(t, err)

	for name, tns := range model.StateDict() {
		assert.Equal(t, before[name], tns.Data(), name)
	}
}

func TestRun_TopKBounds(t *testing.T) {
	loader := fixtureLoader(t)
	model := nn.NewLinear(3*8*8, 2, rand.New(rand.NewSource(1)))

	res, err := eval.New(loader, nn.CrossEntropy{}, zap.NewNop()).Run(model)
	require.NoError(t, err)

	// With 2 classes, top-5 degenerates to "always correct".
	assert.Equal(t, 1.0, res.Acc5)
	assert.GreaterOrEqual(t, res.Acc1, 0.0)
	assert.LessOrEqual(t, res.Acc1, 1.0)
}
