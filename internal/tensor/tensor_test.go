package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtrain-ml/webtrain/internal/tensor"
)

func TestShape_NumElements(t *testing.T) {
	tests := []struct {
		name  string
		shape tensor.Shape
		want  int
	}{
		{"scalar", tensor.Shape{}, 1},
		{"vector", tensor.Shape{5}, 5},
		{"matrix", tensor.Shape{4, 3}, 12},
		{"batch", tensor.Shape{32, 3, 224, 224}, 32 * 3 * 224 * 224},
		{"zero dim", tensor.Shape{0, 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.shape.NumElements())
		})
	}
}

func TestShape_Equal(t *testing.T) {
	assert.True(t, tensor.Shape{2, 3}.Equal(tensor.Shape{2, 3}))
	assert.False(t, tensor.Shape{2, 3}.Equal(tensor.Shape{3, 2}))
	assert.False(t, tensor.Shape{2, 3}.Equal(tensor.Shape{2, 3, 1}))
}

func TestNew_ZeroFilled(t *testing.T) {
	x := tensor.New(tensor.Shape{2, 2})
	require.Equal(t, 4, x.NumElements())
	for _, v := range x.Data() {
		assert.Equal(t, float32(0), v)
	}
}

func TestFromSlice(t *testing.T) {
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, x.Row(1))

	_, err = tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{2, 2})
	require.Error(t, err)
}

func TestClone_Independent(t *testing.T) {
	x, err := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2})
	require.NoError(t, err)

	y := x.Clone()
	y.Data()[0] = 99

	assert.Equal(t, float32(1), x.Data()[0])
	assert.Equal(t, float32(99), y.Data()[0])
}

func TestCopyFrom_ShapeMismatch(t *testing.T) {
	x := tensor.New(tensor.Shape{2, 2})
	y := tensor.New(tensor.Shape{4})

	err := x.CopyFrom(y)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shape mismatch")
}

func TestFull(t *testing.T) {
	x := tensor.Full(tensor.Shape{3}, 1.5)
	assert.Equal(t, []float32{1.5, 1.5, 1.5}, x.Data())
}
