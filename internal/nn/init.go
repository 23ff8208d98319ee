package nn

import (
	"math"
	"math/rand"

	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// Xavier creates a tensor initialized with Xavier/Glorot uniform values.
//
// Values are drawn from U(-limit, limit) with limit = sqrt(6 / (fanIn +
// fanOut)), which keeps activation variance stable through affine layers.
// The rng comes from the run seed so initialization is reproducible.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand) *tensor.Tensor {
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	t := tensor.New(shape)
	data := t.Data()
	for i := range data {
		data[i] = (rng.Float32()*2 - 1) * limit
	}
	return t
}
