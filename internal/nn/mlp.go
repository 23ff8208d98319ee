package nn

import (
	"fmt"
	"math/rand"

	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// MLP is a one-hidden-layer classifier: affine -> ReLU -> affine.
//
//	h = relu(x @ W1.T + b1)    W1: [hidden, in_features]
//	y = h @ W2.T + b2          W2: [num_classes, hidden]
//
// Backward caches the hidden activations of the last Forward call, so the
// Forward/Backward pair must be driven by a single goroutine on the same
// input, which is exactly the training loop's contract.
type MLP struct {
	inFeatures int
	hidden     int
	numClasses int

	w1 *Parameter // [hidden, in_features]
	b1 *Parameter // [hidden]
	w2 *Parameter // [num_classes, hidden]
	b2 *Parameter // [num_classes]

	// hiddenAct holds relu(x @ W1.T + b1) from the last Forward call.
	hiddenAct *tensor.Tensor
}

// NewMLP creates an MLP classifier with Xavier-initialized weights.
func NewMLP(inFeatures, hidden, numClasses int, rng *rand.Rand) *MLP {
	return &MLP{
		inFeatures: inFeatures,
		hidden:     hidden,
		numClasses: numClasses,
		w1:         NewParameter("fc1.weight", Xavier(inFeatures, hidden, tensor.Shape{hidden, inFeatures}, rng)),
		b1:         NewParameter("fc1.bias", tensor.New(tensor.Shape{hidden})),
		w2:         NewParameter("fc2.weight", Xavier(hidden, numClasses, tensor.Shape{numClasses, hidden}, rng)),
		b2:         NewParameter("fc2.bias", tensor.New(tensor.Shape{numClasses})),
	}
}

// Name implements Classifier.
func (m *MLP) Name() string { return "mlp" }

// NumClasses implements Classifier.
func (m *MLP) NumClasses() int { return m.numClasses }

// Forward computes logits for a batch of flattened images.
func (m *MLP) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("MLP.Forward: expected 2D input [batch, features], got shape %v", shape))
	}
	if shape[1] != m.inFeatures {
		panic(fmt.Sprintf("MLP.Forward: expected input with %d features, got %d", m.inFeatures, shape[1]))
	}

	batch := shape[0]
	m.hiddenAct = tensor.New(tensor.Shape{batch, m.hidden})
	logits := tensor.New(tensor.Shape{batch, m.numClasses})

	w1 := m.w1.Tensor().Data()
	b1 := m.b1.Tensor().Data()
	w2 := m.w2.Tensor().Data()
	b2 := m.b2.Tensor().Data()

	for i := 0; i < batch; i++ {
		x := input.Row(i)
		h := m.hiddenAct.Row(i)
		for k := 0; k < m.hidden; k++ {
			sum := b1[k]
			row := w1[k*m.inFeatures : (k+1)*m.inFeatures]
			for j, v := range x {
				sum += row[j] * v
			}
			if sum > 0 { // ReLU
				h[k] = sum
			}
		}

		out := logits.Row(i)
		for c := 0; c < m.numClasses; c++ {
			sum := b2[c]
			row := w2[c*m.hidden : (c+1)*m.hidden]
			for k, v := range h {
				sum += row[k] * v
			}
			out[c] = sum
		}
	}

	return logits
}

// Backward accumulates gradients for both layers.
func (m *MLP) Backward(input, gradLogits *tensor.Tensor) {
	if m.hiddenAct == nil || m.hiddenAct.Shape()[0] != input.Shape()[0] {
		panic("MLP.Backward: no cached activations; Forward must precede Backward with the same batch")
	}

	batch := input.Shape()[0]
	w2 := m.w2.Tensor().Data()
	gw1 := m.w1.Grad().Data()
	gb1 := m.b1.Grad().Data()
	gw2 := m.w2.Grad().Data()
	gb2 := m.b2.Grad().Data()

	gradHidden := make([]float32, m.hidden)

	for i := 0; i < batch; i++ {
		x := input.Row(i)
		h := m.hiddenAct.Row(i)
		g := gradLogits.Row(i)

		// Output layer: gW2 += g.T h, gb2 += g; backprop into hidden.
		for k := range gradHidden {
			gradHidden[k] = 0
		}
		for c := 0; c < m.numClasses; c++ {
			gc := g[c]
			if gc == 0 {
				continue
			}
			gb2[c] += gc
			row := gw2[c*m.hidden : (c+1)*m.hidden]
			wRow := w2[c*m.hidden : (c+1)*m.hidden]
			for k, hv := range h {
				row[k] += gc * hv
				gradHidden[k] += gc * wRow[k]
			}
		}

		// ReLU gate: gradient flows only where the activation was positive.
		for k := 0; k < m.hidden; k++ {
			if h[k] <= 0 {
				continue
			}
			gk := gradHidden[k]
			if gk == 0 {
				continue
			}
			gb1[k] += gk
			row := gw1[k*m.inFeatures : (k+1)*m.inFeatures]
			for j, v := range x {
				row[j] += gk * v
			}
		}
	}
}

// Parameters implements Classifier.
func (m *MLP) Parameters() []*Parameter {
	return []*Parameter{m.w1, m.b1, m.w2, m.b2}
}

// StateDict implements Classifier.
func (m *MLP) StateDict() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, 4)
	for _, p := range m.Parameters() {
		out[p.Name()] = p.Tensor()
	}
	return out
}

// LoadStateDict implements Classifier.
func (m *MLP) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	return loadParams(stateDict, m.Parameters())
}
