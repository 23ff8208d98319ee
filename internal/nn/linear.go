package nn

import (
	"fmt"
	"math/rand"

	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// Linear is a softmax-regression classifier: a single fully connected layer
// over flattened pixels.
//
// Performs y = x @ W.T + b with:
//   - x: [batch, in_features]
//   - W: [num_classes, in_features]
//   - b: [num_classes]
//   - y: [batch, num_classes]
//
// Weights use Xavier initialization, biases start at zero. The backward pass
// is closed-form: dW = G.T @ x, db = sum over batch of G, where G is the
// loss gradient with respect to the logits.
type Linear struct {
	inFeatures int
	numClasses int
	weight     *Parameter // [num_classes, in_features]
	bias       *Parameter // [num_classes]
}

// NewLinear creates a linear classifier with Xavier-initialized weights.
func NewLinear(inFeatures, numClasses int, rng *rand.Rand) *Linear {
	weight := Xavier(inFeatures, numClasses, tensor.Shape{numClasses, inFeatures}, rng)
	bias := tensor.New(tensor.Shape{numClasses})

	return &Linear{
		inFeatures: inFeatures,
		numClasses: numClasses,
		weight:     NewParameter("weight", weight),
		bias:       NewParameter("bias", bias),
	}
}

// Name implements Classifier.
func (l *Linear) Name() string { return "linear" }

// NumClasses implements Classifier.
func (l *Linear) NumClasses() int { return l.numClasses }

// Forward computes logits for a batch of flattened images.
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("Linear.Forward: expected 2D input [batch, features], got shape %v", shape))
	}
	if shape[1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, shape[1]))
	}

	batch := shape[0]
	logits := tensor.New(tensor.Shape{batch, l.numClasses})

	w := l.weight.Tensor().Data()
	b := l.bias.Tensor().Data()

	for i := 0; i < batch; i++ {
		x := input.Row(i)
		out := logits.Row(i)
		for c := 0; c < l.numClasses; c++ {
			sum := b[c]
			row := w[c*l.inFeatures : (c+1)*l.inFeatures]
			for j, v := range x {
				sum += row[j] * v
			}
			out[c] = sum
		}
	}

	return logits
}

// Backward accumulates gradients for weight and bias.
//
// gradLogits must come from the loss evaluated on the logits of the
// immediately preceding Forward call with the same input.
func (l *Linear) Backward(input, gradLogits *tensor.Tensor) {
	batch := input.Shape()[0]
	gw := l.weight.Grad().Data()
	gb := l.bias.Grad().Data()

	for i := 0; i < batch; i++ {
		x := input.Row(i)
		g := gradLogits.Row(i)
		for c := 0; c < l.numClasses; c++ {
			gc := g[c]
			if gc == 0 {
				continue
			}
			gb[c] += gc
			row := gw[c*l.inFeatures : (c+1)*l.inFeatures]
			for j, v := range x {
				row[j] += gc * v
			}
		}
	}
}

// Parameters implements Classifier.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// StateDict implements Classifier.
func (l *Linear) StateDict() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"weight": l.weight.Tensor(),
		"bias":   l.bias.Tensor(),
	}
}

// LoadStateDict implements Classifier.
func (l *Linear) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	return loadParams(stateDict, l.Parameters())
}

// loadParams copies state-dict tensors into parameters by name, validating
// presence and shape. Shared by all bundled classifiers.
func loadParams(stateDict map[string]*tensor.Tensor, params []*Parameter) error {
	for _, p := range params {
		src, ok := stateDict[p.Name()]
		if !ok {
			return fmt.Errorf("missing %q in state dict", p.Name())
		}
		if err := p.Tensor().CopyFrom(src); err != nil {
			return fmt.Errorf("parameter %q: %w", p.Name(), err)
		}
	}
	return nil
}
