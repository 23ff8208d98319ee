// Package nn defines the differentiable-classifier capability the training
// pipeline is written against, plus two small reference implementations.
//
// The pipeline never assumes a concrete architecture: the trainer, evaluator
// and checkpoint code see only the Classifier interface (parameters, forward
// pass, gradient computation). The bundled linear and MLP classifiers exist
// so the pipeline is runnable and testable end to end; any implementation of
// Classifier can be substituted.
package nn

import (
	"fmt"
	"math/rand"

	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// Classifier is a parametric image classifier trainable by gradient descent.
//
// Forward maps a batch of flattened images [batch, features] to logits
// [batch, classes]. Backward consumes the loss gradient with respect to
// those logits and accumulates parameter gradients in place.
//
// Implementations are driven by a single training loop and are not required
// to be safe for concurrent use: Backward may rely on activations cached by
// the immediately preceding Forward call.
type Classifier interface {
	// Name returns the architecture identifier recorded in checkpoints.
	Name() string

	// Forward computes logits for a batch.
	//
	// Input shape: [batch, features]. Output shape: [batch, classes].
	Forward(input *tensor.Tensor) *tensor.Tensor

	// Backward accumulates parameter gradients given the gradient of the
	// loss with respect to the logits of the preceding Forward call.
	Backward(input, gradLogits *tensor.Tensor)

	// Parameters returns all trainable parameters.
	Parameters() []*Parameter

	// NumClasses returns the size of the output layer.
	NumClasses() int

	// StateDict returns parameter tensors keyed by name for serialization.
	StateDict() map[string]*tensor.Tensor

	// LoadStateDict restores parameters from a state dictionary.
	//
	// Returns an error on missing keys or shape mismatches; the error names
	// the offending tensor with expected and found shapes.
	LoadStateDict(stateDict map[string]*tensor.Tensor) error
}

// New constructs a classifier by architecture name.
//
// Recognized names:
//   - "linear": softmax regression over flattened pixels
//   - "mlp": one hidden ReLU layer of width hidden
//
// The rng seeds weight initialization so runs are reproducible.
func New(name string, inFeatures, numClasses, hidden int, rng *rand.Rand) (Classifier, error) {
	switch name {
	case "linear":
		return NewLinear(inFeatures, numClasses, rng), nil
	case "mlp":
		if hidden <= 0 {
			return nil, fmt.Errorf("nn.New: mlp requires a positive hidden width, got %d", hidden)
		}
		return NewMLP(inFeatures, hidden, numClasses, rng), nil
	default:
		return nil, fmt.Errorf("nn.New: unknown model %q (supported: linear, mlp)", name)
	}
}
