package nn

import (
	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// Parameter is a named trainable tensor paired with its gradient buffer.
//
// The gradient tensor has the same shape as the value tensor and is
// accumulated into by Classifier.Backward, consumed by optimizers, and
// cleared with ZeroGrad before each step.
type Parameter struct {
	name  string
	value *tensor.Tensor
	grad  *tensor.Tensor
}

// NewParameter creates a parameter wrapping the given tensor with a
// zero-initialized gradient buffer of the same shape.
func NewParameter(name string, value *tensor.Tensor) *Parameter {
	return &Parameter{
		name:  name,
		value: value,
		grad:  tensor.New(value.Shape()),
	}
}

// Name returns the parameter's name as used in state dictionaries.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter's value tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.value
}

// Grad returns the parameter's gradient tensor.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.grad.Zero()
}
