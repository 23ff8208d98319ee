// Package optim implements the gradient-descent optimizers used by the
// training loop.
//
// Optimizers read gradients accumulated on nn.Parameter buffers and update
// parameter values in place. State dictionaries round-trip through
// checkpoints so a resumed run continues with identical optimizer state.
package optim

import (
	"fmt"

	"github.com/webtrain-ml/webtrain/internal/nn"
	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Name returns the algorithm identifier recorded in checkpoints.
	Name() string

	// Step applies one gradient update to all parameters in place, reading
	// the gradients currently accumulated on the parameters.
	Step()

	// ZeroGrad clears all parameter gradients. Call before each backward
	// pass to prevent accumulation across batches.
	ZeroGrad()

	// LR returns the current learning rate.
	LR() float32

	// SetLR updates the learning rate; used by the schedule.
	SetLR(lr float32)

	// StateDict returns optimizer state tensors for serialization.
	StateDict() map[string]*tensor.Tensor

	// LoadStateDict restores optimizer state from a checkpoint.
	//
	// Returns an error if a state tensor's shape does not match its
	// parameter.
	LoadStateDict(stateDict map[string]*tensor.Tensor) error
}

// Config holds the hyperparameters shared by the supported optimizers.
// Unused fields are ignored by algorithms that do not need them.
type Config struct {
	LR          float32    // Learning rate
	Momentum    float32    // SGD momentum factor (range [0, 1))
	WeightDecay float32    // L2 penalty added to gradients
	Betas       [2]float32 // Adam moment decay coefficients
	Eps         float32    // Adam numerical stability term
}

// New constructs an optimizer by name ("sgd" or "adam").
func New(name string, params []*nn.Parameter, config Config) (Optimizer, error) {
	switch name {
	case "sgd":
		return NewSGD(params, config), nil
	case "adam":
		return NewAdam(params, config), nil
	default:
		return nil, fmt.Errorf("optim.New: unknown optimizer %q (supported: sgd, adam)", name)
	}
}

// zeroGrads clears gradients on every parameter.
func zeroGrads(params []*nn.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// loadStateTensor copies a state tensor into dst, validating shape against
// the owning parameter. Missing entries are not an error: state buffers that
// were never materialized (e.g. before the first step) are simply absent.
func loadStateTensor(stateDict map[string]*tensor.Tensor, key string, dst *tensor.Tensor) error {
	src, ok := stateDict[key]
	if !ok {
		return nil
	}
	if err := dst.CopyFrom(src); err != nil {
		return fmt.Errorf("optimizer state %q: %w", key, err)
	}
	return nil
}
