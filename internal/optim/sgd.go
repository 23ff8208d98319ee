package optim

import (
	"fmt"

	"github.com/webtrain-ml/webtrain/internal/nn"
	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum and
// weight decay.
//
// Update rule:
//
//	g = grad + weight_decay * param
//	velocity = momentum * velocity + g
//	param = param - lr * velocity
//
// With momentum = 0 the velocity buffer is skipped and the update reduces to
// param -= lr * g. The reference recipe uses momentum 0.9 and weight decay
// 1e-4.
type SGD struct {
	params      []*nn.Parameter
	lr          float32
	momentum    float32
	weightDecay float32
	velocities  []*tensor.Tensor // parallel to params; nil until first step
}

// NewSGD creates an SGD optimizer. A zero LR falls back to 0.01.
func NewSGD(params []*nn.Parameter, config Config) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		velocities:  make([]*tensor.Tensor, len(params)),
	}
}

// Name implements Optimizer.
func (s *SGD) Name() string { return "sgd" }

// Step implements Optimizer.
func (s *SGD) Step() {
	for i, param := range s.params {
		data := param.Tensor().Data()
		grad := param.Grad().Data()

		if s.momentum == 0 {
			for j := range data {
				g := grad[j] + s.weightDecay*data[j]
				data[j] -= s.lr * g
			}
			continue
		}

		if s.velocities[i] == nil {
			s.velocities[i] = tensor.New(param.Tensor().Shape())
		}
		vel := s.velocities[i].Data()
		for j := range data {
			g := grad[j] + s.weightDecay*data[j]
			vel[j] = s.momentum*vel[j] + g
			data[j] -= s.lr * vel[j]
		}
	}
}

// ZeroGrad implements Optimizer.
func (s *SGD) ZeroGrad() { zeroGrads(s.params) }

// LR implements Optimizer.
func (s *SGD) LR() float32 { return s.lr }

// SetLR implements Optimizer.
func (s *SGD) SetLR(lr float32) { s.lr = lr }

// StateDict exports velocity buffers keyed "velocity.{i}". Without momentum
// the state is empty.
func (s *SGD) StateDict() map[string]*tensor.Tensor {
	stateDict := make(map[string]*tensor.Tensor)
	if s.momentum == 0 {
		return stateDict
	}
	for i, vel := range s.velocities {
		if vel == nil {
			continue
		}
		stateDict[fmt.Sprintf("velocity.%d", i)] = vel
	}
	return stateDict
}

// LoadStateDict restores velocity buffers, validating shapes against the
// parameters they belong to.
func (s *SGD) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	if s.momentum == 0 {
		return nil
	}
	for i, param := range s.params {
		key := fmt.Sprintf("velocity.%d", i)
		if _, ok := stateDict[key]; !ok {
			continue
		}
		if s.velocities[i] == nil {
			s.velocities[i] = tensor.New(param.Tensor().Shape())
		}
		if err := loadStateTensor(stateDict, key, s.velocities[i]); err != nil {
			return err
		}
	}
	return nil
}
