package optim

import (
	"fmt"
	"math"

	"github.com/webtrain-ml/webtrain/internal/nn"
	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// Adam implements the Adam (adaptive moment estimation) optimizer.
//
// Update rule:
//
//	g = grad + weight_decay * param
//	m_t = beta1 * m_{t-1} + (1-beta1) * g
//	v_t = beta2 * v_{t-1} + (1-beta2) * g²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014).
type Adam struct {
	params      []*nn.Parameter
	lr          float32
	beta1       float32
	beta2       float32
	eps         float32
	weightDecay float32
	t           int // timestep for bias correction

	m []*tensor.Tensor // first moment estimates, parallel to params
	v []*tensor.Tensor // second moment estimates, parallel to params
}

// NewAdam creates an Adam optimizer with PyTorch-compatible defaults
// (lr 0.001, betas 0.9/0.999, eps 1e-8).
func NewAdam(params []*nn.Parameter, config Config) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam{
		params:      params,
		lr:          config.LR,
		beta1:       config.Betas[0],
		beta2:       config.Betas[1],
		eps:         config.Eps,
		weightDecay: config.WeightDecay,
		m:           make([]*tensor.Tensor, len(params)),
		v:           make([]*tensor.Tensor, len(params)),
	}
}

// Name implements Optimizer.
func (a *Adam) Name() string { return "adam" }

// Step implements Optimizer.
func (a *Adam) Step() {
	a.t++
	biasCorr1 := 1 - float32(math.Pow(float64(a.beta1), float64(a.t)))
	biasCorr2 := 1 - float32(math.Pow(float64(a.beta2), float64(a.t)))

	for i, param := range a.params {
		if a.m[i] == nil {
			a.m[i] = tensor.New(param.Tensor().Shape())
			a.v[i] = tensor.New(param.Tensor().Shape())
		}

		data := param.Tensor().Data()
		grad := param.Grad().Data()
		m := a.m[i].Data()
		v := a.v[i].Data()

		for j := range data {
			g := grad[j] + a.weightDecay*data[j]
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g

			mHat := m[j] / biasCorr1
			vHat := v[j] / biasCorr2
			data[j] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
}

// ZeroGrad implements Optimizer.
func (a *Adam) ZeroGrad() { zeroGrads(a.params) }

// LR implements Optimizer.
func (a *Adam) LR() float32 { return a.lr }

// SetLR implements Optimizer.
func (a *Adam) SetLR(lr float32) { a.lr = lr }

// StateDict exports moment buffers ("m.{i}", "v.{i}") and the timestep ("t")
// so bias correction continues exactly across a resume.
func (a *Adam) StateDict() map[string]*tensor.Tensor {
	stateDict := make(map[string]*tensor.Tensor)
	for i := range a.params {
		if a.m[i] == nil {
			continue
		}
		stateDict[fmt.Sprintf("m.%d", i)] = a.m[i]
		stateDict[fmt.Sprintf("v.%d", i)] = a.v[i]
	}
	stateDict["t"] = tensor.Full(tensor.Shape{1}, float32(a.t))
	return stateDict
}

// LoadStateDict restores moment buffers and the timestep.
func (a *Adam) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	for i, param := range a.params {
		mKey := fmt.Sprintf("m.%d", i)
		vKey := fmt.Sprintf("v.%d", i)
		if _, ok := stateDict[mKey]; !ok {
			continue
		}
		if a.m[i] == nil {
			a.m[i] = tensor.New(param.Tensor().Shape())
			a.v[i] = tensor.New(param.Tensor().Shape())
		}
		if err := loadStateTensor(stateDict, mKey, a.m[i]); err != nil {
			return err
		}
		if err := loadStateTensor(stateDict, vKey, a.v[i]); err != nil {
			return err
		}
	}

	if t, ok := stateDict["t"]; ok {
		if t.NumElements() != 1 {
			return fmt.Errorf("optimizer state \"t\": expected scalar, got shape %v", t.Shape())
		}
		a.t = int(t.Data()[0])
	}
	return nil
}
