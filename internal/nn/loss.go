package nn

import (
	"fmt"
	"math"

	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// Loss computes a scalar training loss and its gradient with respect to the
// model's logits.
//
// Forward returns the mean loss over the batch. Backward returns
// ∂L/∂logits with shape [batch, classes], already averaged over the batch,
// ready to feed Classifier.Backward.
type Loss interface {
	Name() string
	Forward(logits *tensor.Tensor, targets []int) float32
	Backward(logits *tensor.Tensor, targets []int) *tensor.Tensor
}

// NewLoss constructs a loss function by name.
//
// Recognized names: "cross_entropy" (aliases "cross", "entropy") and "mse"
// (aliases "l2", "squared"), mirroring the reference training script.
func NewLoss(name string) (Loss, error) {
	switch name {
	case "cross_entropy", "cross", "entropy":
		return CrossEntropy{}, nil
	case "mse", "l2", "squared":
		return MSE{}, nil
	default:
		return nil, fmt.Errorf("nn.NewLoss: unknown loss %q (supported: cross_entropy, mse)", name)
	}
}

// CrossEntropy is softmax cross-entropy over class indices.
//
// Uses the LogSoftmax + NLL decomposition with the log-sum-exp trick for
// numerical stability. Gradient: softmax(logits) - one_hot(target), averaged
// over the batch.
type CrossEntropy struct{}

// Name implements Loss.
func (CrossEntropy) Name() string { return "cross_entropy" }

// Forward computes mean negative log-likelihood over the batch.
func (CrossEntropy) Forward(logits *tensor.Tensor, targets []int) float32 {
	batch, classes := lossShape(logits, targets)

	total := float32(0)
	for i := 0; i < batch; i++ {
		logProbs := logSoftmax(logits.Row(i))
		target := targets[i]
		if target < 0 || target >= classes {
			panic(fmt.Sprintf("CrossEntropy.Forward: target %d out of range [0, %d)", target, classes))
		}
		total += -logProbs[target]
	}
	return total / float32(batch)
}

// Backward computes ∂L/∂logits = (softmax(logits) - one_hot) / batch.
func (CrossEntropy) Backward(logits *tensor.Tensor, targets []int) *tensor.Tensor {
	batch, _ := lossShape(logits, targets)

	grad := tensor.New(logits.Shape())
	inv := 1 / float32(batch)
	for i := 0; i < batch; i++ {
		probs := softmax(logits.Row(i))
		out := grad.Row(i)
		for c, p := range probs {
			out[c] = p * inv
		}
		out[targets[i]] -= inv
	}
	return grad
}

// MSE is mean squared error against one-hot targets, the reference script's
// "l2" option.
type MSE struct{}

// Name implements Loss.
func (MSE) Name() string { return "mse" }

// Forward computes mean squared error over all batch * classes entries.
func (MSE) Forward(logits *tensor.Tensor, targets []int) float32 {
	batch, classes := lossShape(logits, targets)

	total := float32(0)
	for i := 0; i < batch; i++ {
		row := logits.Row(i)
		for c, v := range row {
			want := float32(0)
			if c == targets[i] {
				want = 1
			}
			d := v - want
			total += d * d
		}
	}
	return total / float32(batch*classes)
}

// Backward computes ∂L/∂logits = 2 (logits - one_hot) / (batch * classes).
func (MSE) Backward(logits *tensor.Tensor, targets []int) *tensor.Tensor {
	batch, classes := lossShape(logits, targets)

	grad := tensor.New(logits.Shape())
	scale := 2 / float32(batch*classes)
	for i := 0; i < batch; i++ {
		row := logits.Row(i)
		out := grad.Row(i)
		for c, v := range row {
			want := float32(0)
			if c == targets[i] {
				want = 1
			}
			out[c] = scale * (v - want)
		}
	}
	return grad
}

// lossShape validates logits/targets agreement and returns (batch, classes).
func lossShape(logits *tensor.Tensor, targets []int) (int, int) {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("loss: logits must be 2D [batch, classes], got shape %v", shape))
	}
	if shape[0] != len(targets) {
		panic(fmt.Sprintf("loss: %d targets for batch of %d", len(targets), shape[0]))
	}
	return shape[0], shape[1]
}

// logSoftmax computes log(softmax(z)) in a numerically stable way:
//
//	LogSoftmax(z)[i] = z[i] - (max(z) + log(Σ exp(z - max(z))))
func logSoftmax(z []float32) []float32 {
	maxZ := z[0]
	for _, v := range z[1:] {
		if v > maxZ {
			maxZ = v
		}
	}

	sumExp := float32(0)
	for _, v := range z {
		sumExp += float32(math.Exp(float64(v - maxZ)))
	}
	logSumExp := maxZ + float32(math.Log(float64(sumExp)))

	out := make([]float32, len(z))
	for i, v := range z {
		out[i] = v - logSumExp
	}
	return out
}

// softmax computes exp(logSoftmax(z)).
func softmax(z []float32) []float32 {
	out := logSoftmax(z)
	for i, lp := range out {
		out[i] = float32(math.Exp(float64(lp)))
	}
	return out
}
