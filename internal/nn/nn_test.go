package nn_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtrain-ml/webtrain/internal/nn"
	"github.com/webtrain-ml/webtrain/internal/tensor"
)

func TestNew_KnownArchitectures(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	linear, err := nn.New("linear", 12, 3, 0, rng)
	require.NoError(t, err)
	assert.Equal(t, "linear", linear.Name())
	assert.Equal(t, 3, linear.NumClasses())

	mlp, err := nn.New("mlp", 12, 3, 8, rng)
	require.NoError(t, err)
	assert.Equal(t, "mlp", mlp.Name())

	_, err = nn.New("resnet50", 12, 3, 0, rng)
	require.Error(t, err)

	_, err = nn.New("mlp", 12, 3, 0, rng)
	require.Error(t, err, "mlp without hidden width must fail")
}

func TestNew_DeterministicInit(t *testing.T) {
	a, err := nn.New("linear", 6, 2, 0, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	b, err := nn.New("linear", 6, 2, 0, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	assert.Equal(t, a.StateDict()["weight"].Data(), b.StateDict()["weight"].Data())
}

func TestLinear_ForwardKnownValues(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	model := nn.NewLinear(2, 2, rng)

	// Overwrite the random init with known weights:
	// W = [[1, 0], [0, 1]], b = [0.5, -0.5].
	copy(model.StateDict()["weight"].Data(), []float32{1, 0, 0, 1})
	copy(model.StateDict()["bias"].Data(), []float32{0.5, -0.5})

	input, err := tensor.FromSlice([]float32{2, 3}, tensor.Shape{1, 2})
	require.NoError(t, err)

	logits := model.Forward(input)
	assert.InDelta(t, 2.5, logits.Data()[0], 1e-6)
	assert.InDelta(t, 2.5, logits.Data()[1], 1e-6)
}

// gradCheck compares analytic parameter gradients against central finite
// differences of the loss.
func gradCheck(t *testing.T, model nn.Classifier, input *tensor.Tensor, targets []int) {
	t.Helper()

	loss := nn.CrossEntropy{}

	for _, p := range model.Parameters() {
		p.ZeroGrad()
	}
	logits := model.Forward(input)
	grad := loss.Backward(logits, targets)
	model.Backward(input, grad)

	const eps = 1e-2
	for _, p := range model.Parameters() {
		data := p.Tensor().Data()
		analytic := p.Grad().Data()
		// Probe a few entries per parameter to keep the test fast.
		for _, i := range []int{0, len(data) / 2, len(data) - 1} {
			orig := data[i]

			data[i] = orig + eps
			plus := loss.Forward(model.Forward(input), targets)
			data[i] = orig - eps
			minus := loss.Forward(model.Forward(input), targets)
			data[i] = orig

			numeric := (plus - minus) / (2 * eps)
			assert.InDeltaf(t, numeric, analytic[i], 1e-2,
				"param %s index %d: analytic %f vs numeric %f", p.Name(), i, analytic[i], numeric)
		}
	}
}

func TestLinear_GradCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	model := nn.NewLinear(4, 3, rng)

	input, err := tensor.FromSlice([]float32{
		0.2, -0.5, 0.9, 0.1,
		-0.3, 0.7, 0.4, -0.8,
	}, tensor.Shape{2, 4})
	require.NoError(t, err)

	gradCheck(t, model, input, []int{2, 0})
}

func TestMLP_GradCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	model := nn.NewMLP(4, 5, 3, rng)

	input, err := tensor.FromSlice([]float32{
		0.2, -0.5, 0.9, 0.1,
		-0.3, 0.7, 0.4, -0.8,
	}, tensor.Shape{2, 4})
	require.NoError(t, err)

	gradCheck(t, model, input, []int{1, 2})
}

func TestStateDict_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	src := nn.NewMLP(6, 4, 2, rng)
	dst := nn.NewMLP(6, 4, 2, rand.New(rand.NewSource(99)))

	require.NoError(t, dst.LoadStateDict(src.StateDict()))

	for name, want := range src.StateDict() {
		assert.Equal(t, want.Data(), dst.StateDict()[name].Data(), name)
	}
}

func TestLoadStateDict_Errors(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	model := nn.NewLinear(6, 2, rng)

	err := model.LoadStateDict(map[string]*tensor.Tensor{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	bad := map[string]*tensor.Tensor{
		"weight": tensor.New(tensor.Shape{3, 6}), // wrong class count
		"bias":   tensor.New(tensor.Shape{2}),
	}
	err = model.LoadStateDict(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shape mismatch")
}

func TestCrossEntropy_KnownValues(t *testing.T) {
	loss := nn.CrossEntropy{}

	// Uniform logits over 4 classes: loss = log(4) regardless of target.
	logits, err := tensor.FromSlice([]float32{0, 0, 0, 0}, tensor.Shape{1, 4})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4), float64(loss.Forward(logits, []int{2})), 1e-5)

	// Gradient rows sum to zero: softmax minus one-hot.
	grad := loss.Backward(logits, []int{2})
	sum := float32(0)
	for _, v := range grad.Data() {
		sum += v
	}
	assert.InDelta(t, 0, float64(sum), 1e-6)
	assert.InDelta(t, (0.25-1.0), float64(grad.Data()[2]), 1e-5)
}

func TestMSE_KnownValues(t *testing.T) {
	loss := nn.MSE{}

	// Perfect one-hot prediction has zero loss.
	logits, err := tensor.FromSlice([]float32{0, 1}, tensor.Shape{1, 2})
	require.NoError(t, err)
	assert.InDelta(t, 0, float64(loss.Forward(logits, []int{1})), 1e-6)

	// Off by one everywhere: mean((1)^2 + (1)^2) / classes = 1.
	logits2, err := tensor.FromSlice([]float32{1, 0}, tensor.Shape{1, 2})
	require.NoError(t, err)
	assert.InDelta(t, 1, float64(loss.Forward(logits2, []int{1})), 1e-6)
}

func TestNewLoss_Aliases(t *testing.T) {
	for _, name := range []string{"cross_entropy", "cross", "entropy"} {
		l, err := nn.NewLoss(name)
		require.NoError(t, err)
		assert.Equal(t, "cross_entropy", l.Name())
	}
	for _, name := range []string{"mse", "l2", "squared"} {
		l, err := nn.NewLoss(name)
		require.NoError(t, err)
		assert.Equal(t, "mse", l.Name())
	}
	_, err := nn.NewLoss("hinge")
	require.Error(t, err)
}

func TestCorrectTopK(t *testing.T) {
	logits, err := tensor.FromSlice([]float32{
		0.1, 0.9, 0.3, 0.2, 0.0, 0.5, // true class 1 is rank 1
		0.9, 0.1, 0.3, 0.2, 0.0, 0.5, // true class 1 is rank 4
	}, tensor.Shape{2, 6})
	require.NoError(t, err)
	targets := []int{1, 1}

	assert.Equal(t, 1, nn.CorrectTopK(logits, targets, 1))
	assert.Equal(t, 1, nn.CorrectTopK(logits, targets, 3))
	assert.Equal(t, 2, nn.CorrectTopK(logits, targets, 5))

	// k larger than the class count never panics.
	assert.Equal(t, 2, nn.CorrectTopK(logits, targets, 10))
}
