// Package eval measures classifier quality on a held-out partition.
//
// Evaluation always runs against ground-truth labels with the deterministic
// transform and fixed sample order, regardless of which label source trains
// the model. That separation is the core correctness property here: the
// reported numbers measure real-world accuracy even when training labels
// are noisy.
package eval

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/webtrain-ml/webtrain/internal/dataset"
	"github.com/webtrain-ml/webtrain/internal/nn"
)

// Result aggregates one evaluation pass.
type Result struct {
	Loss    float64 // mean loss over evaluated samples
	Acc1    float64 // top-1 accuracy in [0, 1]
	Acc5    float64 // top-5 accuracy in [0, 1]
	Samples int     // samples actually evaluated
	Skipped int     // samples dropped for unreadable images
}

// Evaluator runs forward-only passes over a validation loader.
type Evaluator struct {
	loader *dataset.Loader
	loss   nn.Loss
	logger *zap.Logger
}

// New creates an evaluator.
//
// The loader must be built with shuffle disabled and the non-augmenting
// transform; Run does not re-check that, it only guarantees it never
// mutates model parameters.
func New(loader *dataset.Loader, loss nn.Loss, logger *zap.Logger) *Evaluator {
	return &Evaluator{loader: loader, loss: loss, logger: logger}
}

// Run evaluates the model and returns aggregate metrics.
//
// Two calls on the same model snapshot return identical results: the
// forward pass is deterministic and batch order is fixed.
func (e *Evaluator) Run(model nn.Classifier) (*Result, error) {
	result := &Result{}
	lossSum := 0.0
	correct1 := 0
	correct5 := 0

	it := e.loader.Epoch(0)
	for batch := it.Next(); batch != nil; batch = it.Next() {
		if batch.Size() == 0 {
			continue
		}

		logits := model.Forward(batch.Images)
		lossSum += float64(e.loss.Forward(logits, batch.Labels)) * float64(batch.Size())
		correct1 += nn.CorrectTopK(logits, batch.Labels, 1)
		correct5 += nn.CorrectTopK(logits, batch.Labels, 5)
		result.Samples += batch.Size()
	}
	result.Skipped = it.SkippedSamples

	if result.Samples == 0 {
		return nil, fmt.Errorf("eval: no readable samples in validation partition")
	}

	result.Loss = lossSum / float64(result.Samples)
	result.Acc1 = float64(correct1) / float64(result.Samples)
	result.Acc5 = float64(correct5) / float64(result.Samples)

	e.logger.Debug("evaluation pass complete",
		zap.Int("samples", result.Samples),
		zap.Int("skipped", result.Skipped),
		zap.Float64("loss", result.Loss),
		zap.Float64("acc1", result.Acc1),
		zap.Float64("acc5", result.Acc5))

	return result, nil
}
