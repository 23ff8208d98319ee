package nn

import (
	"sort"

	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// CorrectTopK counts validation samples whose true class is among the k
// highest-scoring predictions.
//
// Ties between equal logits are broken by lower class index, which keeps the
// count deterministic for identical inputs.
func CorrectTopK(logits *tensor.Tensor, targets []int, k int) int {
	batch := logits.Shape()[0]
	classes := logits.Shape()[1]
	if k > classes {
		k = classes
	}

	correct := 0
	idx := make([]int, classes)
	for i := 0; i < batch; i++ {
		row := logits.Row(i)
		for c := range idx {
			idx[c] = c
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return row[idx[a]] > row[idx[b]]
		})
		for _, c := range idx[:k] {
			if c == targets[i] {
				correct++
				break
			}
		}
	}
	return correct
}

// Accuracy returns the top-1 accuracy for a batch as a fraction in [0, 1].
func Accuracy(logits *tensor.Tensor, targets []int) float32 {
	batch := logits.Shape()[0]
	if batch == 0 {
		return 0
	}
	return float32(CorrectTopK(logits, targets, 1)) / float32(batch)
}
