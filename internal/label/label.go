// Package label supplies the labels fed to the training loop.
//
// Two variants exist, selected once at configuration time and threaded
// explicitly through the pipeline rather than held as global mode state:
//
//   - ground-truth: labels come from a curated dataset; the directory a
//     sample sits in is verified correct.
//   - candidate: labels carry the same directory-derived values, but the
//     directory assignment comes from an uncurated web image search and is
//     not guaranteed correct. The pipeline trains on these labels exactly
//     as given — no denoising, no correction — because measuring what a
//     model learns from raw search results is the point.
//
// Validation and evaluation always use ground-truth labels regardless of
// the training variant.
package label

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/webtrain-ml/webtrain/internal/dataset"
)

// Variant tags the provenance of training labels.
type Variant string

const (
	// GroundTruth marks curated, human-verified labels.
	GroundTruth Variant = "ground-truth"

	// Candidate marks labels derived from web-search provenance; they are
	// noise-bearing and must be used as-is.
	Candidate Variant = "candidate"
)

// ParseVariant validates a variant name from configuration.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case GroundTruth, Candidate:
		return Variant(s), nil
	default:
		return "", fmt.Errorf("label.ParseVariant: unknown label source %q (supported: %s, %s)",
			s, GroundTruth, Candidate)
	}
}

// Source resolves labels for scanned samples.
type Source struct {
	variant Variant
	logger  *zap.Logger
}

// NewSource creates a label source of the given variant.
func NewSource(variant Variant, logger *zap.Logger) *Source {
	return &Source{variant: variant, logger: logger}
}

// Variant returns the source's provenance tag.
func (s *Source) Variant() Variant {
	return s.variant
}

// Resolve returns the label for every sample, in sample order.
//
// Both variants read the class of the directory the sample was found in;
// the variant records whether that assignment is trusted. Resolve is where
// a future label provider with out-of-band provenance would plug in.
func (s *Source) Resolve(ds *dataset.Dataset) []int {
	labels := ds.Labels()
	s.logger.Info("resolved labels",
		zap.String("source", string(s.variant)),
		zap.Int("samples", len(labels)),
		zap.Int("classes", len(ds.Classes)))
	return labels
}

// InjectSymmetric relabels a fraction of each class to uniformly random
// other classes, in place, and returns the number of labels changed.
//
// For every class, floor(rate * n) of its samples are selected by the
// seeded rng and reassigned. This reproduces controlled-noise experiments;
// it must only ever be applied to training labels.
func InjectSymmetric(labels []int, numClasses int, rate float64, rng *rand.Rand) int {
	if rate <= 0 || numClasses < 2 {
		return 0
	}

	byClass := make([][]int, numClasses)
	for i, l := range labels {
		if l < 0 || l >= numClasses {
			continue
		}
		byClass[l] = append(byClass[l], i)
	}

	changed := 0
	for class, indices := range byClass {
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		n := int(rate * float64(len(indices)))
		for _, idx := range indices[:n] {
			// Draw from the other classes only.
			next := rng.Intn(numClasses - 1)
			if next >= class {
				next++
			}
			labels[idx] = next
			changed++
		}
	}
	return changed
}
