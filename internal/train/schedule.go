package train

import "math"

// StepDecay is the reference recipe's epoch-keyed schedule: the base rate
// decays by a fixed factor every interval epochs and freezes once the
// maximum decay epoch is reached.
//
//	lr(e) = base * rate^(e / interval)   for e < maxEpoch
//	lr(e) = lr(maxEpoch)                 otherwise
type StepDecay struct {
	Base     float32
	Rate     float64 // decay factor per interval, e.g. 0.1
	Interval int     // epochs between decays, e.g. 30
	MaxEpoch int     // no further decay at or past this epoch; 0 = unbounded
}

// LR returns the learning rate for a zero-based epoch index.
func (s StepDecay) LR(epoch int) float32 {
	if s.Interval <= 0 {
		return s.Base
	}
	if s.MaxEpoch > 0 && epoch > s.MaxEpoch {
		epoch = s.MaxEpoch
	}
	return s.Base * float32(math.Pow(s.Rate, float64(epoch/s.Interval)))
}

// InverseSqrt is the per-step alternative schedule:
//
//	lr(step) = base / sqrt(1 + step/decay)
//
// decay defaults to 512 when zero, following the reference script.
type InverseSqrt struct {
	Base  float32
	Decay float64
}

// LR returns the learning rate for a zero-based global step index.
func (s InverseSqrt) LR(step int64) float32 {
	decay := s.Decay
	if decay == 0 {
		decay = 512
	}
	return s.Base / float32(math.Sqrt(1+float64(step)/decay))
}
