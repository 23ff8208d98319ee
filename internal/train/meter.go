package train

// AverageMeter tracks the latest value and the running average of a metric,
// the reference training loop's bookkeeping unit for loss and accuracy.
type AverageMeter struct {
	Val   float64
	Sum   float64
	Count int
}

// Update records a value observed over n samples.
func (m *AverageMeter) Update(val float64, n int) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += n
}

// Avg returns the sample-weighted running average.
func (m *AverageMeter) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// Reset clears the meter for the next epoch.
func (m *AverageMeter) Reset() {
	*m = AverageMeter{}
}
