// Package tensor provides the dense float32 tensor used throughout the
// training pipeline.
//
// The pipeline runs on a single device and a single dtype, so unlike a full
// framework tensor there is no backend dispatch and no type parameter: a
// Tensor is a shape plus one contiguous float32 buffer. Batches, model
// parameters, gradients and optimizer state are all Tensors.
package tensor

import (
	"fmt"
	"strings"
)

// Shape describes tensor dimensions, outermost first.
type Shape []int

// NumElements returns the total number of elements for this shape.
// The empty shape is treated as a scalar (one element).
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Equal reports whether two shapes have identical rank and dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i, dim := range s {
		if dim != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// String formats the shape as [d0, d1, ...].
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = fmt.Sprintf("%d", dim)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Tensor is a dense float32 tensor with row-major contiguous storage.
//
// Tensors are mutable: optimizers update parameter tensors in place, and
// transform code writes decoded pixels directly into batch tensors. Callers
// that need a stable snapshot must Clone.
type Tensor struct {
	shape Shape
	data  []float32
}

// New creates a zero-filled tensor with the given shape.
func New(shape Shape) *Tensor {
	for i, dim := range shape {
		if dim < 0 {
			panic(fmt.Sprintf("tensor.New: negative dimension %d at axis %d", dim, i))
		}
	}
	return &Tensor{
		shape: shape.Clone(),
		data:  make([]float32, shape.NumElements()),
	}
}

// FromSlice creates a tensor that adopts the provided data.
//
// Returns an error if the data length does not match the shape. The slice is
// not copied; the tensor takes ownership.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("tensor.FromSlice: data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	return &Tensor{shape: shape.Clone(), data: data}, nil
}

// Full creates a tensor with every element set to value.
func Full(shape Shape, value float32) *Tensor {
	t := New(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Shape returns the tensor's shape. Callers must not modify it.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the underlying float32 buffer for in-place access.
func (t *Tensor) Data() []float32 {
	return t.data
}

// NumElements returns the total element count.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	out := New(t.shape)
	copy(out.data, t.data)
	return out
}

// CopyFrom copies data from src into t.
//
// Returns an error if shapes differ; used when loading checkpoints so that a
// mismatched snapshot is reported instead of silently truncating.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return fmt.Errorf("tensor.CopyFrom: shape mismatch: expected %v, got %v", t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Zero sets every element to zero.
func (t *Tensor) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// Row returns the i-th row of a 2D tensor as a subslice of the backing
// buffer. Panics if the tensor is not 2D.
func (t *Tensor) Row(i int) []float32 {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor.Row: expected 2D tensor, got shape %v", t.shape))
	}
	cols := t.shape[1]
	return t.data[i*cols : (i+1)*cols]
}
