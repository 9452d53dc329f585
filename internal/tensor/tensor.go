package tensor

import (
	"fmt"
	"math/rand"
)

// Tensor is a dense, row-major tensor over a single element type.
//
// Storage is a flat slice owned by the tensor. There is no view sharing:
// Clone copies, Reshape reuses the same backing slice only through the
// returned tensor. This keeps ownership trivial, which the training core
// relies on for concurrent Loss calls (each call allocates its own
// caches and gradients against read-only parameters).
type Tensor[T DType] struct {
	data  []T
	shape Shape
}

// New creates a zero-filled tensor with the given shape.
func New[T DType](shape Shape) *Tensor[T] {
	if err := shape.Validate(); err != nil {
		panic(fmt.Sprintf("tensor.New: %v", err))
	}
	return &Tensor[T]{
		data:  make([]T, shape.NumElements()),
		shape: shape.Clone(),
	}
}

// FromSlice creates a tensor from a flat slice. The slice is used directly,
// not copied; the caller hands over ownership.
func FromSlice[T DType](data []T, shape Shape) (*Tensor[T], error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	return &Tensor[T]{data: data, shape: shape.Clone()}, nil
}

// Full creates a tensor with every element set to value.
func Full[T DType](shape Shape, value T) *Tensor[T] {
	t := New[T](shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Randn creates a tensor with elements drawn from N(0, 1) using rng.
// A caller-provided source keeps initialization reproducible.
func Randn[T Float](shape Shape, rng *rand.Rand) *Tensor[T] {
	t := New[T](shape)
	for i := range t.data {
		t.data[i] = T(rng.NormFloat64())
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor[T]) Shape() Shape {
	return t.shape
}

// NumElements returns the total number of elements.
func (t *Tensor[T]) NumElements() int {
	return len(t.data)
}

// Data returns the flat backing slice in row-major order.
// Kernels index it directly; mutating it mutates the tensor.
func (t *Tensor[T]) Data() []T {
	return t.data
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor[T]) At(idx ...int) T {
	return t.data[t.offset(idx)]
}

// Set stores v at the given multi-dimensional index.
func (t *Tensor[T]) Set(v T, idx ...int) {
	t.data[t.offset(idx)] = v
}

func (t *Tensor[T]) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match shape %v", len(idx), t.shape))
	}
	off := 0
	stride := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		if idx[i] < 0 || idx[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off += idx[i] * stride
		stride *= t.shape[i]
	}
	return off
}

// Clone returns a deep copy of the tensor.
func (t *Tensor[T]) Clone() *Tensor[T] {
	data := make([]T, len(t.data))
	copy(data, t.data)
	return &Tensor[T]{data: data, shape: t.shape.Clone()}
}

// Reshape returns a tensor sharing this tensor's storage with a new shape.
// The new shape must have the same number of elements.
func (t *Tensor[T]) Reshape(shape ...int) *Tensor[T] {
	s := Shape(shape)
	if s.NumElements() != len(t.data) {
		panic(fmt.Sprintf("tensor.Reshape: cannot reshape %v to %v", t.shape, s))
	}
	return &Tensor[T]{data: t.data, shape: s.Clone()}
}
