package tensor

// DType is the constraint for tensor element types.
//
// Float32 and Float64 carry model parameters and activations; the precision
// is picked once at model construction via the type parameter. Int32 carries
// token-id sequences.
type DType interface {
	~float32 | ~float64 | ~int32
}

// Float is the constraint for floating-point tensor element types.
// Numeric kernels (matmul, softmax, gradients) are defined over Float only.
type Float interface {
	~float32 | ~float64
}
