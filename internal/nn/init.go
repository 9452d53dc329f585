package nn

import (
	"math"
	"math/rand"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// ScaledNormal initializes a tensor with zero-mean normal values scaled by
// 1/sqrt(fanIn).
//
// Scaling by the inverse square root of the fan-in keeps the variance of
// activations roughly constant across layers, which matters for deep
// recurrent stacks where the same weights are applied at every timestep.
//
// Parameters:
//   - shape: Shape of the weight tensor
//   - fanIn: Input width the weight consumes (embedding or hidden dimension)
//   - rng: Seeded random source for reproducible initialization
func ScaledNormal[T tensor.Float](shape tensor.Shape, fanIn int, rng *rand.Rand) *tensor.Tensor[T] {
	scale := 1.0 / math.Sqrt(float64(fanIn))
	t := tensor.New[T](shape)
	data := t.Data()
	for i := range data {
		data[i] = T(rng.NormFloat64() * scale)
	}
	return t
}

// Zeros creates a zero-filled tensor. This is the bias initialization.
func Zeros[T tensor.Float](shape tensor.Shape) *tensor.Tensor[T] {
	return tensor.New[T](shape)
}
