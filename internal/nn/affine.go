package nn

import (
	"fmt"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// AffineCache holds the values TemporalAffineForward retains for its
// backward pass. Consumed exactly once by TemporalAffineBackward.
type AffineCache[T tensor.Float] struct {
	x, w     *tensor.Tensor[T]
	consumed bool
}

// TemporalAffineForward applies one affine map, shared across all
// timesteps: out[n, t] = x[n, t] @ w + b.
//
// Shapes: x [batch, time, in], w [in, out], b [out],
// returned scores [batch, time, out].
func TemporalAffineForward[T tensor.Float](x, w, b *tensor.Tensor[T]) (*tensor.Tensor[T], *AffineCache[T]) {
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 3 {
		panic(fmt.Sprintf("TemporalAffineForward: expected 3D input [batch, time, in], got %v", xs))
	}
	if xs[2] != ws[0] {
		panic(fmt.Sprintf("TemporalAffineForward: input width %d does not match weight %v", xs[2], ws))
	}

	n, steps, in := xs[0], xs[1], xs[2]
	out := ws[1]

	// Collapse batch and time: the map is identical at every position.
	flat := x.Reshape(n*steps, in)
	scoresFlat := tensor.MatMul(flat, w)

	sData, bData := scoresFlat.Data(), b.Data()
	for i := range sData {
		sData[i] += bData[i%out]
	}

	return scoresFlat.Reshape(n, steps, out), &AffineCache[T]{x: x, w: w}
}

// TemporalAffineBackward computes the standard affine gradients, summing
// weight and bias gradients over both batch and time.
func TemporalAffineBackward[T tensor.Float](dOut *tensor.Tensor[T], cache *AffineCache[T]) (dX, dW, dB *tensor.Tensor[T]) {
	if cache.consumed {
		panic("TemporalAffineBackward: cache already consumed")
	}
	cache.consumed = true

	xs := cache.x.Shape()
	n, steps, in := xs[0], xs[1], xs[2]
	out := cache.w.Shape()[1]

	dFlat := dOut.Reshape(n*steps, out)
	xFlat := cache.x.Reshape(n*steps, in)

	dX = tensor.MatMul(dFlat, tensor.Transpose2D(cache.w)).Reshape(n, steps, in)
	dW = tensor.MatMul(tensor.Transpose2D(xFlat), dFlat)

	dB = tensor.New[T](tensor.Shape{out})
	dBData, dData := dB.Data(), dFlat.Data()
	for i, v := range dData {
		dBData[i%out] += v
	}

	return dX, dW, dB
}
