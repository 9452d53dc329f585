package nn

import (
	"math"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// Cell is the single-step state transition of a recurrent layer.
//
// Exactly two implementations exist: PlainCell (tanh recurrence) and
// GatedCell (LSTM-style, four gates with a secondary cell state). Code
// composing sequences and stacks is written against this capability and
// never against a cell's name.
type Cell[T tensor.Float] interface {
	// GateMultiplier is the width multiplier for the weight matrices:
	// 1 for the plain cell, 4 for the gated cell (the four gate
	// pre-activations are packed into one matrix product).
	GateMultiplier() int

	// StepForward computes one timestep.
	//
	// Shapes: x [batch, in], prevH/prevC [batch, hidden],
	// wx [in, mul*hidden], wh [hidden, mul*hidden], b [mul*hidden].
	// prevC and the returned nextC are nil for cells without a secondary
	// state.
	StepForward(x, prevH, prevC, wx, wh, b *tensor.Tensor[T]) (nextH, nextC *tensor.Tensor[T], cache *StepCache[T])

	// StepBackward consumes one step's cache and the gradients of nextH
	// and nextC (dNextC may be nil) and returns gradients for every
	// forward input.
	StepBackward(dNextH, dNextC *tensor.Tensor[T], cache *StepCache[T]) (dx, dPrevH, dPrevC, dWx, dWh, dB *tensor.Tensor[T])
}

// StepCache holds the values a single cell step retains for its backward
// pass. Plain and gated steps populate different subsets of the fields;
// SequenceBackward owns consumption, one step cache per timestep.
type StepCache[T tensor.Float] struct {
	x, prevH *tensor.Tensor[T]
	wx, wh   *tensor.Tensor[T]

	// Plain: the tanh output (its derivative is 1 - tanh^2).
	nextH *tensor.Tensor[T]

	// Gated: gate activations and both cell states.
	prevC, nextC               *tensor.Tensor[T]
	iGate, fGate, oGate, gGate *tensor.Tensor[T]
	tanhC                      *tensor.Tensor[T]
}

func sigmoid[T tensor.Float](v T) T {
	return T(1.0 / (1.0 + math.Exp(-float64(v))))
}

func tanh[T tensor.Float](v T) T {
	return T(math.Tanh(float64(v)))
}

// preActivation computes x @ wx + prevH @ wh + b, the shared affine part of
// both cell algebras. Result shape: [batch, mul*hidden].
func preActivation[T tensor.Float](x, prevH, wx, wh, b *tensor.Tensor[T]) *tensor.Tensor[T] {
	pre := tensor.MatMul(x, wx)
	tensor.Add(pre, tensor.MatMul(prevH, wh))

	preData, bData := pre.Data(), b.Data()
	width := len(bData)
	for i := range preData {
		preData[i] += bData[i%width]
	}
	return pre
}

// preActivationBackward maps a pre-activation gradient back to the inputs
// of the shared affine part.
func preActivationBackward[T tensor.Float](dPre *tensor.Tensor[T], c *StepCache[T]) (dx, dPrevH, dWx, dWh, dB *tensor.Tensor[T]) {
	dx = tensor.MatMul(dPre, tensor.Transpose2D(c.wx))
	dPrevH = tensor.MatMul(dPre, tensor.Transpose2D(c.wh))
	dWx = tensor.MatMul(tensor.Transpose2D(c.x), dPre)
	dWh = tensor.MatMul(tensor.Transpose2D(c.prevH), dPre)

	width := dPre.Shape()[1]
	dB = tensor.New[T](tensor.Shape{width})
	dPreData, dBData := dPre.Data(), dB.Data()
	for i, v := range dPreData {
		dBData[i%width] += v
	}
	return dx, dPrevH, dWx, dWh, dB
}
