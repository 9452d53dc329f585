package nn

import (
	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// PlainCell is the tanh recurrence: nextH = tanh(x @ Wx + prevH @ Wh + b).
type PlainCell[T tensor.Float] struct{}

// GateMultiplier returns 1: plain weights are [in, hidden].
func (PlainCell[T]) GateMultiplier() int { return 1 }

// StepForward computes one tanh-recurrence timestep.
// prevC is ignored and the returned nextC is nil.
func (PlainCell[T]) StepForward(x, prevH, _, wx, wh, b *tensor.Tensor[T]) (*tensor.Tensor[T], *tensor.Tensor[T], *StepCache[T]) {
	nextH := preActivation(x, prevH, wx, wh, b)
	data := nextH.Data()
	for i, v := range data {
		data[i] = tanh(v)
	}

	cache := &StepCache[T]{x: x, prevH: prevH, wx: wx, wh: wh, nextH: nextH}
	return nextH, nil, cache
}

// StepBackward backpropagates one timestep through the tanh nonlinearity
// and the affine map. dNextC is ignored; dPrevC is nil.
func (PlainCell[T]) StepBackward(dNextH, _ *tensor.Tensor[T], cache *StepCache[T]) (dx, dPrevH, dPrevC, dWx, dWh, dB *tensor.Tensor[T]) {
	// dPre = dNextH * (1 - tanh^2), with tanh taken from the cached output.
	dPre := tensor.New[T](dNextH.Shape())
	dPreData, dhData, hData := dPre.Data(), dNextH.Data(), cache.nextH.Data()
	for i := range dPreData {
		dPreData[i] = dhData[i] * (1 - hData[i]*hData[i])
	}

	dx, dPrevH, dWx, dWh, dB = preActivationBackward(dPre, cache)
	return dx, dPrevH, nil, dWx, dWh, dB
}
