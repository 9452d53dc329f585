package nn

import (
	"fmt"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// LayerParams bundles one recurrent layer's weights.
//
// Shapes: Wx [in, mul*hidden], Wh [hidden, mul*hidden], B [mul*hidden],
// where mul is the cell's gate multiplier and in is the embedding dimension
// for layer 0 and the hidden dimension above it.
type LayerParams[T tensor.Float] struct {
	Wx, Wh, B *tensor.Tensor[T]
}

// LayerGrads holds the weight gradients of one recurrent layer, shaped
// identically to the corresponding LayerParams.
type LayerGrads[T tensor.Float] struct {
	DWx, DWh, DB *tensor.Tensor[T]
}

// SequenceCache holds everything one layer's forward run over a full
// sequence retains for its backward run: one step cache per timestep, in
// time order. Consumed exactly once by SequenceBackward.
type SequenceCache[T tensor.Float] struct {
	steps            []*StepCache[T]
	batch, timeSteps int
	inDim, hidden    int
	consumed         bool
}

// SequenceForward runs a cell across every timestep of one layer.
//
// Shapes: x [batch, time, in], h0 [batch, hidden],
// returned h [batch, time, hidden]. The secondary (cell) state starts at
// zero for every sequence; only the hidden state is seeded from h0.
func SequenceForward[T tensor.Float](cell Cell[T], x, h0 *tensor.Tensor[T], p LayerParams[T]) (*tensor.Tensor[T], *SequenceCache[T]) {
	xs := x.Shape()
	if len(xs) != 3 {
		panic(fmt.Sprintf("SequenceForward: expected 3D input [batch, time, in], got %v", xs))
	}
	n, steps, in := xs[0], xs[1], xs[2]
	hidden := h0.Shape()[1]

	h := tensor.New[T](tensor.Shape{n, steps, hidden})
	cache := &SequenceCache[T]{
		steps:     make([]*StepCache[T], steps),
		batch:     n,
		timeSteps: steps,
		inDim:     in,
		hidden:    hidden,
	}

	prevH := h0
	prevC := tensor.New[T](tensor.Shape{n, hidden}) // ignored by plain cells

	xData, hData := x.Data(), h.Data()
	for t := 0; t < steps; t++ {
		xt := tensor.New[T](tensor.Shape{n, in})
		xtData := xt.Data()
		for r := 0; r < n; r++ {
			copy(xtData[r*in:(r+1)*in], xData[(r*steps+t)*in:(r*steps+t+1)*in])
		}

		nextH, nextC, stepCache := cell.StepForward(xt, prevH, prevC, p.Wx, p.Wh, p.B)
		cache.steps[t] = stepCache

		nhData := nextH.Data()
		for r := 0; r < n; r++ {
			copy(hData[(r*steps+t)*hidden:(r*steps+t+1)*hidden], nhData[r*hidden:(r+1)*hidden])
		}

		prevH = nextH
		if nextC != nil {
			prevC = nextC
		}
	}

	return h, cache
}

// SequenceBackward runs time in reverse for one layer.
//
// dH is the upstream gradient of every timestep's hidden output
// [batch, time, hidden]. Returns the input-sequence gradient, the gradient
// of the layer's initial hidden state, and accumulated weight gradients.
// The initial cell-state gradient is discarded: cell states start at zero
// and never cross the encoder/decoder hand-off.
func SequenceBackward[T tensor.Float](cell Cell[T], dH *tensor.Tensor[T], cache *SequenceCache[T]) (*tensor.Tensor[T], *tensor.Tensor[T], LayerGrads[T]) {
	if cache.consumed {
		panic("SequenceBackward: cache already consumed")
	}
	cache.consumed = true

	n, steps := cache.batch, cache.timeSteps
	in, hidden := cache.inDim, cache.hidden

	if !dH.Shape().Equal(tensor.Shape{n, steps, hidden}) {
		panic(fmt.Sprintf("SequenceBackward: upstream gradient shape %v does not match [%d %d %d]",
			dH.Shape(), n, steps, hidden))
	}

	dX := tensor.New[T](tensor.Shape{n, steps, in})
	grads := LayerGrads[T]{}

	dPrevH := tensor.New[T](tensor.Shape{n, hidden})
	var dPrevC *tensor.Tensor[T]
	if cell.GateMultiplier() > 1 {
		dPrevC = tensor.New[T](tensor.Shape{n, hidden})
	}

	dHData, dXData := dH.Data(), dX.Data()
	for t := steps - 1; t >= 0; t-- {
		// Gradient entering this step's hidden output: the upstream slice
		// for timestep t plus whatever flowed back from timestep t+1.
		dStep := tensor.New[T](tensor.Shape{n, hidden})
		dStepData, dPrevHData := dStep.Data(), dPrevH.Data()
		for r := 0; r < n; r++ {
			for j := 0; j < hidden; j++ {
				dStepData[r*hidden+j] = dHData[(r*steps+t)*hidden+j] + dPrevHData[r*hidden+j]
			}
		}

		dxT, dph, dpc, dWx, dWh, dB := cell.StepBackward(dStep, dPrevC, cache.steps[t])
		dPrevH, dPrevC = dph, dpc

		dxData := dxT.Data()
		for r := 0; r < n; r++ {
			copy(dXData[(r*steps+t)*in:(r*steps+t+1)*in], dxData[r*in:(r+1)*in])
		}

		if grads.DWx == nil {
			grads.DWx, grads.DWh, grads.DB = dWx, dWh, dB
		} else {
			tensor.Add(grads.DWx, dWx)
			tensor.Add(grads.DWh, dWh)
			tensor.Add(grads.DB, dB)
		}
	}

	return dX, dPrevH, grads
}

// StackForward runs n stacked recurrent layers over a sequence.
//
// Layer i consumes layer i-1's output sequence and is seeded with its own
// initial hidden state h0s[i]; initial states are never shared across
// layers. Returns the top layer's output sequence, each layer's
// final-timestep hidden state (the context, one [batch, hidden] tensor per
// layer), and the per-layer caches in depth order.
func StackForward[T tensor.Float](cell Cell[T], x *tensor.Tensor[T], h0s []*tensor.Tensor[T], layers []LayerParams[T]) (*tensor.Tensor[T], []*tensor.Tensor[T], []*SequenceCache[T]) {
	if len(h0s) != len(layers) {
		panic(fmt.Sprintf("StackForward: %d initial states for %d layers", len(h0s), len(layers)))
	}

	finals := make([]*tensor.Tensor[T], len(layers))
	caches := make([]*SequenceCache[T], len(layers))

	cur := x
	for i := range layers {
		h, cache := SequenceForward(cell, cur, h0s[i], layers[i])
		caches[i] = cache
		finals[i] = lastTimestep(h)
		cur = h
	}
	return cur, finals, caches
}

// StackBackward runs the stack in reverse depth order, each layer in
// reverse time order.
//
// finalsGrad, when non-nil, carries one [batch, hidden] gradient per layer
// that is added into that layer's final-timestep hidden gradient before the
// layer's own backward runs. This is the differentiated context hand-off:
// the decoder's initial-state gradients re-enter the encoder here, keyed by
// layer. Pass nil when no hand-off feeds this stack.
//
// Returns the gradient of the stack input, each layer's initial-state
// gradient, and per-layer weight gradients, all in depth order.
func StackBackward[T tensor.Float](cell Cell[T], dTop *tensor.Tensor[T], finalsGrad []*tensor.Tensor[T], caches []*SequenceCache[T]) (*tensor.Tensor[T], []*tensor.Tensor[T], []LayerGrads[T]) {
	layers := len(caches)
	dH0s := make([]*tensor.Tensor[T], layers)
	grads := make([]LayerGrads[T], layers)

	dCur := dTop
	for i := layers - 1; i >= 0; i-- {
		if finalsGrad != nil && finalsGrad[i] != nil {
			addToLastTimestep(dCur, finalsGrad[i])
		}
		dCur, dH0s[i], grads[i] = SequenceBackward(cell, dCur, caches[i])
	}
	return dCur, dH0s, grads
}

// lastTimestep copies h[:, -1, :] out of a [batch, time, hidden] sequence.
func lastTimestep[T tensor.Float](h *tensor.Tensor[T]) *tensor.Tensor[T] {
	hs := h.Shape()
	n, steps, hidden := hs[0], hs[1], hs[2]
	out := tensor.New[T](tensor.Shape{n, hidden})
	hData, outData := h.Data(), out.Data()
	for r := 0; r < n; r++ {
		copy(outData[r*hidden:(r+1)*hidden], hData[(r*steps+steps-1)*hidden:(r*steps+steps)*hidden])
	}
	return out
}

// addToLastTimestep accumulates a [batch, hidden] gradient into
// dH[:, -1, :] of a [batch, time, hidden] gradient tensor.
func addToLastTimestep[T tensor.Float](dH, g *tensor.Tensor[T]) {
	hs := dH.Shape()
	n, steps, hidden := hs[0], hs[1], hs[2]
	dHData, gData := dH.Data(), g.Data()
	for r := 0; r < n; r++ {
		for j := 0; j < hidden; j++ {
			dHData[(r*steps+steps-1)*hidden+j] += gData[r*hidden+j]
		}
	}
}
