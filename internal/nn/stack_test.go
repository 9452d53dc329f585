package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

func randLayer(in, hidden, mul int, rng *rand.Rand) LayerParams[float64] {
	return LayerParams[float64]{
		Wx: tensor.Randn[float64](tensor.Shape{in, mul * hidden}, rng),
		Wh: tensor.Randn[float64](tensor.Shape{hidden, mul * hidden}, rng),
		B:  tensor.Randn[float64](tensor.Shape{mul * hidden}, rng),
	}
}

func TestSequenceForward_CarriesHiddenState(t *testing.T) {
	// One unit, two steps, hand arithmetic.
	x, err := tensor.FromSlice([]float64{1, 2}, tensor.Shape{1, 2, 1})
	require.NoError(t, err)
	h0, err := tensor.FromSlice([]float64{0.5}, tensor.Shape{1, 1})
	require.NoError(t, err)
	p := LayerParams[float64]{}
	p.Wx, err = tensor.FromSlice([]float64{0.3}, tensor.Shape{1, 1})
	require.NoError(t, err)
	p.Wh, err = tensor.FromSlice([]float64{0.2}, tensor.Shape{1, 1})
	require.NoError(t, err)
	p.B, err = tensor.FromSlice([]float64{0.1}, tensor.Shape{1})
	require.NoError(t, err)

	h, cache := SequenceForward[float64](PlainCell[float64]{}, x, h0, p)
	require.NotNil(t, cache)

	h1 := math.Tanh(1*0.3 + 0.5*0.2 + 0.1)
	h2 := math.Tanh(2*0.3 + h1*0.2 + 0.1)
	assert.InDelta(t, h1, h.At(0, 0, 0), 1e-12)
	assert.InDelta(t, h2, h.At(0, 1, 0), 1e-12)
}

func TestSequenceBackward_Gradients(t *testing.T) {
	cells := map[string]Cell[float64]{
		"plain": PlainCell[float64]{},
		"gated": GatedCell[float64]{},
	}
	for name, cell := range cells {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(17))
			n, steps, in, hidden := 2, 3, 3, 2
			mul := cell.GateMultiplier()

			x := tensor.Randn[float64](tensor.Shape{n, steps, in}, rng)
			h0 := tensor.Randn[float64](tensor.Shape{n, hidden}, rng)
			p := randLayer(in, hidden, mul, rng)
			r := tensor.Randn[float64](tensor.Shape{n, steps, hidden}, rng)

			objective := func() float64 {
				h, _ := SequenceForward(cell, x, h0, p)
				return weightedSum(r, h)
			}

			_, cache := SequenceForward(cell, x, h0, p)
			dX, dH0, grads := SequenceBackward(cell, r, cache)

			checkGrad(t, "dX", x, dX, objective)
			checkGrad(t, "dH0", h0, dH0, objective)
			checkGrad(t, "dWx", p.Wx, grads.DWx, objective)
			checkGrad(t, "dWh", p.Wh, grads.DWh, objective)
			checkGrad(t, "dB", p.B, grads.DB, objective)
		})
	}
}

func TestSequenceBackward_CacheConsumedOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := tensor.Randn[float64](tensor.Shape{1, 2, 2}, rng)
	h0 := tensor.New[float64](tensor.Shape{1, 2})
	p := randLayer(2, 2, 1, rng)

	_, cache := SequenceForward[float64](PlainCell[float64]{}, x, h0, p)
	dH := tensor.New[float64](tensor.Shape{1, 2, 2})

	SequenceBackward[float64](PlainCell[float64]{}, dH, cache)
	assert.Panics(t, func() { SequenceBackward[float64](PlainCell[float64]{}, dH, cache) })
}

func TestStackForward_FinalsAreLastTimestep(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	n, steps, in, hidden := 2, 4, 3, 3
	cell := PlainCell[float64]{}

	x := tensor.Randn[float64](tensor.Shape{n, steps, in}, rng)
	h0s := []*tensor.Tensor[float64]{
		tensor.Randn[float64](tensor.Shape{n, hidden}, rng),
		tensor.Randn[float64](tensor.Shape{n, hidden}, rng),
	}
	layers := []LayerParams[float64]{
		randLayer(in, hidden, 1, rng),
		randLayer(hidden, hidden, 1, rng),
	}

	top, finals, caches := StackForward[float64](cell, x, h0s, layers)
	require.Len(t, finals, 2)
	require.Len(t, caches, 2)
	assert.True(t, top.Shape().Equal(tensor.Shape{n, steps, hidden}))

	// The top layer's final state is the last timestep of the top output.
	for r := 0; r < n; r++ {
		for j := 0; j < hidden; j++ {
			assert.Equal(t, top.At(r, steps-1, j), finals[1].At(r, j))
		}
	}

	// Layer 0's final state matches a standalone run of the bottom layer.
	h0Out, _ := SequenceForward[float64](cell, x, h0s[0], layers[0])
	for r := 0; r < n; r++ {
		for j := 0; j < hidden; j++ {
			assert.Equal(t, h0Out.At(r, steps-1, j), finals[0].At(r, j))
		}
	}
}

func TestStackForward_LayerCountMismatch(t *testing.T) {
	x := tensor.New[float64](tensor.Shape{1, 2, 2})
	h0s := []*tensor.Tensor[float64]{tensor.New[float64](tensor.Shape{1, 2})}
	assert.Panics(t, func() {
		StackForward[float64](PlainCell[float64]{}, x, h0s, nil)
	})
}

func TestStackBackward_Gradients(t *testing.T) {
	// Objective touches both outputs of the stack: the top sequence and every
	// layer's final state, so the injected final-state gradients are exercised
	// on every layer, not just the top.
	cells := map[string]Cell[float64]{
		"plain": PlainCell[float64]{},
		"gated": GatedCell[float64]{},
	}
	for name, cell := range cells {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(23))
			n, steps, in, hidden := 2, 3, 2, 2
			mul := cell.GateMultiplier()

			x := tensor.Randn[float64](tensor.Shape{n, steps, in}, rng)
			h0s := []*tensor.Tensor[float64]{
				tensor.Randn[float64](tensor.Shape{n, hidden}, rng),
				tensor.Randn[float64](tensor.Shape{n, hidden}, rng),
			}
			layers := []LayerParams[float64]{
				randLayer(in, hidden, mul, rng),
				randLayer(hidden, hidden, mul, rng),
			}

			r := tensor.Randn[float64](tensor.Shape{n, steps, hidden}, rng)
			q := []*tensor.Tensor[float64]{
				tensor.Randn[float64](tensor.Shape{n, hidden}, rng),
				tensor.Randn[float64](tensor.Shape{n, hidden}, rng),
			}

			objective := func() float64 {
				top, finals, _ := StackForward(cell, x, h0s, layers)
				total := weightedSum(r, top)
				for i := range finals {
					total += weightedSum(q[i], finals[i])
				}
				return total
			}

			_, _, caches := StackForward(cell, x, h0s, layers)
			dX, dH0s, grads := StackBackward(cell, r.Clone(), q, caches)

			checkGrad(t, "dX", x, dX, objective)
			for i := range h0s {
				checkGrad(t, "dH0", h0s[i], dH0s[i], objective)
				checkGrad(t, "dWx", layers[i].Wx, grads[i].DWx, objective)
				checkGrad(t, "dWh", layers[i].Wh, grads[i].DWh, objective)
				checkGrad(t, "dB", layers[i].B, grads[i].DB, objective)
			}
		})
	}
}
