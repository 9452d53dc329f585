package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

func TestPlainCell_StepForward(t *testing.T) {
	x, err := tensor.FromSlice([]float64{1, -1}, tensor.Shape{1, 2})
	require.NoError(t, err)
	prevH, err := tensor.FromSlice([]float64{0.5}, tensor.Shape{1, 1})
	require.NoError(t, err)
	wx, err := tensor.FromSlice([]float64{0.1, 0.2}, tensor.Shape{2, 1})
	require.NoError(t, err)
	wh, err := tensor.FromSlice([]float64{0.3}, tensor.Shape{1, 1})
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float64{0.05}, tensor.Shape{1})
	require.NoError(t, err)

	var cell PlainCell[float64]
	nextH, nextC, cache := cell.StepForward(x, prevH, nil, wx, wh, b)
	require.NotNil(t, cache)
	assert.Nil(t, nextC, "plain cell carries no secondary state")

	// tanh(1*0.1 + (-1)*0.2 + 0.5*0.3 + 0.05) = tanh(0.1)
	assert.InDelta(t, math.Tanh(0.1), nextH.At(0, 0), 1e-12)
}

func TestPlainCell_StepBackward_Gradients(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n, in, hidden := 2, 3, 4

	x := tensor.Randn[float64](tensor.Shape{n, in}, rng)
	prevH := tensor.Randn[float64](tensor.Shape{n, hidden}, rng)
	wx := tensor.Randn[float64](tensor.Shape{in, hidden}, rng)
	wh := tensor.Randn[float64](tensor.Shape{hidden, hidden}, rng)
	b := tensor.Randn[float64](tensor.Shape{hidden}, rng)
	r := tensor.Randn[float64](tensor.Shape{n, hidden}, rng)

	var cell PlainCell[float64]
	objective := func() float64 {
		nextH, _, _ := cell.StepForward(x, prevH, nil, wx, wh, b)
		return weightedSum(r, nextH)
	}

	_, _, cache := cell.StepForward(x, prevH, nil, wx, wh, b)
	dx, dPrevH, dPrevC, dWx, dWh, dB := cell.StepBackward(r, nil, cache)
	assert.Nil(t, dPrevC)

	checkGrad(t, "dx", x, dx, objective)
	checkGrad(t, "dPrevH", prevH, dPrevH, objective)
	checkGrad(t, "dWx", wx, dWx, objective)
	checkGrad(t, "dWh", wh, dWh, objective)
	checkGrad(t, "dB", b, dB, objective)
}
