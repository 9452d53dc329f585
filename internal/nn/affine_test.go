package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

func TestTemporalAffineForward(t *testing.T) {
	// Two positions, both mapped by the same weights.
	x, err := tensor.FromSlice([]float64{
		1, 2,
		3, 4,
	}, tensor.Shape{1, 2, 2})
	require.NoError(t, err)
	w, err := tensor.FromSlice([]float64{
		1, 0, 1,
		0, 1, 1,
	}, tensor.Shape{2, 3})
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float64{10, 20, 30}, tensor.Shape{3})
	require.NoError(t, err)

	scores, cache := TemporalAffineForward(x, w, b)
	require.NotNil(t, cache)
	assert.True(t, scores.Shape().Equal(tensor.Shape{1, 2, 3}))
	assert.Equal(t, []float64{11, 22, 33, 13, 24, 37}, scores.Data())
}

func TestTemporalAffineForward_ShapeChecks(t *testing.T) {
	w := tensor.New[float64](tensor.Shape{2, 3})
	b := tensor.New[float64](tensor.Shape{3})
	assert.Panics(t, func() {
		TemporalAffineForward(tensor.New[float64](tensor.Shape{2, 2}), w, b)
	})
	assert.Panics(t, func() {
		TemporalAffineForward(tensor.New[float64](tensor.Shape{1, 2, 4}), w, b)
	})
}

func TestTemporalAffineBackward_Gradients(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	n, steps, in, out := 2, 3, 4, 5

	x := tensor.Randn[float64](tensor.Shape{n, steps, in}, rng)
	w := tensor.Randn[float64](tensor.Shape{in, out}, rng)
	b := tensor.Randn[float64](tensor.Shape{out}, rng)
	r := tensor.Randn[float64](tensor.Shape{n, steps, out}, rng)

	objective := func() float64 {
		scores, _ := TemporalAffineForward(x, w, b)
		return weightedSum(r, scores)
	}

	_, cache := TemporalAffineForward(x, w, b)
	dX, dW, dB := TemporalAffineBackward(r, cache)

	checkGrad(t, "dX", x, dX, objective)
	checkGrad(t, "dW", w, dW, objective)
	checkGrad(t, "dB", b, dB, objective)
}

func TestTemporalAffineBackward_CacheConsumedOnce(t *testing.T) {
	x := tensor.New[float64](tensor.Shape{1, 2, 2})
	w := tensor.New[float64](tensor.Shape{2, 3})
	b := tensor.New[float64](tensor.Shape{3})

	_, cache := TemporalAffineForward(x, w, b)
	dOut := tensor.New[float64](tensor.Shape{1, 2, 3})

	TemporalAffineBackward(dOut, cache)
	assert.Panics(t, func() { TemporalAffineBackward(dOut, cache) })
}
