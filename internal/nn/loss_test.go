package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

func TestTemporalCrossEntropy_UniformScores(t *testing.T) {
	// All-zero scores over v classes give loss log(v) at every position.
	n, steps, vocab := 2, 3, 5
	scores := tensor.New[float64](tensor.Shape{n, steps, vocab})
	targets := tensor.New[int32](tensor.Shape{n, steps})
	mask := make([]bool, n*steps)
	for i := range mask {
		mask[i] = true
	}

	loss, dScores, err := TemporalCrossEntropy(scores, targets, mask)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(float64(vocab)), loss, 1e-12)

	// Gradient at the target: (1/v - 1)/positions; elsewhere (1/v)/positions.
	positions := float64(n * steps)
	assert.InDelta(t, (1.0/5-1)/positions, dScores.At(0, 0, 0), 1e-12)
	assert.InDelta(t, (1.0/5)/positions, dScores.At(0, 0, 1), 1e-12)
}

func TestTemporalCrossEntropy_MaskedPositionsContributeNothing(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	n, steps, vocab := 2, 3, 4

	scores := tensor.Randn[float64](tensor.Shape{n, steps, vocab}, rng)
	targets := tensor.New[int32](tensor.Shape{n, steps})
	for i := range targets.Data() {
		targets.Data()[i] = int32(rng.Intn(vocab))
	}

	full := make([]bool, n*steps)
	for i := range full {
		full[i] = true
	}
	partial := append([]bool(nil), full...)
	partial[1] = false
	partial[4] = false

	fullLoss, _, err := TemporalCrossEntropy(scores, targets, full)
	require.NoError(t, err)
	partialLoss, dScores, err := TemporalCrossEntropy(scores, targets, partial)
	require.NoError(t, err)

	// Masked gradient rows are exactly zero.
	for _, pos := range []int{1, 4} {
		for j := 0; j < vocab; j++ {
			assert.Zero(t, dScores.Data()[pos*vocab+j])
		}
	}

	// The partial mean re-averages over 4 positions instead of 6: recover the
	// two dropped terms and check against the full mean.
	perPos := make([]float64, 0, 2)
	for _, pos := range []int{1, 4} {
		single := make([]bool, n*steps)
		single[pos] = true
		l, _, err := TemporalCrossEntropy(scores, targets, single)
		require.NoError(t, err)
		perPos = append(perPos, l)
	}
	want := (fullLoss*6 - perPos[0] - perPos[1]) / 4
	assert.InDelta(t, want, partialLoss, 1e-12)
}

func TestTemporalCrossEntropy_AllMasked(t *testing.T) {
	scores := tensor.New[float64](tensor.Shape{1, 2, 3})
	targets := tensor.New[int32](tensor.Shape{1, 2})
	mask := make([]bool, 2)

	loss, dScores, err := TemporalCrossEntropy(scores, targets, mask)
	require.NoError(t, err)
	assert.Zero(t, loss)
	for _, v := range dScores.Data() {
		assert.Zero(t, v)
	}
}

func TestTemporalCrossEntropy_LargeScoresStayFinite(t *testing.T) {
	scores := tensor.New[float64](tensor.Shape{1, 1, 3})
	copy(scores.Data(), []float64{1000, 999, -1000})
	targets := tensor.New[int32](tensor.Shape{1, 1})
	targets.Data()[0] = 1

	loss, _, err := TemporalCrossEntropy(scores, targets, []bool{true})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
	// log(e^0 + e^-1 + e^-2000) - (-1)
	assert.InDelta(t, math.Log(1+math.Exp(-1))+1, loss, 1e-12)
}

func TestTemporalCrossEntropy_NonFinite(t *testing.T) {
	scores := tensor.New[float64](tensor.Shape{1, 1, 2})
	scores.Data()[0] = math.NaN()
	targets := tensor.New[int32](tensor.Shape{1, 1})

	loss, dScores, err := TemporalCrossEntropy(scores, targets, []bool{true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonFinite))
	assert.True(t, math.IsNaN(loss))
	assert.NotNil(t, dScores, "gradients are returned even on a bad loss")
}

func TestTemporalCrossEntropy_TargetOutOfRange(t *testing.T) {
	scores := tensor.New[float64](tensor.Shape{1, 1, 2})
	targets := tensor.New[int32](tensor.Shape{1, 1})
	targets.Data()[0] = 2

	assert.Panics(t, func() { TemporalCrossEntropy(scores, targets, []bool{true}) })
}

func TestTemporalCrossEntropy_Gradients(t *testing.T) {
	rng := rand.New(rand.NewSource(47))
	n, steps, vocab := 2, 3, 4

	scores := tensor.Randn[float64](tensor.Shape{n, steps, vocab}, rng)
	targets := tensor.New[int32](tensor.Shape{n, steps})
	for i := range targets.Data() {
		targets.Data()[i] = int32(rng.Intn(vocab))
	}
	mask := []bool{true, false, true, true, true, false}

	objective := func() float64 {
		loss, _, err := TemporalCrossEntropy(scores, targets, mask)
		require.NoError(t, err)
		return loss
	}

	_, dScores, err := TemporalCrossEntropy(scores, targets, mask)
	require.NoError(t, err)

	checkGrad(t, "dScores", scores, dScores, objective)
}
