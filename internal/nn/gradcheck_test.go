package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// Centered differences with a step small enough for float64 kernels.
var fdSettings = &fd.Settings{Formula: fd.Central, Step: 1e-6}

// checkGrad verifies an analytic gradient for x against a centered
// finite-difference estimate of f. f must read x's current contents on
// every call; x is restored afterwards.
func checkGrad(t *testing.T, name string, x, analytic *tensor.Tensor[float64], f func() float64) {
	t.Helper()

	orig := append([]float64(nil), x.Data()...)
	numeric := fd.Gradient(nil, func(v []float64) float64 {
		copy(x.Data(), v)
		return f()
	}, orig, fdSettings)
	copy(x.Data(), orig)

	assertAllClose(t, name, numeric, analytic.Data())
}

func assertAllClose(t *testing.T, name string, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want), "%s: gradient length", name)
	for i := range want {
		if !scalar.EqualWithinAbsOrRel(want[i], got[i], 1e-8, 1e-5) {
			t.Errorf("%s: gradient mismatch at %d: numeric %v, analytic %v", name, i, want[i], got[i])
		}
	}
}

// weightedSum is the scalar test objective sum(r * x): its gradient with
// respect to x is exactly r, so r doubles as the upstream gradient.
func weightedSum(r, x *tensor.Tensor[float64]) float64 {
	var total float64
	rData, xData := r.Data(), x.Data()
	for i := range rData {
		total += rData[i] * xData[i]
	}
	return total
}
