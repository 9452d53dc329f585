package nn

import (
	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// GatedCell is the LSTM-style recurrence with four gates and a secondary
// cell state:
//
//	pre   = x @ Wx + prevH @ Wh + b          // [batch, 4*hidden]
//	i,f,o = sigmoid(pre[:, 0:H | H:2H | 2H:3H])
//	g     = tanh(pre[:, 3H:4H])
//	nextC = f * prevC + i * g
//	nextH = o * tanh(nextC)
//
// The chunk order is input-gate, forget-gate, output-gate, candidate.
type GatedCell[T tensor.Float] struct{}

// GateMultiplier returns 4: gated weights pack four gate pre-activations.
func (GatedCell[T]) GateMultiplier() int { return 4 }

// StepForward computes one gated timestep.
func (GatedCell[T]) StepForward(x, prevH, prevC, wx, wh, b *tensor.Tensor[T]) (*tensor.Tensor[T], *tensor.Tensor[T], *StepCache[T]) {
	pre := preActivation(x, prevH, wx, wh, b)

	n := pre.Shape()[0]
	h := pre.Shape()[1] / 4

	iGate := tensor.New[T](tensor.Shape{n, h})
	fGate := tensor.New[T](tensor.Shape{n, h})
	oGate := tensor.New[T](tensor.Shape{n, h})
	gGate := tensor.New[T](tensor.Shape{n, h})
	nextC := tensor.New[T](tensor.Shape{n, h})
	tanhC := tensor.New[T](tensor.Shape{n, h})
	nextH := tensor.New[T](tensor.Shape{n, h})

	preData := pre.Data()
	iD, fD, oD, gD := iGate.Data(), fGate.Data(), oGate.Data(), gGate.Data()
	cD, tcD, hD, pcD := nextC.Data(), tanhC.Data(), nextH.Data(), prevC.Data()

	for r := 0; r < n; r++ {
		row := preData[r*4*h : (r+1)*4*h]
		for j := 0; j < h; j++ {
			k := r*h + j
			iD[k] = sigmoid(row[j])
			fD[k] = sigmoid(row[h+j])
			oD[k] = sigmoid(row[2*h+j])
			gD[k] = tanh(row[3*h+j])

			cD[k] = fD[k]*pcD[k] + iD[k]*gD[k]
			tcD[k] = tanh(cD[k])
			hD[k] = oD[k] * tcD[k]
		}
	}

	cache := &StepCache[T]{
		x: x, prevH: prevH, wx: wx, wh: wh,
		prevC: prevC, nextC: nextC,
		iGate: iGate, fGate: fGate, oGate: oGate, gGate: gGate,
		tanhC: tanhC,
	}
	return nextH, nextC, cache
}

// StepBackward backpropagates one gated timestep.
//
// The cell-state gradient accumulates two contributions: the next
// timestep's cell path (dNextC) and the hidden path through o * tanh(nextC).
// Getting that sum and the gate-gradient signs exact is the whole game.
func (GatedCell[T]) StepBackward(dNextH, dNextC *tensor.Tensor[T], cache *StepCache[T]) (dx, dPrevH, dPrevC, dWx, dWh, dB *tensor.Tensor[T]) {
	n := dNextH.Shape()[0]
	h := dNextH.Shape()[1]

	dPre := tensor.New[T](tensor.Shape{n, 4 * h})
	dPrevC = tensor.New[T](tensor.Shape{n, h})

	dhD := dNextH.Data()
	var dcUp []T
	if dNextC != nil {
		dcUp = dNextC.Data()
	}

	iD, fD, oD, gD := cache.iGate.Data(), cache.fGate.Data(), cache.oGate.Data(), cache.gGate.Data()
	tcD, pcD := cache.tanhC.Data(), cache.prevC.Data()
	dPreData, dpcD := dPre.Data(), dPrevC.Data()

	for r := 0; r < n; r++ {
		dRow := dPreData[r*4*h : (r+1)*4*h]
		for j := 0; j < h; j++ {
			k := r*h + j

			dO := dhD[k] * tcD[k]
			dC := dhD[k] * oD[k] * (1 - tcD[k]*tcD[k])
			if dcUp != nil {
				dC += dcUp[k]
			}

			dI := dC * gD[k]
			dF := dC * pcD[k]
			dG := dC * iD[k]
			dpcD[k] = dC * fD[k]

			// Sigmoid derivative s*(1-s); tanh derivative 1-g^2.
			dRow[j] = dI * iD[k] * (1 - iD[k])
			dRow[h+j] = dF * fD[k] * (1 - fD[k])
			dRow[2*h+j] = dO * oD[k] * (1 - oD[k])
			dRow[3*h+j] = dG * (1 - gD[k]*gD[k])
		}
	}

	dx, dPrevH, dWx, dWh, dB = preActivationBackward(dPre, cache)
	return dx, dPrevH, dPrevC, dWx, dWh, dB
}
