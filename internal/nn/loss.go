package nn

import (
	"errors"
	"fmt"
	"math"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// ErrNonFinite reports that a computed loss is NaN or infinite. The loss
// value and gradients are still returned alongside it; the training loop
// decides whether to skip the batch or abort.
var ErrNonFinite = errors.New("loss is not finite")

// TemporalCrossEntropy computes masked softmax cross-entropy over every
// (batch, time) position and its gradient in one pass.
//
// Shapes: scores [batch, time, vocab], targets [batch, time],
// mask flat [batch*time] (true where the position is a real token).
//
// The loss is the mean negative log-likelihood over unmasked positions
// only; padding never dilutes the average. Masked positions contribute
// exactly zero loss and exactly zero gradient. Per-position softmax uses
// the log-sum-exp trick; accumulation is in float64 regardless of T.
func TemporalCrossEntropy[T tensor.Float](scores *tensor.Tensor[T], targets *tensor.Tensor[int32], mask []bool) (float64, *tensor.Tensor[T], error) {
	ss := scores.Shape()
	if len(ss) != 3 {
		panic(fmt.Sprintf("TemporalCrossEntropy: expected 3D scores [batch, time, vocab], got %v", ss))
	}
	n, steps, vocab := ss[0], ss[1], ss[2]
	if !targets.Shape().Equal(tensor.Shape{n, steps}) {
		panic(fmt.Sprintf("TemporalCrossEntropy: targets shape %v does not match scores %v", targets.Shape(), ss))
	}
	if len(mask) != n*steps {
		panic(fmt.Sprintf("TemporalCrossEntropy: mask length %d does not match %d positions", len(mask), n*steps))
	}

	numUnmasked := 0
	for _, m := range mask {
		if m {
			numUnmasked++
		}
	}

	dScores := tensor.New[T](tensor.Shape{n, steps, vocab})
	if numUnmasked == 0 {
		// Nothing to average over: zero loss, zero gradient.
		return 0, dScores, nil
	}

	sData, tData, dData := scores.Data(), targets.Data(), dScores.Data()

	var total float64
	probs := make([]float64, vocab)
	for pos := 0; pos < n*steps; pos++ {
		if !mask[pos] {
			continue
		}

		row := sData[pos*vocab : (pos+1)*vocab]

		maxScore := float64(row[0])
		for _, v := range row[1:] {
			if float64(v) > maxScore {
				maxScore = float64(v)
			}
		}
		var sumExp float64
		for j, v := range row {
			probs[j] = math.Exp(float64(v) - maxScore)
			sumExp += probs[j]
		}
		logSumExp := maxScore + math.Log(sumExp)

		target := int(tData[pos])
		if target < 0 || target >= vocab {
			panic(fmt.Sprintf("TemporalCrossEntropy: target %d out of range [0, %d)", target, vocab))
		}
		total += logSumExp - float64(row[target])

		dRow := dData[pos*vocab : (pos+1)*vocab]
		for j := range dRow {
			grad := probs[j] / sumExp
			if j == target {
				grad -= 1.0
			}
			dRow[j] = T(grad / float64(numUnmasked))
		}
	}

	loss := total / float64(numUnmasked)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, dScores, ErrNonFinite
	}
	return loss, dScores, nil
}
