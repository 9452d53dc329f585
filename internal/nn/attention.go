package nn

import (
	"fmt"
	"math"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// AttentionCache holds the values AttentionForward retains for its backward
// pass. Consumed exactly once by AttentionBackward.
type AttentionCache[T tensor.Float] struct {
	dec, enc *tensor.Tensor[T]
	weights  *tensor.Tensor[T] // [batch, decTime, encTime]
	consumed bool
}

// Weights returns the normalized attention weights
// [batch, decTime, encTime]. Each (batch, decoder-timestep) row is
// non-negative and sums to 1 over the encoder-time axis.
func (c *AttentionCache[T]) Weights() *tensor.Tensor[T] {
	return c.weights
}

// AttentionForward computes, for every decoder timestep, a convex
// combination of encoder states weighted by softmax-normalized inner
// products with the decoder state at that timestep.
//
// Shapes: dec [batch, decTime, hidden], enc [batch, encTime, hidden],
// returned context [batch, decTime, hidden].
func AttentionForward[T tensor.Float](dec, enc *tensor.Tensor[T]) (*tensor.Tensor[T], *AttentionCache[T]) {
	ds, es := dec.Shape(), enc.Shape()
	if len(ds) != 3 || len(es) != 3 {
		panic(fmt.Sprintf("AttentionForward: expected 3D states, got %v and %v", ds, es))
	}
	if ds[0] != es[0] || ds[2] != es[2] {
		panic(fmt.Sprintf("AttentionForward: incompatible state shapes %v and %v", ds, es))
	}

	n, td, h := ds[0], ds[1], ds[2]
	te := es[1]

	ctx := tensor.New[T](tensor.Shape{n, td, h})
	weights := tensor.New[T](tensor.Shape{n, td, te})

	decData, encData := dec.Data(), enc.Data()
	ctxData, wData := ctx.Data(), weights.Data()

	scores := make([]float64, te)
	for r := 0; r < n; r++ {
		for t := 0; t < td; t++ {
			dRow := decData[(r*td+t)*h : (r*td+t+1)*h]

			// Compatibility scores: inner product over the hidden axis.
			maxScore := math.Inf(-1)
			for s := 0; s < te; s++ {
				eRow := encData[(r*te+s)*h : (r*te+s+1)*h]
				var dot float64
				for j := 0; j < h; j++ {
					dot += float64(dRow[j]) * float64(eRow[j])
				}
				scores[s] = dot
				if dot > maxScore {
					maxScore = dot
				}
			}

			// Softmax over encoder time, max-shifted for stability.
			var sum float64
			for s := 0; s < te; s++ {
				scores[s] = math.Exp(scores[s] - maxScore)
				sum += scores[s]
			}

			wRow := wData[(r*td+t)*te : (r*td+t+1)*te]
			cRow := ctxData[(r*td+t)*h : (r*td+t+1)*h]
			for s := 0; s < te; s++ {
				w := T(scores[s] / sum)
				wRow[s] = w
				eRow := encData[(r*te+s)*h : (r*te+s+1)*h]
				for j := 0; j < h; j++ {
					cRow[j] += w * eRow[j]
				}
			}
		}
	}

	return ctx, &AttentionCache[T]{dec: dec, enc: enc, weights: weights}
}

// AttentionBackward distributes the context gradient to both decoder and
// encoder states.
//
// The score in a (decoder-time, encoder-time) pair is bilinear in the two
// states, so the score gradient feeds both; encoder-state gradients
// accumulate across every decoder timestep that attended to them.
func AttentionBackward[T tensor.Float](dCtx *tensor.Tensor[T], cache *AttentionCache[T]) (*tensor.Tensor[T], *tensor.Tensor[T]) {
	if cache.consumed {
		panic("AttentionBackward: cache already consumed")
	}
	cache.consumed = true

	ds, es := cache.dec.Shape(), cache.enc.Shape()
	n, td, h := ds[0], ds[1], ds[2]
	te := es[1]

	dDec := tensor.New[T](tensor.Shape{n, td, h})
	dEnc := tensor.New[T](tensor.Shape{n, te, h})

	decData, encData := cache.dec.Data(), cache.enc.Data()
	wData, dCtxData := cache.weights.Data(), dCtx.Data()
	dDecData, dEncData := dDec.Data(), dEnc.Data()

	dWeights := make([]float64, te)
	for r := 0; r < n; r++ {
		for t := 0; t < td; t++ {
			dcRow := dCtxData[(r*td+t)*h : (r*td+t+1)*h]
			wRow := wData[(r*td+t)*te : (r*td+t+1)*te]

			// dWeights[s] = dCtx . enc[s]; the weighted-sum part of dEnc
			// accumulates in the same sweep.
			var wDotDw float64
			for s := 0; s < te; s++ {
				eRow := encData[(r*te+s)*h : (r*te+s+1)*h]
				deRow := dEncData[(r*te+s)*h : (r*te+s+1)*h]
				var dot float64
				for j := 0; j < h; j++ {
					dot += float64(dcRow[j]) * float64(eRow[j])
					deRow[j] += wRow[s] * dcRow[j]
				}
				dWeights[s] = dot
				wDotDw += float64(wRow[s]) * dot
			}

			// Softmax Jacobian: dScore[s] = w[s] * (dWeights[s] - sum_u w[u]*dWeights[u]).
			dRow := decData[(r*td+t)*h : (r*td+t+1)*h]
			ddRow := dDecData[(r*td+t)*h : (r*td+t+1)*h]
			for s := 0; s < te; s++ {
				dScore := float64(wRow[s]) * (dWeights[s] - wDotDw)
				eRow := encData[(r*te+s)*h : (r*te+s+1)*h]
				deRow := dEncData[(r*te+s)*h : (r*te+s+1)*h]
				for j := 0; j < h; j++ {
					ddRow[j] += T(dScore) * eRow[j]
					deRow[j] += T(dScore) * dRow[j]
				}
			}
		}
	}

	return dDec, dEnc
}
