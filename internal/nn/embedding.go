package nn

import (
	"fmt"

	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// EmbeddingCache holds the values EmbeddingForward retains for its backward
// pass. It is consumed exactly once by EmbeddingBackward.
type EmbeddingCache[T tensor.Float] struct {
	ids      *tensor.Tensor[int32]
	numEmbed int
	embedDim int
	consumed bool
}

// EmbeddingForward maps token ids to dense vectors by row lookup.
//
// Shapes:
//   - ids: [batch, time] with values in [0, numEmbed)
//   - w:   [numEmbed, embedDim]
//   - out: [batch, time, embedDim]
//
// Panics if an id is out of bounds; the orchestrator validates ids before
// any computation, so a panic here means a caller bypassed validation.
func EmbeddingForward[T tensor.Float](ids *tensor.Tensor[int32], w *tensor.Tensor[T]) (*tensor.Tensor[T], *EmbeddingCache[T]) {
	idShape, wShape := ids.Shape(), w.Shape()
	if len(idShape) != 2 {
		panic(fmt.Sprintf("EmbeddingForward: expected 2D ids [batch, time], got %v", idShape))
	}
	if len(wShape) != 2 {
		panic(fmt.Sprintf("EmbeddingForward: expected 2D weight [vocab, dim], got %v", wShape))
	}

	n, t := idShape[0], idShape[1]
	v, d := wShape[0], wShape[1]

	out := tensor.New[T](tensor.Shape{n, t, d})
	outData, wData, idData := out.Data(), w.Data(), ids.Data()

	for i, id := range idData {
		if id < 0 || int(id) >= v {
			panic(fmt.Sprintf("EmbeddingForward: id %d out of range [0, %d)", id, v))
		}
		copy(outData[i*d:(i+1)*d], wData[int(id)*d:(int(id)+1)*d])
	}

	return out, &EmbeddingCache[T]{ids: ids, numEmbed: v, embedDim: d}
}

// EmbeddingBackward scatter-accumulates upstream gradients into the
// embedding matrix gradient.
//
// Rows addressed by repeated ids accumulate rather than overwrite. Padding
// ids receive whatever gradient flows to them; masking is the loss
// function's responsibility, not the embedding's.
func EmbeddingBackward[T tensor.Float](dOut *tensor.Tensor[T], cache *EmbeddingCache[T]) *tensor.Tensor[T] {
	if cache.consumed {
		panic("EmbeddingBackward: cache already consumed")
	}
	cache.consumed = true

	d := cache.embedDim
	dW := tensor.New[T](tensor.Shape{cache.numEmbed, d})
	dwData, dOutData, idData := dW.Data(), dOut.Data(), cache.ids.Data()

	for i, id := range idData {
		row := dwData[int(id)*d : (int(id)+1)*d]
		up := dOutData[i*d : (i+1)*d]
		for j := range row {
			row[j] += up[j]
		}
	}
	return dW
}
