package seq2seq

import (
	"fmt"

	"github.com/cacao-macao/towards-singularity/internal/nn"
	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// Params holds every learnable tensor of a model in typed fields, indexed
// by layer where the original formulation used formatted string keys.
// Params are created once at construction and read-only during Loss;
// mutation is an external optimizer's business.
type Params[T tensor.Float] struct {
	WEmbedEnc *tensor.Tensor[T] // [srcVocab, srcEmbed]
	WEmbedDec *tensor.Tensor[T] // [trgVocab, trgEmbed]

	// One entry per layer, encoder and decoder kept strictly parallel.
	Enc []nn.LayerParams[T]
	Dec []nn.LayerParams[T]

	WOut *tensor.Tensor[T] // [hidden or 2*hidden, trgVocab]
	BOut *tensor.Tensor[T] // [trgVocab]
}

// Grads holds the loss gradient for every parameter, shaped identically to
// the corresponding Params fields. A fresh Grads is produced by each
// Backward call and owned by the caller.
type Grads[T tensor.Float] struct {
	WEmbedEnc *tensor.Tensor[T]
	WEmbedDec *tensor.Tensor[T]

	Enc []nn.LayerGrads[T]
	Dec []nn.LayerGrads[T]

	WOut *tensor.Tensor[T]
	BOut *tensor.Tensor[T]
}

// Named returns a name-to-tensor view of the parameters for optimizers and
// serialization. Keys follow the Wx_<layer>_<enc|dec> scheme.
func (p *Params[T]) Named() map[string]*tensor.Tensor[T] {
	named := map[string]*tensor.Tensor[T]{
		"W_embed_enc": p.WEmbedEnc,
		"W_embed_dec": p.WEmbedDec,
		"W_out_dec":   p.WOut,
		"b_out_dec":   p.BOut,
	}
	for i, l := range p.Enc {
		named[fmt.Sprintf("Wx_%d_enc", i)] = l.Wx
		named[fmt.Sprintf("Wh_%d_enc", i)] = l.Wh
		named[fmt.Sprintf("b_%d_enc", i)] = l.B
	}
	for i, l := range p.Dec {
		named[fmt.Sprintf("Wx_%d_dec", i)] = l.Wx
		named[fmt.Sprintf("Wh_%d_dec", i)] = l.Wh
		named[fmt.Sprintf("b_%d_dec", i)] = l.B
	}
	return named
}

// Named returns the gradient mapping with the same keys and shapes as
// Params.Named.
func (g *Grads[T]) Named() map[string]*tensor.Tensor[T] {
	named := map[string]*tensor.Tensor[T]{
		"W_embed_enc": g.WEmbedEnc,
		"W_embed_dec": g.WEmbedDec,
		"W_out_dec":   g.WOut,
		"b_out_dec":   g.BOut,
	}
	for i, l := range g.Enc {
		named[fmt.Sprintf("Wx_%d_enc", i)] = l.DWx
		named[fmt.Sprintf("Wh_%d_enc", i)] = l.DWh
		named[fmt.Sprintf("b_%d_enc", i)] = l.DB
	}
	for i, l := range g.Dec {
		named[fmt.Sprintf("Wx_%d_dec", i)] = l.DWx
		named[fmt.Sprintf("Wh_%d_dec", i)] = l.DWh
		named[fmt.Sprintf("b_%d_dec", i)] = l.DB
	}
	return named
}
