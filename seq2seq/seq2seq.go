// Package seq2seq implements the training core of an encoder-decoder
// recurrent model: parameter initialization, the forward pass from token
// ids to vocabulary scores, the masked cross-entropy loss, and the exact
// analytic backward pass producing a gradient for every parameter.
//
// The only entry point in normal training use is Loss. Forward and
// Backward are exposed as lower-level primitives for direct testing. A
// model's parameters are read-only during Loss, and every call allocates
// its own caches and gradients, so concurrent Loss calls on one model are
// safe.
//
// Out of scope by design: optimizer steps, batch scheduling, tokenization,
// and inference-time decoding (StartIdx/EndIdx are carried in Config for
// the inference component but unused here).
package seq2seq

import (
	"fmt"
	"math/rand"

	"github.com/cacao-macao/towards-singularity/internal/nn"
	"github.com/cacao-macao/towards-singularity/internal/tensor"
)

// ErrNonFinite reports a NaN or infinite loss. Loss still returns the
// computed value and gradients alongside it.
var ErrNonFinite = nn.ErrNonFinite

// CellKind selects the recurrent cell algebra.
type CellKind string

// Supported cell kinds.
const (
	CellPlain CellKind = "plain" // tanh recurrence
	CellGated CellKind = "gated" // LSTM-style, four gates and a cell state
)

// Config enumerates the public constructor configuration. Encoder and
// decoder always share NumLayers; the context hand-off is keyed by layer.
type Config struct {
	SrcSeqLen    int
	SrcVocabSize int
	SrcEmbedDim  int

	TrgSeqLen    int
	TrgVocabSize int
	TrgEmbedDim  int

	HiddenDim int

	NullIdx  int // padding token in the target vocabulary
	StartIdx int // sequence start token (used by inference, not by Loss)
	EndIdx   int // sequence end token (used by inference, not by Loss)

	Attention bool
	NumLayers int
	Cell      CellKind

	Seed int64 // seed for parameter initialization
}

// Model is a sequence-to-sequence network specialized to one floating-point
// precision T, chosen at construction.
type Model[T tensor.Float] struct {
	cfg    Config
	cell   nn.Cell[T]
	params *Params[T]
}

// New validates the configuration and initializes all parameters.
//
// Every weight is drawn from a zero-mean normal scaled by 1/sqrt(fan-in);
// biases start at zero. Layer 0's input weights are sized by the embedding
// width rather than the hidden width, since they consume embedded tokens.
// The output projection consumes 2*HiddenDim when attention is enabled
// (decoder state concatenated with attention context), HiddenDim otherwise.
func New[T tensor.Float](cfg Config) (*Model[T], error) {
	var cell nn.Cell[T]
	switch cfg.Cell {
	case CellPlain:
		cell = nn.PlainCell[T]{}
	case CellGated:
		cell = nn.GatedCell[T]{}
	default:
		return nil, fmt.Errorf("seq2seq: unsupported cell kind %q", cfg.Cell)
	}

	if cfg.NumLayers < 1 {
		return nil, fmt.Errorf("seq2seq: NumLayers must be >= 1, got %d", cfg.NumLayers)
	}
	for name, v := range map[string]int{
		"SrcSeqLen": cfg.SrcSeqLen, "SrcVocabSize": cfg.SrcVocabSize, "SrcEmbedDim": cfg.SrcEmbedDim,
		"TrgSeqLen": cfg.TrgSeqLen, "TrgVocabSize": cfg.TrgVocabSize, "TrgEmbedDim": cfg.TrgEmbedDim,
		"HiddenDim": cfg.HiddenDim,
	} {
		if v < 1 {
			return nil, fmt.Errorf("seq2seq: %s must be >= 1, got %d", name, v)
		}
	}
	for name, idx := range map[string]int{"NullIdx": cfg.NullIdx, "StartIdx": cfg.StartIdx, "EndIdx": cfg.EndIdx} {
		if idx < 0 || idx >= cfg.TrgVocabSize {
			return nil, fmt.Errorf("seq2seq: %s %d out of target vocabulary range [0, %d)", name, idx, cfg.TrgVocabSize)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	mul := cell.GateMultiplier()
	h := cfg.HiddenDim

	params := &Params[T]{
		WEmbedEnc: nn.ScaledNormal[T](tensor.Shape{cfg.SrcVocabSize, cfg.SrcEmbedDim}, cfg.SrcVocabSize, rng),
		WEmbedDec: nn.ScaledNormal[T](tensor.Shape{cfg.TrgVocabSize, cfg.TrgEmbedDim}, cfg.TrgVocabSize, rng),
		Enc:       make([]nn.LayerParams[T], cfg.NumLayers),
		Dec:       make([]nn.LayerParams[T], cfg.NumLayers),
	}

	for i := 0; i < cfg.NumLayers; i++ {
		encIn, decIn := h, h
		if i == 0 {
			encIn, decIn = cfg.SrcEmbedDim, cfg.TrgEmbedDim
		}
		params.Enc[i] = nn.LayerParams[T]{
			Wx: nn.ScaledNormal[T](tensor.Shape{encIn, mul * h}, encIn, rng),
			Wh: nn.ScaledNormal[T](tensor.Shape{h, mul * h}, h, rng),
			B:  nn.Zeros[T](tensor.Shape{mul * h}),
		}
		params.Dec[i] = nn.LayerParams[T]{
			Wx: nn.ScaledNormal[T](tensor.Shape{decIn, mul * h}, decIn, rng),
			Wh: nn.ScaledNormal[T](tensor.Shape{h, mul * h}, h, rng),
			B:  nn.Zeros[T](tensor.Shape{mul * h}),
		}
	}

	outIn := h
	if cfg.Attention {
		outIn = 2 * h
	}
	params.WOut = nn.ScaledNormal[T](tensor.Shape{outIn, cfg.TrgVocabSize}, outIn, rng)
	params.BOut = nn.Zeros[T](tensor.Shape{cfg.TrgVocabSize})

	return &Model[T]{cfg: cfg, cell: cell, params: params}, nil
}

// Config returns the model's configuration.
func (m *Model[T]) Config() Config {
	return m.cfg
}

// Params returns the model's parameter store.
func (m *Model[T]) Params() *Params[T] {
	return m.params
}

// Caches bundles every intermediate value one Forward call retains for its
// matching Backward call. A Caches is consumed exactly once; it must not be
// shared across calls.
type Caches[T tensor.Float] struct {
	encEmbed, decEmbed *nn.EmbeddingCache[T]
	enc, dec           []*nn.SequenceCache[T]
	att                *nn.AttentionCache[T] // nil when attention is disabled
	proj               *nn.AffineCache[T]
	batch              int
}

// AttentionWeights returns the attention weights recorded during Forward,
// [batch, decTime, encTime], or nil when attention is disabled.
func (c *Caches[T]) AttentionWeights() *tensor.Tensor[T] {
	if c.att == nil {
		return nil
	}
	return c.att.Weights()
}

// Forward computes vocabulary scores for teacher-forced decoder input.
//
//	src:   [batch, SrcSeqLen] source token ids
//	trgIn: [batch, TrgSeqLen] decoder input token ids
//
// Returns scores [batch, TrgSeqLen, TrgVocabSize] and the caches Backward
// needs. Shape or id-range violations fail before any computation.
func (m *Model[T]) Forward(src, trgIn *tensor.Tensor[int32]) (*tensor.Tensor[T], *Caches[T], error) {
	if err := m.checkIDs("src", src, m.cfg.SrcSeqLen, m.cfg.SrcVocabSize); err != nil {
		return nil, nil, err
	}
	if err := m.checkIDs("trgIn", trgIn, m.cfg.TrgSeqLen, m.cfg.TrgVocabSize); err != nil {
		return nil, nil, err
	}
	if src.Shape()[0] != trgIn.Shape()[0] {
		return nil, nil, fmt.Errorf("seq2seq: batch mismatch: src %d vs trgIn %d", src.Shape()[0], trgIn.Shape()[0])
	}
	batch := src.Shape()[0]

	caches := &Caches[T]{batch: batch}

	// Encoder: embedded source through the stack; each layer's
	// final-timestep hidden state is that layer's context vector.
	srcEmbeds, encEmbedCache := nn.EmbeddingForward(src, m.params.WEmbedEnc)
	caches.encEmbed = encEmbedCache

	encH0s := make([]*tensor.Tensor[T], m.cfg.NumLayers)
	for i := range encH0s {
		encH0s[i] = tensor.New[T](tensor.Shape{batch, m.cfg.HiddenDim})
	}
	encTop, context, encCaches := nn.StackForward(m.cell, srcEmbeds, encH0s, m.params.Enc)
	caches.enc = encCaches

	// Decoder: seeded per layer with the matching encoder layer's context.
	trgEmbeds, decEmbedCache := nn.EmbeddingForward(trgIn, m.params.WEmbedDec)
	caches.decEmbed = decEmbedCache

	decTop, _, decCaches := nn.StackForward(m.cell, trgEmbeds, context, m.params.Dec)
	caches.dec = decCaches

	projIn := decTop
	if m.cfg.Attention {
		attCtx, attCache := nn.AttentionForward(decTop, encTop)
		caches.att = attCache
		projIn = concatHidden(decTop, attCtx)
	}

	scores, projCache := nn.TemporalAffineForward(projIn, m.params.WOut, m.params.BOut)
	caches.proj = projCache

	return scores, caches, nil
}

// Backward runs the exact mirror of Forward in reverse and assembles the
// gradient of every parameter.
//
// The per-layer context gradient buffers produced by the decoder stack are
// added into the matching encoder layers' final-timestep hidden gradients
// before each encoder layer's own backward runs; the encoder-state gradient
// starts at zero and only the attention path (when enabled) writes into it
// beforehand.
func (m *Model[T]) Backward(dScores *tensor.Tensor[T], caches *Caches[T]) *Grads[T] {
	dProjIn, dWOut, dBOut := nn.TemporalAffineBackward(dScores, caches.proj)

	var dDec, dEnc *tensor.Tensor[T]
	if m.cfg.Attention {
		var dAttCtx *tensor.Tensor[T]
		dDec, dAttCtx = splitHidden(dProjIn)
		dDecAtt, dEncAtt := nn.AttentionBackward(dAttCtx, caches.att)
		tensor.Add(dDec, dDecAtt)
		dEnc = dEncAtt
	} else {
		dDec = dProjIn
		dEnc = tensor.New[T](tensor.Shape{caches.batch, m.cfg.SrcSeqLen, m.cfg.HiddenDim})
	}

	dTrgEmbeds, dContext, decGrads := nn.StackBackward(m.cell, dDec, nil, caches.dec)
	dWEmbedDec := nn.EmbeddingBackward(dTrgEmbeds, caches.decEmbed)

	// Context hand-off, differentiated: layer i's initial-state gradient
	// joins encoder layer i's terminus inside StackBackward.
	dSrcEmbeds, _, encGrads := nn.StackBackward(m.cell, dEnc, dContext, caches.enc)
	dWEmbedEnc := nn.EmbeddingBackward(dSrcEmbeds, caches.encEmbed)

	return &Grads[T]{
		WEmbedEnc: dWEmbedEnc,
		WEmbedDec: dWEmbedDec,
		Enc:       encGrads,
		Dec:       decGrads,
		WOut:      dWOut,
		BOut:      dBOut,
	}
}

// Loss is the training entry point: teacher-forced forward pass, masked
// cross-entropy, and full backward pass in one call.
//
//	src: [batch, SrcSeqLen] source token ids
//	trg: [batch, TrgSeqLen+1] target token ids; trg[:, :-1] feeds the
//	     decoder and trg[:, 1:] are the labels (shifted-target setup)
//
// Positions whose label is NullIdx are padding: they contribute zero loss
// and zero gradient, and the mean runs over real positions only. A
// non-finite loss is reported via an error wrapping ErrNonFinite; the loss
// and gradients are still returned.
func (m *Model[T]) Loss(src, trg *tensor.Tensor[int32]) (float64, map[string]*tensor.Tensor[T], error) {
	if err := m.checkIDs("trg", trg, m.cfg.TrgSeqLen+1, m.cfg.TrgVocabSize); err != nil {
		return 0, nil, err
	}

	trgIn, labels := splitTarget(trg)

	mask := make([]bool, labels.NumElements())
	for i, id := range labels.Data() {
		mask[i] = int(id) != m.cfg.NullIdx
	}

	scores, caches, err := m.Forward(src, trgIn)
	if err != nil {
		return 0, nil, err
	}

	loss, dScores, lossErr := nn.TemporalCrossEntropy(scores, labels, mask)

	grads := m.Backward(dScores, caches)
	if lossErr != nil {
		return loss, grads.Named(), fmt.Errorf("seq2seq: %w", lossErr)
	}
	return loss, grads.Named(), nil
}

// checkIDs validates an id matrix's shape and value range before any
// computation touches it.
func (m *Model[T]) checkIDs(name string, ids *tensor.Tensor[int32], wantLen, vocab int) error {
	s := ids.Shape()
	if len(s) != 2 || s[1] != wantLen {
		return fmt.Errorf("seq2seq: %s shape %v, want [batch %d]", name, s, wantLen)
	}
	for _, id := range ids.Data() {
		if id < 0 || int(id) >= vocab {
			return fmt.Errorf("seq2seq: %s id %d out of vocabulary range [0, %d)", name, id, vocab)
		}
	}
	return nil
}

// splitTarget splits trg [batch, T+1] into teacher-forced decoder input
// trg[:, :-1] and labels trg[:, 1:].
func splitTarget(trg *tensor.Tensor[int32]) (*tensor.Tensor[int32], *tensor.Tensor[int32]) {
	s := trg.Shape()
	n, steps := s[0], s[1]-1

	in := tensor.New[int32](tensor.Shape{n, steps})
	labels := tensor.New[int32](tensor.Shape{n, steps})
	trgData, inData, labelData := trg.Data(), in.Data(), labels.Data()
	for r := 0; r < n; r++ {
		copy(inData[r*steps:(r+1)*steps], trgData[r*(steps+1):r*(steps+1)+steps])
		copy(labelData[r*steps:(r+1)*steps], trgData[r*(steps+1)+1:(r+1)*(steps+1)])
	}
	return in, labels
}

// concatHidden concatenates two [batch, time, hidden] tensors along the
// hidden axis.
func concatHidden[T tensor.Float](a, b *tensor.Tensor[T]) *tensor.Tensor[T] {
	s := a.Shape()
	n, steps, h := s[0], s[1], s[2]

	out := tensor.New[T](tensor.Shape{n, steps, 2 * h})
	aData, bData, outData := a.Data(), b.Data(), out.Data()
	for pos := 0; pos < n*steps; pos++ {
		copy(outData[pos*2*h:pos*2*h+h], aData[pos*h:(pos+1)*h])
		copy(outData[pos*2*h+h:(pos+1)*2*h], bData[pos*h:(pos+1)*h])
	}
	return out
}

// splitHidden is the inverse of concatHidden.
func splitHidden[T tensor.Float](x *tensor.Tensor[T]) (*tensor.Tensor[T], *tensor.Tensor[T]) {
	s := x.Shape()
	n, steps := s[0], s[1]
	h := s[2] / 2

	a := tensor.New[T](tensor.Shape{n, steps, h})
	b := tensor.New[T](tensor.Shape{n, steps, h})
	xData, aData, bData := x.Data(), a.Data(), b.Data()
	for pos := 0; pos < n*steps; pos++ {
		copy(aData[pos*h:(pos+1)*h], xData[pos*2*h:pos*2*h+h])
		copy(bData[pos*h:(pos+1)*h], xData[pos*2*h+h:(pos+1)*2*h])
	}
	return a, b
}
