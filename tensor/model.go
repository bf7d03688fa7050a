package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Config describes the transformer architecture. It travels with every
// checkpoint because tensor shapes depend on it.
type Config struct {
	VocabSize int
	DModel    int
	NHeads    int
	NLayers   int
	DFF       int
	MaxLen    int
	Dropout   float64
}

// ConfigOption is a functional option for Config.
type ConfigOption func(*Config)

// NewConfig creates a Config with default values.
func NewConfig(vocabSize int, opts ...ConfigOption) Config {
	c := Config{
		VocabSize: vocabSize,
		DModel:    512,
		NHeads:    8,
		NLayers:   6,
		DFF:       2048,
		MaxLen:    1024,
		Dropout:   0.1,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDModel sets the embedding dimension.
func WithDModel(n int) ConfigOption { return func(c *Config) { c.DModel = n } }

// WithNHeads sets the number of attention heads.
func WithNHeads(n int) ConfigOption { return func(c *Config) { c.NHeads = n } }

// WithNLayers sets the number of transformer blocks.
func WithNLayers(n int) ConfigOption { return func(c *Config) { c.NLayers = n } }

// WithDFF sets the feed-forward hidden dimension.
func WithDFF(n int) ConfigOption { return func(c *Config) { c.DFF = n } }

// WithMaxLen sets the context window.
func WithMaxLen(n int) ConfigOption { return func(c *Config) { c.MaxLen = n } }

// WithDropout sets the dropout rate recorded in checkpoints.
func WithDropout(p float64) ConfigOption { return func(c *Config) { c.Dropout = p } }

// Validate checks the architectural invariants.
func (c Config) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid config: vocab_size must be positive, got %d", c.VocabSize)
	}
	if c.NHeads <= 0 || c.DModel%c.NHeads != 0 {
		return fmt.Errorf("invalid config: d_model %d not divisible by n_heads %d", c.DModel, c.NHeads)
	}
	if c.NLayers <= 0 {
		return fmt.Errorf("invalid config: n_layers must be positive, got %d", c.NLayers)
	}
	if c.MaxLen <= 0 {
		return fmt.Errorf("invalid config: max_len must be positive, got %d", c.MaxLen)
	}
	return nil
}

// Attention holds the four dense projections of causal multi-head
// self-attention.
type Attention struct {
	NumHeads int
	HeadDim  int

	WQ, WK, WV, WO *Tensor // [d_model, d_model]
	BQ, BK, BV, BO *Tensor // [d_model]
}

// FeedForward is the position-wise linear -> ReLU -> linear network.
type FeedForward struct {
	W1 *Tensor // [d_model, d_ff]
	B1 *Tensor // [d_ff]
	W2 *Tensor // [d_ff, d_model]
	B2 *Tensor // [d_model]
}

// LayerNormLayer is a layer-norm affine pair.
type LayerNormLayer struct {
	Gamma *Tensor
	Beta  *Tensor
}

// Forward applies layer normalization with this layer's parameters.
func (ln *LayerNormLayer) Forward(x *Tensor) *Tensor {
	return LayerNorm(x, ln.Gamma, ln.Beta, lnEpsilon)
}

const lnEpsilon = 1e-5

// Block is one transformer layer: causal self-attention and feed-forward,
// each with a residual connection followed by layer norm.
type Block struct {
	Attn *Attention
	FF   *FeedForward
	LN1  *LayerNormLayer
	LN2  *LayerNormLayer
}

// Model is the decoder-only transformer. The forward pass is a pure
// function of (weights, input ids); nothing here mutates during
// inference, so a Model may be read-shared across goroutines as long as
// training happens on a Clone.
type Model struct {
	Config Config

	TokenEmbed *Tensor // [vocab_size, d_model]
	posEnc     *Tensor // [max_len, d_model], fixed sinusoidal, not trained
	Blocks     []*Block
	LNFinal    *LayerNormLayer
	Head       *Tensor // [d_model, vocab_size], no bias
}

// NewModel constructs a model with weights drawn from N(0, 0.02).
// Construction fails if the config violates an architectural invariant.
func NewModel(config Config, rng *rand.Rand) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	m := &Model{
		Config:     config,
		TokenEmbed: randTensor(rng, config.VocabSize, config.DModel),
		posEnc:     sinusoidalEncoding(config.MaxLen, config.DModel),
		Blocks:     make([]*Block, config.NLayers),
		Head:       randTensor(rng, config.DModel, config.VocabSize),
	}

	for l := range m.Blocks {
		m.Blocks[l] = &Block{
			Attn: newAttention(config, rng),
			FF: &FeedForward{
				W1: randTensor(rng, config.DModel, config.DFF),
				B1: NewTensor(config.DFF),
				W2: randTensor(rng, config.DFF, config.DModel),
				B2: NewTensor(config.DModel),
			},
			LN1: newLayerNorm(config.DModel),
			LN2: newLayerNorm(config.DModel),
		}
	}
	m.LNFinal = newLayerNorm(config.DModel)

	return m, nil
}

func newAttention(config Config, rng *rand.Rand) *Attention {
	d := config.DModel
	return &Attention{
		NumHeads: config.NHeads,
		HeadDim:  d / config.NHeads,
		WQ:       randTensor(rng, d, d),
		WK:       randTensor(rng, d, d),
		WV:       randTensor(rng, d, d),
		WO:       randTensor(rng, d, d),
		BQ:       NewTensor(d),
		BK:       NewTensor(d),
		BV:       NewTensor(d),
		BO:       NewTensor(d),
	}
}

func newLayerNorm(dim int) *LayerNormLayer {
	ln := &LayerNormLayer{
		Gamma: NewTensor(dim),
		Beta:  NewTensor(dim),
	}
	for i := range ln.Gamma.Data {
		ln.Gamma.Data[i] = 1.0
	}
	return ln
}

func randTensor(rng *rand.Rand, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * 0.02
	}
	return t
}

// sinusoidalEncoding precomputes the fixed positional encoding table.
func sinusoidalEncoding(maxLen, dModel int) *Tensor {
	pe := NewTensor(maxLen, dModel)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dModel; i += 2 {
			div := math.Exp(float64(i) * -math.Log(10000.0) / float64(dModel))
			pe.Data[pos*dModel+i] = math.Sin(float64(pos) * div)
			if i+1 < dModel {
				pe.Data[pos*dModel+i+1] = math.Cos(float64(pos) * div)
			}
		}
	}
	return pe
}

// embed builds the block-stack input: scaled token embeddings plus the
// positional encoding.
func (m *Model) embed(ids []int) *Tensor {
	d := m.Config.DModel
	scale := math.Sqrt(float64(d))
	x := NewTensor(len(ids), d)
	for i, id := range ids {
		for j := 0; j < d; j++ {
			x.Data[i*d+j] = m.TokenEmbed.Data[id*d+j]*scale + m.posEnc.Data[i*d+j]
		}
	}
	return x
}

// Forward runs the model over one token sequence and returns logits of
// shape [seq_len, vocab_size]. The causal mask guarantees the logits at
// position i depend only on ids[0..i].
func (m *Model) Forward(ids []int) (*Tensor, error) {
	if err := m.checkInput(ids); err != nil {
		return nil, err
	}

	x := m.embed(ids)
	for _, block := range m.Blocks {
		x = block.Forward(x)
	}
	x = m.LNFinal.Forward(x)
	return MatMul(x, m.Head), nil
}

func (m *Model) checkInput(ids []int) error {
	if len(ids) == 0 {
		return fmt.Errorf("forward: empty input sequence")
	}
	if len(ids) > m.Config.MaxLen {
		return fmt.Errorf("forward: sequence length %d exceeds max_len %d", len(ids), m.Config.MaxLen)
	}
	for _, id := range ids {
		if id < 0 || id >= m.Config.VocabSize {
			return fmt.Errorf("forward: token id %d out of range [0,%d)", id, m.Config.VocabSize)
		}
	}
	return nil
}

// Forward applies the block: post-norm residual attention then post-norm
// residual feed-forward.
func (b *Block) Forward(x *Tensor) *Tensor {
	x = b.LN1.Forward(Add(x, b.Attn.Forward(x)))
	x = b.LN2.Forward(Add(x, b.FF.Forward(x)))
	return x
}

// Forward applies causal multi-head self-attention.
func (a *Attention) Forward(x *Tensor) *Tensor {
	out, _ := a.forward(x, false)
	return out
}

// Forward applies the feed-forward network.
func (ff *FeedForward) Forward(x *Tensor) *Tensor {
	out, _ := ff.forward(x, false)
	return out
}

// Parameters returns every trainable tensor in a stable order. The
// positional encoding is fixed and excluded.
func (m *Model) Parameters() []*Tensor {
	params := []*Tensor{m.TokenEmbed}
	for _, b := range m.Blocks {
		params = append(params,
			b.Attn.WQ, b.Attn.BQ, b.Attn.WK, b.Attn.BK,
			b.Attn.WV, b.Attn.BV, b.Attn.WO, b.Attn.BO,
			b.LN1.Gamma, b.LN1.Beta,
			b.FF.W1, b.FF.B1, b.FF.W2, b.FF.B2,
			b.LN2.Gamma, b.LN2.Beta,
		)
	}
	params = append(params, m.LNFinal.Gamma, m.LNFinal.Beta, m.Head)
	return params
}

// Clone returns a deep copy whose weights can be trained without
// touching the receiver. The positional encoding is shared; it is
// immutable.
func (m *Model) Clone() *Model {
	c := &Model{
		Config:     m.Config,
		TokenEmbed: m.TokenEmbed.Clone(),
		posEnc:     m.posEnc,
		Blocks:     make([]*Block, len(m.Blocks)),
		LNFinal:    &LayerNormLayer{Gamma: m.LNFinal.Gamma.Clone(), Beta: m.LNFinal.Beta.Clone()},
		Head:       m.Head.Clone(),
	}
	for i, b := range m.Blocks {
		c.Blocks[i] = &Block{
			Attn: &Attention{
				NumHeads: b.Attn.NumHeads,
				HeadDim:  b.Attn.HeadDim,
				WQ:       b.Attn.WQ.Clone(), WK: b.Attn.WK.Clone(),
				WV: b.Attn.WV.Clone(), WO: b.Attn.WO.Clone(),
				BQ: b.Attn.BQ.Clone(), BK: b.Attn.BK.Clone(),
				BV: b.Attn.BV.Clone(), BO: b.Attn.BO.Clone(),
			},
			FF: &FeedForward{
				W1: b.FF.W1.Clone(), B1: b.FF.B1.Clone(),
				W2: b.FF.W2.Clone(), B2: b.FF.B2.Clone(),
			},
			LN1: &LayerNormLayer{Gamma: b.LN1.Gamma.Clone(), Beta: b.LN1.Beta.Clone()},
			LN2: &LayerNormLayer{Gamma: b.LN2.Gamma.Clone(), Beta: b.LN2.Beta.Clone()},
		}
	}
	return c
}

// ResizeVocab grows the embedding and head matrices to newVocabSize rows
// and columns respectively, preserving existing weights and initializing
// new rows/columns from N(0, 0.02). Shrinking is not supported: the
// vocabulary is append-only.
func (m *Model) ResizeVocab(newVocabSize int, rng *rand.Rand) error {
	old := m.Config.VocabSize
	if newVocabSize < old {
		return fmt.Errorf("resize: vocabulary cannot shrink (%d -> %d)", old, newVocabSize)
	}
	if newVocabSize == old {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	d := m.Config.DModel

	embed := randTensor(rng, newVocabSize, d)
	copy(embed.Data[:old*d], m.TokenEmbed.Data)
	m.TokenEmbed = embed

	head := randTensor(rng, d, newVocabSize)
	for i := 0; i < d; i++ {
		copy(head.Data[i*newVocabSize:i*newVocabSize+old], m.Head.Data[i*old:(i+1)*old])
	}
	m.Head = head

	m.Config.VocabSize = newVocabSize
	return nil
}

// NumParameters returns the total trainable parameter count.
func (m *Model) NumParameters() int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Size()
	}
	return n
}
