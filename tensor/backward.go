package tensor

import "math"

// ForwardCache stores the activations a backward pass needs. Training
// memory is dominated by these caches, one per block.
type ForwardCache struct {
	tokenIDs    []int
	blockCaches []*blockCache
	lnFinalIn   *Tensor
	lnFinalOut  *Tensor
}

type blockCache struct {
	attnCache *attentionCache
	res1      *Tensor // x + attn(x), input to LN1
	ln1Out    *Tensor
	ffCache   *ffCache
	res2      *Tensor // ln1Out + ff(ln1Out), input to LN2
}

type attentionCache struct {
	input   *Tensor
	q, k, v *Tensor
	weights []*Tensor // per-head softmax(QK^T/sqrt(d_k))
	context *Tensor   // concatenated heads, pre output projection
}

type ffCache struct {
	input  *Tensor
	preAct *Tensor // before ReLU
	hidden *Tensor // after ReLU
}

// ForwardWithCache runs the forward pass while retaining activations for
// Backward. Input validation matches Forward.
func (m *Model) ForwardWithCache(ids []int) (*Tensor, *ForwardCache, error) {
	if err := m.checkInput(ids); err != nil {
		return nil, nil, err
	}

	cache := &ForwardCache{
		tokenIDs:    ids,
		blockCaches: make([]*blockCache, len(m.Blocks)),
	}

	x := m.embed(ids)
	for l, block := range m.Blocks {
		bc := &blockCache{}
		cache.blockCaches[l] = bc

		attnOut, ac := block.Attn.forward(x, true)
		bc.attnCache = ac
		bc.res1 = Add(x, attnOut)
		bc.ln1Out = block.LN1.Forward(bc.res1)

		ffOut, fc := block.FF.forward(bc.ln1Out, true)
		bc.ffCache = fc
		bc.res2 = Add(bc.ln1Out, ffOut)
		x = block.LN2.Forward(bc.res2)
	}

	cache.lnFinalIn = x
	cache.lnFinalOut = m.LNFinal.Forward(x)
	logits := MatMul(cache.lnFinalOut, m.Head)

	return logits, cache, nil
}

// forward computes causal multi-head self-attention, optionally caching
// activations.
func (a *Attention) forward(x *Tensor, withCache bool) (*Tensor, *attentionCache) {
	seqLen := x.Shape[0]
	dModel := x.Shape[1]

	q := addBias(MatMul(x, a.WQ), a.BQ)
	k := addBias(MatMul(x, a.WK), a.BK)
	v := addBias(MatMul(x, a.WV), a.BV)

	var cache *attentionCache
	if withCache {
		cache = &attentionCache{
			input:   x,
			q:       q,
			k:       k,
			v:       v,
			weights: make([]*Tensor, a.NumHeads),
		}
	}

	scale := 1.0 / math.Sqrt(float64(a.HeadDim))
	context := NewTensor(seqLen, dModel)

	for h := 0; h < a.NumHeads; h++ {
		qh := sliceHead(q, h, a.HeadDim)
		kh := sliceHead(k, h, a.HeadDim)
		vh := sliceHead(v, h, a.HeadDim)

		scores := Scale(MatMul(qh, Transpose(kh)), scale)
		// Mask future positions to -inf so they contribute exactly zero.
		for i := 0; i < seqLen; i++ {
			for j := i + 1; j < seqLen; j++ {
				scores.Data[i*seqLen+j] = math.Inf(-1)
			}
		}

		weights := Softmax(scores)
		if withCache {
			cache.weights[h] = weights
		}

		headOut := MatMul(weights, vh)
		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.HeadDim; d++ {
				context.Data[i*dModel+h*a.HeadDim+d] = headOut.Data[i*a.HeadDim+d]
			}
		}
	}

	if withCache {
		cache.context = context
	}
	return addBias(MatMul(context, a.WO), a.BO), cache
}

// forward computes linear -> ReLU -> linear, optionally caching.
func (ff *FeedForward) forward(x *Tensor, withCache bool) (*Tensor, *ffCache) {
	preAct := addBias(MatMul(x, ff.W1), ff.B1)
	hidden := ReLU(preAct)
	out := addBias(MatMul(hidden, ff.W2), ff.B2)

	if !withCache {
		return out, nil
	}
	return out, &ffCache{input: x, preAct: preAct, hidden: hidden}
}

// addBias adds a [cols] bias row-wise to a [rows, cols] tensor in place.
func addBias(t, bias *Tensor) *Tensor {
	cols := bias.Size()
	for i := range t.Data {
		t.Data[i] += bias.Data[i%cols]
	}
	return t
}

// sliceHead extracts head h from a [seq, d_model] projection.
func sliceHead(t *Tensor, h, headDim int) *Tensor {
	seqLen := t.Shape[0]
	dModel := t.Shape[1]
	out := NewTensor(seqLen, headDim)
	for i := 0; i < seqLen; i++ {
		copy(out.Data[i*headDim:(i+1)*headDim], t.Data[i*dModel+h*headDim:i*dModel+(h+1)*headDim])
	}
	return out
}

// Backward propagates gradLogits back to every trainable parameter,
// accumulating into their Grad buffers.
func (m *Model) Backward(gradLogits *Tensor, cache *ForwardCache) {
	// Head: logits = lnFinalOut @ Head.
	gradLnOut, gradHead := MatMulBackward(cache.lnFinalOut, m.Head, gradLogits)
	m.Head.AccumulateGrad(gradHead)

	gradX, gradGamma, gradBeta := LayerNormBackward(cache.lnFinalIn, m.LNFinal.Gamma, gradLnOut, lnEpsilon)
	m.LNFinal.Gamma.AccumulateGrad(gradGamma)
	m.LNFinal.Beta.AccumulateGrad(gradBeta)

	for l := len(m.Blocks) - 1; l >= 0; l-- {
		gradX = m.Blocks[l].backward(gradX, cache.blockCaches[l])
	}

	// Embeddings: x = embed*sqrt(d_model) + pe, the encoding is fixed.
	d := m.Config.DModel
	scale := math.Sqrt(float64(d))
	m.TokenEmbed.EnsureGrad()
	for i, id := range cache.tokenIDs {
		for j := 0; j < d; j++ {
			m.TokenEmbed.Grad[id*d+j] += gradX.Data[i*d+j] * scale
		}
	}
}

func (b *Block) backward(gradOut *Tensor, bc *blockCache) *Tensor {
	// LN2 over res2 = ln1Out + ff(ln1Out).
	gradRes2, gradGamma2, gradBeta2 := LayerNormBackward(bc.res2, b.LN2.Gamma, gradOut, lnEpsilon)
	b.LN2.Gamma.AccumulateGrad(gradGamma2)
	b.LN2.Beta.AccumulateGrad(gradBeta2)

	gradLn1 := gradRes2.Clone()
	gradLn1 = Add(gradLn1, b.FF.backward(gradRes2, bc.ffCache))

	// LN1 over res1 = x + attn(x).
	gradRes1, gradGamma1, gradBeta1 := LayerNormBackward(bc.res1, b.LN1.Gamma, gradLn1, lnEpsilon)
	b.LN1.Gamma.AccumulateGrad(gradGamma1)
	b.LN1.Beta.AccumulateGrad(gradBeta1)

	gradX := gradRes1.Clone()
	gradX = Add(gradX, b.Attn.backward(gradRes1, bc.attnCache))
	return gradX
}

func (ff *FeedForward) backward(gradOut *Tensor, fc *ffCache) *Tensor {
	gradHidden, gradW2 := MatMulBackward(fc.hidden, ff.W2, gradOut)
	ff.W2.AccumulateGrad(gradW2)
	accumulateBiasGrad(ff.B2, gradOut)

	gradPreAct := ReLUBackward(fc.preAct, gradHidden)

	gradIn, gradW1 := MatMulBackward(fc.input, ff.W1, gradPreAct)
	ff.W1.AccumulateGrad(gradW1)
	accumulateBiasGrad(ff.B1, gradPreAct)

	return gradIn
}

func (a *Attention) backward(gradOut *Tensor, ac *attentionCache) *Tensor {
	seqLen := ac.input.Shape[0]
	dModel := ac.input.Shape[1]
	scale := 1.0 / math.Sqrt(float64(a.HeadDim))

	// Output projection.
	gradContext, gradWO := MatMulBackward(ac.context, a.WO, gradOut)
	a.WO.AccumulateGrad(gradWO)
	accumulateBiasGrad(a.BO, gradOut)

	gradQ := NewTensor(seqLen, dModel)
	gradK := NewTensor(seqLen, dModel)
	gradV := NewTensor(seqLen, dModel)

	for h := 0; h < a.NumHeads; h++ {
		kh := sliceHead(ac.k, h, a.HeadDim)
		vh := sliceHead(ac.v, h, a.HeadDim)
		qh := sliceHead(ac.q, h, a.HeadDim)
		weights := ac.weights[h]
		gradCtxHead := sliceHead(gradContext, h, a.HeadDim)

		// context_h = weights @ V_h
		gradWeights, gradVh := MatMulBackward(weights, vh, gradCtxHead)

		// weights = softmax(scores); masked positions have weight 0 so
		// their score gradient vanishes.
		gradScores := SoftmaxBackward(weights, gradWeights)
		gradScores = Scale(gradScores, scale)

		// scores = Q_h @ K_h^T (pre-scale)
		gradQh, gradKhT := MatMulBackward(qh, Transpose(kh), gradScores)
		gradKh := Transpose(gradKhT)

		writeHead(gradQ, gradQh, h, a.HeadDim)
		writeHead(gradK, gradKh, h, a.HeadDim)
		writeHead(gradV, gradVh, h, a.HeadDim)
	}

	// The three projections share the same input; gradients add up.
	gradIn := NewTensor(seqLen, dModel)

	gradInQ, gradWQ := MatMulBackward(ac.input, a.WQ, gradQ)
	a.WQ.AccumulateGrad(gradWQ)
	accumulateBiasGrad(a.BQ, gradQ)
	gradIn = Add(gradIn, gradInQ)

	gradInK, gradWK := MatMulBackward(ac.input, a.WK, gradK)
	a.WK.AccumulateGrad(gradWK)
	accumulateBiasGrad(a.BK, gradK)
	gradIn = Add(gradIn, gradInK)

	gradInV, gradWV := MatMulBackward(ac.input, a.WV, gradV)
	a.WV.AccumulateGrad(gradWV)
	accumulateBiasGrad(a.BV, gradV)
	gradIn = Add(gradIn, gradInV)

	return gradIn
}

func writeHead(dst, src *Tensor, h, headDim int) {
	seqLen := dst.Shape[0]
	dModel := dst.Shape[1]
	for i := 0; i < seqLen; i++ {
		copy(dst.Data[i*dModel+h*headDim:i*dModel+(h+1)*headDim], src.Data[i*headDim:(i+1)*headDim])
	}
}

func accumulateBiasGrad(bias, gradOut *Tensor) {
	bias.EnsureGrad()
	cols := bias.Size()
	for i := range gradOut.Data {
		bias.Grad[i%cols] += gradOut.Data[i]
	}
}
