package gptj

import (
	"math"

	"github.com/samcharles93/gptj/internal/ggml"
	"github.com/samcharles93/gptj/internal/kvcache"
)

// buildGraph appends one forward step over tokens to ctx and returns the
// logits [n_vocab, n] and the final hidden states [n_embd, n].
//
// The cache writes of each layer are expanded into gf as soon as they are
// created. Reads of the cache are views of the cache buffers rather than of
// the write nodes, so this ordering is what makes the reads observe the keys
// and values of the current batch.
func (m *Model) buildGraph(ctx *ggml.Context, gf *ggml.Graph, cache *kvcache.Cache, nPast int, tokens []TokenID) (logits, embd ggml.Tensor) {
	hp := m.hp
	w := m.weights
	n := len(tokens)
	nEmbd, nHead, headDim := hp.NEmbd, hp.NHead, hp.HeadDim()
	total := nPast + n
	kqScale := float32(1 / math.Sqrt(float64(headDim)))

	inpL := ctx.GetRows(ctx.Constant(w.wte), tokens)

	for il := range w.layers {
		l := &w.layers[il]

		cur := affine(ctx, ctx.Norm(inpL), l.normW, l.normB)
		inpSA := cur

		qcur := ctx.Rope(ctx.Reshape3D(ctx.MulMat(ctx.Constant(l.qProj), cur), headDim, nHead, n), nPast, hp.NRot)
		kcur := ctx.Rope(ctx.Reshape3D(ctx.MulMat(ctx.Constant(l.kProj), cur), headDim, nHead, n), nPast, hp.NRot)
		vcur := ctx.Transpose(ctx.MulMat(ctx.Constant(l.vProj), cur))

		gf.Expand(ctx.Cpy(kcur, cache.KeyWrite(ctx, il, nPast, n)))
		gf.Expand(ctx.Cpy(vcur, cache.ValueWrite(ctx, il, nPast, n)))

		// [head_dim, n, n_head] against [head_dim, total, n_head]
		q := ctx.Permute(qcur, 0, 2, 1, 3)
		k := ctx.Permute(cache.Keys(ctx, il, total, headDim, nHead), 0, 2, 1, 3)

		kq := ctx.MulMat(k, q)
		kq = ctx.Scale(kq, kqScale)
		kq = ctx.DiagMaskInf(kq, nPast)
		kq = ctx.SoftMax(kq)

		v := cache.Values(ctx, il, total, headDim, nHead)
		kqv := ctx.MulMat(v, kq)
		merged := ctx.Cpy(ctx.Permute(kqv, 0, 2, 1, 3), ctx.NewTensor(nEmbd, n))
		attn := ctx.MulMat(ctx.Constant(l.outProj), merged)

		// The feed-forward branch reads the normalised layer input, not the
		// attention output.
		ff := linear(ctx, inpSA, l.fcInW, l.fcInB)
		ff = ctx.GELU(ff)
		ff = linear(ctx, ff, l.fcOutW, l.fcOutB)

		cur = ctx.Add(ff, attn)
		inpL = ctx.Add(cur, inpL)
	}

	embd = affine(ctx, ctx.Norm(inpL), w.normFW, w.normFB)
	logits = linear(ctx, embd, w.lmHeadW, w.lmHeadB)
	return logits, embd
}

// affine computes x*g + b with g and b broadcast over the rows of x.
func affine(ctx *ggml.Context, x ggml.Tensor, g, b *ggml.Constant) ggml.Tensor {
	scaled := ctx.Mul(ctx.Repeat(ctx.Constant(g), x), x)
	return ctx.Add(scaled, ctx.Repeat(ctx.Constant(b), x))
}

// linear computes w·x + b.
func linear(ctx *ggml.Context, x ggml.Tensor, w, b *ggml.Constant) ggml.Tensor {
	y := ctx.MulMat(ctx.Constant(w), x)
	return ctx.Add(ctx.Repeat(ctx.Constant(b), y), y)
}
