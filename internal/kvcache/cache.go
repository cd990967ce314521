// Package kvcache holds the per-session key and value memory of a causal
// transformer and computes where each (layer, position) lives in it.
package kvcache

import (
	"errors"
	"fmt"

	"github.com/samcharles93/gptj/internal/ggml"
)

var ErrContextWindowExceeded = errors.New("context window exceeded")

// WindowError reports a batch that does not fit in the remaining context.
type WindowError struct {
	NPast int
	N     int
	NCtx  int
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("%v: n_past %d + n %d > n_ctx %d", ErrContextWindowExceeded, e.NPast, e.N, e.NCtx)
}

func (e *WindowError) Unwrap() error {
	return ErrContextWindowExceeded
}

// Cache stores keys and values for n_layer layers of n_ctx positions.
//
// Keys are position-major: element e of position p in layer l sits at
// l*n_ctx*n_embd + p*n_embd + e. Values are stored transposed, with position
// as the fast dimension: l*n_ctx*n_embd + e*n_ctx + p. The value range of a
// layer can then be read as a strided [positions, head_dim, n_head] operand.
//
// A Cache is owned by one session and is not safe for concurrent use.
type Cache struct {
	nLayer int
	nCtx   int
	nEmbd  int
	keys   *ggml.Buffer
	values *ggml.Buffer
}

// New allocates a zeroed cache. The capacity is fixed for its lifetime.
func New(nLayer, nCtx, nEmbd int) *Cache {
	size := nLayer * nCtx * nEmbd
	return &Cache{
		nLayer: nLayer,
		nCtx:   nCtx,
		nEmbd:  nEmbd,
		keys:   ggml.NewBuffer(size),
		values: ggml.NewBuffer(size),
	}
}

func (c *Cache) Layers() int   { return c.nLayer }
func (c *Cache) Capacity() int { return c.nCtx }
func (c *Cache) Embd() int     { return c.nEmbd }

// Bytes reports the memory held by keys and values together.
func (c *Cache) Bytes() int {
	return c.keys.Bytes() + c.values.Bytes()
}

// CheckBounds reports whether n tokens can be appended after nPast.
func (c *Cache) CheckBounds(nPast, n int) error {
	if nPast < 0 || n < 0 || nPast+n > c.nCtx {
		return &WindowError{NPast: nPast, N: n, NCtx: c.nCtx}
	}
	return nil
}

func (c *Cache) layerBase(layer int) int {
	return layer * c.nCtx * c.nEmbd
}

// KeyOffset is the element offset of position pos of layer in the key buffer.
func (c *Cache) KeyOffset(layer, pos int) int {
	return c.layerBase(layer) + pos*c.nEmbd
}

// ValueOffset is the element offset of position pos, embedding element 0, of
// layer in the value buffer.
func (c *Cache) ValueOffset(layer, pos int) int {
	return c.layerBase(layer) + pos
}

// KeyWrite returns the contiguous [n*n_embd] region that receives the keys of
// positions [nPast, nPast+n).
func (c *Cache) KeyWrite(ctx *ggml.Context, layer, nPast, n int) ggml.Tensor {
	return ctx.View1D(ctx.Buffer(c.keys), n*c.nEmbd, c.KeyOffset(layer, nPast))
}

// ValueWrite returns the [n, n_embd] region, rows n_ctx apart, that receives
// the transposed values of positions [nPast, nPast+n).
func (c *Cache) ValueWrite(ctx *ggml.Context, layer, nPast, n int) ggml.Tensor {
	return ctx.View2D(ctx.Buffer(c.values), n, c.nEmbd, c.nCtx, c.ValueOffset(layer, nPast))
}

// Keys returns the keys of positions [0, length) as [head_dim, n_head, length].
func (c *Cache) Keys(ctx *ggml.Context, layer, length, headDim, nHead int) ggml.Tensor {
	all := ctx.View1D(ctx.Buffer(c.keys), length*c.nEmbd, c.KeyOffset(layer, 0))
	return ctx.Reshape3D(all, headDim, nHead, length)
}

// Values returns the values of positions [0, length) as
// [length, head_dim, n_head].
func (c *Cache) Values(ctx *ggml.Context, layer, length, headDim, nHead int) ggml.Tensor {
	return ctx.View3D(ctx.Buffer(c.values), length, headDim, nHead, c.nCtx, c.nCtx*headDim, c.ValueOffset(layer, 0))
}

// Reset zeroes both buffers.
func (c *Cache) Reset() {
	c.keys.Zero()
	c.values.Zero()
}

// Snapshot copies the current key and value contents.
func (c *Cache) Snapshot() (keys, values []float32) {
	return c.keys.Floats(), c.values.Floats()
}
