package ggml

import (
	"fmt"
)

// Op identifies the operation that produces a node.
type Op uint8

const (
	OpNone Op = iota
	OpView
	OpGetRows
	OpAdd
	OpMul
	OpRepeat
	OpNorm
	OpMulMat
	OpScale
	OpCpy
	OpRope
	OpDiagMaskInf
	OpSoftMax
	OpGELU
)

var opNames = [...]string{
	OpNone:        "none",
	OpView:        "view",
	OpGetRows:     "get_rows",
	OpAdd:         "add",
	OpMul:         "mul",
	OpRepeat:      "repeat",
	OpNorm:        "norm",
	OpMulMat:      "mul_mat",
	OpScale:       "scale",
	OpCpy:         "cpy",
	OpRope:        "rope",
	OpDiagMaskInf: "diag_mask_inf",
	OpSoftMax:     "soft_max",
	OpGELU:        "gelu",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

// normEps matches the layer_norm_epsilon used by GPT-J checkpoints.
const normEps = 1e-5

// Tensor is the index of a node inside the Context that created it. It is
// meaningless in any other context.
type Tensor int32

const noTensor Tensor = -1

type node struct {
	op       Op
	shape    Shape
	nb       [MaxDims]int
	data     []float32
	offset   int
	src      [2]Tensor
	ip       [2]int
	fp       float32
	rows     []int32
	readOnly bool
}

func (n *node) at(i0, i1, i2, i3 int) int {
	return n.offset + i0*n.nb[0] + i1*n.nb[1] + i2*n.nb[2] + i3*n.nb[3]
}

func (n *node) contiguous() bool {
	return n.nb == contiguousStrides(n.shape)
}

// Context owns every node of one graph together with the scratch memory the
// nodes compute into. It is not safe for concurrent use.
type Context struct {
	nodes  []node
	leaves map[any]Tensor
	arena  arena
}

// NewContext creates a context. sizeHint is the expected scratch size in bytes
// and only affects the first arena chunk.
func NewContext(sizeHint int) *Context {
	return &Context{
		nodes:  make([]node, 0, 256),
		leaves: make(map[any]Tensor),
		arena:  arena{hint: sizeHint / 4},
	}
}

// Release drops all nodes and scratch memory. The context must not be used
// afterwards.
func (ctx *Context) Release() {
	ctx.nodes = nil
	ctx.leaves = nil
	ctx.arena = arena{}
}

// Used reports the scratch bytes allocated so far.
func (ctx *Context) Used() int { return ctx.arena.used * 4 }

// Len reports the number of nodes, leaves included.
func (ctx *Context) Len() int { return len(ctx.nodes) }

func (ctx *Context) node(t Tensor) *node {
	if t < 0 || int(t) >= len(ctx.nodes) {
		panic(shapeError(fmt.Sprintf("ggml: tensor %d does not belong to this context", t)))
	}
	return &ctx.nodes[t]
}

func (ctx *Context) push(n node) Tensor {
	ctx.nodes = append(ctx.nodes, n)
	return Tensor(len(ctx.nodes) - 1)
}

func (ctx *Context) newResult(op Op, shape Shape, a, b Tensor) node {
	return node{
		op:    op,
		shape: shape,
		nb:    contiguousStrides(shape),
		data:  ctx.arena.alloc(shape.Elements()),
		src:   [2]Tensor{a, b},
	}
}

func (ctx *Context) Shape(t Tensor) Shape { return ctx.node(t).shape }

func (ctx *Context) Op(t Tensor) Op { return ctx.node(t).op }

func (ctx *Context) IsContiguous(t Tensor) bool { return ctx.node(t).contiguous() }

// NewTensor allocates a zeroed contiguous tensor from the arena.
func (ctx *Context) NewTensor(ne ...int) Tensor {
	return ctx.push(ctx.newResult(OpNone, ShapeOf(ne...), noTensor, noTensor))
}

// Constant returns the leaf that reads c. Repeated calls return the same leaf.
func (ctx *Context) Constant(c *Constant) Tensor {
	if t, ok := ctx.leaves[c]; ok {
		return t
	}
	t := ctx.push(node{
		op:       OpNone,
		shape:    c.shape,
		nb:       contiguousStrides(c.shape),
		data:     c.data,
		src:      [2]Tensor{noTensor, noTensor},
		readOnly: true,
	})
	ctx.leaves[c] = t
	return t
}

// Buffer returns the leaf that reads and writes b.
func (ctx *Context) Buffer(b *Buffer) Tensor {
	if t, ok := ctx.leaves[b]; ok {
		return t
	}
	t := ctx.push(node{
		op:    OpNone,
		shape: b.shape,
		nb:    contiguousStrides(b.shape),
		data:  b.data,
		src:   [2]Tensor{noTensor, noTensor},
	})
	ctx.leaves[b] = t
	return t
}

func (ctx *Context) view(a Tensor, shape Shape, nb [MaxDims]int, offset int) Tensor {
	p := ctx.node(a)
	n := node{
		op:       OpView,
		shape:    shape,
		nb:       nb,
		data:     p.data,
		offset:   p.offset + offset,
		src:      [2]Tensor{a, noTensor},
		readOnly: p.readOnly,
	}
	if shape.Elements() > 0 {
		last := n.at(shape[0]-1, shape[1]-1, shape[2]-1, shape[3]-1)
		if n.offset < 0 || last >= len(n.data) {
			panic(shapeError(fmt.Sprintf("ggml: view %v at offset %d exceeds storage of %d elements", shape, offset, len(n.data))))
		}
	}
	return ctx.push(n)
}

// View1D is a contiguous view of ne0 elements starting offset elements into a.
func (ctx *Context) View1D(a Tensor, ne0, offset int) Tensor {
	shape := ShapeOf(ne0)
	return ctx.view(a, shape, contiguousStrides(shape), offset)
}

// View2D is a view of ne1 rows of ne0 elements, rows nb1 elements apart.
func (ctx *Context) View2D(a Tensor, ne0, ne1, nb1, offset int) Tensor {
	shape := ShapeOf(ne0, ne1)
	nb := [MaxDims]int{1, nb1, nb1 * ne1, nb1 * ne1}
	return ctx.view(a, shape, nb, offset)
}

// View3D is a strided view with element strides nb1 and nb2.
func (ctx *Context) View3D(a Tensor, ne0, ne1, ne2, nb1, nb2, offset int) Tensor {
	shape := ShapeOf(ne0, ne1, ne2)
	nb := [MaxDims]int{1, nb1, nb2, nb2 * ne2}
	return ctx.view(a, shape, nb, offset)
}

func (ctx *Context) reshape(a Tensor, shape Shape) Tensor {
	p := ctx.node(a)
	if !p.contiguous() {
		panic(shapeError(fmt.Sprintf("ggml: reshape of non-contiguous tensor %v", p.shape)))
	}
	if p.shape.Elements() != shape.Elements() {
		panic(shapeError(fmt.Sprintf("ggml: cannot reshape %v to %v", p.shape, shape)))
	}
	return ctx.view(a, shape, contiguousStrides(shape), 0)
}

func (ctx *Context) Reshape2D(a Tensor, ne0, ne1 int) Tensor {
	return ctx.reshape(a, ShapeOf(ne0, ne1))
}

func (ctx *Context) Reshape3D(a Tensor, ne0, ne1, ne2 int) Tensor {
	return ctx.reshape(a, ShapeOf(ne0, ne1, ne2))
}

// Permute moves source dimension i to position axes[i].
func (ctx *Context) Permute(a Tensor, ax0, ax1, ax2, ax3 int) Tensor {
	p := ctx.node(a)
	axes := [MaxDims]int{ax0, ax1, ax2, ax3}
	var seen [MaxDims]bool
	var shape Shape
	var nb [MaxDims]int
	for i, ax := range axes {
		if ax < 0 || ax >= MaxDims || seen[ax] {
			panic(shapeError(fmt.Sprintf("ggml: invalid permutation %v", axes)))
		}
		seen[ax] = true
		shape[ax] = p.shape[i]
		nb[ax] = p.nb[i]
	}
	n := node{
		op:       OpView,
		shape:    shape,
		nb:       nb,
		data:     p.data,
		offset:   p.offset,
		src:      [2]Tensor{a, noTensor},
		readOnly: p.readOnly,
	}
	return ctx.push(n)
}

// Transpose swaps the first two dimensions.
func (ctx *Context) Transpose(a Tensor) Tensor {
	return ctx.Permute(a, 1, 0, 2, 3)
}

// GetRows gathers rows of the 2D tensor a. The result is [ne0(a), len(rows)].
func (ctx *Context) GetRows(a Tensor, rows []int32) Tensor {
	p := ctx.node(a)
	if p.shape[2] != 1 || p.shape[3] != 1 {
		panic(shapeError(fmt.Sprintf("ggml: get_rows needs a 2D source, got %v", p.shape)))
	}
	for _, r := range rows {
		if r < 0 || int(r) >= p.shape[1] {
			panic(shapeError(fmt.Sprintf("ggml: get_rows index %d outside %v", r, p.shape)))
		}
	}
	n := ctx.newResult(OpGetRows, ShapeOf(p.shape[0], len(rows)), a, noTensor)
	n.rows = append([]int32(nil), rows...)
	return ctx.push(n)
}

func (ctx *Context) binary(op Op, a, b Tensor) Tensor {
	pa, pb := ctx.node(a), ctx.node(b)
	if pa.shape != pb.shape {
		panic(shapeError(fmt.Sprintf("ggml: %s shape mismatch %v vs %v", op, pa.shape, pb.shape)))
	}
	return ctx.push(ctx.newResult(op, pa.shape, a, b))
}

func (ctx *Context) Add(a, b Tensor) Tensor { return ctx.binary(OpAdd, a, b) }

func (ctx *Context) Mul(a, b Tensor) Tensor { return ctx.binary(OpMul, a, b) }

// Repeat tiles a to the shape of like.
func (ctx *Context) Repeat(a, like Tensor) Tensor {
	pa, pl := ctx.node(a), ctx.node(like)
	for i := range MaxDims {
		if pa.shape[i] == 0 || pl.shape[i]%pa.shape[i] != 0 {
			panic(shapeError(fmt.Sprintf("ggml: cannot repeat %v to %v", pa.shape, pl.shape)))
		}
	}
	return ctx.push(ctx.newResult(OpRepeat, pl.shape, a, noTensor))
}

// Norm normalises every row of a to zero mean and unit variance.
func (ctx *Context) Norm(a Tensor) Tensor {
	p := ctx.node(a)
	n := ctx.newResult(OpNorm, p.shape, a, noTensor)
	n.fp = normEps
	return ctx.push(n)
}

// MulMat computes result[i, j] = dot(row i of a, row j of b) for every
// batch in dimensions 2 and 3. a is [K, M, B...], b is [K, N, B...] and the
// result is [M, N, B...].
func (ctx *Context) MulMat(a, b Tensor) Tensor {
	pa, pb := ctx.node(a), ctx.node(b)
	if pa.shape[0] != pb.shape[0] || pa.shape[2] != pb.shape[2] || pa.shape[3] != pb.shape[3] {
		panic(shapeError(fmt.Sprintf("ggml: mul_mat shape mismatch %v x %v", pa.shape, pb.shape)))
	}
	shape := Shape{pa.shape[1], pb.shape[1], pb.shape[2], pb.shape[3]}
	return ctx.push(ctx.newResult(OpMulMat, shape, a, b))
}

func (ctx *Context) Scale(a Tensor, s float32) Tensor {
	p := ctx.node(a)
	n := ctx.newResult(OpScale, p.shape, a, noTensor)
	n.fp = s
	return ctx.push(n)
}

// Cpy copies a into b element by element in logical order and returns a
// tensor aliasing b. The element counts must match; the shapes need not.
func (ctx *Context) Cpy(a, b Tensor) Tensor {
	pa, pb := ctx.node(a), ctx.node(b)
	if pa.shape.Elements() != pb.shape.Elements() {
		panic(shapeError(fmt.Sprintf("ggml: cpy element mismatch %v -> %v", pa.shape, pb.shape)))
	}
	if pb.readOnly {
		panic(shapeError("ggml: cpy into read-only tensor"))
	}
	n := node{
		op:     OpCpy,
		shape:  pb.shape,
		nb:     pb.nb,
		data:   pb.data,
		offset: pb.offset,
		src:    [2]Tensor{a, b},
	}
	return ctx.push(n)
}

// Rope rotates adjacent pairs of the first nDims elements of every row of a.
// a is [head_dim, n_head, n_tokens]; token i sits at position nPast+i.
func (ctx *Context) Rope(a Tensor, nPast, nDims int) Tensor {
	p := ctx.node(a)
	if nDims < 0 || nDims%2 != 0 || nDims > p.shape[0] || nPast < 0 {
		panic(shapeError(fmt.Sprintf("ggml: rope n_dims=%d n_past=%d on %v", nDims, nPast, p.shape)))
	}
	n := ctx.newResult(OpRope, p.shape, a, noTensor)
	n.ip = [2]int{nPast, nDims}
	return ctx.push(n)
}

// DiagMaskInf sets element (i0, i1) to -Inf when i0 > nPast+i1.
func (ctx *Context) DiagMaskInf(a Tensor, nPast int) Tensor {
	p := ctx.node(a)
	n := ctx.newResult(OpDiagMaskInf, p.shape, a, noTensor)
	n.ip[0] = nPast
	return ctx.push(n)
}

// SoftMax normalises every row of a. -Inf inputs become exact zeros.
func (ctx *Context) SoftMax(a Tensor) Tensor {
	p := ctx.node(a)
	return ctx.push(ctx.newResult(OpSoftMax, p.shape, a, noTensor))
}

// GELU applies the tanh approximation of the Gaussian error linear unit.
func (ctx *Context) GELU(a Tensor) Tensor {
	p := ctx.node(a)
	return ctx.push(ctx.newResult(OpGELU, p.shape, a, noTensor))
}

// Floats returns the logical contents of t in row-major order.
func (ctx *Context) Floats(t Tensor) []float32 {
	n := ctx.node(t)
	out := make([]float32, n.shape.Elements())
	for k := range out {
		i0, i1, i2, i3 := n.shape.unravel(k)
		out[k] = n.data[n.at(i0, i1, i2, i3)]
	}
	return out
}

// Row returns a copy of row i1 of a 2D tensor.
func (ctx *Context) Row(t Tensor, i1 int) []float32 {
	n := ctx.node(t)
	if i1 < 0 || i1 >= n.shape[1] {
		panic(shapeError(fmt.Sprintf("ggml: row %d outside %v", i1, n.shape)))
	}
	out := make([]float32, n.shape[0])
	for i0 := range out {
		out[i0] = n.data[n.at(i0, i1, 0, 0)]
	}
	return out
}

const minChunk = 1 << 16

// arena hands out zeroed float32 slices carved from large chunks.
type arena struct {
	hint  int
	chunk []float32
	off   int
	used  int
}

func (a *arena) alloc(n int) []float32 {
	if n > len(a.chunk)-a.off {
		size := max(n, minChunk)
		if a.chunk == nil && a.hint > size {
			size = a.hint
		}
		a.chunk = make([]float32, size)
		a.off = 0
	}
	s := a.chunk[a.off : a.off+n : a.off+n]
	a.off += n
	a.used += n
	return s
}
