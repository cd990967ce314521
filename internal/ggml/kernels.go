package ggml

import (
	"math"
)

// task returns the number of independent work units of node t and the
// function computing units [lo, hi). Units are rows for row-wise operators
// and output elements for mul_mat and cpy.
func (ctx *Context) task(t Tensor) (int, func(lo, hi int)) {
	dst := ctx.node(t)
	var a, b *node
	if dst.src[0] != noTensor {
		a = ctx.node(dst.src[0])
	}
	if dst.src[1] != noTensor {
		b = ctx.node(dst.src[1])
	}
	switch dst.op {
	case OpGetRows:
		return len(dst.rows), func(lo, hi int) { getRows(dst, a, lo, hi) }
	case OpAdd:
		return dst.shape.Rows(), func(lo, hi int) { binaryRows(dst, a, b, lo, hi, addOp) }
	case OpMul:
		return dst.shape.Rows(), func(lo, hi int) { binaryRows(dst, a, b, lo, hi, mulOp) }
	case OpRepeat:
		return dst.shape.Rows(), func(lo, hi int) { repeatRows(dst, a, lo, hi) }
	case OpNorm:
		return dst.shape.Rows(), func(lo, hi int) { normRows(dst, a, lo, hi) }
	case OpMulMat:
		return dst.shape.Elements(), func(lo, hi int) { mulMat(dst, a, b, lo, hi) }
	case OpScale:
		return dst.shape.Rows(), func(lo, hi int) { scaleRows(dst, a, lo, hi) }
	case OpCpy:
		return dst.shape.Elements(), func(lo, hi int) { cpyElements(dst, a, lo, hi) }
	case OpRope:
		return dst.shape.Rows(), func(lo, hi int) { ropeRows(dst, a, lo, hi) }
	case OpDiagMaskInf:
		return dst.shape.Rows(), func(lo, hi int) { diagMaskInfRows(dst, a, lo, hi) }
	case OpSoftMax:
		return dst.shape.Rows(), func(lo, hi int) { softMaxRows(dst, a, lo, hi) }
	case OpGELU:
		return dst.shape.Rows(), func(lo, hi int) { geluRows(dst, a, lo, hi) }
	}
	return 0, nil
}

func getRows(dst, a *node, lo, hi int) {
	for r := lo; r < hi; r++ {
		src := int(dst.rows[r])
		for i0 := 0; i0 < dst.shape[0]; i0++ {
			dst.data[dst.at(i0, r, 0, 0)] = a.data[a.at(i0, src, 0, 0)]
		}
	}
}

func addOp(x, y float32) float32 { return x + y }
func mulOp(x, y float32) float32 { return x * y }

func binaryRows(dst, a, b *node, lo, hi int, f func(x, y float32) float32) {
	for r := lo; r < hi; r++ {
		i1, i2, i3 := dst.shape.unravelRow(r)
		for i0 := 0; i0 < dst.shape[0]; i0++ {
			dst.data[dst.at(i0, i1, i2, i3)] = f(a.data[a.at(i0, i1, i2, i3)], b.data[b.at(i0, i1, i2, i3)])
		}
	}
}

func repeatRows(dst, a *node, lo, hi int) {
	for r := lo; r < hi; r++ {
		i1, i2, i3 := dst.shape.unravelRow(r)
		j1, j2, j3 := i1%a.shape[1], i2%a.shape[2], i3%a.shape[3]
		for i0 := 0; i0 < dst.shape[0]; i0++ {
			dst.data[dst.at(i0, i1, i2, i3)] = a.data[a.at(i0%a.shape[0], j1, j2, j3)]
		}
	}
}

func normRows(dst, a *node, lo, hi int) {
	ne0 := dst.shape[0]
	for r := lo; r < hi; r++ {
		i1, i2, i3 := dst.shape.unravelRow(r)
		var sum float64
		for i0 := range ne0 {
			sum += float64(a.data[a.at(i0, i1, i2, i3)])
		}
		mean := float32(sum / float64(ne0))
		var sum2 float64
		for i0 := range ne0 {
			v := a.data[a.at(i0, i1, i2, i3)] - mean
			dst.data[dst.at(i0, i1, i2, i3)] = v
			sum2 += float64(v * v)
		}
		scale := float32(1 / math.Sqrt(sum2/float64(ne0)+float64(dst.fp)))
		for i0 := range ne0 {
			dst.data[dst.at(i0, i1, i2, i3)] *= scale
		}
	}
}

func mulMat(dst, a, b *node, lo, hi int) {
	k := a.shape[0]
	for e := lo; e < hi; e++ {
		i0, i1, i2, i3 := dst.shape.unravel(e)
		dst.data[dst.at(i0, i1, i2, i3)] = dot(
			a.data, a.at(0, i0, i2, i3), a.nb[0],
			b.data, b.at(0, i1, i2, i3), b.nb[0],
			k,
		)
	}
}

// dot accumulates in float64 in index order. The contiguous branch performs
// the same sequence of operations as the strided one.
func dot(x []float32, xo, xs int, y []float32, yo, ys int, n int) float32 {
	var sum float64
	if xs == 1 && ys == 1 {
		xv := x[xo : xo+n]
		yv := y[yo : yo+n]
		for i, v := range xv {
			sum += float64(v * yv[i])
		}
		return float32(sum)
	}
	for i := range n {
		sum += float64(x[xo+i*xs] * y[yo+i*ys])
	}
	return float32(sum)
}

func scaleRows(dst, a *node, lo, hi int) {
	for r := lo; r < hi; r++ {
		i1, i2, i3 := dst.shape.unravelRow(r)
		for i0 := 0; i0 < dst.shape[0]; i0++ {
			dst.data[dst.at(i0, i1, i2, i3)] = a.data[a.at(i0, i1, i2, i3)] * dst.fp
		}
	}
}

func cpyElements(dst, a *node, lo, hi int) {
	for e := lo; e < hi; e++ {
		s0, s1, s2, s3 := a.shape.unravel(e)
		d0, d1, d2, d3 := dst.shape.unravel(e)
		dst.data[dst.at(d0, d1, d2, d3)] = a.data[a.at(s0, s1, s2, s3)]
	}
}

const ropeBase = 10000.0

func ropeRows(dst, a *node, lo, hi int) {
	nPast, nDims := dst.ip[0], dst.ip[1]
	for r := lo; r < hi; r++ {
		i1, i2, i3 := dst.shape.unravelRow(r)
		p := float64(nPast + i2)
		for i0 := 0; i0 < nDims; i0 += 2 {
			theta := p * math.Pow(ropeBase, -float64(i0)/float64(nDims))
			cos, sin := float32(math.Cos(theta)), float32(math.Sin(theta))
			x0 := a.data[a.at(i0, i1, i2, i3)]
			x1 := a.data[a.at(i0+1, i1, i2, i3)]
			dst.data[dst.at(i0, i1, i2, i3)] = x0*cos - x1*sin
			dst.data[dst.at(i0+1, i1, i2, i3)] = x0*sin + x1*cos
		}
		for i0 := nDims; i0 < dst.shape[0]; i0++ {
			dst.data[dst.at(i0, i1, i2, i3)] = a.data[a.at(i0, i1, i2, i3)]
		}
	}
}

func diagMaskInfRows(dst, a *node, lo, hi int) {
	nPast := dst.ip[0]
	negInf := float32(math.Inf(-1))
	for r := lo; r < hi; r++ {
		i1, i2, i3 := dst.shape.unravelRow(r)
		for i0 := 0; i0 < dst.shape[0]; i0++ {
			v := a.data[a.at(i0, i1, i2, i3)]
			if i0 > nPast+i1 {
				v = negInf
			}
			dst.data[dst.at(i0, i1, i2, i3)] = v
		}
	}
}

func softMaxRows(dst, a *node, lo, hi int) {
	ne0 := dst.shape[0]
	for r := lo; r < hi; r++ {
		i1, i2, i3 := dst.shape.unravelRow(r)
		maxV := float32(math.Inf(-1))
		for i0 := range ne0 {
			maxV = max(maxV, a.data[a.at(i0, i1, i2, i3)])
		}
		if math.IsInf(float64(maxV), -1) {
			for i0 := range ne0 {
				dst.data[dst.at(i0, i1, i2, i3)] = 0
			}
			continue
		}
		var sum float64
		for i0 := range ne0 {
			v := a.data[a.at(i0, i1, i2, i3)]
			var e float32
			if !math.IsInf(float64(v), -1) {
				e = float32(math.Exp(float64(v - maxV)))
			}
			dst.data[dst.at(i0, i1, i2, i3)] = e
			sum += float64(e)
		}
		inv := float32(1 / sum)
		for i0 := range ne0 {
			dst.data[dst.at(i0, i1, i2, i3)] *= inv
		}
	}
}

const (
	geluCoefA   = 0.044715
	sqrt2OverPi = 0.79788456080286535587989211986876
)

func gelu(x float32) float32 {
	v := float64(x)
	return float32(0.5 * v * (1 + math.Tanh(sqrt2OverPi*v*(1+geluCoefA*v*v))))
}

func geluRows(dst, a *node, lo, hi int) {
	for r := lo; r < hi; r++ {
		i1, i2, i3 := dst.shape.unravelRow(r)
		for i0 := 0; i0 < dst.shape[0]; i0++ {
			dst.data[dst.at(i0, i1, i2, i3)] = gelu(a.data[a.at(i0, i1, i2, i3)])
		}
	}
}
