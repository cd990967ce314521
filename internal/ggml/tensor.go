package ggml

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// MaxDims is the highest tensor rank the engine supports.
const MaxDims = 4

var (
	ErrTensorNotFound = errors.New("tensor not found")
	ErrTensorShape    = errors.New("tensor shape mismatch")
)

// Shape holds tensor extents in ggml order: Shape[0] varies fastest.
// Unused trailing dimensions are 1.
type Shape [MaxDims]int

// ShapeOf builds a Shape from up to MaxDims extents.
func ShapeOf(ne ...int) Shape {
	if len(ne) == 0 || len(ne) > MaxDims {
		panic(shapeError(fmt.Sprintf("ggml: invalid rank %d", len(ne))))
	}
	s := Shape{1, 1, 1, 1}
	for i, n := range ne {
		if n < 0 {
			panic(shapeError(fmt.Sprintf("ggml: negative extent %d in dim %d", n, i)))
		}
		s[i] = n
	}
	return s
}

func (s Shape) Elements() int {
	return s[0] * s[1] * s[2] * s[3]
}

// Rows is the number of ne[0]-length rows.
func (s Shape) Rows() int {
	return s[1] * s[2] * s[3]
}

func (s Shape) Dims() int {
	n := MaxDims
	for n > 1 && s[n-1] == 1 {
		n--
	}
	return n
}

func (s Shape) String() string {
	parts := make([]string, s.Dims())
	for i := range parts {
		parts[i] = fmt.Sprint(s[i])
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (s Shape) unravel(k int) (i0, i1, i2, i3 int) {
	i0 = k % s[0]
	k /= s[0]
	i1 = k % s[1]
	k /= s[1]
	i2 = k % s[2]
	i3 = k / s[2]
	return
}

func (s Shape) unravelRow(r int) (i1, i2, i3 int) {
	i1 = r % s[1]
	r /= s[1]
	i2 = r % s[2]
	i3 = r / s[2]
	return
}

func contiguousStrides(s Shape) [MaxDims]int {
	var nb [MaxDims]int
	nb[0] = 1
	for i := 1; i < MaxDims; i++ {
		nb[i] = nb[i-1] * s[i-1]
	}
	return nb
}

// Constant is a persistent tensor that can only be read. Graphs reference it
// by pointer, so one Constant may back any number of concurrent contexts.
type Constant struct {
	shape Shape
	data  []float32
}

// NewConstant takes ownership of data, which must hold exactly the number of
// elements described by ne.
func NewConstant(data []float32, ne ...int) *Constant {
	shape := ShapeOf(ne...)
	if shape.Elements() != len(data) {
		panic(shapeError(fmt.Sprintf("ggml: constant %v needs %d elements, got %d", shape, shape.Elements(), len(data))))
	}
	return &Constant{shape: shape, data: data}
}

func (c *Constant) Shape() Shape { return c.shape }
func (c *Constant) Len() int     { return len(c.data) }

// Floats returns a copy of the contents.
func (c *Constant) Floats() []float32 {
	return slices.Clone(c.data)
}

// Buffer is a persistent tensor that graphs may write into through Cpy.
type Buffer struct {
	shape Shape
	data  []float32
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(ne ...int) *Buffer {
	shape := ShapeOf(ne...)
	return &Buffer{shape: shape, data: make([]float32, shape.Elements())}
}

func (b *Buffer) Shape() Shape { return b.shape }
func (b *Buffer) Len() int     { return len(b.data) }

// Bytes reports the buffer size in bytes.
func (b *Buffer) Bytes() int { return 4 * len(b.data) }

// Floats returns a copy of the contents.
func (b *Buffer) Floats() []float32 {
	return slices.Clone(b.data)
}

func (b *Buffer) Zero() {
	clear(b.data)
}

// ConstantMap is an in-memory tensor source keyed by name.
type ConstantMap map[string]*Constant

// Load returns the named constant after checking it has extents ne.
func (m ConstantMap) Load(name string, ne ...int) (*Constant, error) {
	c, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if want := ShapeOf(ne...); c.shape != want {
		return nil, fmt.Errorf("%w: %s is %v, want %v", ErrTensorShape, name, c.shape, want)
	}
	return c, nil
}

type shapeError string

func (e shapeError) Error() string { return string(e) }
