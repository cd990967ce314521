package ggmlfile

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

func fp16(b []byte) float32 {
	return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
}

func (bf blockFormat) scale(b []byte) float32 {
	if bf.halfScales {
		return fp16(b)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// nibbles returns the positions within a block of the two elements packed
// into byte j.
func (bf blockFormat) nibbles(j int) (lo, hi int) {
	if bf.interleaved {
		return 2 * j, 2*j + 1
	}
	return j, j + qk/2
}

// decode expands n encoded elements of type t, in rows of ne0, into float32.
func decode(bf blockFormat, t Type, raw []byte, ne0, n int) ([]float32, error) {
	size, err := bf.dataSize(t, ne0, n)
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, fmt.Errorf("%w: %v data is %d bytes, want %d", ErrCorrupt, t, len(raw), size)
	}

	out := make([]float32, n)
	_, bsize, _ := bf.layout(t)
	s := bf.scaleBytes()
	switch t {
	case TypeF32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case TypeF16:
		for i := range out {
			out[i] = fp16(raw[2*i:])
		}
	case TypeQ4_0:
		for b := 0; b < n/qk; b++ {
			blk := raw[b*bsize : (b+1)*bsize]
			d := bf.scale(blk)
			y := out[b*qk : (b+1)*qk]
			for j, q := range blk[s:] {
				lo, hi := bf.nibbles(j)
				y[lo] = float32(int(q&0x0F)-8) * d
				y[hi] = float32(int(q>>4)-8) * d
			}
		}
	case TypeQ4_1:
		for b := 0; b < n/qk; b++ {
			blk := raw[b*bsize : (b+1)*bsize]
			d, m := bf.scale(blk), bf.scale(blk[s:])
			y := out[b*qk : (b+1)*qk]
			for j, q := range blk[2*s:] {
				lo, hi := bf.nibbles(j)
				y[lo] = float32(q&0x0F)*d + m
				y[hi] = float32(q>>4)*d + m
			}
		}
	case TypeQ8_0:
		for b := 0; b < n/qk; b++ {
			blk := raw[b*bsize : (b+1)*bsize]
			d := bf.scale(blk)
			y := out[b*qk : (b+1)*qk]
			for j, q := range blk[s:] {
				y[j] = float32(int8(q)) * d
			}
		}
	}
	return out, nil
}

// encode stores values as F32 or F16.
func encode(t Type, values []float32) ([]byte, error) {
	switch t {
	case TypeF32:
		out := make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out, nil
	case TypeF16:
		out := make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(v).Bits())
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: cannot encode %v", ErrUnsupportedTensorType, t)
}
