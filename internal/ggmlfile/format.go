// Package ggmlfile reads and writes the legacy ggml model containers
// (unversioned "ggml", "ggmf" and "ggjt").
package ggmlfile

import (
	"errors"
	"fmt"
)

// Magic is the first u32 of a container.
type Magic uint32

const (
	MagicGGML Magic = 0x67676d6c
	MagicGGMF Magic = 0x67676d66
	MagicGGJT Magic = 0x67676a74
)

func (m Magic) String() string {
	switch m {
	case MagicGGML:
		return "ggml"
	case MagicGGMF:
		return "ggmf"
	case MagicGGJT:
		return "ggjt"
	}
	return fmt.Sprintf("magic(%#08x)", uint32(m))
}

// hasScores reports whether vocabulary entries carry an f32 score.
func (m Magic) hasScores() bool { return m != MagicGGML }

// aligned reports whether tensor data starts on an alignment boundary.
func (m Magic) aligned() bool { return m == MagicGGJT }

const (
	ggmfVersion    = 1
	ggjtMinVersion = 1
	ggjtMaxVersion = 3

	// WriteVersion is the ggjt version produced by Writer.
	WriteVersion = 3

	alignment = 32
)

// Type is the element encoding of one tensor.
type Type int32

const (
	TypeF32  Type = 0
	TypeF16  Type = 1
	TypeQ4_0 Type = 2
	TypeQ4_1 Type = 3
	TypeQ8_0 Type = 8
)

const qk = 32

// blockFormat is the quantized block encoding of one container revision.
// Non-quantized types are the same in every revision.
type blockFormat struct {
	// halfScales stores block scales and minimums as f16 rather than f32.
	halfScales bool
	// interleaved packs Q4 elements 2j and 2j+1 into the low and high nibble
	// of byte j. Otherwise byte j holds elements j and j+qk/2.
	interleaved bool
}

// blockFormatFor returns the block encoding written by converters for
// magic m at version v: f32 scales and interleaved nibbles up to ggjt v1,
// f32 scales with split nibbles in ggjt v2, f16 scales from ggjt v3.
func blockFormatFor(m Magic, v uint32) blockFormat {
	if m != MagicGGJT || v < 2 {
		return blockFormat{interleaved: true}
	}
	return blockFormat{halfScales: v >= 3}
}

func (bf blockFormat) scaleBytes() int {
	if bf.halfScales {
		return 2
	}
	return 4
}

// layout returns the elements per block and the bytes per block of t.
func (bf blockFormat) layout(t Type) (elems, size int, ok bool) {
	s := bf.scaleBytes()
	switch t {
	case TypeF32:
		return 1, 4, true
	case TypeF16:
		return 1, 2, true
	case TypeQ4_0:
		return qk, s + qk/2, true
	case TypeQ4_1:
		return qk, 2*s + qk/2, true
	case TypeQ8_0:
		return qk, s + qk, true
	}
	return 0, 0, false
}

func (t Type) String() string {
	switch t {
	case TypeF32:
		return "f32"
	case TypeF16:
		return "f16"
	case TypeQ4_0:
		return "q4_0"
	case TypeQ4_1:
		return "q4_1"
	case TypeQ8_0:
		return "q8_0"
	}
	return fmt.Sprintf("type(%d)", int32(t))
}

// dataSize returns the encoded size in bytes of a tensor of type t whose
// first dimension has ne0 elements and which has n elements in total.
func (bf blockFormat) dataSize(t Type, ne0, n int) (int, error) {
	elems, size, ok := bf.layout(t)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedTensorType, t)
	}
	if ne0%elems != 0 {
		return 0, fmt.Errorf("%w: row of %d elements is not a multiple of the %v block size %d", ErrCorrupt, ne0, t, elems)
	}
	return n / elems * size, nil
}

var (
	ErrBadMagic              = errors.New("not a ggml model file")
	ErrUnsupportedVersion    = errors.New("unsupported container version")
	ErrUnsupportedTensorType = errors.New("unsupported tensor type")
	ErrCorrupt               = errors.New("corrupt model file")
)

// FormatError locates a decoding failure within the file.
type FormatError struct {
	Offset int
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("offset %d: %s: %v", e.Offset, e.Reason, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
