package ggmlfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samcharles93/gptj/internal/ggml"
	"github.com/samcharles93/gptj/internal/vocab"
	"github.com/x448/float16"
)

// countHeader is a minimal model header holding only the vocabulary size.
func countHeader(n int32) func(io.Writer) error {
	return func(w io.Writer) error {
		return binary.Write(w, binary.LittleEndian, n)
	}
}

func readCount(r io.Reader) (int, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func testVocab() *vocab.Vocabulary {
	v := vocab.New(3)
	v.Push([]byte("hello"), -1.5)
	v.Push([]byte(" world"), -2)
	v.Push([]byte(vocab.EndOfText), 0)
	return v
}

func writeTestFile(t *testing.T, typ Type) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	v := testVocab()
	if err := w.WriteHeader(countHeader(int32(v.Len()))); err != nil {
		t.Fatalf("header: %v", err)
	}
	// The count written by WriteVocab is consumed by the test header reader
	// below, matching how model headers repeat the vocabulary size.
	if err := w.WriteVocab(v); err != nil {
		t.Fatalf("vocab: %v", err)
	}
	if err := w.WriteTensor("a", typ, []int{4, 2}, []float32{0, 0.5, -1.25, 2, 3, -4, 0.125, 1}); err != nil {
		t.Fatalf("tensor a: %v", err)
	}
	if err := w.WriteTensor("b", typ, []int{3}, []float32{1, 2, 3}); err != nil {
		t.Fatalf("tensor b: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return buf.Bytes()
}

// repeatHeader reads the test header and the vocabulary count after it.
func repeatHeader(r io.Reader) (int, error) {
	n, err := readCount(r)
	if err != nil {
		return 0, err
	}
	m, err := readCount(r)
	if err != nil {
		return 0, err
	}
	if m != n {
		return 0, errors.New("vocabulary count mismatch")
	}
	return n, nil
}

func TestWriteParseRoundTrip(t *testing.T) {
	t.Parallel()
	for _, typ := range []Type{TypeF32, TypeF16} {
		data := writeTestFile(t, typ)
		f, err := Parse(data, repeatHeader)
		if err != nil {
			t.Fatalf("%v: parse: %v", typ, err)
		}
		if f.Magic != MagicGGJT || f.Version != WriteVersion {
			t.Fatalf("%v: got %v v%d", typ, f.Magic, f.Version)
		}
		if f.Vocab.Len() != 3 {
			t.Fatalf("%v: vocab len %d", typ, f.Vocab.Len())
		}
		if tok, _ := f.Vocab.Token(1); string(tok) != " world" {
			t.Fatalf("%v: token 1 = %q", typ, tok)
		}
		if got := f.Vocab.Score(0); got != -1.5 {
			t.Fatalf("%v: score 0 = %v", typ, got)
		}
		for _, info := range f.Tensors {
			if info.Offset%alignment != 0 {
				t.Fatalf("%v: tensor %s data at unaligned offset %d", typ, info.Name, info.Offset)
			}
		}

		a, err := f.Load("a", 4, 2)
		if err != nil {
			t.Fatalf("%v: load a: %v", typ, err)
		}
		want := []float32{0, 0.5, -1.25, 2, 3, -4, 0.125, 1}
		if diff := cmp.Diff(want, a.Floats()); diff != "" {
			t.Fatalf("%v: tensor a (-want +got):\n%s", typ, diff)
		}
		if a.Shape() != ggml.ShapeOf(4, 2) {
			t.Fatalf("%v: shape %v", typ, a.Shape())
		}
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	f, err := Parse(writeTestFile(t, TypeF32), repeatHeader)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := f.Load("missing", 3); !errors.Is(err, ggml.ErrTensorNotFound) {
		t.Fatalf("missing: got %v", err)
	}
	if _, err := f.Load("b", 1, 3); !errors.Is(err, ggml.ErrTensorShape) {
		t.Fatalf("shape: got %v", err)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()
	good := writeTestFile(t, TypeF32)

	badMagic := bytes.Clone(good)
	binary.LittleEndian.PutUint32(badMagic, 0xdeadbeef)
	if _, err := Parse(badMagic, repeatHeader); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("bad magic: got %v", err)
	}

	badVersion := bytes.Clone(good)
	binary.LittleEndian.PutUint32(badVersion[4:], 9)
	if _, err := Parse(badVersion, repeatHeader); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("bad version: got %v", err)
	}

	truncated := good[:len(good)-3]
	_, err := Parse(truncated, repeatHeader)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("truncated: got %v", err)
	}
	var ferr *FormatError
	if !errors.As(err, &ferr) || ferr.Offset == 0 {
		t.Fatalf("truncated: expected located FormatError, got %#v", err)
	}
}

func TestParseUnversionedContainer(t *testing.T) {
	t.Parallel()
	// "ggml" files have no version, unscored vocab entries and unaligned data.
	var buf bytes.Buffer
	le := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
	}
	le(uint32(MagicGGML))
	le(int32(1)) // header: n_vocab
	le(int32(1)) // vocab count
	le(uint32(2))
	buf.WriteString("hi")
	le([]int32{1, 1, int32(TypeF32), 2})
	buf.WriteString("w")
	le([]float32{1.5, -2})

	f, err := Parse(buf.Bytes(), repeatHeader)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Version != 0 || f.Vocab.Score(0) != 0 {
		t.Fatalf("unexpected version %d or score %v", f.Version, f.Vocab.Score(0))
	}
	w, err := f.Load("w", 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]float32{1.5, -2}, w.Floats()); diff != "" {
		t.Fatalf("tensor (-want +got):\n%s", diff)
	}
}

func TestDecodeQuantBlocks(t *testing.T) {
	t.Parallel()
	v3 := blockFormatFor(MagicGGJT, 3)
	half := func(v float32) []byte {
		return binary.LittleEndian.AppendUint16(nil, float16.Fromfloat32(v).Bits())
	}

	q40 := half(0.5)
	for j := range qk / 2 {
		q40 = append(q40, byte(j%16)|byte(15-j%16)<<4)
	}
	got, err := decode(v3, TypeQ4_0, q40, qk, qk)
	if err != nil {
		t.Fatalf("q4_0: %v", err)
	}
	for j := range qk / 2 {
		if want := float32(j%16-8) * 0.5; got[j] != want {
			t.Fatalf("q4_0[%d]: got %v want %v", j, got[j], want)
		}
		if want := float32(15-j%16-8) * 0.5; got[j+qk/2] != want {
			t.Fatalf("q4_0[%d]: got %v want %v", j+qk/2, got[j+qk/2], want)
		}
	}

	q41 := append(half(0.25), half(-1)...)
	for j := range qk / 2 {
		q41 = append(q41, byte(j%16)|byte(j%16)<<4)
	}
	got, err = decode(v3, TypeQ4_1, q41, qk, qk)
	if err != nil {
		t.Fatalf("q4_1: %v", err)
	}
	if got[3] != 3*0.25-1 || got[qk/2+5] != 5*0.25-1 {
		t.Fatalf("q4_1: got %v, %v", got[3], got[qk/2+5])
	}

	q80 := half(2)
	for j := range qk {
		q80 = append(q80, byte(int8(j-16)))
	}
	got, err = decode(v3, TypeQ8_0, q80, qk, qk)
	if err != nil {
		t.Fatalf("q8_0: %v", err)
	}
	for j := range qk {
		if want := float32(j-16) * 2; got[j] != want {
			t.Fatalf("q8_0[%d]: got %v want %v", j, got[j], want)
		}
	}

	if _, err := decode(v3, TypeQ8_0, q80, 16, 16); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("partial block: got %v", err)
	}
	if _, err := decode(v3, Type(42), nil, 1, 1); !errors.Is(err, ErrUnsupportedTensorType) {
		t.Fatalf("unknown type: got %v", err)
	}
}

func TestOpenMapsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, writeTestFile(t, TypeF16), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path, repeatHeader)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := f.Load("b", 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3}, b.Floats()); diff != "" {
		t.Fatalf("tensor after close (-want +got):\n%s", diff)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := f.Load("b", 3); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("load after close: got %v", err)
	}
}

// quantFile builds a container holding one tensor "q" of 64 elements whose
// data is the given encoded blocks, followed by an F32 tensor "tail".
func quantFile(t *testing.T, magic Magic, version uint32, typ Type, blocks []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	le := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
	}
	le(uint32(magic))
	if magic != MagicGGML {
		le(version)
	}
	le(int32(1)) // header: n_vocab
	le(int32(1)) // vocab count
	le(uint32(1))
	buf.WriteString("x")
	if magic != MagicGGML {
		le(float32(0))
	}
	pad := func() {
		if magic == MagicGGJT {
			buf.Write(make([]byte, (alignment-buf.Len()%alignment)%alignment))
		}
	}
	le([]int32{1, 1, int32(typ), 2 * qk})
	buf.WriteString("q")
	pad()
	buf.Write(blocks)
	le([]int32{1, 4, int32(TypeF32), 2})
	buf.WriteString("tail")
	pad()
	le([]float32{7, -7})
	return buf.Bytes()
}

func TestQuantBlocksFollowContainerVersion(t *testing.T) {
	t.Parallel()
	f32 := func(v float32) []byte {
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))
	}
	// Element k of every block is k%16 before the -8 offset.
	want := make([]float32, 2*qk)
	for i := range want {
		want[i] = float32(i%qk%16-8) * 0.5
	}

	// ggjt v1: f32 scale, byte j holds elements 2j and 2j+1.
	var interleaved []byte
	for range 2 {
		interleaved = append(interleaved, f32(0.5)...)
		for j := range qk / 2 {
			interleaved = append(interleaved, byte(2*j%16)|byte((2*j+1)%16)<<4)
		}
	}
	// ggjt v2: f32 scale, byte j holds elements j and j+16.
	var split []byte
	for range 2 {
		split = append(split, f32(0.5)...)
		for j := range qk / 2 {
			split = append(split, byte(j%16)|byte((j+qk/2)%16)<<4)
		}
	}

	tests := []struct {
		name    string
		magic   Magic
		version uint32
		blocks  []byte
	}{
		{"ggml", MagicGGML, 0, interleaved},
		{"ggmf v1", MagicGGMF, 1, interleaved},
		{"ggjt v1", MagicGGJT, 1, interleaved},
		{"ggjt v2", MagicGGJT, 2, split},
	}
	for _, tt := range tests {
		f, err := Parse(quantFile(t, tt.magic, tt.version, TypeQ4_0, tt.blocks), repeatHeader)
		if err != nil {
			t.Fatalf("%s: parse: %v", tt.name, err)
		}
		info, _ := f.Tensor("q")
		if info.Size != 40 {
			t.Fatalf("%s: q4_0 data size %d, want 40", tt.name, info.Size)
		}
		q, err := f.Load("q", 2*qk)
		if err != nil {
			t.Fatalf("%s: load q: %v", tt.name, err)
		}
		if diff := cmp.Diff(want, q.Floats()); diff != "" {
			t.Fatalf("%s: q4_0 (-want +got):\n%s", tt.name, diff)
		}
		tail, err := f.Load("tail", 2)
		if err != nil {
			t.Fatalf("%s: load tail: %v", tt.name, err)
		}
		if diff := cmp.Diff([]float32{7, -7}, tail.Floats()); diff != "" {
			t.Fatalf("%s: tail (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestLegacyBlockSizes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		bf   blockFormat
		typ  Type
		want int
	}{
		{blockFormatFor(MagicGGJT, 1), TypeQ4_0, 20},
		{blockFormatFor(MagicGGJT, 1), TypeQ4_1, 24},
		{blockFormatFor(MagicGGJT, 2), TypeQ8_0, 36},
		{blockFormatFor(MagicGGMF, 1), TypeQ4_1, 24},
		{blockFormatFor(MagicGGJT, 3), TypeQ4_0, 18},
		{blockFormatFor(MagicGGJT, 3), TypeQ4_1, 20},
		{blockFormatFor(MagicGGJT, 3), TypeQ8_0, 34},
		{blockFormatFor(MagicGGML, 0), TypeF16, 2 * qk},
	}
	for _, tt := range tests {
		got, err := tt.bf.dataSize(tt.typ, qk, qk)
		if err != nil {
			t.Fatalf("%+v %v: %v", tt.bf, tt.typ, err)
		}
		if got != tt.want {
			t.Errorf("%+v %v: got %d bytes per block, want %d", tt.bf, tt.typ, got, tt.want)
		}
	}

	// Q4_1 with f32 scale and minimum, interleaved.
	v1 := blockFormatFor(MagicGGJT, 1)
	blk := binary.LittleEndian.AppendUint32(nil, math.Float32bits(0.25))
	blk = binary.LittleEndian.AppendUint32(blk, math.Float32bits(-1))
	for j := range qk / 2 {
		blk = append(blk, byte(j%16)|byte(15-j%16)<<4)
	}
	got, err := decode(v1, TypeQ4_1, blk, qk, qk)
	if err != nil {
		t.Fatalf("q4_1 v1: %v", err)
	}
	if got[6] != 3*0.25-1 || got[7] != 12*0.25-1 {
		t.Fatalf("q4_1 v1: got %v, %v", got[6], got[7])
	}
}
