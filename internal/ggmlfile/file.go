package ggmlfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samcharles93/gptj/internal/ggml"
	"github.com/samcharles93/gptj/internal/vocab"
	"golang.org/x/sys/unix"
)

// HeaderFunc decodes the model-specific hyperparameter header that follows
// the magic and version, and returns the number of vocabulary entries that
// come after it.
type HeaderFunc func(r io.Reader) (nVocab int, err error)

// TensorInfo describes one tensor record.
type TensorInfo struct {
	Name   string
	Type   Type
	Shape  []int
	Offset int
	Size   int
}

// Elements is the product of the extents.
func (t TensorInfo) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// File is a parsed container. Tensor data stays in the file image until
// Load decodes it.
type File struct {
	Magic   Magic
	Version uint32
	Vocab   *vocab.Vocabulary
	Tensors []TensorInfo

	index   map[string]int
	blocks  blockFormat
	data    []byte
	mmapped bool
}

// Open maps path read-only and parses it. The file image stays mapped until
// Close.
func Open(path string, header HeaderFunc) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size <= 0 {
		return nil, &FormatError{Reason: "empty file", Err: ErrCorrupt}
	}

	// Prefer mmap so large weight files are not copied onto the heap.
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		mf, parseErr := Parse(data, header)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		mf.mmapped = true
		return mf, nil
	}

	data, err = io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(data, header)
}

// Parse decodes a complete file image. The returned File refers to data.
func Parse(data []byte, header HeaderFunc) (*File, error) {
	r := &reader{data: data}
	fail := func(reason string, err error) (*File, error) {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		return nil, &FormatError{Offset: r.off, Reason: reason, Err: err}
	}

	raw, err := r.readU32()
	if err != nil {
		return fail("magic", err)
	}
	f := &File{Magic: Magic(raw), data: data, index: make(map[string]int)}
	switch f.Magic {
	case MagicGGML:
	case MagicGGMF, MagicGGJT:
		if f.Version, err = r.readU32(); err != nil {
			return fail("version", err)
		}
		if (f.Magic == MagicGGMF && f.Version != ggmfVersion) ||
			(f.Magic == MagicGGJT && (f.Version < ggjtMinVersion || f.Version > ggjtMaxVersion)) {
			return fail("version", fmt.Errorf("%w: %v v%d", ErrUnsupportedVersion, f.Magic, f.Version))
		}
	default:
		return fail("magic", fmt.Errorf("%w: %v", ErrBadMagic, f.Magic))
	}
	f.blocks = blockFormatFor(f.Magic, f.Version)

	nVocab, err := header(r)
	if err != nil {
		return fail("hyperparameters", err)
	}

	f.Vocab = vocab.New(nVocab)
	for i := range nVocab {
		n, err := r.readU32()
		if err != nil {
			return fail(fmt.Sprintf("vocab entry %d", i), err)
		}
		tok, err := r.readN(int(n))
		if err != nil {
			return fail(fmt.Sprintf("vocab entry %d", i), err)
		}
		var score float32
		if f.Magic.hasScores() {
			if score, err = r.readF32(); err != nil {
				return fail(fmt.Sprintf("vocab entry %d", i), err)
			}
		}
		f.Vocab.Push(bytes.Clone(tok), score)
	}

	for r.remaining() > 0 {
		t, err := f.readTensorInfo(r)
		if err != nil {
			return fail(fmt.Sprintf("tensor %d", len(f.Tensors)), err)
		}
		if _, dup := f.index[t.Name]; dup {
			return fail("tensor "+t.Name, fmt.Errorf("%w: duplicate tensor", ErrCorrupt))
		}
		f.index[t.Name] = len(f.Tensors)
		f.Tensors = append(f.Tensors, t)
	}
	return f, nil
}

func (f *File) readTensorInfo(r *reader) (TensorInfo, error) {
	var head [3]int32
	for i := range head {
		v, err := r.readI32()
		if err != nil {
			return TensorInfo{}, err
		}
		head[i] = v
	}
	nDims, nameLen, typ := int(head[0]), int(head[1]), Type(head[2])
	if nDims < 1 || nDims > ggml.MaxDims {
		return TensorInfo{}, fmt.Errorf("%w: %d dimensions", ErrCorrupt, nDims)
	}

	t := TensorInfo{Type: typ, Shape: make([]int, nDims)}
	elements := 1
	for i := range t.Shape {
		v, err := r.readI32()
		if err != nil {
			return TensorInfo{}, err
		}
		if v < 0 {
			return TensorInfo{}, fmt.Errorf("%w: negative extent %d", ErrCorrupt, v)
		}
		t.Shape[i] = int(v)
		elements *= int(v)
	}
	name, err := r.readN(nameLen)
	if err != nil {
		return TensorInfo{}, err
	}
	t.Name = string(name)

	if f.Magic.aligned() {
		if err := r.align(alignment); err != nil {
			return TensorInfo{}, err
		}
	}
	size, err := f.blocks.dataSize(typ, t.Shape[0], elements)
	if err != nil {
		return TensorInfo{}, err
	}
	t.Offset = r.off
	t.Size = size
	if _, err := r.readN(size); err != nil {
		return TensorInfo{}, err
	}
	return t, nil
}

// Tensor looks up a tensor record by name.
func (f *File) Tensor(name string) (TensorInfo, bool) {
	i, ok := f.index[name]
	if !ok {
		return TensorInfo{}, false
	}
	return f.Tensors[i], true
}

// Load decodes the named tensor to float32 after checking it has extents
// ne. The result does not refer to the file image.
func (f *File) Load(name string, ne ...int) (*ggml.Constant, error) {
	if f.data == nil {
		return nil, fmt.Errorf("%w: load %s: file closed", ErrCorrupt, name)
	}
	t, ok := f.Tensor(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ggml.ErrTensorNotFound, name)
	}
	if got, want := ggml.ShapeOf(t.Shape...), ggml.ShapeOf(ne...); got != want {
		return nil, fmt.Errorf("%w: %s is %v, want %v", ggml.ErrTensorShape, name, got, want)
	}
	values, err := decode(f.blocks, t.Type, f.data[t.Offset:t.Offset+t.Size], t.Shape[0], t.Elements())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return ggml.NewConstant(values, ne...), nil
}

// Close releases the file image. Constants returned by Load stay valid.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.mmapped = false
	return err
}
