package ggmlfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/samcharles93/gptj/internal/vocab"
)

// Writer produces ggjt containers. Calls must follow the file layout:
// WriteHeader, WriteVocab, then any number of WriteTensor, then Flush.
type Writer struct {
	w   *bufio.Writer
	off int
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.off += n
	return n, err
}

func (w *Writer) putU32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// WriteHeader writes the magic and version, then lets header encode the
// model hyperparameters.
func (w *Writer) WriteHeader(header func(io.Writer) error) error {
	if err := w.putU32(uint32(MagicGGJT)); err != nil {
		return err
	}
	if err := w.putU32(WriteVersion); err != nil {
		return err
	}
	return header(w)
}

// WriteVocab writes the entry count followed by every token and its score.
func (w *Writer) WriteVocab(v *vocab.Vocabulary) error {
	if err := w.putU32(uint32(v.Len())); err != nil {
		return err
	}
	for id := range v.Len() {
		tok, _ := v.Token(vocab.TokenID(id))
		if err := w.putU32(uint32(len(tok))); err != nil {
			return err
		}
		if _, err := w.Write(tok); err != nil {
			return err
		}
		if err := w.putU32(math.Float32bits(v.Score(vocab.TokenID(id)))); err != nil {
			return err
		}
	}
	return nil
}

// WriteTensor appends one tensor record encoded as t (F32 or F16).
func (w *Writer) WriteTensor(name string, t Type, ne []int, values []float32) error {
	n := 1
	for _, d := range ne {
		n *= d
	}
	if n != len(values) {
		return fmt.Errorf("tensor %s: %d values for shape %v", name, len(values), ne)
	}
	data, err := encode(t, values)
	if err != nil {
		return err
	}

	head := make([]int32, 0, 3+len(ne))
	head = append(head, int32(len(ne)), int32(len(name)), int32(t))
	for _, d := range ne {
		head = append(head, int32(d))
	}
	if err := binary.Write(w, binary.LittleEndian, head); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	if pad := (alignment - w.off%alignment) % alignment; pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	_, err = w.Write(data)
	return err
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}
