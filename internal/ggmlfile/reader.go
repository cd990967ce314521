package ggmlfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// reader decodes little-endian values from an in-memory file image.
type reader struct {
	data []byte
	off  int
}

// Read lets model-specific header decoders consume the image as a stream.
func (r *reader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) readN(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid read length %d", n)
	}
	if n > r.remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.off : r.off+n : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readI32() (int32, error) {
	v, err := r.readU32()
	return int32(v), err
}

func (r *reader) readF32() (float32, error) {
	u, err := r.readU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(u), nil
}

// align advances to the next multiple of n bytes from the start of the file.
func (r *reader) align(n int) error {
	pad := (n - r.off%n) % n
	_, err := r.readN(pad)
	return err
}
