package gptj

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Hyperparameters is the fixed-shape metadata at the head of a GPT-J file.
type Hyperparameters struct {
	NVocab   int
	NCtx     int
	NEmbd    int
	NHead    int
	NLayer   int
	NRot     int
	FileType FileType
}

// headerFields is the number of i32 values written by Write.
const headerFields = 7

// ReadHyperparameters decodes the seven little-endian i32 header fields and
// the redundant vocabulary size that follows them.
func ReadHyperparameters(r io.Reader) (Hyperparameters, error) {
	var raw [headerFields]int32
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Hyperparameters{}, fmt.Errorf("read hyperparameters: %w", err)
	}

	names := [...]string{"n_vocab", "n_ctx", "n_embd", "n_head", "n_layer", "n_rot"}
	for i, name := range names {
		if raw[i] < 0 {
			return Hyperparameters{}, fmt.Errorf("%w: %s=%d", ErrInvalidInteger, name, raw[i])
		}
	}
	ft, err := ParseFileType(raw[6])
	if err != nil {
		return Hyperparameters{}, err
	}
	hp := Hyperparameters{
		NVocab:   int(raw[0]),
		NCtx:     int(raw[1]),
		NEmbd:    int(raw[2]),
		NHead:    int(raw[3]),
		NLayer:   int(raw[4]),
		NRot:     int(raw[5]),
		FileType: ft,
	}

	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return Hyperparameters{}, fmt.Errorf("read vocabulary size: %w", err)
	}
	if int(n) != hp.NVocab {
		return Hyperparameters{}, fmt.Errorf("%w: n_vocab %d, vocabulary section declares %d", ErrInvariantBroken, hp.NVocab, n)
	}
	return hp, nil
}

// Write encodes the seven header fields. Nothing is written if any field is
// outside the int32 range.
func (h Hyperparameters) Write(w io.Writer) error {
	fields := [headerFields]struct {
		name  string
		value int
	}{
		{"n_vocab", h.NVocab},
		{"n_ctx", h.NCtx},
		{"n_embd", h.NEmbd},
		{"n_head", h.NHead},
		{"n_layer", h.NLayer},
		{"n_rot", h.NRot},
		{"file_type", int(h.FileType)},
	}
	var raw [headerFields]int32
	for i, f := range fields {
		if f.value < 0 || f.value > math.MaxInt32 {
			return fmt.Errorf("%w: %s=%d", ErrOverflow, f.name, f.value)
		}
		raw[i] = int32(f.value)
	}
	if err := binary.Write(w, binary.LittleEndian, raw); err != nil {
		return fmt.Errorf("write hyperparameters: %w", err)
	}
	return nil
}

// HeadDim is the per-head width of the attention projections.
func (h Hyperparameters) HeadDim() int {
	if h.NHead == 0 {
		return 0
	}
	return h.NEmbd / h.NHead
}

// NFF is the width of the feed-forward hidden layer.
func (h Hyperparameters) NFF() int {
	return 4 * h.NEmbd
}

// Validate checks the relations the forward pass relies on.
func (h Hyperparameters) Validate() error {
	switch {
	case h.NVocab <= 0:
		return fmt.Errorf("%w: n_vocab must be positive", ErrInvalidHyperparameters)
	case h.NCtx <= 0:
		return fmt.Errorf("%w: n_ctx must be positive", ErrInvalidHyperparameters)
	case h.NEmbd <= 0 || h.NHead <= 0:
		return fmt.Errorf("%w: n_embd and n_head must be positive", ErrInvalidHyperparameters)
	case h.NEmbd%h.NHead != 0:
		return fmt.Errorf("%w: n_embd %d is not a multiple of n_head %d", ErrInvalidHyperparameters, h.NEmbd, h.NHead)
	case h.NRot%2 != 0 || h.NRot > h.HeadDim():
		return fmt.Errorf("%w: n_rot %d must be even and at most head_dim %d", ErrInvalidHyperparameters, h.NRot, h.HeadDim())
	}
	return nil
}
