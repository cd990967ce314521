// Package toy builds small, deterministic GPT-J models for tests, benchmarks
// and smoke-testing the command line tools without a real checkpoint.
package toy

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/samcharles93/gptj/internal/ggml"
	"github.com/samcharles93/gptj/internal/ggmlfile"
	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/vocab"
)

// Hyperparameters returns a small shape that still exercises every code
// path: several heads, partial rotary width and more than one layer.
func Hyperparameters() gptj.Hyperparameters {
	return gptj.Hyperparameters{
		NVocab:   32,
		NCtx:     16,
		NEmbd:    16,
		NHead:    4,
		NLayer:   2,
		NRot:     2,
		FileType: gptj.FileTypeF32,
	}
}

// Vocabulary returns n tokens named "t0", "t1", ... with the end-of-text
// token last.
func Vocabulary(n int) *vocab.Vocabulary {
	v := vocab.New(n)
	for i := range n - 1 {
		v.Push([]byte(fmt.Sprintf("t%d", i)), 0)
	}
	v.Push([]byte(vocab.EndOfText), 0)
	return v
}

// Weights draws every tensor from a PCG stream seeded with seed. Norm gains
// sit near one and biases near zero so activations stay in a sane range.
func Weights(hp gptj.Hyperparameters, seed uint64) ggml.ConstantMap {
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	m := make(ggml.ConstantMap)
	for _, spec := range gptj.TensorSpecs(hp) {
		n := 1
		for _, d := range spec.Shape {
			n *= d
		}
		values := make([]float32, n)
		switch {
		case strings.HasSuffix(spec.Name, "ln_1.weight") || spec.Name == gptj.NameNormFWeight:
			for i := range values {
				values[i] = 1 + 0.1*(rng.Float32()*2-1)
			}
		case strings.HasSuffix(spec.Name, ".bias"):
			for i := range values {
				values[i] = 0.05 * (rng.Float32()*2 - 1)
			}
		default:
			for i := range values {
				values[i] = 0.3 * (rng.Float32()*2 - 1)
			}
		}
		m[spec.Name] = ggml.NewConstant(values, spec.Shape...)
	}
	return m
}

// Zero returns all-zero weights except lm_head.bias, which is set to bias.
func Zero(hp gptj.Hyperparameters, bias []float32) ggml.ConstantMap {
	m := make(ggml.ConstantMap)
	for _, spec := range gptj.TensorSpecs(hp) {
		n := 1
		for _, d := range spec.Shape {
			n *= d
		}
		values := make([]float32, n)
		if spec.Name == gptj.NameLMHeadBias {
			copy(values, bias)
		}
		m[spec.Name] = ggml.NewConstant(values, spec.Shape...)
	}
	return m
}

// Model builds a model around Weights(hp, seed).
func Model(hp gptj.Hyperparameters, seed uint64, p gptj.Params) (*gptj.Model, error) {
	return gptj.New(hp, Vocabulary(hp.NVocab), Weights(hp, seed), p)
}

// WriteFile writes a complete ggjt container holding hp, Vocabulary and
// Weights(hp, seed), with tensors stored as typ.
func WriteFile(w io.Writer, hp gptj.Hyperparameters, seed uint64, typ ggmlfile.Type) error {
	if typ == ggmlfile.TypeF16 {
		hp.FileType = gptj.FileTypeMostlyF16
	}
	fw := ggmlfile.NewWriter(w)
	if err := fw.WriteHeader(hp.Write); err != nil {
		return err
	}
	if err := fw.WriteVocab(Vocabulary(hp.NVocab)); err != nil {
		return err
	}
	weights := Weights(hp, seed)
	for _, spec := range gptj.TensorSpecs(hp) {
		t := typ
		// 1D tensors stay F32, as the converters do.
		if len(spec.Shape) == 1 {
			t = ggmlfile.TypeF32
		}
		if err := fw.WriteTensor(spec.Name, t, spec.Shape, weights[spec.Name].Floats()); err != nil {
			return fmt.Errorf("write %s: %w", spec.Name, err)
		}
	}
	return fw.Flush()
}
