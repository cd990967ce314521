package toy

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samcharles93/gptj/internal/ggmlfile"
	"github.com/samcharles93/gptj/internal/gptj"
)

func loadFile(t *testing.T, data []byte) (*gptj.Model, gptj.Hyperparameters) {
	t.Helper()
	var hp gptj.Hyperparameters
	f, err := ggmlfile.Parse(data, func(r io.Reader) (int, error) {
		var err error
		hp, err = gptj.ReadHyperparameters(r)
		return hp.NVocab, err
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m, err := gptj.New(hp, f.Vocab, f, gptj.Params{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return m, hp
}

func TestWriteFileRoundTrip(t *testing.T) {
	t.Parallel()
	hp := Hyperparameters()
	var buf bytes.Buffer
	if err := WriteFile(&buf, hp, 42, ggmlfile.TypeF32); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, gotHP := loadFile(t, buf.Bytes())
	if diff := cmp.Diff(hp, gotHP); diff != "" {
		t.Fatalf("hyperparameters (-want +got):\n%s", diff)
	}
	inMemory, err := Model(hp, 42, gptj.Params{})
	if err != nil {
		t.Fatalf("model: %v", err)
	}

	tokens := []gptj.TokenID{1, 2, 3, 31}
	req := gptj.OutputRequest{AllLogits: true, Embeddings: true}
	want, err := inMemory.Evaluate(inMemory.StartSession(), gptj.EvalParams{}, tokens, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	got, err := loaded.Evaluate(loaded.StartSession(), gptj.EvalParams{}, tokens, req)
	if err != nil {
		t.Fatalf("evaluate loaded: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("loaded model output (-memory +file):\n%s", diff)
	}
}

func TestWriteFileHalfPrecision(t *testing.T) {
	t.Parallel()
	hp := Hyperparameters()
	var buf bytes.Buffer
	if err := WriteFile(&buf, hp, 42, ggmlfile.TypeF16); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, gotHP := loadFile(t, buf.Bytes())
	if gotHP.FileType != gptj.FileTypeMostlyF16 {
		t.Fatalf("file type %v", gotHP.FileType)
	}
	inMemory, err := Model(hp, 42, gptj.Params{})
	if err != nil {
		t.Fatalf("model: %v", err)
	}

	tokens := []gptj.TokenID{5, 8, 13}
	want, err := inMemory.Evaluate(inMemory.StartSession(), gptj.EvalParams{}, tokens, gptj.OutputRequest{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	got, err := loaded.Evaluate(loaded.StartSession(), gptj.EvalParams{}, tokens, gptj.OutputRequest{})
	if err != nil {
		t.Fatalf("evaluate loaded: %v", err)
	}
	for i := range want.Logits {
		if d := math.Abs(float64(want.Logits[i] - got.Logits[i])); d > 0.05 {
			t.Fatalf("logit %d: f16 %v f32 %v", i, got.Logits[i], want.Logits[i])
		}
	}
}

func TestVocabulary(t *testing.T) {
	t.Parallel()
	v := Vocabulary(4)
	if v.Len() != 4 {
		t.Fatalf("len %d", v.Len())
	}
	if id, ok := v.ID("t2"); !ok || id != 2 {
		t.Fatalf("t2 -> %d, %v", id, ok)
	}
	if id, ok := v.ID("<|endoftext|>"); !ok || id != 3 {
		t.Fatalf("eot -> %d, %v", id, ok)
	}
}
