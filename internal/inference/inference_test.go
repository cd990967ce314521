package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samcharles93/gptj/internal/ggmlfile"
	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/kvcache"
	"github.com/samcharles93/gptj/internal/metrics"
	"github.com/samcharles93/gptj/internal/toy"
)

func writeToyFile(t *testing.T, seed uint64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toy.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := toy.WriteFile(f, toy.Hyperparameters(), seed, ggmlfile.TypeF32); err != nil {
		t.Fatalf("write toy: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoaderLoad(t *testing.T) {
	t.Parallel()
	path := writeToyFile(t, 9)
	res, err := Loader{ContextSize: 8}.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Magic != ggmlfile.MagicGGJT || res.Version != ggmlfile.WriteVersion {
		t.Fatalf("container %v v%d", res.Magic, res.Version)
	}
	hp := toy.Hyperparameters()
	if res.Tensors != len(gptj.TensorSpecs(hp)) {
		t.Fatalf("%d tensors", res.Tensors)
	}
	if res.Model.ContextSize() != 8 {
		t.Fatalf("context size %d", res.Model.ContextSize())
	}
	if diff := cmp.Diff(hp, res.Model.Hyperparameters()); diff != "" {
		t.Fatalf("hyperparameters (-want +got):\n%s", diff)
	}

	ref, err := toy.Model(hp, 9, gptj.Params{})
	if err != nil {
		t.Fatal(err)
	}
	tokens := []gptj.TokenID{2, 7, 1}
	want, err := ref.Evaluate(ref.StartSession(), gptj.EvalParams{}, tokens, gptj.OutputRequest{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := res.Model.Evaluate(res.Model.StartSession(), gptj.EvalParams{}, tokens, gptj.OutputRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want.Logits, got.Logits); diff != "" {
		t.Fatalf("logits (-memory +file):\n%s", diff)
	}
}

func TestLoaderErrors(t *testing.T) {
	t.Parallel()
	if _, err := (Loader{}).Load(context.Background(), " "); err == nil {
		t.Fatal("empty path accepted")
	}
	if _, err := (Loader{}).Load(context.Background(), filepath.Join(t.TempDir(), "nope.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Loader{}).Load(ctx, writeToyFile(t, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled: got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(bad, []byte("not a model file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (Loader{}).Load(context.Background(), bad); !errors.Is(err, ggmlfile.ErrBadMagic) {
		t.Fatalf("bad magic: got %v", err)
	}
}

func TestFeedMatchesSingleCall(t *testing.T) {
	t.Parallel()
	m, err := toy.Model(toy.Hyperparameters(), 4, gptj.Params{})
	if err != nil {
		t.Fatal(err)
	}
	tokens := []gptj.TokenID{3, 14, 15, 9, 26, 5, 3, 5, 8, 9, 7}
	req := gptj.OutputRequest{AllLogits: true, Embeddings: true}
	want, err := m.Evaluate(m.StartSession(), gptj.EvalParams{}, tokens, req)
	if err != nil {
		t.Fatal(err)
	}

	for _, batch := range []int{1, 3, 4, 11, 64} {
		r := &Runner{Model: m, Threads: 2, BatchSize: batch}
		s := m.StartSession()
		got, stats, err := r.Feed(context.Background(), s, tokens, req)
		if err != nil {
			t.Fatalf("batch %d: %v", batch, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("batch %d (-single +fed):\n%s", batch, diff)
		}
		if wantBatches := (len(tokens) + batch - 1) / batch; stats.Batches != wantBatches || stats.Tokens != len(tokens) {
			t.Fatalf("batch %d: stats %+v", batch, stats)
		}
		if s.NPast() != len(tokens) {
			t.Fatalf("batch %d: n_past %d", batch, s.NPast())
		}
	}
}

// cancelAfter cancels its context once it has evaluated n batches.
type cancelAfter struct {
	model  *gptj.Model
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Evaluate(s *gptj.Session, p gptj.EvalParams, tokens []gptj.TokenID, req gptj.OutputRequest) (gptj.Output, error) {
	out, err := c.model.Evaluate(s, p, tokens, req)
	if c.n--; c.n == 0 {
		c.cancel()
	}
	return out, err
}

func TestFeedStopsBetweenBatches(t *testing.T) {
	t.Parallel()
	m, err := toy.Model(toy.Hyperparameters(), 4, gptj.Params{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &Runner{Model: &cancelAfter{model: m, n: 2, cancel: cancel}, BatchSize: 2}
	s := m.StartSession()

	_, stats, err := r.Feed(ctx, s, []gptj.TokenID{1, 2, 3, 4, 5, 6, 7}, gptj.OutputRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
	if stats.Batches != 2 || s.NPast() != 4 {
		t.Fatalf("stats %+v n_past %d", stats, s.NPast())
	}
}

func TestFeedReportsWindowOverflow(t *testing.T) {
	t.Parallel()
	m, err := toy.Model(toy.Hyperparameters(), 4, gptj.Params{ContextSize: 5})
	if err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(metrics.ContextWindowExceeded)
	r := &Runner{Model: m, BatchSize: 2}
	s := m.StartSession()
	_, stats, err := r.Feed(context.Background(), s, []gptj.TokenID{1, 2, 3, 4, 5, 6}, gptj.OutputRequest{})
	if !errors.Is(err, kvcache.ErrContextWindowExceeded) {
		t.Fatalf("got %v", err)
	}
	if stats.Tokens != 4 || s.NPast() != 4 {
		t.Fatalf("stats %+v n_past %d", stats, s.NPast())
	}
	if after := testutil.ToFloat64(metrics.ContextWindowExceeded); after < before+1 {
		t.Fatalf("window counter %v -> %v", before, after)
	}

	if _, _, err := r.Feed(context.Background(), s, nil, gptj.OutputRequest{}); !errors.Is(err, gptj.ErrEmptyInput) {
		t.Fatalf("empty: got %v", err)
	}
}

type panicEvaluator struct{}

func (panicEvaluator) Evaluate(*gptj.Session, gptj.EvalParams, []gptj.TokenID, gptj.OutputRequest) (gptj.Output, error) {
	panic("graph boom")
}

func TestFeedLetsGraphPanicsPropagate(t *testing.T) {
	t.Parallel()
	r := &Runner{Model: panicEvaluator{}}
	defer func() {
		if rec := recover(); rec != "graph boom" {
			t.Fatalf("recovered %v", rec)
		}
	}()
	_, _, _ = r.Feed(context.Background(), nil, []gptj.TokenID{1}, gptj.OutputRequest{})
	t.Fatal("Feed returned normally")
}

func TestTopK(t *testing.T) {
	t.Parallel()
	logits := []float32{0.5, 3, -1, 3, 2}
	want := []Candidate{{1, 3}, {3, 3}, {4, 2}}
	if diff := cmp.Diff(want, TopK(logits, 3)); diff != "" {
		t.Fatalf("top 3 (-want +got):\n%s", diff)
	}
	if got := TopK(logits, 10); len(got) != len(logits) || got[4].Token != 2 {
		t.Fatalf("top 10: %v", got)
	}
	if got := TopK(logits, 0); got != nil {
		t.Fatalf("top 0: %v", got)
	}
}
