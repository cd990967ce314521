// Package gptj evaluates GPT-J transformer models one batch of tokens at a
// time, keeping per-session key/value caches so that each step only computes
// the new positions.
package gptj

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/gptj/internal/ggml"
	"github.com/samcharles93/gptj/internal/kvcache"
	"github.com/samcharles93/gptj/internal/logger"
	"github.com/samcharles93/gptj/internal/vocab"
)

// TokenID identifies a vocabulary entry.
type TokenID = vocab.TokenID

var errForeignSession = errors.New("session was started by a different model")

// Params configures a Model.
type Params struct {
	// ContextSize overrides n_ctx from the hyperparameters when positive.
	ContextSize int
	Logger      logger.Logger
}

// EvalParams configures a single Evaluate call.
type EvalParams struct {
	// Threads bounds the goroutines used inside each operator. Values
	// below one mean one.
	Threads int
}

// OutputRequest selects optional outputs of Evaluate.
type OutputRequest struct {
	AllLogits  bool
	Embeddings bool
}

// Output holds the results of one Evaluate call.
type Output struct {
	// Logits of the last input position, n_vocab values.
	Logits []float32
	// AllLogits holds n*n_vocab values, position-major, when requested.
	AllLogits []float32
	// Embeddings of the last input position after the final normalisation,
	// n_embd values, when requested.
	Embeddings []float32
}

// Model is a loaded GPT-J model. It is immutable after New and safe for
// concurrent use; the mutable state of a token stream lives in Session.
type Model struct {
	hp      Hyperparameters
	nCtx    int
	weights *Weights
	vocab   *vocab.Vocabulary
	eot     TokenID
	log     logger.Logger
}

// New validates hp against the vocabulary, resolves the end-of-text token and
// loads the weights through loader.
func New(hp Hyperparameters, v *vocab.Vocabulary, loader TensorLoader, p Params) (*Model, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if v == nil || v.Len() != hp.NVocab {
		n := 0
		if v != nil {
			n = v.Len()
		}
		return nil, fmt.Errorf("%w: vocabulary has %d tokens, n_vocab is %d", ErrInvariantBroken, n, hp.NVocab)
	}
	eot, ok := v.ID(vocab.EndOfText)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingEndOfText, vocab.EndOfText)
	}
	weights, err := LoadWeights(hp, loader)
	if err != nil {
		return nil, err
	}

	nCtx := hp.NCtx
	if p.ContextSize > 0 {
		nCtx = p.ContextSize
	}
	return &Model{
		hp:      hp,
		nCtx:    nCtx,
		weights: weights,
		vocab:   v,
		eot:     eot,
		log:     logger.Component(p.Logger, "gptj"),
	}, nil
}

func (m *Model) Hyperparameters() Hyperparameters { return m.hp }
func (m *Model) Vocabulary() *vocab.Vocabulary    { return m.vocab }
func (m *Model) Weights() *Weights                { return m.weights }

// EOT is the id of the end-of-text token.
func (m *Model) EOT() TokenID { return m.eot }

// ContextSize is the number of positions each session can hold.
func (m *Model) ContextSize() int { return m.nCtx }

// StartSession allocates a session with an empty cache sized for the full
// context window.
func (m *Model) StartSession() *Session {
	return &Session{
		model: m,
		cache: kvcache.New(m.hp.NLayer, m.nCtx, m.hp.NEmbd),
	}
}

// Evaluate runs tokens through the model, appending them to the session.
//
// All input checks happen before the graph is built, so a failed call leaves
// the session and its cache exactly as they were. The call blocks until the
// whole graph has been computed and cannot be cancelled.
func (m *Model) Evaluate(s *Session, p EvalParams, tokens []TokenID, req OutputRequest) (Output, error) {
	if s.model != m {
		return Output{}, errForeignSession
	}
	n := len(tokens)
	if n == 0 {
		return Output{}, ErrEmptyInput
	}
	for i, tok := range tokens {
		if tok < 0 || int(tok) >= m.hp.NVocab {
			return Output{}, &TokenError{Index: i, Token: tok, NVocab: m.hp.NVocab}
		}
	}
	if err := s.cache.CheckBounds(s.nPast, n); err != nil {
		return Output{}, err
	}

	start := time.Now()
	ctx := ggml.NewContext(s.memPerToken * n * 11 / 10)
	defer ctx.Release()

	gf := ctx.NewGraph()
	logits, embd := m.buildGraph(ctx, gf, s.cache, s.nPast, tokens)
	gf.Expand(logits)
	gf.Compute(p.Threads)

	out := Output{Logits: ctx.Row(logits, n-1)}
	if req.AllLogits {
		out.AllLogits = ctx.Floats(logits)
	}
	if req.Embeddings {
		out.Embeddings = ctx.Row(embd, n-1)
	}

	if s.memPerToken == 0 {
		s.memPerToken = ctx.Used() / n
	}
	s.lastLogits = slices.Clone(out.Logits)
	s.tokens = append(s.tokens, tokens...)
	s.nPast += n

	m.log.Debug("evaluate",
		"n_past", s.nPast-n,
		"n", n,
		"nodes", gf.Nodes(),
		"scratch_bytes", ctx.Used(),
		"elapsed", time.Since(start),
	)
	return out, nil
}
