// Package inference drives a loaded model: opening model files, feeding long
// token sequences through a session in batches, and inspecting the results.
package inference

import (
	"context"
	"time"

	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/metrics"
)

// DefaultBatchSize is the batch size used when none is configured.
const DefaultBatchSize = 8

// Evaluator runs one forward step. *gptj.Model implements it.
type Evaluator interface {
	Evaluate(s *gptj.Session, p gptj.EvalParams, tokens []gptj.TokenID, req gptj.OutputRequest) (gptj.Output, error)
}

type Stats struct {
	Tokens   int
	Batches  int
	Duration time.Duration
	TPS      float64
}

// Runner feeds token sequences through a session in fixed-size batches.
type Runner struct {
	Model     Evaluator
	Threads   int
	BatchSize int
}

// Feed evaluates tokens in batches of BatchSize. Cancellation is checked
// between batches; a batch that has started always completes, so on error the
// session holds exactly the batches that succeeded. Graph shape panics are
// not recovered.
//
// The returned Output carries the logits and embeddings of the last position.
// When req.AllLogits is set, AllLogits covers every fed position.
func (r *Runner) Feed(ctx context.Context, s *gptj.Session, tokens []gptj.TokenID, req gptj.OutputRequest) (out gptj.Output, stats Stats, err error) {
	if len(tokens) == 0 {
		return out, stats, gptj.ErrEmptyInput
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	start := time.Now()
	var all []float32
	defer func() {
		stats.Duration = time.Since(start)
		if secs := stats.Duration.Seconds(); secs > 0 {
			stats.TPS = float64(stats.Tokens) / secs
		}
	}()

	for lo := 0; lo < len(tokens); lo += batch {
		if err := ctx.Err(); err != nil {
			return out, stats, err
		}
		hi := min(lo+batch, len(tokens))

		stepStart := time.Now()
		step, err := r.Model.Evaluate(s, gptj.EvalParams{Threads: r.Threads}, tokens[lo:hi], req)
		metrics.ObservePass(hi-lo, time.Since(stepStart), err)
		if err != nil {
			return out, stats, err
		}

		stats.Tokens += hi - lo
		stats.Batches++
		if req.AllLogits {
			all = append(all, step.AllLogits...)
		}
		out = step
	}
	if req.AllLogits {
		out.AllLogits = all
	}
	return out, stats, nil
}
