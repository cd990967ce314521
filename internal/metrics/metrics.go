// Package metrics holds the process-wide Prometheus collectors of the
// evaluator and the session server.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/kvcache"
)

// Result labels of ForwardPasses.
const (
	ResultOK         = "ok"
	ResultWindowFull = "context_window_exceeded"
	ResultInvalid    = "invalid_input"
	ResultFailed     = "error"
)

var (
	ForwardPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gptj_forward_passes_total",
		Help: "Forward passes by result",
	}, []string{"result"})

	TokensEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gptj_tokens_evaluated_total",
		Help: "Tokens appended to a session cache by successful forward passes",
	})

	ForwardPassSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gptj_forward_pass_seconds",
		Help:    "Duration of successful forward passes",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	ContextWindowExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gptj_context_window_exceeded_total",
		Help: "Calls rejected because the batch did not fit in the remaining context",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gptj_sessions_active",
		Help: "Sessions currently held by the server",
	})
)

// ObservePass records one forward pass of n tokens that ended with err.
func ObservePass(n int, elapsed time.Duration, err error) {
	result := Classify(err)
	ForwardPasses.WithLabelValues(result).Inc()
	switch result {
	case ResultOK:
		TokensEvaluated.Add(float64(n))
		ForwardPassSeconds.Observe(elapsed.Seconds())
	case ResultWindowFull:
		ContextWindowExceeded.Inc()
	}
}

// Classify maps an evaluation error to a result label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, kvcache.ErrContextWindowExceeded):
		return ResultWindowFull
	case errors.Is(err, gptj.ErrEmptyInput) || errors.Is(err, gptj.ErrTokenOutOfRange):
		return ResultInvalid
	default:
		return ResultFailed
	}
}
