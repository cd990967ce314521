// Package api serves a loaded model over HTTP. Clients create sessions, feed
// them token ids and read back logits; each session keeps its own key/value
// cache on the server.
package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/inference"
	"github.com/samcharles93/gptj/internal/logger"
	"github.com/samcharles93/gptj/internal/version"
)

// maxTopK bounds the top_k field of evaluate requests.
const maxTopK = 100

type Server struct {
	model   *gptj.Model
	runner  *inference.Runner
	store   *SessionStore
	log     logger.Logger
	clock   func() time.Time
	started time.Time
}

// NewServer serves model. runner.Model must be model or wrap it.
func NewServer(model *gptj.Model, runner *inference.Runner, log logger.Logger) *Server {
	if runner == nil {
		runner = &inference.Runner{Model: model}
	}
	return &Server{
		model:   model,
		runner:  runner,
		store:   NewSessionStore(),
		log:     logger.Component(log, "api"),
		clock:   time.Now,
		started: time.Now(),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/health", s.handleHealth)
	e.GET("/v1/model", s.handleModel)

	e.POST("/v1/sessions", s.handleCreateSession)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession)
	e.POST("/v1/sessions/:id/evaluate", s.handleEvaluate)
	e.POST("/v1/sessions/:id/reset", s.handleReset)

	metricsHandler := promhttp.Handler()
	e.GET("/metrics", func(c *echo.Context) error {
		metricsHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.String(),
	})
}

func (s *Server) handleModel(c *echo.Context) error {
	hp := s.model.Hyperparameters()
	return writeJSON(c, http.StatusOK, ModelResponse{
		NVocab:      hp.NVocab,
		NCtx:        hp.NCtx,
		NEmbd:       hp.NEmbd,
		NHead:       hp.NHead,
		NLayer:      hp.NLayer,
		NRot:        hp.NRot,
		FileType:    hp.FileType.String(),
		ContextSize: s.model.ContextSize(),
		EOT:         s.model.EOT(),
		WeightBytes: s.model.Weights().Bytes(),
		Sessions:    s.store.Len(),
		Uptime:      s.clock().Sub(s.started),
	})
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	rec := s.store.Create(s.model.StartSession(), s.clock())
	s.log.Debug("session created", "id", rec.ID)
	return writeJSON(c, http.StatusCreated, sessionResponse(rec, false))
}

func (s *Server) handleGetSession(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "session not found")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return writeJSON(c, http.StatusOK, sessionResponse(rec, true))
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "session not found")
	}
	s.log.Debug("session deleted", "id", id)
	return writeJSON(c, http.StatusOK, DeleteSessionResponse{ID: id, Deleted: true})
}

func (s *Server) handleReset(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "session not found")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.session.Reset()
	return writeJSON(c, http.StatusOK, sessionResponse(rec, false))
}

func (s *Server) handleEvaluate(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "session not found")
	}
	req, err := decodeJSON[EvaluateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}
	if len(req.Tokens) == 0 {
		return writeBadRequest(c, "tokens must not be empty")
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		return writeBadRequest(c, fmt.Sprintf("top_k must be between 0 and %d", maxTopK))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	sess := rec.session

	// A batch that does not fit is rejected before any of it is evaluated.
	if err := sess.Cache().CheckBounds(sess.NPast(), len(req.Tokens)); err != nil {
		return writeEvalError(c, err)
	}
	nVocab := s.model.Hyperparameters().NVocab
	for i, tok := range req.Tokens {
		if tok < 0 || int(tok) >= nVocab {
			return writeEvalError(c, &gptj.TokenError{Index: i, Token: tok, NVocab: nVocab})
		}
	}

	ctx := c.Request().Context()
	out, stats, err := s.runner.Feed(ctx, sess, req.Tokens, gptj.OutputRequest{
		AllLogits:  req.AllLogits,
		Embeddings: req.Embeddings,
	})
	if err != nil {
		if ctx.Err() != nil {
			s.log.Warn("evaluate interrupted", "id", rec.ID, "n_past", sess.NPast(), "error", err)
		}
		return writeEvalError(c, err)
	}

	resp := EvaluateResponse{
		NPast:      sess.NPast(),
		Logits:     out.Logits,
		Embeddings: out.Embeddings,
		Batches:    stats.Batches,
		ElapsedMS:  float64(stats.Duration.Microseconds()) / 1000,
	}
	if req.AllLogits {
		for lo := 0; lo < len(out.AllLogits); lo += nVocab {
			resp.AllLogits = append(resp.AllLogits, out.AllLogits[lo:lo+nVocab])
		}
	}
	if req.TopK > 0 {
		resp.Top = inference.TopK(out.Logits, req.TopK)
	}
	s.log.Debug("evaluate", "id", rec.ID, "n", len(req.Tokens), "n_past", resp.NPast, "elapsed", stats.Duration)
	return writeJSON(c, http.StatusOK, resp)
}

func sessionResponse(rec *sessionRecord, withTokens bool) SessionResponse {
	resp := SessionResponse{
		ID:        rec.ID,
		NPast:     rec.session.NPast(),
		NCtx:      rec.session.Cache().Capacity(),
		Remaining: rec.session.Remaining(),
		CreatedAt: rec.CreatedAt.Unix(),
	}
	if withTokens {
		resp.Tokens = rec.session.Tokens()
	}
	return resp
}

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(status)
	_, err = res.Write(append(b, '\n'))
	return err
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// Close drops every session.
func (s *Server) Close() {
	s.store.mu.Lock()
	ids := make([]string, 0, len(s.store.sessions))
	for id := range s.store.sessions {
		ids = append(ids, id)
	}
	s.store.mu.Unlock()
	for _, id := range ids {
		s.store.Delete(id)
	}
	s.log.Info("sessions released", "count", len(ids))
}
