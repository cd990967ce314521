package api

import (
	"time"

	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/inference"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ModelResponse struct {
	NVocab      int           `json:"n_vocab"`
	NCtx        int           `json:"n_ctx"`
	NEmbd       int           `json:"n_embd"`
	NHead       int           `json:"n_head"`
	NLayer      int           `json:"n_layer"`
	NRot        int           `json:"n_rot"`
	FileType    string        `json:"file_type"`
	ContextSize int           `json:"context_size"`
	EOT         gptj.TokenID  `json:"eot"`
	WeightBytes int           `json:"weight_bytes"`
	Sessions    int           `json:"sessions"`
	Uptime      time.Duration `json:"uptime_ns"`
}

type SessionResponse struct {
	ID        string         `json:"id"`
	NPast     int            `json:"n_past"`
	NCtx      int            `json:"n_ctx"`
	Remaining int            `json:"remaining"`
	Tokens    []gptj.TokenID `json:"tokens,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

type EvaluateRequest struct {
	Tokens     []gptj.TokenID `json:"tokens"`
	Embeddings bool           `json:"embeddings,omitempty"`
	AllLogits  bool           `json:"all_logits,omitempty"`
	TopK       int            `json:"top_k,omitempty"`
}

type EvaluateResponse struct {
	NPast      int                   `json:"n_past"`
	Logits     []float32             `json:"logits"`
	Embeddings []float32             `json:"embeddings,omitempty"`
	AllLogits  [][]float32           `json:"all_logits,omitempty"`
	Top        []inference.Candidate `json:"top,omitempty"`
	Batches    int                   `json:"batches"`
	ElapsedMS  float64               `json:"elapsed_ms"`
}

type DeleteSessionResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type ResponseError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ResponseError `json:"error"`
}
