package gptj

import (
	"slices"

	"github.com/samcharles93/gptj/internal/kvcache"
)

// Session is the decoding state of one token stream: the position reached so
// far, the key/value cache and the outputs of the latest step. A Session must
// not be used from more than one goroutine at a time.
type Session struct {
	model       *Model
	cache       *kvcache.Cache
	nPast       int
	tokens      []TokenID
	lastLogits  []float32
	memPerToken int
}

// NPast is the number of tokens already stored in the cache.
func (s *Session) NPast() int { return s.nPast }

// Remaining is the number of tokens that still fit in the context window.
func (s *Session) Remaining() int { return s.cache.Capacity() - s.nPast }

// Tokens returns the tokens evaluated so far.
func (s *Session) Tokens() []TokenID { return slices.Clone(s.tokens) }

// LastLogits returns the logits of the most recent position, or nil before
// the first evaluation.
func (s *Session) LastLogits() []float32 { return slices.Clone(s.lastLogits) }

// Cache exposes the session's key/value memory.
func (s *Session) Cache() *kvcache.Cache { return s.cache }

// Reset rewinds the session to an empty context and clears the cache.
func (s *Session) Reset() {
	s.cache.Reset()
	s.nPast = 0
	s.tokens = s.tokens[:0]
	s.lastLogits = nil
}
