// Package vocab holds the token table stored alongside model weights.
package vocab

// TokenID indexes a Vocabulary.
type TokenID = int32

// EndOfText is the literal GPT-2 family end-of-sequence token.
const EndOfText = "<|endoftext|>"

// Vocabulary maps token ids to their byte strings and back.
type Vocabulary struct {
	tokens    [][]byte
	scores    []float32
	ids       map[string]TokenID
	maxLength int
}

func New(capacity int) *Vocabulary {
	return &Vocabulary{
		tokens: make([][]byte, 0, capacity),
		scores: make([]float32, 0, capacity),
		ids:    make(map[string]TokenID, capacity),
	}
}

// Push appends a token and returns its id. When the same bytes appear more
// than once, lookups resolve to the first id.
func (v *Vocabulary) Push(token []byte, score float32) TokenID {
	id := TokenID(len(v.tokens))
	v.tokens = append(v.tokens, token)
	v.scores = append(v.scores, score)
	if _, ok := v.ids[string(token)]; !ok {
		v.ids[string(token)] = id
	}
	v.maxLength = max(v.maxLength, len(token))
	return id
}

func (v *Vocabulary) Len() int { return len(v.tokens) }

// MaxTokenLength is the byte length of the longest token.
func (v *Vocabulary) MaxTokenLength() int { return v.maxLength }

func (v *Vocabulary) ID(token string) (TokenID, bool) {
	id, ok := v.ids[token]
	return id, ok
}

func (v *Vocabulary) Token(id TokenID) ([]byte, bool) {
	if id < 0 || int(id) >= len(v.tokens) {
		return nil, false
	}
	return v.tokens[id], true
}

func (v *Vocabulary) Score(id TokenID) float32 {
	if id < 0 || int(id) >= len(v.scores) {
		return 0
	}
	return v.scores[id]
}
