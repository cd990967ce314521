package inference

import (
	"cmp"
	"slices"

	"github.com/samcharles93/gptj/internal/gptj"
)

// Candidate is one entry of a TopK result.
type Candidate struct {
	Token gptj.TokenID `json:"token"`
	Logit float32      `json:"logit"`
}

// TopK returns the k largest logits in descending order. Ties go to the lower
// token id. It is an inspection helper and performs no sampling.
func TopK(logits []float32, k int) []Candidate {
	k = min(k, len(logits))
	if k <= 0 {
		return nil
	}
	all := make([]Candidate, len(logits))
	for i, v := range logits {
		all[i] = Candidate{Token: gptj.TokenID(i), Logit: v}
	}
	slices.SortStableFunc(all, func(a, b Candidate) int {
		return cmp.Compare(b.Logit, a.Logit)
	})
	return slices.Clip(all[:k])
}
