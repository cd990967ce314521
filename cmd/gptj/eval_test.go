package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/gptj/internal/gptj"
)

func TestParseTokens(t *testing.T) {
	t.Parallel()
	got, err := parseTokens(" 1, 50256 ,7,")
	if err != nil {
		t.Fatalf("parseTokens: %v", err)
	}
	if diff := cmp.Diff([]gptj.TokenID{1, 50256, 7}, got); diff != "" {
		t.Fatalf("tokens (-want +got):\n%s", diff)
	}

	for _, in := range []string{"", " , ", "1,x", "99999999999"} {
		if _, err := parseTokens(in); err == nil {
			t.Errorf("parseTokens(%q) succeeded", in)
		}
	}
}
