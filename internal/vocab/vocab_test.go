package vocab

import "testing"

func TestPushAndLookup(t *testing.T) {
	t.Parallel()
	v := New(4)
	a := v.Push([]byte("a"), 0.5)
	bc := v.Push([]byte("bc"), -1)
	dup := v.Push([]byte("a"), 2)
	eot := v.Push([]byte(EndOfText), 0)

	if a != 0 || bc != 1 || dup != 2 || eot != 3 {
		t.Fatalf("ids: got %d %d %d %d", a, bc, dup, eot)
	}
	if v.Len() != 4 {
		t.Fatalf("Len: got %d want 4", v.Len())
	}
	if id, ok := v.ID("a"); !ok || id != 0 {
		t.Fatalf("ID(a): got %d,%v want first occurrence 0", id, ok)
	}
	if id, ok := v.ID(EndOfText); !ok || id != eot {
		t.Fatalf("ID(eot): got %d,%v", id, ok)
	}
	if _, ok := v.ID("missing"); ok {
		t.Fatal("ID(missing) reported found")
	}
	if tok, ok := v.Token(bc); !ok || string(tok) != "bc" {
		t.Fatalf("Token(1): got %q,%v", tok, ok)
	}
	if _, ok := v.Token(4); ok {
		t.Fatal("Token(4) out of range reported found")
	}
	if got := v.Score(dup); got != 2 {
		t.Fatalf("Score(2): got %v want 2", got)
	}
	if got := v.MaxTokenLength(); got != len(EndOfText) {
		t.Fatalf("MaxTokenLength: got %d want %d", got, len(EndOfText))
	}
}
