package username

import (
	"math/rand/v2"
	"strings"
	"testing"
)

func TestGenerator_NamesAreValid(t *testing.T) {
	g := NewGenerator(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		name := g.Next()
		if err := Validate(name); err != nil {
			t.Fatalf("Next()=%q: %v", name, err)
		}
		if strings.Count(string(name), "-") != 2 {
			t.Fatalf("Next()=%q, want adjective-noun-number", name)
		}
	}
}

func TestGenerator_SeededIsDeterministic(t *testing.T) {
	a := NewGenerator(rand.NewPCG(7, 7))
	b := NewGenerator(rand.NewPCG(7, 7))
	for i := 0; i < 10; i++ {
		if x, y := a.Next(), b.Next(); x != y {
			t.Fatalf("round %d: %q != %q", i, x, y)
		}
	}
}

func TestWordLists_FitLengthBounds(t *testing.T) {
	longest := func(words []string) int {
		n := 0
		for _, w := range words {
			n = max(n, len(w))
		}
		return n
	}
	if n := longest(adjectives) + longest(nouns) + len("--9999"); n > MaxBytes {
		t.Fatalf("longest candidate is %d bytes, limit %d", n, MaxBytes)
	}
}
