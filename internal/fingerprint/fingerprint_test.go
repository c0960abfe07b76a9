package fingerprint

import (
	"strings"
	"testing"
)

func TestNormalizeFoldsCasePunctuationWhitespace(t *testing.T) {
	got := Normalize("Hello,   WORLD!  It's   fine.\n\nNew line?")
	want := "hello world it s fine new line"
	if got != want {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestComputeDeterministic(t *testing.T) {
	raw := []byte("The quick brown fox jumps over the lazy dog again and again.")
	a := Compute(raw, string(raw), 5)
	b := Compute(raw, string(raw), 5)
	if a.ContentHash != b.ContentHash {
		t.Fatalf("content hash not deterministic")
	}
	if len(a.Shingles) != len(b.Shingles) {
		t.Fatalf("shingle counts differ: %d vs %d", len(a.Shingles), len(b.Shingles))
	}
	for k := range a.Shingles {
		if _, ok := b.Shingles[k]; !ok {
			t.Fatalf("shingle missing in second run")
		}
	}
}

func TestShinglesCount(t *testing.T) {
	text := "one two three four five six seven"
	got := Shingles(text, 5)
	if len(got) != 3 {
		t.Fatalf("expected 3 shingles, got %d", len(got))
	}
}

func TestShinglesShortText(t *testing.T) {
	if got := Shingles("too short", 5); len(got) != 0 {
		t.Fatalf("expected empty set for short text, got %d", len(got))
	}
}

func TestShinglesIgnoreCaseAndPunctuation(t *testing.T) {
	a := Shingles("The Quick, Brown Fox; Jumps!", 3)
	b := Shingles("the quick brown fox jumps", 3)
	if len(a) != len(b) {
		t.Fatalf("shingle counts differ: %d vs %d", len(a), len(b))
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			t.Fatalf("normalization should make shingle sets identical")
		}
	}
}

func TestJaccardIdentical(t *testing.T) {
	s := Shingles(strings.Repeat("alpha beta gamma delta epsilon ", 10), 5)
	if got := Jaccard(s, s); got != 1.0 {
		t.Fatalf("expected 1.0 for identical sets, got %f", got)
	}
}

func TestJaccardDisjoint(t *testing.T) {
	a := Shingles("one two three four five six", 5)
	b := Shingles("seven eight nine ten eleven twelve", 5)
	if got := Jaccard(a, b); got != 0 {
		t.Fatalf("expected 0 for disjoint sets, got %f", got)
	}
}

func TestSmallEditChangesBoundedShingleFraction(t *testing.T) {
	words := make([]string, 200)
	for i := range words {
		words[i] = "w" + string(rune('a'+i%26)) + string(rune('a'+(i/26)%26))
	}
	original := strings.Join(words, " ")

	edited := make([]string, len(words))
	copy(edited, words)
	edited[100] = "changed"

	a := Shingles(original, 5)
	b := Shingles(strings.Join(edited, " "), 5)
	sim := Jaccard(a, b)
	if sim < 0.9 {
		t.Fatalf("single-word edit should keep similarity high, got %f", sim)
	}
	if sim == 1.0 {
		t.Fatalf("edit must change at least one shingle")
	}
}
