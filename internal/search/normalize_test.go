package search

import "testing"

func TestNormalizedTitleKeyCollapsesCaseAndPunctuation(t *testing.T) {
	cases := []struct{ a, b string }{
		{"Attack on Titan", "attack on titan"},
		{"Attack on Titan!", "Attack, on... Titan"},
		{"The Attack on Titan", "Attack on Titan"},
		{"Fullmetal  Alchemist", "Fullmetal Alchemist"},
	}
	for _, c := range cases {
		ka, kb := NormalizedTitleKey(c.a), NormalizedTitleKey(c.b)
		if ka != kb {
			t.Fatalf("expected %q and %q to normalize to the same key, got %q vs %q", c.a, c.b, ka, kb)
		}
	}
}

func TestNormalizedTitleKeyDistinguishesDifferentTitles(t *testing.T) {
	if NormalizedTitleKey("Attack on Titan") == NormalizedTitleKey("Death Note") {
		t.Fatalf("expected distinct titles to produce distinct keys")
	}
}

func TestNormalizedTitleKeyEmpty(t *testing.T) {
	if got := NormalizedTitleKey(""); got != "" {
		t.Fatalf("expected empty key for empty input, got %q", got)
	}
}
