package mesh

import "testing"

func TestShouldInitiateExactlyOneSide(t *testing.T) {
	pairs := [][2]string{
		{"aaaaaa", "bbbbbb"},
		{"09af31", "ffffff"},
		{"0", "00"},
		{"abc", "abd"},
	}
	for _, p := range pairs {
		a, b := ShouldInitiate(p[0], p[1]), ShouldInitiate(p[1], p[0])
		if a == b {
			t.Fatalf("pair %q/%q: both sides answered %v", p[0], p[1], a)
		}
		if !ShouldInitiate(min(p[0], p[1]), max(p[0], p[1])) {
			t.Fatalf("pair %q/%q: smaller id did not initiate", p[0], p[1])
		}
	}
}

func TestShouldInitiateSelf(t *testing.T) {
	if ShouldInitiate("abc", "abc") {
		t.Fatal("equal ids must never initiate")
	}
}
