package peerid

import "testing"

func TestGenerateHasFixedPrefix(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(id[:len(prefix)]) != prefix {
		t.Fatalf("prefix = %q, want %q", id[:len(prefix)], prefix)
	}
}

func TestGenerateIsRandomized(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a == b {
		t.Fatalf("two calls to Generate produced identical ids")
	}
}
