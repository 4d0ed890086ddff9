package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestGenerate_Shape(t *testing.T) {
	pattern := regexp.MustCompile(`^ws-[a-zA-Z0-9]{10}$`)
	for i := 0; i < 100; i++ {
		id, err := Generate(PrefixWebSocket)
		if err != nil {
			t.Fatalf("Generate() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("Generate() = %q, does not match %s", id, pattern)
		}
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := Generate(PrefixSSE)
		if err != nil {
			t.Fatalf("Generate() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenerate_EmptyPrefix(t *testing.T) {
	id, err := Generate("")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(id) != Length || strings.Contains(id, "-") {
		t.Errorf("Generate(\"\") = %q, want %d bare characters", id, Length)
	}
}
