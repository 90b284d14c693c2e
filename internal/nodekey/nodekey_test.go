package nodekey_test

import (
	"slices"
	"testing"

	"github.com/p-n-ai/pai-roadmap/internal/nodekey"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name      string
		subjectID string
		path      []string
		want      string
	}{
		{"root", "sub-1", nil, "sub-1"},
		{"empty path", "sub-1", []string{}, "sub-1"},
		{"one segment", "sub-1", []string{"Algebra"}, "sub-1\x01Algebra"},
		{"trims", "sub-1", []string{"  Algebra ", "Linear Equations\t"}, "sub-1\x01Algebra\x01Linear Equations"},
		{"replaces delimiter", "sub-1", []string{"a\x01b"}, "sub-1\x01a_b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nodekey.Build(tt.subjectID, tt.path); got != tt.want {
				t.Errorf("Build() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	path := []string{"Algebra", "Factorisation"}
	if nodekey.Build("s", path) != nodekey.Build("s", slices.Clone(path)) {
		t.Error("Build() should be deterministic")
	}
}

func TestBuild_NoCollisions(t *testing.T) {
	// Paths that would collide under naive concatenation.
	paths := [][]string{
		{"ab", "c"},
		{"a", "bc"},
		{"abc"},
		{"a b", "c"},
		{"a", "b", "c"},
		{"a", "b c"},
	}

	seen := make(map[string][]string)
	for _, p := range paths {
		key := nodekey.Build("s", p)
		if prev, ok := seen[key]; ok {
			t.Fatalf("Build() collision: %v and %v both map to %q", prev, p, key)
		}
		seen[key] = p
	}

	if nodekey.Build("s", []string{"x"}) == nodekey.Build("s2", nil) {
		t.Error("different subjects should not collide")
	}
}

func TestSplit_RoundTrip(t *testing.T) {
	path := []string{"Algebra", "Linear Equations", "Two-step"}
	subject, got := nodekey.Split(nodekey.Build("sub-9", path))
	if subject != "sub-9" {
		t.Errorf("subject = %q, want sub-9", subject)
	}
	if !slices.Equal(got, path) {
		t.Errorf("path = %v, want %v", got, path)
	}

	subject, got = nodekey.Split("sub-9")
	if subject != "sub-9" || got != nil {
		t.Errorf("Split(root) = %q, %v", subject, got)
	}
}

func TestReadable(t *testing.T) {
	if got := nodekey.Readable(nodekey.Build("math", []string{"Algebra", "Graphs"})); got != "math > Algebra > Graphs" {
		t.Errorf("Readable() = %q", got)
	}
}
