package roadmap_test

import (
	"testing"

	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
	"github.com/p-n-ai/pai-roadmap/internal/platform/cache"
	"github.com/p-n-ai/pai-roadmap/internal/platform/metrics"
	"github.com/p-n-ai/pai-roadmap/internal/roadmap"
)

func TestCachedNodeStore_FallsThroughWhenCacheDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	c, err := cache.Dial("redis://localhost:59999")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	inner := roadmap.NewMemoryNodeStore()
	store := roadmap.NewCachedNodeStore(inner, c, 0, metrics.New())

	node := &roadmap.Node{NodeKey: "math", SubjectID: "math", Name: "Mathematics", Children: []roadmap.Child{{Name: "Algebra"}}}
	if err := store.CreateNode(t.Context(), node); err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}
	got, err := store.GetNode(t.Context(), "math")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if got.Name != "Mathematics" {
		t.Errorf("Name = %q", got.Name)
	}

	if err := store.CreateNode(t.Context(), node); !roadmap.IsNodeExists(err) {
		t.Errorf("duplicate CreateNode() error = %v, want ErrNodeExists", err)
	}
	if _, err := store.GetNode(t.Context(), "missing"); !apperr.IsNotFound(err) {
		t.Errorf("GetNode(missing) error = %v, want NotFoundError", err)
	}
}
