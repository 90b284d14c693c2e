package roadmap_test

import (
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/mastery"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
	"github.com/p-n-ai/pai-roadmap/internal/roadmap"
)

func TestNodeStatus(t *testing.T) {
	mastered := mastery.ChildProgress{Status: mastery.StatusMastered, Attempts: 1}
	weak := mastery.ChildProgress{Status: mastery.StatusWeak, Attempts: 1}
	fresh := mastery.NewChildProgress("x")

	tests := []struct {
		name     string
		children []mastery.ChildProgress
		want     mastery.Status
	}{
		{"empty", nil, mastery.StatusNotStarted},
		{"untouched", []mastery.ChildProgress{fresh, fresh}, mastery.StatusNotStarted},
		{"one attempted", []mastery.ChildProgress{weak, fresh}, mastery.StatusWeak},
		{"partly mastered", []mastery.ChildProgress{mastered, fresh}, mastery.StatusWeak},
		{"all mastered", []mastery.ChildProgress{mastered, mastered}, mastery.StatusMastered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roadmap.NodeStatus(tt.children); got != tt.want {
				t.Errorf("NodeStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMemoryProgressStore_GetOrInitNeverResets(t *testing.T) {
	store := roadmap.NewMemoryProgressStore()
	tracker := mastery.NewTracker(mastery.DefaultConfig())

	p, err := store.GetOrInit(t.Context(), "s-1", "math", []string{"Algebra", "Geometry", "algebra "})
	if err != nil {
		t.Fatalf("GetOrInit() error = %v", err)
	}
	if len(p.Children) != 2 {
		t.Fatalf("children = %d, want 2 (normalized duplicates collapse)", len(p.Children))
	}
	for _, c := range p.Children {
		if c.Status != mastery.StatusNotStarted || c.MasteryScore != 0 {
			t.Errorf("child %+v should start not_started/0", c)
		}
	}

	_, _, err = store.ApplyOutcome(t.Context(), roadmap.Outcome{
		StudentID: "s-1", NodeKey: "math", ChildName: "Algebra", Correct: 9, Total: 10, At: time.Now(),
	}, roadmap.TrackerScore(tracker))
	if err != nil {
		t.Fatalf("ApplyOutcome() error = %v", err)
	}

	again, err := store.GetOrInit(t.Context(), "s-1", "math", []string{"Algebra", "Geometry"})
	if err != nil {
		t.Fatalf("GetOrInit() again error = %v", err)
	}
	cp, ok := again.Child("ALGEBRA")
	if !ok {
		t.Fatal("Child(ALGEBRA) not found")
	}
	if cp.Status != mastery.StatusMastered || cp.Attempts != 1 {
		t.Errorf("re-init clobbered progress: %+v", cp)
	}
}

func TestMemoryProgressStore_GetNotFound(t *testing.T) {
	store := roadmap.NewMemoryProgressStore()
	_, err := store.Get(t.Context(), "s-1", "math")
	if !apperr.IsNotFound(err) {
		t.Fatalf("Get() error = %v, want NotFoundError", err)
	}
}

func TestMemoryProgressStore_ApplyOutcome(t *testing.T) {
	store := roadmap.NewMemoryProgressStore()
	tracker := mastery.NewTracker(mastery.DefaultConfig())
	score := roadmap.TrackerScore(tracker)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, _, err := store.ApplyOutcome(t.Context(), roadmap.Outcome{StudentID: "s-1", NodeKey: "math", ChildName: "x", Total: 1}, score); !apperr.IsNotFound(err) {
		t.Fatalf("ApplyOutcome() without ledger error = %v, want NotFoundError", err)
	}

	if _, err := store.GetOrInit(t.Context(), "s-1", "math", []string{"Algebra"}); err != nil {
		t.Fatalf("GetOrInit() error = %v", err)
	}

	t.Run("matches normalized name", func(t *testing.T) {
		cp, p, err := store.ApplyOutcome(t.Context(), roadmap.Outcome{
			StudentID: "s-1", NodeKey: "math", ChildName: "  ALGEBRA ", Correct: 3, Total: 10, ElapsedSeconds: 40, At: at,
		}, score)
		if err != nil {
			t.Fatalf("ApplyOutcome() error = %v", err)
		}
		if cp.Name != "Algebra" {
			t.Errorf("Name = %q, want the stored Algebra", cp.Name)
		}
		if cp.Attempts != 1 || cp.CorrectCount != 3 || cp.TotalCount != 10 || cp.TimeSpentSeconds != 40 {
			t.Errorf("counters = %+v", cp)
		}
		if cp.LastAttemptAt == nil || !cp.LastAttemptAt.Equal(at) {
			t.Errorf("LastAttemptAt = %v, want %v", cp.LastAttemptAt, at)
		}
		if p.Status != mastery.StatusWeak {
			t.Errorf("node status = %q, want weak", p.Status)
		}
	})

	t.Run("unknown child is added under submitted name", func(t *testing.T) {
		cp, p, err := store.ApplyOutcome(t.Context(), roadmap.Outcome{
			StudentID: "s-1", NodeKey: "math", ChildName: " Statistics ", Correct: 10, Total: 10, At: at,
		}, score)
		if err != nil {
			t.Fatalf("ApplyOutcome() error = %v", err)
		}
		if cp.Name != "Statistics" || cp.Status != mastery.StatusMastered {
			t.Errorf("added child = %+v", cp)
		}
		if len(p.Children) != 2 {
			t.Errorf("children = %d, want 2", len(p.Children))
		}
	})

	t.Run("node status ignores entries outside the node", func(t *testing.T) {
		_, p, err := store.ApplyOutcome(t.Context(), roadmap.Outcome{
			StudentID: "s-1", NodeKey: "math", ChildName: "algebra", Correct: 10, Total: 10, At: at,
			NodeChildren: []string{"Algebra"},
		}, score)
		if err != nil {
			t.Fatalf("ApplyOutcome() error = %v", err)
		}
		if p.Status != mastery.StatusMastered {
			t.Fatalf("node status = %q, want mastered", p.Status)
		}

		_, p, err = store.ApplyOutcome(t.Context(), roadmap.Outcome{
			StudentID: "s-1", NodeKey: "math", ChildName: "Statistics", Correct: 1, Total: 10, At: at,
			NodeChildren: []string{"Algebra"},
		}, score)
		if err != nil {
			t.Fatalf("ApplyOutcome() error = %v", err)
		}
		if p.Status != mastery.StatusMastered {
			t.Errorf("node status = %q after an attempt outside the node, want mastered", p.Status)
		}
	})
}

func TestMemoryProgressStore_ConcurrentSubmissionsAllCount(t *testing.T) {
	store := roadmap.NewMemoryProgressStore()
	score := roadmap.TrackerScore(mastery.NewTracker(mastery.DefaultConfig()))
	if _, err := store.GetOrInit(t.Context(), "s-1", "math", []string{"Algebra"}); err != nil {
		t.Fatalf("GetOrInit() error = %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.ApplyOutcome(t.Context(), roadmap.Outcome{
				StudentID: "s-1", NodeKey: "math", ChildName: "Algebra", Correct: 1, Total: 2, ElapsedSeconds: 1, At: time.Now(),
			}, score)
			if err != nil {
				t.Errorf("ApplyOutcome() error = %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := store.Get(t.Context(), "s-1", "math")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	cp, _ := p.Child("Algebra")
	if cp.Attempts != n || cp.CorrectCount != n || cp.TotalCount != 2*n || cp.TimeSpentSeconds != n {
		t.Errorf("lost updates: %+v", cp)
	}
}
