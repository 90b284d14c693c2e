package roadmap_test

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/mastery"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
	"github.com/p-n-ai/pai-roadmap/internal/platform/database/dbtest"
	"github.com/p-n-ai/pai-roadmap/internal/roadmap"
)

func TestPostgresStores(t *testing.T) {
	pool := dbtest.Pool(t)

	nodes, err := roadmap.NewPostgresNodeStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresNodeStore() error = %v", err)
	}
	progress, err := roadmap.NewPostgresProgressStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresProgressStore() error = %v", err)
	}

	t.Run("node create is first-writer-wins", func(t *testing.T) {
		first := &roadmap.Node{NodeKey: "pg-math", SubjectID: "math", SubjectName: "Mathematics", Name: "Mathematics",
			Children: []roadmap.Child{{Name: "Algebra"}, {Name: "Geometry"}}}
		if err := nodes.CreateNode(t.Context(), first); err != nil {
			t.Fatalf("CreateNode() error = %v", err)
		}
		if first.CreatedAt.IsZero() {
			t.Error("CreatedAt should be filled from the database")
		}

		second := &roadmap.Node{NodeKey: "pg-math", SubjectID: "math", Name: "Mathematics",
			Children: []roadmap.Child{{Name: "Other"}}}
		if err := nodes.CreateNode(t.Context(), second); !roadmap.IsNodeExists(err) {
			t.Fatalf("second CreateNode() error = %v, want ErrNodeExists", err)
		}

		got, err := nodes.GetNode(t.Context(), "pg-math")
		if err != nil {
			t.Fatalf("GetNode() error = %v", err)
		}
		if !slices.Equal(got.ChildNames(), []string{"Algebra", "Geometry"}) {
			t.Errorf("children = %q, want the first writer's", got.ChildNames())
		}
		if _, err := nodes.GetNode(t.Context(), "pg-missing"); !apperr.IsNotFound(err) {
			t.Errorf("GetNode(missing) error = %v, want NotFoundError", err)
		}
	})

	t.Run("progress init then concurrent submissions", func(t *testing.T) {
		p, err := progress.GetOrInit(t.Context(), "s-1", "pg-math", []string{"Algebra", "Geometry"})
		if err != nil {
			t.Fatalf("GetOrInit() error = %v", err)
		}
		if len(p.Children) != 2 || p.Children[0].Name != "Algebra" || p.Status != mastery.StatusNotStarted {
			t.Fatalf("initial progress = %+v", p)
		}

		score := roadmap.TrackerScore(mastery.NewTracker(mastery.DefaultConfig()))
		const n = 20
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := progress.ApplyOutcome(t.Context(), roadmap.Outcome{
					StudentID: "s-1", NodeKey: "pg-math", ChildName: "algebra",
					Correct: 1, Total: 2, ElapsedSeconds: 3, At: time.Now(),
				}, score)
				if err != nil {
					t.Errorf("ApplyOutcome() error = %v", err)
				}
			}()
		}
		wg.Wait()

		p, err = progress.Get(t.Context(), "s-1", "pg-math")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		cp, ok := p.Child("Algebra")
		if !ok {
			t.Fatal("Algebra missing")
		}
		if cp.Attempts != n || cp.CorrectCount != n || cp.TotalCount != 2*n || cp.TimeSpentSeconds != 3*n {
			t.Errorf("lost updates: %+v", cp)
		}
		if p.Status != mastery.StatusWeak {
			t.Errorf("node status = %q, want weak", p.Status)
		}

		again, err := progress.GetOrInit(t.Context(), "s-1", "pg-math", []string{"Algebra", "Geometry"})
		if err != nil {
			t.Fatalf("GetOrInit() again error = %v", err)
		}
		if c, _ := again.Child("Algebra"); c.Attempts != n {
			t.Errorf("re-init reset attempts to %d", c.Attempts)
		}
	})

	t.Run("unknown child appended", func(t *testing.T) {
		score := roadmap.TrackerScore(mastery.NewTracker(mastery.DefaultConfig()))
		cp, p, err := progress.ApplyOutcome(t.Context(), roadmap.Outcome{
			StudentID: "s-1", NodeKey: "pg-math", ChildName: " Statistics ", Correct: 9, Total: 10, At: time.Now(),
			NodeChildren: []string{"Algebra", "Geometry"},
		}, score)
		if err != nil {
			t.Fatalf("ApplyOutcome() error = %v", err)
		}
		if cp.Name != "Statistics" || cp.Status != mastery.StatusMastered || cp.MasteryScore != 1 {
			t.Errorf("child = %+v", cp)
		}
		if len(p.Children) != 3 || p.Children[2].Name != "Statistics" {
			t.Errorf("children = %+v", p.Children)
		}
		if p.Status != mastery.StatusWeak {
			t.Errorf("node status = %q, want weak while Geometry is unmastered", p.Status)
		}
	})

	t.Run("missing ledger", func(t *testing.T) {
		_, err := progress.Get(t.Context(), "nobody", "pg-math")
		if !apperr.IsNotFound(err) {
			t.Errorf("Get() error = %v, want NotFoundError", err)
		}
		score := roadmap.TrackerScore(mastery.NewTracker(mastery.DefaultConfig()))
		_, _, err = progress.ApplyOutcome(t.Context(), roadmap.Outcome{
			StudentID: "nobody", NodeKey: "pg-math", ChildName: "Algebra", Correct: 1, Total: 1, At: time.Now(),
		}, score)
		if !apperr.IsNotFound(err) {
			t.Errorf("ApplyOutcome() error = %v, want NotFoundError", err)
		}
	})
}
