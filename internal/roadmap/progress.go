package roadmap

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/mastery"
	"github.com/p-n-ai/pai-roadmap/internal/nodekey"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
)

// Progress is a learner's ledger for one node.
type Progress struct {
	StudentID string                  `json:"student_id"`
	NodeKey   string                  `json:"node_key"`
	Status    mastery.Status          `json:"status"`
	Children  []mastery.ChildProgress `json:"children"`
}

func (p *Progress) clone() *Progress {
	c := *p
	c.Children = slices.Clone(p.Children)
	return &c
}

// Child returns the entry matching name (normalized), if any.
func (p *Progress) Child(name string) (mastery.ChildProgress, bool) {
	i := mastery.Find(p.Children, name)
	if i < 0 {
		return mastery.ChildProgress{}, false
	}
	return p.Children[i], true
}

// NodeStatus summarizes the children: mastered when all are mastered, weak
// once any has been attempted, otherwise not started.
func NodeStatus(children []mastery.ChildProgress) mastery.Status {
	if len(children) == 0 {
		return mastery.StatusNotStarted
	}
	all, attempted := true, false
	for _, c := range children {
		if c.Status != mastery.StatusMastered {
			all = false
		}
		if c.Attempts > 0 {
			attempted = true
		}
	}
	switch {
	case all:
		return mastery.StatusMastered
	case attempted:
		return mastery.StatusWeak
	default:
		return mastery.StatusNotStarted
	}
}

// scopedStatus is NodeStatus over the entries named in scope, treating a
// missing one as not started. An empty scope covers the whole ledger.
func scopedStatus(children []mastery.ChildProgress, scope []string) mastery.Status {
	if len(scope) == 0 {
		return NodeStatus(children)
	}
	own := make([]mastery.ChildProgress, 0, len(scope))
	for _, name := range scope {
		if i := mastery.Find(children, name); i >= 0 {
			own = append(own, children[i])
		} else {
			own = append(own, mastery.NewChildProgress(name))
		}
	}
	return NodeStatus(own)
}

// Outcome is one graded attempt on a child.
type Outcome struct {
	StudentID      string
	NodeKey        string
	ChildName      string
	Correct        int
	Total          int
	ElapsedSeconds int
	At             time.Time
	// NodeChildren are the node's child names.
	NodeChildren []string
}

// ScoreFunc folds an outcome into a child entry. It runs inside the
// store's atomic section and must not block.
type ScoreFunc func(cp *mastery.ChildProgress, o Outcome) mastery.Result

// TrackerScore returns a ScoreFunc backed by t.
func TrackerScore(t *mastery.Tracker) ScoreFunc {
	return func(cp *mastery.ChildProgress, o Outcome) mastery.Result {
		return t.Apply(cp, o.Correct, o.Total, o.ElapsedSeconds, o.At)
	}
}

// ProgressStore persists learner ledgers.
type ProgressStore interface {
	// GetOrInit returns the ledger, creating it with every child not
	// started if absent. An existing ledger is never reset.
	GetOrInit(ctx context.Context, studentID, nodeKey string, children []string) (*Progress, error)
	// Get returns the ledger or a NotFoundError.
	Get(ctx context.Context, studentID, nodeKey string) (*Progress, error)
	// ApplyOutcome atomically scores one attempt. A child not yet in the
	// ledger is added under the submitted name. The node status covers
	// Outcome.NodeChildren when set.
	ApplyOutcome(ctx context.Context, o Outcome, score ScoreFunc) (mastery.ChildProgress, *Progress, error)
}

func progressNotFound(studentID, nodeKey string) *apperr.NotFoundError {
	return &apperr.NotFoundError{
		Resource: "progress",
		ID:       studentID + " @ " + nodekey.Readable(nodeKey),
		Hint:     "fetch the node first",
	}
}

func childNotFound(name, nodeKey string) *apperr.NotFoundError {
	return &apperr.NotFoundError{
		Resource: "child",
		ID:       name + " @ " + nodekey.Readable(nodeKey),
		Hint:     "submit one of the node's children",
	}
}

type progressKey struct {
	studentID string
	nodeKey   string
}

// MemoryProgressStore is an in-memory ProgressStore. ApplyOutcome holds the
// store mutex for the whole read-modify-write.
type MemoryProgressStore struct {
	ledgers map[progressKey]*Progress
	mu      sync.RWMutex
}

// NewMemoryProgressStore creates an empty in-memory progress store.
func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{
		ledgers: make(map[progressKey]*Progress),
	}
}

func (s *MemoryProgressStore) GetOrInit(_ context.Context, studentID, nodeKey string, children []string) (*Progress, error) {
	k := progressKey{studentID, nodeKey}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.ledgers[k]; ok {
		return p.clone(), nil
	}

	p := &Progress{
		StudentID: studentID,
		NodeKey:   nodeKey,
		Status:    mastery.StatusNotStarted,
		Children:  make([]mastery.ChildProgress, 0, len(children)),
	}
	for _, name := range children {
		if mastery.Find(p.Children, name) >= 0 {
			continue
		}
		p.Children = append(p.Children, mastery.NewChildProgress(name))
	}
	s.ledgers[k] = p
	return p.clone(), nil
}

func (s *MemoryProgressStore) Get(_ context.Context, studentID, nodeKey string) (*Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.ledgers[progressKey{studentID, nodeKey}]
	if !ok {
		return nil, progressNotFound(studentID, nodeKey)
	}
	return p.clone(), nil
}

func (s *MemoryProgressStore) ApplyOutcome(_ context.Context, o Outcome, score ScoreFunc) (mastery.ChildProgress, *Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.ledgers[progressKey{o.StudentID, o.NodeKey}]
	if !ok {
		return mastery.ChildProgress{}, nil, progressNotFound(o.StudentID, o.NodeKey)
	}

	i := mastery.Find(p.Children, o.ChildName)
	if i < 0 {
		p.Children = append(p.Children, mastery.NewChildProgress(strings.TrimSpace(o.ChildName)))
		i = len(p.Children) - 1
	}
	score(&p.Children[i], o)
	p.Status = scopedStatus(p.Children, o.NodeChildren)

	return p.Children[i], p.clone(), nil
}
