package roadmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/activity"
	"github.com/p-n-ai/pai-roadmap/internal/curriculum"
	"github.com/p-n-ai/pai-roadmap/internal/mastery"
	"github.com/p-n-ai/pai-roadmap/internal/nodekey"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
	"github.com/p-n-ai/pai-roadmap/internal/platform/metrics"
)

// SubjectLookup resolves subject IDs.
type SubjectLookup interface {
	Subject(id string) (curriculum.Subject, bool)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Subjects   SubjectLookup
	Curriculum *Curriculum
	Progress   ProgressStore
	Tracker    *mastery.Tracker
	Events     activity.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Service serves roadmap nodes and grades child quizzes.
type Service struct {
	subjects   SubjectLookup
	curriculum *Curriculum
	progress   ProgressStore
	tracker    *mastery.Tracker
	events     activity.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates a Service. Nil stores fall back to memory and a nil
// Tracker to the default thresholds.
func NewService(cfg ServiceConfig) *Service {
	cur := cfg.Curriculum
	if cur == nil {
		cur = NewCurriculum(CurriculumConfig{})
	}
	progress := cfg.Progress
	if progress == nil {
		progress = NewMemoryProgressStore()
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = mastery.NewTracker(mastery.DefaultConfig())
	}
	events := cfg.Events
	if events == nil {
		events = activity.NopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		subjects:   cfg.Subjects,
		curriculum: cur,
		progress:   progress,
		tracker:    tracker,
		events:     events,
		metrics:    cfg.Metrics,
		now:        now,
	}
}

// NodeView is a node as seen by one learner.
type NodeView struct {
	Node   *Node          `json:"node"`
	Status mastery.Status `json:"status"`
	// Children pairs every node child, in order, with the learner's entry.
	Children []mastery.ChildProgress `json:"children"`
	// Remaining are the children still offered for study, in order.
	Remaining []mastery.ChildProgress `json:"remaining"`
	Next      *mastery.ChildProgress  `json:"next"`
	Completed bool                    `json:"completed"`
}

// GetNode returns the node at path for the learner, generating it on first
// request and initializing the learner's ledger on first visit.
func (s *Service) GetNode(ctx context.Context, studentID, subjectID string, path []string) (*NodeView, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, apperr.Invalid("student_id", "is required")
	}
	subject, ok := s.lookupSubject(subjectID)
	if !ok {
		return nil, apperr.NotFound("subject", subjectID)
	}

	req := NodeRequest{
		SubjectID:   subject.ID,
		SubjectName: subject.Name,
		Path:        path,
		StudentID:   studentID,
	}
	node, err := retryRead(ctx, "get or create node", func() (*Node, error) {
		return s.curriculum.GetOrCreateNode(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	progress, err := retryRead(ctx, "get or init progress", func() (*Progress, error) {
		return s.progress.GetOrInit(ctx, studentID, node.NodeKey, node.ChildNames())
	})
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	view := &NodeView{
		Node:      node,
		Status:    progress.Status,
		Children:  make([]mastery.ChildProgress, 0, len(node.Children)),
		Remaining: []mastery.ChildProgress{},
	}
	for _, child := range node.Children {
		cp, ok := progress.Child(child.Name)
		if !ok {
			cp = mastery.NewChildProgress(child.Name)
		}
		view.Children = append(view.Children, cp)
		if s.tracker.NeedsStudy(cp.Status, cp.MasteryScore) {
			view.Remaining = append(view.Remaining, cp)
		}
	}
	if len(view.Remaining) > 0 {
		next := view.Remaining[0]
		view.Next = &next
	}
	view.Completed = len(view.Remaining) == 0
	return view, nil
}

// ChildSubmission is a graded quiz on one child of a node.
type ChildSubmission struct {
	StudentID      string
	NodeKey        string
	ChildName      string
	Correct        int
	Total          int
	ElapsedSeconds int
}

func (sub ChildSubmission) validate() error {
	switch {
	case strings.TrimSpace(sub.StudentID) == "":
		return apperr.Invalid("student_id", "is required")
	case strings.TrimSpace(sub.NodeKey) == "":
		return apperr.Invalid("node_key", "is required")
	case strings.TrimSpace(sub.ChildName) == "":
		return apperr.Invalid("child_name", "is required")
	case sub.Total <= 0:
		return apperr.Invalid("total", "must be positive, got %d", sub.Total)
	case sub.Correct < 0 || sub.Correct > sub.Total:
		return apperr.Invalid("correct", "must be between 0 and %d, got %d", sub.Total, sub.Correct)
	case sub.ElapsedSeconds < 0:
		return apperr.Invalid("elapsed_seconds", "must not be negative, got %d", sub.ElapsedSeconds)
	}
	return nil
}

// SubmissionResult reports the learner's standing after a submission.
type SubmissionResult struct {
	ScorePercent int                    `json:"score_percent"`
	Status       mastery.Status         `json:"status"`
	Mastery      float64                `json:"mastery"`
	Attempts     int                    `json:"attempts"`
	Next         *mastery.ChildProgress `json:"next"`
	Completed    bool                   `json:"completed"`
}

// SubmitChildQuiz records an attempt on a child. Every call counts as a
// new attempt; the write is never retried.
func (s *Service) SubmitChildQuiz(ctx context.Context, sub ChildSubmission) (*SubmissionResult, error) {
	if err := sub.validate(); err != nil {
		return nil, err
	}

	node, err := retryRead(ctx, "get node", func() (*Node, error) {
		return s.curriculum.Store().GetNode(ctx, sub.NodeKey)
	})
	if apperr.IsNotFound(err) {
		nf := nodeNotFound(sub.NodeKey)
		nf.Hint = "fetch the node first"
		return nil, nf
	}
	if err != nil {
		return nil, fmt.Errorf("load node: %w", err)
	}

	if !node.HasChild(sub.ChildName) {
		return nil, childNotFound(strings.TrimSpace(sub.ChildName), node.NodeKey)
	}

	outcome := Outcome{
		StudentID:      sub.StudentID,
		NodeKey:        node.NodeKey,
		ChildName:      sub.ChildName,
		Correct:        sub.Correct,
		Total:          sub.Total,
		ElapsedSeconds: sub.ElapsedSeconds,
		At:             s.now(),
		NodeChildren:   node.ChildNames(),
	}
	child, progress, err := s.progress.ApplyOutcome(ctx, outcome, TrackerScore(s.tracker))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("apply outcome: %w", err)
	}

	result := &SubmissionResult{
		ScorePercent: mastery.ScorePercent(sub.Correct, sub.Total),
		Status:       child.Status,
		Mastery:      child.MasteryScore,
		Attempts:     child.Attempts,
	}
	for _, c := range node.Children {
		cp, ok := progress.Child(c.Name)
		if !ok {
			cp = mastery.NewChildProgress(c.Name)
		}
		if cp.Status != mastery.StatusMastered {
			result.Next = &cp
			break
		}
	}
	result.Completed = result.Next == nil

	s.metrics.Submission("node", string(child.Status))
	slog.Info("node quiz graded",
		"student_id", sub.StudentID,
		"node_key", nodekey.Readable(node.NodeKey),
		"child", child.Name,
		"score", result.ScorePercent,
		"status", child.Status,
		"attempts", child.Attempts,
	)
	activity.Record(ctx, s.events, activity.Event{
		StudentID: sub.StudentID,
		SubjectID: node.SubjectID,
		NodeKey:   node.NodeKey,
		Type:      activity.NodeQuizAttempt,
		Data: map[string]any{
			"child":           child.Name,
			"score":           result.ScorePercent,
			"correct":         sub.Correct,
			"total":           sub.Total,
			"mastery":         child.MasteryScore,
			"status":          string(child.Status),
			"attempt_number":  child.Attempts,
			"elapsed_seconds": sub.ElapsedSeconds,
		},
	})
	return result, nil
}

func (s *Service) lookupSubject(id string) (curriculum.Subject, bool) {
	if s.subjects == nil || strings.TrimSpace(id) == "" {
		return curriculum.Subject{}, false
	}
	return s.subjects.Subject(id)
}

// retryRead retries fn once on a transient store error. Only idempotent
// operations go through here.
func retryRead[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err != nil && errors.Is(err, apperr.ErrTransient) && ctx.Err() == nil {
		slog.Warn("transient store error, retrying", "op", op, "error", err)
		v, err = fn()
	}
	return v, err
}
