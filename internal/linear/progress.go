// Package linear serves the flat, syllabus-ordered roadmap: one quiz per
// topic, a percentage score, and a lock on every topic whose predecessor
// is not mastered yet.
package linear

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/mastery"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
)

// Status is a learner's standing on a topic.
type Status string

const (
	StatusMastered     Status = "mastered"
	StatusDeveloping   Status = "developing"
	StatusWeak         Status = "weak"
	StatusNotAttempted Status = "not_attempted"
)

const (
	DefaultMasteredScore   = 80
	DefaultDevelopingScore = 50
)

// Config holds the percentage thresholds.
type Config struct {
	MasteredScore   int
	DevelopingScore int
}

// DefaultConfig returns the 80/50 thresholds.
func DefaultConfig() Config {
	return Config{MasteredScore: DefaultMasteredScore, DevelopingScore: DefaultDevelopingScore}
}

// Classify maps a percentage score to a status.
func (c Config) Classify(score int) Status {
	switch {
	case score >= c.MasteredScore:
		return StatusMastered
	case score >= c.DevelopingScore:
		return StatusDeveloping
	default:
		return StatusWeak
	}
}

// TopicProgress is the learner's record for one topic. Score and Status
// reflect the latest attempt only.
type TopicProgress struct {
	StudentID        string                  `json:"student_id"`
	TopicID          string                  `json:"topic_id"`
	Score            int                     `json:"score"`
	Status           Status                  `json:"status"`
	Attempts         int                     `json:"attempts"`
	TimeSpentSeconds int                     `json:"time_spent_seconds"`
	Subtopics        []mastery.ChildProgress `json:"subtopics"`
	LastAttemptAt    time.Time               `json:"last_attempt_at"`
}

func (p TopicProgress) clone() TopicProgress {
	p.Subtopics = slices.Clone(p.Subtopics)
	if p.Subtopics == nil {
		p.Subtopics = []mastery.ChildProgress{}
	}
	return p
}

// Attempt is one graded quiz submission.
type Attempt struct {
	StudentID        string
	TopicID          string
	Score            int
	Status           Status
	TimeSpentSeconds int
	At               time.Time
}

// Store persists topic records. RecordAttempt must be a single atomic
// upsert: concurrent attempts never lose an increment.
type Store interface {
	RecordAttempt(ctx context.Context, a Attempt) (TopicProgress, error)
	Get(ctx context.Context, studentID, topicID string) (TopicProgress, error)
	// List returns the learner's records, most recent attempt first.
	List(ctx context.Context, studentID string) ([]TopicProgress, error)
	// MergeSubtopics appends names not already present as not_started
	// entries and returns the updated record.
	MergeSubtopics(ctx context.Context, studentID, topicID string, names []string) (TopicProgress, error)
}

func topicProgressNotFound(studentID, topicID string) *apperr.NotFoundError {
	return &apperr.NotFoundError{Resource: "topic progress", ID: studentID + "/" + topicID, Hint: "submit a quiz first"}
}

// mergeSubtopics appends names missing from existing, keyed by
// mastery.Normalize.
func mergeSubtopics(existing []mastery.ChildProgress, names []string) []mastery.ChildProgress {
	out := slices.Clone(existing)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || mastery.Find(out, name) >= 0 {
			continue
		}
		out = append(out, mastery.NewChildProgress(name))
	}
	if out == nil {
		out = []mastery.ChildProgress{}
	}
	return out
}

type progressKey struct {
	studentID string
	topicID   string
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[progressKey]TopicProgress
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[progressKey]TopicProgress)}
}

func (s *MemoryStore) RecordAttempt(_ context.Context, a Attempt) (TopicProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{a.StudentID, a.TopicID}
	p, ok := s.records[key]
	if !ok {
		p = TopicProgress{StudentID: a.StudentID, TopicID: a.TopicID}
	}
	p.Score = a.Score
	p.Status = a.Status
	p.Attempts++
	p.TimeSpentSeconds += max(a.TimeSpentSeconds, 0)
	p.LastAttemptAt = a.At
	s.records[key] = p
	return p.clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, studentID, topicID string) (TopicProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[progressKey{studentID, topicID}]
	if !ok {
		return TopicProgress{}, topicProgressNotFound(studentID, topicID)
	}
	return p.clone(), nil
}

func (s *MemoryStore) List(_ context.Context, studentID string) ([]TopicProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []TopicProgress{}
	for k, p := range s.records {
		if k.studentID == studentID {
			out = append(out, p.clone())
		}
	}
	slices.SortStableFunc(out, func(a, b TopicProgress) int {
		if c := b.LastAttemptAt.Compare(a.LastAttemptAt); c != 0 {
			return c
		}
		return strings.Compare(a.TopicID, b.TopicID)
	})
	return out, nil
}

func (s *MemoryStore) MergeSubtopics(_ context.Context, studentID, topicID string, names []string) (TopicProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{studentID, topicID}
	p, ok := s.records[key]
	if !ok {
		return TopicProgress{}, topicProgressNotFound(studentID, topicID)
	}
	p.Subtopics = mergeSubtopics(p.Subtopics, names)
	s.records[key] = p
	return p.clone(), nil
}
