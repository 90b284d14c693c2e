package linear

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
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
	"github.com/p-n-ai/pai-roadmap/internal/platform/metrics"
	"github.com/p-n-ai/pai-roadmap/internal/roadmap"
)

const (
	lockWeak     = "Previous attempt was weak. Master previous topics to unlock."
	lockPrevious = "Previous topic must be mastered to unlock this topic."

	defaultContentMode       = "text"
	defaultGenerationTimeout = 20 * time.Second
)

// Curriculum is the read side of the curriculum the service needs.
// *curriculum.Loader implements it.
type Curriculum interface {
	Subject(id string) (curriculum.Subject, bool)
	SubjectTopics(subjectID string) ([]curriculum.Topic, bool)
	GetTopic(id string) (curriculum.Topic, bool)
	Quiz(topicID string) (curriculum.Quiz, bool)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Curriculum Curriculum
	Store      Store
	Thresholds Config
	// Generator breaks topics into subtopics. Optional.
	Generator         roadmap.Generator
	GenerationTimeout time.Duration
	MaxSubtopics      int
	Events            activity.Logger
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// Service serves the linear roadmap and grades topic quizzes.
type Service struct {
	curriculum        Curriculum
	store             Store
	thresholds        Config
	generator         roadmap.Generator
	generationTimeout time.Duration
	maxSubtopics      int
	events            activity.Logger
	metrics           *metrics.Metrics
	now               func() time.Time
}

// NewService creates a Service. Zero thresholds fall back to DefaultConfig.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Thresholds == (Config{}) {
		cfg.Thresholds = DefaultConfig()
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.MaxSubtopics <= 0 {
		cfg.MaxSubtopics = roadmap.DefaultMaxChildren
	}
	if cfg.Events == nil {
		cfg.Events = activity.NopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		curriculum:        cfg.Curriculum,
		store:             cfg.Store,
		thresholds:        cfg.Thresholds,
		generator:         cfg.Generator,
		generationTimeout: cfg.GenerationTimeout,
		maxSubtopics:      cfg.MaxSubtopics,
		events:            cfg.Events,
		metrics:           cfg.Metrics,
		now:               cfg.Now,
	}
}

// Step is one topic of the roadmap.
type Step struct {
	TopicID       string     `json:"topic_id"`
	TopicName     string     `json:"topic_name"`
	Difficulty    string     `json:"difficulty,omitempty"`
	Status        Status     `json:"status"`
	Score         *int       `json:"score"`
	Attempts      int        `json:"attempts"`
	IsLocked      bool       `json:"is_locked"`
	LockReason    string     `json:"lock_reason,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
}

// Summary counts steps by status.
type Summary struct {
	TotalTopics  int `json:"total_topics"`
	Mastered     int `json:"mastered"`
	Developing   int `json:"developing"`
	Weak         int `json:"weak"`
	NotAttempted int `json:"not_attempted"`
}

// Roadmap is a subject's topics in syllabus order for one learner.
type Roadmap struct {
	StudentID   string  `json:"student_id"`
	SubjectID   string  `json:"subject_id"`
	SubjectName string  `json:"subject_name"`
	Steps       []Step  `json:"steps"`
	Summary     Summary `json:"summary"`
}

// BuildRoadmap returns the subject's topics with the learner's status and
// lock state. The first topic is never locked. Any later topic is locked
// when its own last attempt was weak, or when the topic before it is not
// mastered.
func (s *Service) BuildRoadmap(ctx context.Context, studentID, subjectID string) (*Roadmap, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, apperr.Invalid("student_id", "is required")
	}
	subject, ok := s.subject(subjectID)
	if !ok {
		return nil, apperr.NotFound("subject", subjectID)
	}
	topics, _ := s.curriculum.SubjectTopics(subject.ID)

	records, err := s.store.List(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list topic progress: %w", err)
	}
	byTopic := make(map[string]TopicProgress, len(records))
	for _, r := range records {
		byTopic[r.TopicID] = r
	}

	rm := &Roadmap{
		StudentID:   studentID,
		SubjectID:   subject.ID,
		SubjectName: subject.Name,
		Steps:       make([]Step, 0, len(topics)),
	}
	prevStatus := StatusNotAttempted
	for i, topic := range topics {
		step := Step{
			TopicID:    topic.ID,
			TopicName:  topic.Name,
			Difficulty: topic.Difficulty,
			Status:     StatusNotAttempted,
		}
		if r, ok := byTopic[topic.ID]; ok {
			score, at := r.Score, r.LastAttemptAt
			step.Status = r.Status
			step.Score = &score
			step.Attempts = r.Attempts
			step.LastAttemptAt = &at
		}

		switch {
		case i == 0:
		case step.Status == StatusWeak:
			step.IsLocked, step.LockReason = true, lockWeak
		case prevStatus != StatusMastered:
			step.IsLocked, step.LockReason = true, lockPrevious
		}
		prevStatus = step.Status

		rm.Steps = append(rm.Steps, step)
		rm.Summary.add(step.Status)
	}
	rm.Summary.TotalTopics = len(rm.Steps)
	return rm, nil
}

func (sum *Summary) add(status Status) {
	switch status {
	case StatusMastered:
		sum.Mastered++
	case StatusDeveloping:
		sum.Developing++
	case StatusWeak:
		sum.Weak++
	default:
		sum.NotAttempted++
	}
}

// QuizSubmission is a learner's answers to a topic quiz, one option index
// per question.
type QuizSubmission struct {
	StudentID        string
	TopicID          string
	Answers          []int
	TimeSpentSeconds int
	HintsUsed        int
	ContentMode      string
}

// QuizResult is the graded submission.
type QuizResult struct {
	TopicID        string `json:"topic_id"`
	Score          int    `json:"score"`
	Status         Status `json:"status"`
	CorrectAnswers int    `json:"correct_answers"`
	TotalQuestions int    `json:"total_questions"`
	Attempts       int    `json:"attempts"`
}

func (sub QuizSubmission) validate() error {
	switch {
	case strings.TrimSpace(sub.StudentID) == "":
		return apperr.Invalid("student_id", "is required")
	case strings.TrimSpace(sub.TopicID) == "":
		return apperr.Invalid("topic_id", "is required")
	case sub.TimeSpentSeconds < 0:
		return apperr.Invalid("time_spent_seconds", "must not be negative, got %d", sub.TimeSpentSeconds)
	case sub.HintsUsed < 0:
		return apperr.Invalid("hints_used", "must not be negative, got %d", sub.HintsUsed)
	}
	return nil
}

// SubmitQuiz grades a topic quiz against the curriculum's answer key and
// records the attempt. Every call counts as a new attempt.
func (s *Service) SubmitQuiz(ctx context.Context, sub QuizSubmission) (*QuizResult, error) {
	if err := sub.validate(); err != nil {
		return nil, err
	}
	topic, ok := s.topic(sub.TopicID)
	if !ok {
		return nil, apperr.NotFound("topic", sub.TopicID)
	}
	quiz, ok := s.curriculum.Quiz(topic.ID)
	if !ok {
		return nil, apperr.NotFound("quiz", topic.ID)
	}
	total := len(quiz.Questions)
	if len(sub.Answers) != total {
		return nil, apperr.Invalid("answers", "expected %d answers, got %d", total, len(sub.Answers))
	}

	correct := quiz.Grade(sub.Answers)
	score := mastery.ScorePercent(correct, total)
	status := s.thresholds.Classify(score)

	record, err := s.store.RecordAttempt(ctx, Attempt{
		StudentID:        sub.StudentID,
		TopicID:          topic.ID,
		Score:            score,
		Status:           status,
		TimeSpentSeconds: sub.TimeSpentSeconds,
		At:               s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	mode := sub.ContentMode
	if mode == "" {
		mode = defaultContentMode
	}
	s.metrics.Submission("linear", string(status))
	slog.Info("topic quiz graded",
		"student_id", sub.StudentID,
		"topic_id", topic.ID,
		"score", score,
		"status", status,
		"attempts", record.Attempts,
	)
	activity.Record(ctx, s.events, activity.Event{
		StudentID: sub.StudentID,
		SubjectID: topic.SubjectID,
		TopicID:   topic.ID,
		Type:      activity.QuizAttempt,
		Data: map[string]any{
			"score":              score,
			"total_questions":    total,
			"correct_answers":    correct,
			"time_spent_seconds": sub.TimeSpentSeconds,
			"hints_used":         sub.HintsUsed,
			"content_mode":       mode,
			"attempt_number":     record.Attempts,
			"completed":          true,
		},
	})

	return &QuizResult{
		TopicID:        topic.ID,
		Score:          score,
		Status:         status,
		CorrectAnswers: correct,
		TotalQuestions: total,
		Attempts:       record.Attempts,
	}, nil
}

// AttachSubtopics breaks an attempted topic into subtopics and merges them
// into the learner's record. Subtopics already present keep their progress.
func (s *Service) AttachSubtopics(ctx context.Context, studentID, topicID string) (*TopicProgress, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, apperr.Invalid("student_id", "is required")
	}
	topic, ok := s.topic(topicID)
	if !ok {
		return nil, apperr.NotFound("topic", topicID)
	}
	if _, err := s.store.Get(ctx, studentID, topic.ID); err != nil {
		return nil, err
	}
	if s.generator == nil {
		return nil, &apperr.GenerationError{Node: topic.Name, Err: errors.New("no generator configured")}
	}

	var contextPath []string
	if subject, ok := s.subject(topic.SubjectID); ok {
		contextPath = []string{subject.Name}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.generationTimeout)
	defer cancel()
	raw, err := s.generator.GenerateChildren(genCtx, topic.Name, contextPath)
	if err == nil && genCtx.Err() != nil {
		err = genCtx.Err()
	}
	var names []string
	if err == nil {
		names = roadmap.CleanChildren(raw, s.maxSubtopics)
		if len(names) == 0 {
			err = errors.New("generator returned no subtopics")
		}
	}
	if err != nil {
		slog.Error("subtopic generation failed", "topic_id", topic.ID, "error", err)
		return nil, &apperr.GenerationError{Node: topic.Name, Err: err}
	}

	record, err := s.store.MergeSubtopics(ctx, studentID, topic.ID, names)
	if err != nil {
		return nil, fmt.Errorf("merge subtopics: %w", err)
	}
	slog.Info("subtopics attached", "student_id", studentID, "topic_id", topic.ID, "subtopics", len(record.Subtopics))
	return &record, nil
}

func (s *Service) subject(id string) (curriculum.Subject, bool) {
	if s.curriculum == nil || strings.TrimSpace(id) == "" {
		return curriculum.Subject{}, false
	}
	return s.curriculum.Subject(id)
}

func (s *Service) topic(id string) (curriculum.Topic, bool) {
	if s.curriculum == nil || strings.TrimSpace(id) == "" {
		return curriculum.Topic{}, false
	}
	return s.curriculum.GetTopic(id)
}
