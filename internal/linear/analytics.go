package linear

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
)

const recentActivityLimit = 5

// TopicSummary is a topic record decorated with curriculum names.
type TopicSummary struct {
	TopicID       string    `json:"topic_id"`
	TopicName     string    `json:"topic_name"`
	SubjectID     string    `json:"subject_id,omitempty"`
	Score         int       `json:"score"`
	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// Metrics aggregates a learner's topic records.
type Metrics struct {
	TotalTopics        int `json:"total_topics"`
	Mastered           int `json:"mastered"`
	Developing         int `json:"developing"`
	Weak               int `json:"weak"`
	AverageScore       int `json:"average_score"`
	ProgressPercentage int `json:"progress_percentage"`
	TotalAttempts      int `json:"total_attempts"`
	TimeSpentSeconds   int `json:"time_spent_seconds"`
}

// Analytics summarizes every topic a learner has attempted.
type Analytics struct {
	StudentID      string         `json:"student_id"`
	Metrics        Metrics        `json:"metrics"`
	WeakTopics     []TopicSummary `json:"weak_topics"`
	MasteredTopics []TopicSummary `json:"mastered_topics"`
	RecentActivity []TopicSummary `json:"recent_activity"`
}

// Analytics aggregates the learner's records across subjects. Percentages
// are rounded to whole numbers; progress is mastered over attempted.
func (s *Service) Analytics(ctx context.Context, studentID string) (*Analytics, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, apperr.Invalid("student_id", "is required")
	}
	records, err := s.store.List(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list topic progress: %w", err)
	}

	a := &Analytics{
		StudentID:      studentID,
		WeakTopics:     []TopicSummary{},
		MasteredTopics: []TopicSummary{},
		RecentActivity: []TopicSummary{},
	}
	totalScore := 0
	for i, r := range records {
		summary := s.summarize(r)
		a.Metrics.TotalAttempts += r.Attempts
		a.Metrics.TimeSpentSeconds += r.TimeSpentSeconds
		totalScore += r.Score

		switch r.Status {
		case StatusMastered:
			a.Metrics.Mastered++
			a.MasteredTopics = append(a.MasteredTopics, summary)
		case StatusDeveloping:
			a.Metrics.Developing++
		case StatusWeak:
			a.Metrics.Weak++
			a.WeakTopics = append(a.WeakTopics, summary)
		}
		if i < recentActivityLimit {
			a.RecentActivity = append(a.RecentActivity, summary)
		}
	}

	if n := len(records); n > 0 {
		a.Metrics.TotalTopics = n
		a.Metrics.AverageScore = roundDiv(totalScore, n)
		a.Metrics.ProgressPercentage = roundDiv(100*a.Metrics.Mastered, n)
	}
	return a, nil
}

func (s *Service) summarize(r TopicProgress) TopicSummary {
	summary := TopicSummary{
		TopicID:       r.TopicID,
		TopicName:     r.TopicID,
		Score:         r.Score,
		Status:        r.Status,
		Attempts:      r.Attempts,
		LastAttemptAt: r.LastAttemptAt,
	}
	if topic, ok := s.topic(r.TopicID); ok {
		summary.TopicName = topic.Name
		summary.SubjectID = topic.SubjectID
	}
	return summary
}

func roundDiv(num, den int) int {
	return int(math.Round(float64(num) / float64(den)))
}
