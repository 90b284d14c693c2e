package activity_test

import (
	"testing"

	"github.com/p-n-ai/pai-roadmap/internal/activity"
	"github.com/p-n-ai/pai-roadmap/internal/platform/database/dbtest"
)

func TestPostgresLogger_LogEvent(t *testing.T) {
	pool := dbtest.Pool(t)
	logger := activity.NewPostgresLogger(pool)

	err := logger.LogEvent(t.Context(), activity.Event{
		StudentID: "s-1",
		TopicID:   "F1-01",
		Type:      activity.QuizAttempt,
		Data:      map[string]any{"score": 80, "content_mode": "text"},
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	var (
		subjectID *string
		topicID   string
		score     int
	)
	err = pool.QueryRow(t.Context(),
		`SELECT subject_id, topic_id, (data->>'score')::int FROM learning_events WHERE student_id = $1 AND event_type = $2`,
		"s-1", "quiz_attempt",
	).Scan(&subjectID, &topicID, &score)
	if err != nil {
		t.Fatalf("query event: %v", err)
	}
	if subjectID != nil {
		t.Errorf("subject_id = %q, want NULL for an empty value", *subjectID)
	}
	if topicID != "F1-01" || score != 80 {
		t.Errorf("row = (%q, %d), want (F1-01, 80)", topicID, score)
	}

	if err := logger.LogEvent(t.Context(), activity.Event{Type: activity.LessonView}); err == nil {
		t.Error("LogEvent() without student_id should fail")
	}
}
