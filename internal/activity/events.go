// Package activity records learning events (quiz attempts, lesson views,
// generated nodes) and fans them out to live subscribers.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
)

const dbTimeout = 5 * time.Second

// Type names a learning event.
type Type string

const (
	QuizAttempt     Type = "quiz_attempt"
	NodeQuizAttempt Type = "node_quiz_attempt"
	LessonView      Type = "lesson_view"
	HintRequest     Type = "hint_request"
	ModeSwitch      Type = "mode_switch"
	EarlyExit       Type = "early_exit"
	NodeGenerated   Type = "node_generated"
)

// clientTypes are the events a client may log directly. The rest are
// emitted by the services themselves.
var clientTypes = map[Type]bool{
	QuizAttempt: true,
	LessonView:  true,
	HintRequest: true,
	ModeSwitch:  true,
	EarlyExit:   true,
}

// ParseClientType validates an event type sent by a client.
func ParseClientType(s string) (Type, error) {
	t := Type(s)
	if !clientTypes[t] {
		return "", apperr.Invalid("event_type", "unsupported event type %q", s)
	}
	return t, nil
}

// Event is a single learning event.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	StudentID string         `json:"student_id"`
	SubjectID string         `json:"subject_id,omitempty"`
	TopicID   string         `json:"topic_id,omitempty"`
	NodeKey   string         `json:"node_key,omitempty"`
	Type      Type           `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (e *Event) prepare() error {
	if e.Type == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.StudentID == "" {
		return fmt.Errorf("student_id is required")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return nil
}

// Logger persists or forwards events.
type Logger interface {
	LogEvent(ctx context.Context, event Event) error
}

// Record logs event and swallows the failure with a warning. Event sinks
// must never fail the operation that produced the event.
func Record(ctx context.Context, l Logger, event Event) {
	if l == nil {
		return
	}
	if err := l.LogEvent(ctx, event); err != nil {
		slog.Warn("failed to record learning event",
			"event_type", event.Type,
			"student_id", event.StudentID,
			"error", err,
		)
	}
}

// NopLogger ignores all events.
type NopLogger struct{}

func (NopLogger) LogEvent(context.Context, Event) error {
	return nil
}

// MemoryLogger stores events in memory for tests and the memory backend.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{
		events: []Event{},
	}
}

func (l *MemoryLogger) LogEvent(_ context.Context, event Event) error {
	if err := event.prepare(); err != nil {
		return err
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

// Events returns a copy of everything logged so far.
func (l *MemoryLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresLogger inserts events into the learning_events table.
type PostgresLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresLogger(pool *pgxpool.Pool) *PostgresLogger {
	return &PostgresLogger{pool: pool}
}

func (l *PostgresLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if err := event.prepare(); err != nil {
		return err
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO learning_events (id, student_id, subject_id, topic_id, node_key, event_type, data, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7::jsonb, $8)`,
		event.ID,
		event.StudentID,
		event.SubjectID,
		event.TopicID,
		event.NodeKey,
		string(event.Type),
		string(data),
		event.CreatedAt,
	)
	if err != nil {
		return apperr.FromPostgres("insert learning event", err)
	}

	slog.Debug("event logged",
		"type", event.Type,
		"student_id", event.StudentID,
	)
	return nil
}

// MultiLogger sends each event to every logger, in order. Event IDs and
// timestamps are assigned once so every sink sees the same event.
type MultiLogger struct {
	loggers []Logger
}

// Multi combines loggers. Nil entries are dropped.
func Multi(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) LogEvent(ctx context.Context, event Event) error {
	if err := event.prepare(); err != nil {
		return err
	}
	var errs []error
	for _, l := range m.loggers {
		if err := l.LogEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
