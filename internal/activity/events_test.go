package activity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-roadmap/internal/activity"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
)

func TestMemoryLogger_LogEvent(t *testing.T) {
	logger := activity.NewMemoryLogger()

	err := logger.LogEvent(t.Context(), activity.Event{
		StudentID: "s-1",
		TopicID:   "F1-01",
		Type:      activity.QuizAttempt,
		Data:      map[string]any{"score": 80},
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Type != activity.QuizAttempt {
		t.Errorf("Type = %q, want quiz_attempt", events[0].Type)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if events[0].ID == uuid.Nil {
		t.Error("ID should be assigned")
	}
}

func TestMemoryLogger_RequiresFields(t *testing.T) {
	logger := activity.NewMemoryLogger()

	tests := []struct {
		name  string
		event activity.Event
	}{
		{"missing type", activity.Event{StudentID: "s-1"}},
		{"missing student", activity.Event{Type: activity.LessonView}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := logger.LogEvent(t.Context(), tt.event); err == nil {
				t.Error("LogEvent() should reject incomplete events")
			}
		})
	}
	if len(logger.Events()) != 0 {
		t.Error("rejected events must not be stored")
	}
}

func TestPostgresLogger_NilPool(t *testing.T) {
	logger := activity.NewPostgresLogger(nil)

	err := logger.LogEvent(t.Context(), activity.Event{
		StudentID: "s-1",
		Type:      activity.LessonView,
	})
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestParseClientType(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"quiz_attempt", false},
		{"lesson_view", false},
		{"hint_request", false},
		{"mode_switch", false},
		{"early_exit", false},
		{"node_generated", true},
		{"node_quiz_attempt", true},
		{"", true},
		{"LESSON_VIEW", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := activity.ParseClientType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClientType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !apperr.IsValidation(err) {
				t.Errorf("error %v should be a ValidationError", err)
			}
			if !tt.wantErr && string(got) != tt.in {
				t.Errorf("ParseClientType(%q) = %q", tt.in, got)
			}
		})
	}
}

type failingLogger struct{ calls int }

func (f *failingLogger) LogEvent(context.Context, activity.Event) error {
	f.calls++
	return errors.New("sink down")
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	bad := &failingLogger{}
	first := activity.NewMemoryLogger()
	second := activity.NewMemoryLogger()

	multi := activity.Multi(first, nil, bad, second)
	err := multi.LogEvent(t.Context(), activity.Event{StudentID: "s-1", Type: activity.HintRequest})
	if err == nil {
		t.Fatal("LogEvent() should report the failing sink")
	}
	if bad.calls != 1 {
		t.Errorf("failing sink called %d times, want 1", bad.calls)
	}

	a, b := first.Events(), second.Events()
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("events = %d/%d, want 1/1", len(a), len(b))
	}
	if a[0].ID != b[0].ID {
		t.Errorf("sinks saw different IDs: %s vs %s", a[0].ID, b[0].ID)
	}
}

func TestRecord_SwallowsErrors(t *testing.T) {
	bad := &failingLogger{}
	activity.Record(t.Context(), bad, activity.Event{StudentID: "s-1", Type: activity.EarlyExit})
	activity.Record(t.Context(), nil, activity.Event{StudentID: "s-1", Type: activity.EarlyExit})

	if bad.calls != 1 {
		t.Errorf("calls = %d, want 1", bad.calls)
	}
}

func TestMemoryFeed_DeliversToStudentSubscribers(t *testing.T) {
	feed := activity.NewMemoryFeed()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	mine, err := feed.Subscribe(ctx, "s-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	other, err := feed.Subscribe(ctx, "s-2")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	logger := activity.FeedLogger{Feed: feed}
	if err := logger.LogEvent(t.Context(), activity.Event{StudentID: "s-1", Type: activity.ModeSwitch}); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	select {
	case ev := <-mine:
		if ev.Type != activity.ModeSwitch {
			t.Errorf("Type = %q, want mode_switch", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case ev := <-other:
		t.Errorf("other student received %+v", ev)
	default:
	}
}

func TestMemoryFeed_ClosesOnCancel(t *testing.T) {
	feed := activity.NewMemoryFeed()
	ctx, cancel := context.WithCancel(t.Context())

	ch, err := feed.Subscribe(ctx, "s-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	if err := feed.Publish(t.Context(), activity.Event{StudentID: "s-1", Type: activity.LessonView}); err != nil {
		t.Errorf("Publish() after unsubscribe error = %v", err)
	}
}

func TestRedisFeed_Channel(t *testing.T) {
	if got := activity.Channel("s-1"); got != "activity:s-1" {
		t.Errorf("Channel() = %q", got)
	}
}

func TestRedisFeed_UnreachableFailsPublish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:59999", DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	feed := activity.NewRedisFeed(client)
	err := feed.Publish(t.Context(), activity.Event{StudentID: "s-1", Type: activity.LessonView})
	if err == nil {
		t.Fatal("Publish() should fail against an unreachable host")
	}
	if _, err := feed.Subscribe(t.Context(), "s-1"); err == nil {
		t.Fatal("Subscribe() should fail against an unreachable host")
	}
}
