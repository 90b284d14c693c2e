package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriberBuffer = 32

// Feed delivers a student's events to live subscribers.
type Feed interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of the student's events. The channel is
	// closed once ctx is done.
	Subscribe(ctx context.Context, studentID string) (<-chan Event, error)
}

// FeedLogger adapts a Feed to the Logger interface.
type FeedLogger struct {
	Feed Feed
}

func (l FeedLogger) LogEvent(ctx context.Context, event Event) error {
	if err := event.prepare(); err != nil {
		return err
	}
	return l.Feed.Publish(ctx, event)
}

// MemoryFeed fans events out within a single process.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[chan Event]struct{})}
}

// Publish never blocks; slow subscribers miss events.
func (f *MemoryFeed) Publish(_ context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[event.StudentID] {
		select {
		case ch <- event:
		default:
			slog.Debug("dropping event for slow subscriber", "student_id", event.StudentID)
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, studentID string) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	f.mu.Lock()
	if f.subs[studentID] == nil {
		f.subs[studentID] = make(map[chan Event]struct{})
	}
	f.subs[studentID][ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs[studentID], ch)
		if len(f.subs[studentID]) == 0 {
			delete(f.subs, studentID)
		}
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

// RedisFeed fans events out across processes through Redis pub/sub.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

// Channel returns the pub/sub channel for a student.
func Channel(studentID string) string {
	return "activity:" + studentID
}

func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := f.client.Publish(ctx, Channel(event.StudentID), raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, studentID string) (<-chan Event, error) {
	pubsub := f.client.Subscribe(ctx, Channel(studentID))
	// Wait for the subscription confirmation so connection errors surface here.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", studentID, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Warn("skipping malformed activity message", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
