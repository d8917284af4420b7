// Package events provides the diagnostic event sink used by background jobs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Event names emitted by the pool.
const (
	SourceCheckFailed = "source_check_failed"
	EntryRejected     = "source_entry_rejected"
)

// DefaultStream is the Redis stream receiving events.
const DefaultStream = "proxypool:events"

// asyncPublishTimeout bounds a fire-and-forget publish.
const asyncPublishTimeout = 5 * time.Second

// Sink receives diagnostic events. Emit must not block the caller for long and never fails.
type Sink interface {
	Emit(ctx context.Context, name string, payload map[string]any)
}

// Event is the serialized form of an emitted event.
type Event struct {
	EventID   uuid.UUID      `json:"event_id"`
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// LogSink writes events to the process log.
type LogSink struct{}

// Emit logs the event at warning level.
func (LogSink) Emit(_ context.Context, name string, payload map[string]any) {
	log.WithFields(log.Fields(payload)).Warnf("event: %s", name)
}

// RedisSink appends events to a Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink creates a stream-backed sink. Returns nil if client is nil.
func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	if client == nil {
		return nil
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream}
}

// Publish sends the event to the stream and reports failures.
func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	if s == nil || s.client == nil {
		return nil
	}
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, errMarshal := json.Marshal(event)
	if errMarshal != nil {
		return fmt.Errorf("marshal event: %w", errMarshal)
	}
	result := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"name":  event.Name,
			"event": string(payload),
		},
	})
	if errPublish := result.Err(); errPublish != nil {
		return fmt.Errorf("publish to stream: %w", errPublish)
	}
	return nil
}

// Emit publishes asynchronously; failures are logged.
func (s *RedisSink) Emit(_ context.Context, name string, payload map[string]any) {
	if s == nil {
		return
	}
	event := Event{EventID: uuid.New(), Name: name, Payload: payload, Timestamp: time.Now().UTC()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()
		if errPublish := s.Publish(ctx, event); errPublish != nil {
			log.WithError(errPublish).Warnf("events: publish %s failed", name)
		}
	}()
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Emit forwards the event to every non-nil sink.
func (m Multi) Emit(ctx context.Context, name string, payload map[string]any) {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		sink.Emit(ctx, name, payload)
	}
}

// NewSink combines the log sink with the Redis sink when available.
func NewSink(redisSink *RedisSink) Sink {
	if redisSink == nil {
		return LogSink{}
	}
	return Multi{LogSink{}, redisSink}
}
