package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ProgressEvent is one step of a publish reported back to the UI
// session that started it.
type ProgressEvent struct {
	Percent  int    `json:"percent"`
	Platform string `json:"platform,omitempty"`
	Message  string `json:"message"`
}

// ProgressSink delivers progress events to an observer channel keyed by
// an opaque session id. Emit is fire-and-forget: it never blocks the
// publish and its failure is swallowed.
type ProgressSink interface {
	Emit(sessionID string, event ProgressEvent)
}

// RedisProgressSink publishes events on a per-session pub/sub channel.
type RedisProgressSink struct {
	client *redis.Client
}

func NewRedisProgressSink(client *redis.Client) *RedisProgressSink {
	return &RedisProgressSink{client: client}
}

func (s *RedisProgressSink) Emit(sessionID string, event ProgressEvent) {
	if sessionID == "" {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	channel := fmt.Sprintf("progress:%s", sessionID)
	if err := s.client.Publish(context.Background(), channel, payload).Err(); err != nil {
		slog.Info(err.Error())
	}
}

// NopProgressSink drops all events.
type NopProgressSink struct{}

func (NopProgressSink) Emit(sessionID string, event ProgressEvent) {}
