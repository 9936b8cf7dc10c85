// Package events publishes conversion outcomes so downstream consumers
// (course dashboards, cache invalidation) can react without polling
// storage. Publishing is strictly additive; a lost event never changes
// pipeline behavior.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome labels the terminal state of one conversion attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Conversion describes a finished conversion attempt.
type Conversion struct {
	Bucket        string
	OriginalPath  string
	RenditionPath string
	Outcome       Outcome
	Stage         string
	Detail        string
	FinishedAt    time.Time
}

// Publisher emits conversion outcomes.
type Publisher interface {
	PublishConversion(ctx context.Context, event Conversion) error
	Close() error
}

// NopPublisher drops every event. Used when no event backend is
// configured.
type NopPublisher struct{}

func (NopPublisher) PublishConversion(context.Context, Conversion) error { return nil }
func (NopPublisher) Close() error                                        { return nil }

const defaultStream = "eyycourses:conversions"

// RedisPublisher appends conversion outcomes to a Redis stream.
type RedisPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// RedisConfig configures the stream publisher. Addr is required.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = defaultStream
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

func (p *RedisPublisher) PublishConversion(ctx context.Context, event Conversion) error {
	if event.Bucket == "" || event.OriginalPath == "" {
		return fmt.Errorf("conversion event requires bucket and original path")
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: conversionValues(event, time.Now().UTC()),
	}).Err()
	if err != nil {
		return fmt.Errorf("publish conversion event: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func conversionValues(event Conversion, now time.Time) map[string]interface{} {
	finishedAt := event.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = now
	}
	values := map[string]interface{}{
		"bucket":         event.Bucket,
		"original_path":  event.OriginalPath,
		"rendition_path": event.RenditionPath,
		"outcome":        string(event.Outcome),
		"finished_at":    finishedAt.Format(time.RFC3339Nano),
	}
	if event.Stage != "" {
		values["stage"] = event.Stage
	}
	if event.Detail != "" {
		values["detail"] = event.Detail
	}
	return values
}

var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = NopPublisher{}
)
