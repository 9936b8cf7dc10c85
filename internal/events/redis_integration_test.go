package events

import (
	"context"
	"testing"
	"time"

	"eyycourses/internal/testsupport/redisstub"
)

func TestRedisPublisherAppendsToStream(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = stub.Close()
	})

	publisher, err := NewRedisPublisher(RedisConfig{Addr: stub.Addr(), Stream: "test:conversions"})
	if err != nil {
		t.Fatalf("NewRedisPublisher: %v", err)
	}
	t.Cleanup(func() {
		_ = publisher.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := Conversion{
		Bucket:        "videos",
		OriginalPath:  "lessons/intro.mov",
		RenditionPath: "converted/intro.mov",
		Outcome:       OutcomeCompleted,
		FinishedAt:    time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishConversion(ctx, event); err != nil {
		t.Fatalf("PublishConversion: %v", err)
	}

	entries := stub.Entries("test:conversions")
	if len(entries) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(entries))
	}
	values := entries[0].Values
	if values["bucket"] != "videos" {
		t.Fatalf("unexpected bucket: %q", values["bucket"])
	}
	if values["original_path"] != "lessons/intro.mov" {
		t.Fatalf("unexpected original path: %q", values["original_path"])
	}
	if values["outcome"] != string(OutcomeCompleted) {
		t.Fatalf("unexpected outcome: %q", values["outcome"])
	}
	if _, ok := values["stage"]; ok {
		t.Fatalf("completed events should not carry a stage")
	}
}

func TestRedisPublisherAuthenticates(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{Password: "hunter2"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = stub.Close()
	})

	publisher, err := NewRedisPublisher(RedisConfig{Addr: stub.Addr(), Password: "hunter2"})
	if err != nil {
		t.Fatalf("NewRedisPublisher: %v", err)
	}
	t.Cleanup(func() {
		_ = publisher.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := Conversion{
		Bucket:       "videos",
		OriginalPath: "lessons/intro.mov",
		Outcome:      OutcomeFailed,
		Stage:        "transcode",
		Detail:       "exit status 1",
	}
	if err := publisher.PublishConversion(ctx, event); err != nil {
		t.Fatalf("PublishConversion: %v", err)
	}

	entries := stub.Entries("eyycourses:conversions")
	if len(entries) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(entries))
	}
	if entries[0].Values["stage"] != "transcode" {
		t.Fatalf("expected failure stage, got %q", entries[0].Values["stage"])
	}
}
