package dispatch

import (
	"errors"
	"testing"
)

func TestDecodeEventRecordShape(t *testing.T) {
	job, err := DecodeEvent([]byte(`{"record":{"bucket_id":"videos","name":"lessons/intro.mov"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Bucket != "videos" || job.OriginalPath != "lessons/intro.mov" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.RenditionPath != "converted/intro.mov" {
		t.Fatalf("unexpected rendition path: %q", job.RenditionPath)
	}
}

func TestDecodeEventRecordBucketAlias(t *testing.T) {
	job, err := DecodeEvent([]byte(`{"record":{"bucket":"videos","name":"lessons/intro.mov"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Bucket != "videos" {
		t.Fatalf("unexpected bucket: %q", job.Bucket)
	}
}

func TestDecodeEventFlatShape(t *testing.T) {
	job, err := DecodeEvent([]byte(`{"bucket":"videos","filePath":"lessons/intro.mov"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Bucket != "videos" || job.OriginalPath != "lessons/intro.mov" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestDecodeEventInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"malformed", "{"},
		{"missing fields", `{"record":{}}`},
		{"wrong types", `{"bucket":123}`},
		{"rendition object", `{"bucket":"videos","filePath":"converted/intro.mov"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tc.body))
			var invalid *InvalidPayloadError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected *InvalidPayloadError, got %v", err)
			}
		})
	}
}
