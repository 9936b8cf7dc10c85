// Package dispatch turns storage events into conversion jobs and runs
// them on a worker pool. Delivery is at least once: a redelivered event
// re-derives the same rendition path and overwrites the same object, so
// no deduplication state is kept.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"eyycourses/internal/media"
)

// InvalidPayloadError reports a storage event that could not be decoded
// into a conversion job. Handlers log it and drop the event; it never
// fails the webhook response.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid storage event payload: %s", e.Reason)
}

// eventPayload accepts the two shapes storage delivers: the native event
// wrapper carrying a record, and the flat shape used by manual retries.
type eventPayload struct {
	Record *struct {
		BucketID string `json:"bucket_id"`
		Bucket   string `json:"bucket"`
		Name     string `json:"name"`
	} `json:"record"`
	Bucket   string `json:"bucket"`
	FilePath string `json:"filePath"`
}

// DecodeEvent parses a storage event body into a conversion job.
func DecodeEvent(body []byte) (media.ConversionJob, error) {
	if len(body) == 0 {
		return media.ConversionJob{}, &InvalidPayloadError{Reason: "empty body"}
	}
	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return media.ConversionJob{}, &InvalidPayloadError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}

	bucket := payload.Bucket
	path := payload.FilePath
	if payload.Record != nil {
		bucket = payload.Record.BucketID
		if bucket == "" {
			bucket = payload.Record.Bucket
		}
		path = payload.Record.Name
	}
	bucket = strings.TrimSpace(bucket)
	path = strings.TrimSpace(path)
	if bucket == "" || path == "" {
		return media.ConversionJob{}, &InvalidPayloadError{Reason: "missing bucket or object path"}
	}
	if strings.HasPrefix(path, media.ConvertedPrefix) {
		// The pipeline's own uploads fire storage events too; converting a
		// rendition would loop forever.
		return media.ConversionJob{}, &InvalidPayloadError{Reason: "object is already a rendition"}
	}
	job, err := media.NewConversionJob(bucket, path)
	if err != nil {
		return media.ConversionJob{}, &InvalidPayloadError{Reason: err.Error()}
	}
	return job, nil
}
