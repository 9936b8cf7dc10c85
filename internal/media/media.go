// Package media defines the data model shared across the ingestion and
// playback pipeline: asset references, derived rendition paths, and
// conversion jobs.
package media

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ConvertedPrefix is the fixed, non-configurable prefix under which canonical
// renditions are stored inside a bucket.
const ConvertedPrefix = "converted/"

// ContentType is the canonical content type of every rendition.
const ContentType = "video/mp4"

// DefaultSignedURLTTL bounds how long a playback grant stays valid.
const DefaultSignedURLTTL = time.Hour

// Asset is the opaque reference stored once per lesson. OriginalPath is
// immutable once assigned; replacing a video means assigning a new path.
type Asset struct {
	Bucket       string `json:"bucket"`
	OriginalPath string `json:"originalPath"`
}

// Validate reports whether the reference can address an object.
func (a Asset) Validate() error {
	if strings.TrimSpace(a.Bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	if strings.TrimSpace(a.OriginalPath) == "" {
		return fmt.Errorf("original path is required")
	}
	return nil
}

// RenditionPath derives the canonical rendition location for an original
// path. The derivation is a pure function: the same input always yields the
// same output, which is what makes repeated storage events safe to process.
func RenditionPath(originalPath string) string {
	return ConvertedPrefix + path.Base(strings.TrimSpace(originalPath))
}

// ConversionJob is one ephemeral download-transcode-upload attempt. It has no
// identity beyond its derived rendition path and is never persisted.
type ConversionJob struct {
	Bucket        string
	OriginalPath  string
	RenditionPath string
}

// NewConversionJob builds a job for the given storage location.
func NewConversionJob(bucket, originalPath string) (ConversionJob, error) {
	bucket = strings.TrimSpace(bucket)
	originalPath = strings.TrimSpace(originalPath)
	if bucket == "" || originalPath == "" {
		return ConversionJob{}, fmt.Errorf("bucket and original path are required")
	}
	return ConversionJob{
		Bucket:        bucket,
		OriginalPath:  originalPath,
		RenditionPath: RenditionPath(originalPath),
	}, nil
}

// Grant sources.
const (
	SourceRendition = "rendition"
	SourceOriginal  = "original"
)

// Grant is a short-lived signed playback URL. It is produced on demand and
// never persisted.
type Grant struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	// Source records which object answered: "rendition" or "original".
	Source string `json:"source"`
}
