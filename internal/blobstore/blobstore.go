// Package blobstore provides byte-level access to the object store holding
// lesson videos: uploads, downloads, existence checks, and time-bounded
// signed URLs.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrObjectNotFound reports that the addressed object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// DownloadError wraps a failed original download with its location.
type DownloadError struct {
	Bucket string
	Path   string
	Err    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s/%s: %v", e.Bucket, e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// UploadError wraps a failed rendition upload with its location.
type UploadError struct {
	Bucket string
	Path   string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s/%s: %v", e.Bucket, e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket      string
	Path        string
	Size        int64
	ContentType string
}

// Client is the blob store contract consumed by the pipeline. Implementations
// must be safe for concurrent use.
type Client interface {
	// Download streams the object's bytes into w.
	Download(ctx context.Context, bucket, path string, w io.Writer) error
	// Upload writes body to bucket/path. When upsert is true an existing
	// object is overwritten.
	Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string, upsert bool) error
	// Stat reports object metadata, or ErrObjectNotFound.
	Stat(ctx context.Context, bucket, path string) (ObjectInfo, error)
	// SignedURL produces a time-bounded GET URL for an existing object.
	// Signing a missing object fails with ErrObjectNotFound.
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, path string) error
}
