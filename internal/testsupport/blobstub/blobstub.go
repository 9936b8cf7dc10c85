// Package blobstub provides an in-memory blobstore.Client for tests.
package blobstub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"eyycourses/internal/blobstore"
)

type object struct {
	data        []byte
	contentType string
}

// Store implements blobstore.Client against an in-memory map. Error
// fields, when set, are returned by the matching operation so tests can
// exercise failure paths.
type Store struct {
	mu      sync.Mutex
	objects map[string]object

	DownloadErr error
	UploadErr   error
	SignErr     error

	uploads []Upload
}

// Upload records one Upload call.
type Upload struct {
	Bucket      string
	Path        string
	ContentType string
	Upsert      bool
	Size        int
}

func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func key(bucket, path string) string { return bucket + "/" + path }

// Put seeds an object.
func (s *Store) Put(bucket, path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key(bucket, path)] = object{data: append([]byte(nil), data...), contentType: "application/octet-stream"}
}

// Get returns a stored object's bytes.
func (s *Store) Get(bucket, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key(bucket, path)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Uploads returns the recorded Upload calls in order.
func (s *Store) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

func (s *Store) Download(ctx context.Context, bucket, path string, w io.Writer) error {
	if s.DownloadErr != nil {
		return &blobstore.DownloadError{Bucket: bucket, Path: path, Err: s.DownloadErr}
	}
	data, ok := s.Get(bucket, path)
	if !ok {
		return &blobstore.DownloadError{Bucket: bucket, Path: path, Err: blobstore.ErrObjectNotFound}
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (s *Store) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string, upsert bool) error {
	if s.UploadErr != nil {
		return &blobstore.UploadError{Bucket: bucket, Path: path, Err: s.UploadErr}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return &blobstore.UploadError{Bucket: bucket, Path: path, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key(bucket, path)]; exists && !upsert {
		return &blobstore.UploadError{Bucket: bucket, Path: path, Err: fmt.Errorf("object exists")}
	}
	s.objects[key(bucket, path)] = object{data: data, contentType: contentType}
	s.uploads = append(s.uploads, Upload{Bucket: bucket, Path: path, ContentType: contentType, Upsert: upsert, Size: len(data)})
	return nil
}

func (s *Store) Stat(ctx context.Context, bucket, path string) (blobstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key(bucket, path)]
	if !ok {
		return blobstore.ObjectInfo{}, blobstore.ErrObjectNotFound
	}
	return blobstore.ObjectInfo{Bucket: bucket, Path: path, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (s *Store) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	if s.SignErr != nil {
		return "", s.SignErr
	}
	if _, err := s.Stat(ctx, bucket, path); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://signed.example/%s/%s?expires=%d", bucket, path, int64(ttl.Seconds())), nil
}

func (s *Store) Delete(ctx context.Context, bucket, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key(bucket, path))
	return nil
}

var _ blobstore.Client = (*Store)(nil)
