// Package catalog records which stored object backs each lesson. The
// pipeline itself never reads these records; API handlers use them to
// resolve a lesson ID to the bucket and path handed to playback.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrLessonNotFound is returned when no media record exists for a lesson.
var ErrLessonNotFound = errors.New("lesson media not found")

// LessonMedia ties a lesson to the original object uploaded for it.
type LessonMedia struct {
	LessonID     string
	Bucket       string
	OriginalPath string
	UpdatedAt    time.Time
}

func (m LessonMedia) validate() error {
	if strings.TrimSpace(m.LessonID) == "" {
		return errors.New("lesson id is required")
	}
	if strings.TrimSpace(m.Bucket) == "" || strings.TrimSpace(m.OriginalPath) == "" {
		return errors.New("bucket and original path are required")
	}
	return nil
}

// Repository stores lesson media records.
type Repository interface {
	SetLessonMedia(ctx context.Context, media LessonMedia) error
	GetLessonMedia(ctx context.Context, lessonID string) (LessonMedia, error)
	ClearLessonMedia(ctx context.Context, lessonID string) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// MemoryRepository keeps records in process. Used in tests and when no
// database is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]LessonMedia
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]LessonMedia)}
}

func (r *MemoryRepository) SetLessonMedia(_ context.Context, media LessonMedia) error {
	if err := media.validate(); err != nil {
		return err
	}
	if media.UpdatedAt.IsZero() {
		media.UpdatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[media.LessonID] = media
	return nil
}

func (r *MemoryRepository) GetLessonMedia(_ context.Context, lessonID string) (LessonMedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	media, ok := r.records[lessonID]
	if !ok {
		return LessonMedia{}, ErrLessonNotFound
	}
	return media, nil
}

func (r *MemoryRepository) ClearLessonMedia(_ context.Context, lessonID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, lessonID)
	return nil
}

func (r *MemoryRepository) Ping(context.Context) error  { return nil }
func (r *MemoryRepository) Close(context.Context) error { return nil }

var _ Repository = (*MemoryRepository)(nil)
