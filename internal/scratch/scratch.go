// Package scratch manages the process-local temporary files backing one
// conversion attempt. A Space is owned exclusively by the worker invocation
// that created it and is removed on every exit path via a single deferred
// Close, rather than per-branch delete calls.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Space is a per-job scratch directory holding the downloaded original and
// the transcoded output.
type Space struct {
	dir string

	mu     sync.Mutex
	closed bool
}

// New creates a fresh scratch directory under root (os.TempDir when root is
// empty). The directory name carries the job's rendition basename to keep
// failed-job leftovers diagnosable.
func New(root, hint string) (*Space, error) {
	if strings.TrimSpace(root) == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("prepare scratch root: %w", err)
	}
	pattern := "convert-*"
	if cleaned := sanitizeHint(hint); cleaned != "" {
		pattern = "convert-" + cleaned + "-*"
	}
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Space{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (s *Space) Dir() string {
	return s.dir
}

// InputPath is where the downloaded original lives.
func (s *Space) InputPath() string {
	return filepath.Join(s.dir, "input")
}

// OutputPath is where the transcoder writes the rendition.
func (s *Space) OutputPath() string {
	return filepath.Join(s.dir, "output.mp4")
}

// CreateInput opens the input file for writing.
func (s *Space) CreateInput() (*os.File, error) {
	return os.OpenFile(s.InputPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
}

// Close removes the scratch directory and everything in it. It is safe to
// call more than once.
func (s *Space) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return os.RemoveAll(s.dir)
}

func sanitizeHint(hint string) string {
	hint = strings.TrimSpace(hint)
	var b strings.Builder
	for _, r := range hint {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SweepStale removes scratch directories under root older than maxAge.
// Leftovers only exist after a crash mid-job; the sweep runs at worker
// startup so disk space is reclaimed without racing live jobs.
func SweepStale(root string, maxAge time.Duration) (removed []string, err error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, nil
	}
	entries, readErr := os.ReadDir(root)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil
		}
		return nil, readErr
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "convert-") {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(root, entry.Name())
			if removeErr := os.RemoveAll(path); removeErr == nil {
				removed = append(removed, path)
			}
		}
	}
	return removed, nil
}
