// Package normalize performs a best-effort pass over freshly uploaded
// videos before they reach storage: a stream-copy remux into MP4 with the
// index moved to the front. Failures here never block an upload; the file
// is stored as-is and the full transcode pipeline fixes it later.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// State describes the engine lifecycle. The engine starts in StateLoading,
// probes the encoder binary once in the background, and settles in
// StateReady or StateFailed. A failed engine stays failed; callers fall
// back to storing the original bytes.
type State int

const (
	StateLoading State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotReady is returned by Normalize while the probe is still running or
// after it has failed.
var ErrNotReady = errors.New("normalizer not ready")

// Engine remuxes uploads through the external encoder binary. The zero
// value is not usable; construct with NewEngine.
type Engine struct {
	binary string

	mu        sync.Mutex
	state     State
	probeErr  error
	probeOnce sync.Once

	probe func(ctx context.Context, binary string) error
	run   func(ctx context.Context, name string, args []string) ([]byte, error)
}

func NewEngine(binary string) *Engine {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &Engine{binary: binary, state: StateLoading, probe: probeBinary, run: runRemux}
}

// Start kicks off the background probe. Safe to call more than once; only
// the first call launches the probe.
func (e *Engine) Start(ctx context.Context) {
	e.probeOnce.Do(func() {
		go func() {
			err := e.probe(ctx, e.binary)
			e.mu.Lock()
			defer e.mu.Unlock()
			if err != nil {
				e.state = StateFailed
				e.probeErr = err
				return
			}
			e.state = StateReady
		}()
	})
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Normalize remuxes inputPath into outputPath without re-encoding. When
// the engine is not ready the caller receives ErrNotReady and should store
// the original file unchanged.
func (e *Engine) Normalize(ctx context.Context, inputPath, outputPath string) error {
	e.mu.Lock()
	state, probeErr := e.state, e.probeErr
	e.mu.Unlock()
	if state != StateReady {
		if probeErr != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, probeErr)
		}
		return ErrNotReady
	}
	args := []string{
		"-y",
		"-i", inputPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		outputPath,
	}
	stderr, err := e.run(ctx, e.binary, args)
	if err != nil {
		_ = os.Remove(outputPath)
		detail := strings.TrimSpace(string(stderr))
		if len(detail) > 200 {
			detail = detail[len(detail)-200:]
		}
		if detail != "" {
			return fmt.Errorf("remux %s: %w: %s", inputPath, err, detail)
		}
		return fmt.Errorf("remux %s: %w", inputPath, err)
	}
	return nil
}

func probeBinary(ctx context.Context, binary string) error {
	cmd := exec.CommandContext(ctx, binary, "-version")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("probe %s: %w: %s", binary, err, firstLine(out))
	}
	return nil
}

func runRemux(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

func firstLine(out []byte) string {
	trimmed := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}
