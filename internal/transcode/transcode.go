// Package transcode wraps the external encode operation with the single
// fixed profile every rendition must conform to: H.264 video in a broadly
// compatible constrained profile, 8-bit 4:2:0, quality-targeted rate
// control, AAC audio at a fixed bitrate, and an MP4 layout that supports
// progressive playback.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Invoker converts the readable video at inputPath into a new file at
// outputPath in the canonical profile.
type Invoker interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
}

// Error reports a failed encode with the underlying diagnostic attached.
// Callers must treat the output file as invalid and never upload it.
type Error struct {
	InputPath string
	Detail    string
	Err       error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("transcode %s: %v: %s", e.InputPath, e.Err, e.Detail)
	}
	return fmt.Sprintf("transcode %s: %v", e.InputPath, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// profileArgs is the fixed encoding profile. Quality-oriented CRF rather
// than a bitrate cap; +faststart moves the moov atom up front so playback
// can begin before the full file is fetched.
func profileArgs(inputPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-profile:v", "high",
		"-level", "4.1",
		"-pix_fmt", "yuv420p",
		"-crf", "23",
		"-preset", "medium",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-f", "mp4",
		outputPath,
	}
}

// FFmpeg invokes the ffmpeg binary found on PATH (or at Binary when set).
type FFmpeg struct {
	Binary string

	// run is swapped in tests to avoid requiring a real encoder.
	run func(ctx context.Context, name string, args []string) (stderr []byte, err error)
}

// NewFFmpeg returns an invoker using the given binary name, defaulting to
// "ffmpeg".
func NewFFmpeg(binary string) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{Binary: binary}
}

func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string) error {
	if strings.TrimSpace(inputPath) == "" || strings.TrimSpace(outputPath) == "" {
		return &Error{InputPath: inputPath, Err: fmt.Errorf("input and output paths are required")}
	}
	args := profileArgs(inputPath, outputPath)
	runner := f.run
	if runner == nil {
		runner = runFFmpeg
	}
	stderr, err := runner(ctx, f.Binary, args)
	if err != nil {
		// A partial output file is never valid.
		_ = os.Remove(outputPath)
		return &Error{InputPath: inputPath, Detail: stderrTail(stderr), Err: err}
	}
	info, statErr := os.Stat(outputPath)
	if statErr != nil {
		return &Error{InputPath: inputPath, Err: fmt.Errorf("encoder produced no output: %w", statErr)}
	}
	if info.Size() == 0 {
		_ = os.Remove(outputPath)
		return &Error{InputPath: inputPath, Err: fmt.Errorf("encoder produced empty output")}
	}
	return nil
}

func runFFmpeg(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// stderrTail keeps the last few lines of encoder output, which is where
// ffmpeg reports the actual failure.
func stderrTail(output []byte) string {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	const keep = 5
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, " | ")
}

var _ Invoker = (*FFmpeg)(nil)
