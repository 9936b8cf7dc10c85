package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProfileArgsCanonical(t *testing.T) {
	args := profileArgs("/tmp/in", "/tmp/out.mp4")
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-c:v libx264",
		"-pix_fmt yuv420p",
		"-crf 23",
		"-c:a aac",
		"-b:a 128k",
		"-movflags +faststart",
		"-f mp4",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("profile args missing %q in %q", want, joined)
		}
	}
	if args[len(args)-1] != "/tmp/out.mp4" {
		t.Fatalf("expected output path last, got %q", args[len(args)-1])
	}
}

func TestTranscodeSuccess(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "output.mp4")
	invoker := NewFFmpeg("")
	invoker.run = func(ctx context.Context, name string, args []string) ([]byte, error) {
		if name != "ffmpeg" {
			t.Fatalf("expected default binary, got %q", name)
		}
		if err := os.WriteFile(output, []byte("encoded"), 0o644); err != nil {
			t.Fatalf("write output: %v", err)
		}
		return nil, nil
	}
	if err := invoker.Transcode(context.Background(), filepath.Join(dir, "input"), output); err != nil {
		t.Fatalf("transcode: %v", err)
	}
}

func TestTranscodeFailureRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "output.mp4")
	invoker := NewFFmpeg("ffmpeg")
	invoker.run = func(ctx context.Context, name string, args []string) ([]byte, error) {
		if err := os.WriteFile(output, []byte("partial"), 0o644); err != nil {
			t.Fatalf("write partial: %v", err)
		}
		return []byte("frame dropped\nmoov atom not found"), fmt.Errorf("exit status 1")
	}
	err := invoker.Transcode(context.Background(), filepath.Join(dir, "input"), output)
	if err == nil {
		t.Fatal("expected error")
	}
	var encodeErr *Error
	if !errors.As(err, &encodeErr) {
		t.Fatalf("expected *transcode.Error, got %T", err)
	}
	if !strings.Contains(encodeErr.Detail, "moov atom not found") {
		t.Fatalf("expected stderr tail in detail, got %q", encodeErr.Detail)
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Fatalf("expected partial output removed, stat err %v", statErr)
	}
}

func TestTranscodeEmptyOutputFails(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "output.mp4")
	invoker := NewFFmpeg("ffmpeg")
	invoker.run = func(ctx context.Context, name string, args []string) ([]byte, error) {
		if err := os.WriteFile(output, nil, 0o644); err != nil {
			t.Fatalf("write empty: %v", err)
		}
		return nil, nil
	}
	if err := invoker.Transcode(context.Background(), filepath.Join(dir, "input"), output); err == nil {
		t.Fatal("expected error for empty output")
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Fatalf("expected empty output removed, stat err %v", statErr)
	}
}

func TestStderrTailKeepsLastLines(t *testing.T) {
	lines := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		lines = append(lines, fmt.Sprintf("line-%d", i))
	}
	tail := stderrTail([]byte(strings.Join(lines, "\n")))
	if strings.Contains(tail, "line-0") {
		t.Fatalf("expected early lines dropped, got %q", tail)
	}
	if !strings.Contains(tail, "line-7") {
		t.Fatalf("expected final line kept, got %q", tail)
	}
}
