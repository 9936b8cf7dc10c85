// Command transcoder converts a single stored video from the command line.
//
// It runs the same download, transcode, upload sequence the server's workers
// run, which makes it useful for backfilling renditions or reprocessing a
// video whose conversion failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"eyycourses/internal/blobstore"
	"eyycourses/internal/media"
	"eyycourses/internal/scratch"
	"eyycourses/internal/transcode"
)

func main() {
	bucket := flag.String("bucket", "", "bucket holding the original video")
	path := flag.String("path", "", "object path of the original video")
	endpoint := flag.String("storage-endpoint", "", "S3-compatible object store endpoint")
	region := flag.String("storage-region", "", "object store region")
	accessKey := flag.String("storage-access-key", "", "object store access key")
	secretKey := flag.String("storage-secret-key", "", "object store secret key")
	useSSL := flag.Bool("storage-ssl", false, "use TLS when talking to the object store")
	ffmpegBinary := flag.String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall timeout for the conversion")
	flag.Parse()

	if strings.TrimSpace(*bucket) == "" || strings.TrimSpace(*path) == "" {
		fatalf("--bucket and --path are required")
	}

	store, err := blobstore.NewS3Client(blobstore.Config{
		Endpoint:  firstNonEmpty(*endpoint, os.Getenv("EYYCOURSES_STORAGE_ENDPOINT")),
		Region:    firstNonEmpty(*region, os.Getenv("EYYCOURSES_STORAGE_REGION")),
		AccessKey: firstNonEmpty(*accessKey, os.Getenv("EYYCOURSES_STORAGE_ACCESS_KEY")),
		SecretKey: firstNonEmpty(*secretKey, os.Getenv("EYYCOURSES_STORAGE_SECRET_KEY")),
		UseSSL:    *useSSL,
	})
	if err != nil {
		fatalf("initialise blob store: %v", err)
	}

	job, err := media.NewConversionJob(*bucket, *path)
	if err != nil {
		fatalf("invalid job: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := convert(ctx, store, transcode.NewFFmpeg(*ffmpegBinary), job); err != nil {
		fatalf("convert %s/%s: %v", job.Bucket, job.OriginalPath, err)
	}

	fmt.Printf("rendition uploaded to %s/%s\n", job.Bucket, job.RenditionPath)
}

func convert(ctx context.Context, store blobstore.Client, invoker transcode.Invoker, job media.ConversionJob) error {
	space, err := scratch.New("", job.OriginalPath)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer space.Close()

	input, err := space.CreateInput()
	if err != nil {
		return fmt.Errorf("create input file: %w", err)
	}
	if err := store.Download(ctx, job.Bucket, job.OriginalPath, input); err != nil {
		input.Close()
		return err
	}
	if err := input.Close(); err != nil {
		return fmt.Errorf("close input file: %w", err)
	}

	if err := invoker.Transcode(ctx, space.InputPath(), space.OutputPath()); err != nil {
		return err
	}

	output, err := os.Open(space.OutputPath())
	if err != nil {
		return fmt.Errorf("open rendition: %w", err)
	}
	defer output.Close()

	return store.Upload(ctx, job.Bucket, job.RenditionPath, output, media.ContentType, true)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
