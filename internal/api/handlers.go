// Package api exposes the HTTP surface of the media pipeline: the storage
// webhook that feeds conversions, lesson video ingress, playback
// resolution, and health.
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"eyycourses/internal/blobstore"
	"eyycourses/internal/catalog"
	"eyycourses/internal/dispatch"
	"eyycourses/internal/media"
	"eyycourses/internal/normalize"
	"eyycourses/internal/observability/logging"
	"eyycourses/internal/observability/metrics"
	"eyycourses/internal/playback"
)

const (
	defaultMaxEventBytes  = 1 << 20
	defaultMaxUploadBytes = 2 << 30
)

type Handler struct {
	Catalog    catalog.Repository
	Blob       blobstore.Client
	Resolver   *playback.Resolver
	Processor  *dispatch.Processor
	Normalizer *normalize.Engine

	// Bucket is where lesson videos land.
	Bucket string

	// TokenDigests holds pbkdf2 digests of accepted bearer tokens. Empty
	// means auth is disabled.
	TokenDigests []string

	MaxUploadBytes int64

	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

func (h *Handler) logger(r *http.Request) *slog.Logger {
	base := h.Logger
	if base == nil {
		base = slog.Default()
	}
	if r == nil {
		return base
	}
	return logging.WithContext(r.Context(), base)
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

// ConvertVideo handles the storage webhook. The event is acknowledged
// before any decoding or pipeline work so the storage service never
// retries on our processing time.
func (h *Handler) ConvertVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, defaultMaxEventBytes))
	if err != nil {
		body = nil
	}
	logger := h.logger(r)

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})

	go h.ingestEvent(body, logger)
}

func (h *Handler) ingestEvent(body []byte, logger *slog.Logger) {
	job, err := dispatch.DecodeEvent(body)
	if err != nil {
		var invalid *dispatch.InvalidPayloadError
		if errors.As(err, &invalid) {
			h.recorder().ObserveInvalidPayload()
			logger.Warn("storage event dropped", "reason", invalid.Reason)
			return
		}
		logger.Error("storage event rejected", "error", err)
		return
	}
	if h.Processor == nil {
		logger.Error("conversion processor unavailable",
			"bucket", job.Bucket, "original_path", job.OriginalPath)
		return
	}
	h.Processor.Enqueue(job)
	logger.Info("conversion enqueued",
		"bucket", job.Bucket,
		"original_path", job.OriginalPath,
		"rendition_path", job.RenditionPath,
	)
}

// Lessons routes /api/lessons/{id}/playback and /api/lessons/{id}/video.
func (h *Handler) Lessons(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/lessons/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) != 2 || segments[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	lessonID := segments[0]
	r = r.WithContext(logging.ContextWithLessonID(r.Context(), lessonID))
	switch segments[1] {
	case "playback":
		h.lessonPlayback(w, r, lessonID)
	case "video":
		h.lessonVideo(w, r, lessonID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (h *Handler) lessonPlayback(w http.ResponseWriter, r *http.Request, lessonID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	record, err := h.Catalog.GetLessonMedia(r.Context(), lessonID)
	if errors.Is(err, catalog.ErrLessonNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("lesson has no video"))
		return
	}
	if err != nil {
		h.logger(r).Error("lesson lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("lesson lookup failed"))
		return
	}
	grant, err := h.Resolver.Resolve(r.Context(), media.Asset{Bucket: record.Bucket, OriginalPath: record.OriginalPath})
	if err != nil {
		var signErr *playback.SignedURLError
		if errors.As(err, &signErr) {
			h.recorder().ObserveResolution("unavailable")
			h.logger(r).Warn("playback unavailable",
				"bucket", signErr.Bucket,
				"original_path", signErr.OriginalPath,
				"error", err,
			)
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("video not currently available"))
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.recorder().ObserveResolution(grant.Source)
	writeJSON(w, http.StatusOK, grant)
}

func (h *Handler) lessonVideo(w http.ResponseWriter, r *http.Request, lessonID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	maxBytes := h.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart field %q is required", "video"))
		return
	}
	defer file.Close()

	filename := filepath.Base(strings.TrimSpace(header.Filename))
	if filename == "" || filename == "." {
		writeError(w, http.StatusBadRequest, fmt.Errorf("upload filename is required"))
		return
	}

	// Replacing a lesson's video assigns a fresh path; the old object and
	// its rendition are left behind rather than rewritten in place.
	originalPath := fmt.Sprintf("lessons/%d-%s", time.Now().UnixNano(), filename)

	upload, warning := h.prepareUpload(r, file, filename)
	var bodyReader io.Reader = file
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if upload != nil {
		defer upload.cleanup()
		bodyReader = upload.reader
		// The normalized object is a remuxed MP4 regardless of what the
		// client declared for the source file.
		contentType = media.ContentType
	}
	if err := h.Blob.Upload(r.Context(), h.Bucket, originalPath, bodyReader, contentType, false); err != nil {
		h.logger(r).Error("lesson upload failed", "original_path", originalPath, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Errorf("video upload failed"))
		return
	}

	record := catalog.LessonMedia{LessonID: lessonID, Bucket: h.Bucket, OriginalPath: originalPath}
	if err := h.Catalog.SetLessonMedia(r.Context(), record); err != nil {
		h.logger(r).Error("lesson media record failed", "original_path", originalPath, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("lesson update failed"))
		return
	}

	if h.Processor != nil {
		if job, err := media.NewConversionJob(h.Bucket, originalPath); err == nil {
			h.Processor.Enqueue(job)
		}
	}

	response := map[string]string{
		"lessonId":     lessonID,
		"bucket":       h.Bucket,
		"originalPath": originalPath,
	}
	if warning != "" {
		response["warning"] = warning
	}
	h.logger(r).Info("lesson video stored", "original_path", originalPath)
	writeJSON(w, http.StatusCreated, response)
}

type preparedUpload struct {
	reader  io.Reader
	cleanup func()
}

// prepareUpload runs the best-effort normalization pass. A nil result
// means the original multipart stream is stored unchanged; warning says
// why when normalization did not happen.
func (h *Handler) prepareUpload(r *http.Request, file multipart.File, filename string) (*preparedUpload, string) {
	if h.Normalizer == nil {
		return nil, ""
	}
	switch h.Normalizer.State() {
	case normalize.StateLoading:
		return nil, "video stored without normalization: normalizer still loading"
	case normalize.StateFailed:
		return nil, "video stored without normalization: normalizer unavailable"
	}

	rewind := func() { _, _ = file.Seek(0, io.SeekStart) }

	dir, err := os.MkdirTemp("", "normalize-*")
	if err != nil {
		return nil, "video stored without normalization: " + err.Error()
	}
	removeDir := func() { _ = os.RemoveAll(dir) }

	inputPath := filepath.Join(dir, "input")
	input, err := os.Create(inputPath)
	if err != nil {
		removeDir()
		return nil, "video stored without normalization: " + err.Error()
	}
	_, copyErr := io.Copy(input, file)
	input.Close()
	if copyErr != nil {
		removeDir()
		rewind()
		return nil, "video stored without normalization: " + copyErr.Error()
	}

	outputPath := filepath.Join(dir, "normalized.mp4")
	if err := h.Normalizer.Normalize(r.Context(), inputPath, outputPath); err != nil {
		h.logger(r).Warn("normalization skipped", "filename", filename, "error", err)
		removeDir()
		rewind()
		return nil, "video stored without normalization: " + err.Error()
	}

	normalized, err := os.Open(outputPath)
	if err != nil {
		removeDir()
		rewind()
		return nil, "video stored without normalization: " + err.Error()
	}
	return &preparedUpload{
		reader: normalized,
		cleanup: func() {
			normalized.Close()
			removeDir()
		},
	}, ""
}
