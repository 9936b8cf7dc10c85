package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"eyycourses/internal/blobstore"
	"eyycourses/internal/events"
	"eyycourses/internal/media"
	"eyycourses/internal/observability/metrics"
	"eyycourses/internal/scratch"
	"eyycourses/internal/transcode"
)

// ProcessorConfig wires a Processor. Store and Transcoder are required.
type ProcessorConfig struct {
	Store      blobstore.Client
	Transcoder transcode.Invoker
	Publisher  events.Publisher
	Metrics    *metrics.Recorder

	// ScratchRoot is the directory conversion workspaces are created under.
	// Empty means the system temp directory.
	ScratchRoot string

	Workers       int
	QueueSize     int
	JobTimeout    time.Duration
	MaxTranscodes int64

	Logger *slog.Logger
}

// Processor runs conversion jobs on a fixed worker pool. Enqueue never
// blocks the caller's response path beyond queue admission; the expensive
// work happens on the workers.
type Processor struct {
	store      blobstore.Client
	transcoder transcode.Invoker
	publisher  events.Publisher
	metrics    *metrics.Recorder

	scratchRoot string
	workers     int
	jobTimeout  time.Duration
	encodeSlots *semaphore.Weighted
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan media.ConversionJob
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
}

const (
	defaultWorkers    = 2
	defaultQueueSize  = 64
	defaultJobTimeout = 30 * time.Minute
)

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Transcoder == nil {
		return nil, fmt.Errorf("transcoder is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	maxTranscodes := cfg.MaxTranscodes
	if maxTranscodes <= 0 {
		maxTranscodes = int64(workers)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scratchRoot := cfg.ScratchRoot
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		store:       cfg.Store,
		transcoder:  cfg.Transcoder,
		publisher:   publisher,
		metrics:     recorder,
		scratchRoot: scratchRoot,
		workers:     workers,
		jobTimeout:  jobTimeout,
		encodeSlots: semaphore.NewWeighted(maxTranscodes),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan media.ConversionJob, queueSize),
	}, nil
}

func (p *Processor) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	go func() {
		removed, err := scratch.SweepStale(p.scratchRoot, p.jobTimeout)
		if err != nil {
			p.logger.Warn("scratch sweep failed", "root", p.scratchRoot, "error", err)
		}
		if len(removed) > 0 {
			p.logger.Info("stale scratch removed", "count", len(removed))
		}
	}()
}

// Shutdown stops accepting work and waits for in-flight jobs to finish,
// bounded by ctx.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands a job to the pool. Duplicate jobs for the same object are
// accepted; each reprocesses fresh bytes and overwrites the same rendition.
func (p *Processor) Enqueue(job media.ConversionJob) {
	if p == nil || job.Bucket == "" || job.OriginalPath == "" {
		return
	}
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	select {
	case p.queue <- job:
	case <-p.ctx.Done():
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			p.process(job)
		}
	}
}

func (p *Processor) process(job media.ConversionJob) {
	logger := p.logger.With(
		"bucket", job.Bucket,
		"original_path", job.OriginalPath,
		"rendition_path", job.RenditionPath,
	)
	p.metrics.ConversionStarted()

	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	defer cancel()

	started := time.Now()
	stage, err := p.convert(ctx, job)
	if err != nil {
		p.metrics.ConversionFinished(stage, "failed")
		logger.Error("conversion failed", "stage", stage, "error", err)
		p.publish(job, events.Conversion{
			Outcome: events.OutcomeFailed,
			Stage:   stage,
			Detail:  err.Error(),
		})
		return
	}
	p.metrics.ConversionFinished("done", "completed")
	logger.Info("conversion completed", "duration", time.Since(started))
	p.publish(job, events.Conversion{Outcome: events.OutcomeCompleted})
}

// convert runs one attempt end to end. The named stage of the first
// failure is returned alongside the error; scratch space is removed on
// every path.
func (p *Processor) convert(ctx context.Context, job media.ConversionJob) (string, error) {
	space, err := scratch.New(p.scratchRoot, job.OriginalPath)
	if err != nil {
		return "scratch", err
	}
	defer space.Close()

	input, err := space.CreateInput()
	if err != nil {
		return "scratch", err
	}
	downloadErr := p.store.Download(ctx, job.Bucket, job.OriginalPath, input)
	if closeErr := input.Close(); downloadErr == nil && closeErr != nil {
		downloadErr = closeErr
	}
	if downloadErr != nil {
		return "download", downloadErr
	}

	if err := p.encodeSlots.Acquire(ctx, 1); err != nil {
		return "transcode", err
	}
	err = p.transcoder.Transcode(ctx, space.InputPath(), space.OutputPath())
	p.encodeSlots.Release(1)
	if err != nil {
		return "transcode", err
	}

	rendition, err := os.Open(space.OutputPath())
	if err != nil {
		return "upload", &blobstore.UploadError{Bucket: job.Bucket, Path: job.RenditionPath, Err: err}
	}
	defer rendition.Close()
	if err := p.store.Upload(ctx, job.Bucket, job.RenditionPath, rendition, media.ContentType, true); err != nil {
		return "upload", err
	}
	return "", nil
}

func (p *Processor) publish(job media.ConversionJob, event events.Conversion) {
	event.Bucket = job.Bucket
	event.OriginalPath = job.OriginalPath
	event.RenditionPath = job.RenditionPath
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.publisher.PublishConversion(ctx, event); err != nil {
		p.logger.Warn("conversion event publish failed",
			"bucket", job.Bucket,
			"original_path", job.OriginalPath,
			"error", err,
		)
	}
}
