// Command server starts the eyycourses media API HTTP service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"eyycourses/internal/api"
	"eyycourses/internal/blobstore"
	"eyycourses/internal/catalog"
	"eyycourses/internal/dispatch"
	"eyycourses/internal/events"
	"eyycourses/internal/normalize"
	"eyycourses/internal/observability/logging"
	"eyycourses/internal/observability/metrics"
	"eyycourses/internal/playback"
	"eyycourses/internal/server"
	"eyycourses/internal/transcode"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")

	storageEndpoint := flag.String("storage-endpoint", "", "S3-compatible object store endpoint")
	storageRegion := flag.String("storage-region", "", "object store region")
	storageAccessKey := flag.String("storage-access-key", "", "object store access key")
	storageSecretKey := flag.String("storage-secret-key", "", "object store secret key")
	storageSSL := flag.Bool("storage-ssl", false, "use TLS when talking to the object store")
	videoBucket := flag.String("video-bucket", "", "bucket that holds lesson videos")

	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the lesson catalog")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")

	redisAddr := flag.String("redis-addr", "", "Redis address for conversion events")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis database number")
	redisStream := flag.String("redis-stream", "", "Redis stream for conversion events")

	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	scratchRoot := flag.String("scratch-dir", "", "directory for conversion workspaces")
	workers := flag.Int("workers", 0, "number of conversion workers")
	queueSize := flag.Int("queue-size", 0, "conversion queue capacity")
	jobTimeout := flag.Duration("job-timeout", 0, "timeout for a single conversion job")
	maxTranscodes := flag.Int("max-transcodes", 0, "maximum concurrent ffmpeg processes")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted size for direct video uploads")

	apiTokens := flag.String("api-tokens", "", "comma-separated pbkdf2 digests of accepted bearer tokens")
	allowedOrigins := flag.String("cors-origins", "", "comma-separated origins allowed to call the API")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")

	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	webhookLimit := flag.Int("rate-webhook-limit", 0, "maximum storage events per window for a single IP")
	webhookWindow := flag.Duration("rate-webhook-window", 0, "window for the per-IP storage event limit")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for shared rate limit counters")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for the rate limit store")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("EYYCOURSES_LOG_LEVEL"), "info"),
		Format: firstNonEmpty(*logFormat, os.Getenv("EYYCOURSES_LOG_FORMAT")),
	})

	listenAddr := firstNonEmpty(*addr, os.Getenv("EYYCOURSES_ADDR"), ":8080")
	bucket := firstNonEmpty(*videoBucket, os.Getenv("EYYCOURSES_VIDEO_BUCKET"), "videos")

	store, err := blobstore.NewS3Client(blobstore.Config{
		Endpoint:  firstNonEmpty(*storageEndpoint, os.Getenv("EYYCOURSES_STORAGE_ENDPOINT")),
		Region:    firstNonEmpty(*storageRegion, os.Getenv("EYYCOURSES_STORAGE_REGION")),
		AccessKey: firstNonEmpty(*storageAccessKey, os.Getenv("EYYCOURSES_STORAGE_ACCESS_KEY")),
		SecretKey: firstNonEmpty(*storageSecretKey, os.Getenv("EYYCOURSES_STORAGE_SECRET_KEY")),
		UseSSL:    resolveBool(*storageSSL, "EYYCOURSES_STORAGE_SSL"),
	})
	if err != nil {
		logger.Error("failed to initialise blob store", "error", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	var repo catalog.Repository
	dsn := firstNonEmpty(*postgresDSN, os.Getenv("EYYCOURSES_POSTGRES_DSN"))
	if dsn != "" {
		pgRepo, err := catalog.NewPostgresRepository(startupCtx, catalog.PostgresConfig{
			DSN:             dsn,
			MaxConnections:  int32(resolveInt(*postgresMaxConns, "EYYCOURSES_POSTGRES_MAX_CONNS")),
			MinConnections:  int32(resolveInt(*postgresMinConns, "EYYCOURSES_POSTGRES_MIN_CONNS")),
			MaxConnLifetime: resolveDuration(*postgresConnLifetime, "EYYCOURSES_POSTGRES_MAX_CONN_LIFETIME", 0),
			ApplicationName: "eyycourses",
		})
		if err != nil {
			logger.Error("failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		repo = pgRepo
		logger.Info("lesson catalog using Postgres")
	} else {
		repo = catalog.NewMemoryRepository()
		logger.Warn("lesson catalog using in-memory store, records are lost on restart")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if eventsAddr := firstNonEmpty(*redisAddr, os.Getenv("EYYCOURSES_REDIS_ADDR")); eventsAddr != "" {
		redisPublisher, err := events.NewRedisPublisher(events.RedisConfig{
			Addr:     eventsAddr,
			Password: firstNonEmpty(*redisPassword, os.Getenv("EYYCOURSES_REDIS_PASSWORD")),
			DB:       resolveInt(*redisDB, "EYYCOURSES_REDIS_DB"),
			Stream:   firstNonEmpty(*redisStream, os.Getenv("EYYCOURSES_REDIS_STREAM")),
		})
		if err != nil {
			logger.Error("failed to initialise event publisher", "error", err)
			os.Exit(1)
		}
		publisher = redisPublisher
		logger.Info("conversion events publishing to Redis", "addr", eventsAddr)
	} else {
		logger.Warn("no Redis address configured, conversion events are discarded")
	}

	recorder := metrics.Default()
	ffmpegPath := firstNonEmpty(*ffmpegBinary, os.Getenv("EYYCOURSES_FFMPEG"), "ffmpeg")

	normalizer := normalize.NewEngine(ffmpegPath)
	normalizer.Start(context.Background())

	processor, err := dispatch.NewProcessor(dispatch.ProcessorConfig{
		Store:         store,
		Transcoder:    transcode.NewFFmpeg(ffmpegPath),
		Publisher:     publisher,
		Metrics:       recorder,
		ScratchRoot:   firstNonEmpty(*scratchRoot, os.Getenv("EYYCOURSES_SCRATCH_DIR")),
		Workers:       resolveInt(*workers, "EYYCOURSES_WORKERS"),
		QueueSize:     resolveInt(*queueSize, "EYYCOURSES_QUEUE_SIZE"),
		JobTimeout:    resolveDuration(*jobTimeout, "EYYCOURSES_JOB_TIMEOUT", 0),
		MaxTranscodes: int64(resolveInt(*maxTranscodes, "EYYCOURSES_MAX_TRANSCODES")),
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to initialise conversion processor", "error", err)
		os.Exit(1)
	}
	processor.Start()

	handler := &api.Handler{
		Catalog:        repo,
		Blob:           store,
		Resolver:       playback.NewResolver(store, 0),
		Processor:      processor,
		Normalizer:     normalizer,
		Bucket:         bucket,
		TokenDigests:   splitAndTrim(firstNonEmpty(*apiTokens, os.Getenv("EYYCOURSES_API_TOKENS"))),
		MaxUploadBytes: resolveInt64(*maxUploadBytes, "EYYCOURSES_MAX_UPLOAD_BYTES"),
		Metrics:        recorder,
		Logger:         logger,
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("EYYCOURSES_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("EYYCOURSES_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "EYYCOURSES_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "EYYCOURSES_RATE_GLOBAL_BURST"),
			WebhookLimit:  resolveInt(*webhookLimit, "EYYCOURSES_RATE_WEBHOOK_LIMIT"),
			WebhookWindow: resolveDuration(*webhookWindow, "EYYCOURSES_RATE_WEBHOOK_WINDOW", 0),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("EYYCOURSES_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("EYYCOURSES_RATE_REDIS_PASSWORD")),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*allowedOrigins, os.Getenv("EYYCOURSES_CORS_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("eyycourses API listening", "addr", listenAddr, "bucket", bucket)
	logger.Info("metrics endpoint available", "path", "/metrics")
	if err := srv.Run(runCtx); err != nil {
		logger.Error("server error", "error", err)
	}
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := processor.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop conversion processor", "error", err)
	}

	if err := publisher.Close(); err != nil {
		logger.Warn("failed to close event publisher", "error", err)
	}

	if err := repo.Close(ctx); err != nil {
		logger.Warn("failed to close lesson catalog", "error", err)
	}

	logger.Info("server stopped")
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

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
