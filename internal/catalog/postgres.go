package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig tunes the connection pool. DSN is required.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
	ApplicationName string
}

// PostgresRepository stores lesson media records in Postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

const lessonMediaSchema = `
CREATE TABLE IF NOT EXISTS lesson_media (
    lesson_id TEXT PRIMARY KEY,
    bucket TEXT NOT NULL,
    original_path TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgresRepository opens a pool against cfg.DSN and ensures the
// lesson_media table exists.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, lessonMediaSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure lesson_media schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) SetLessonMedia(ctx context.Context, media LessonMedia) error {
	if err := media.validate(); err != nil {
		return err
	}
	updatedAt := media.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO lesson_media (lesson_id, bucket, original_path, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (lesson_id) DO UPDATE
SET bucket = EXCLUDED.bucket,
    original_path = EXCLUDED.original_path,
    updated_at = EXCLUDED.updated_at`,
		media.LessonID, media.Bucket, media.OriginalPath, updatedAt)
	if err != nil {
		return fmt.Errorf("set lesson media %s: %w", media.LessonID, err)
	}
	return nil
}

func (r *PostgresRepository) GetLessonMedia(ctx context.Context, lessonID string) (LessonMedia, error) {
	var media LessonMedia
	err := r.pool.QueryRow(ctx, `
SELECT lesson_id, bucket, original_path, updated_at
FROM lesson_media
WHERE lesson_id = $1`, lessonID).
		Scan(&media.LessonID, &media.Bucket, &media.OriginalPath, &media.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LessonMedia{}, ErrLessonNotFound
	}
	if err != nil {
		return LessonMedia{}, fmt.Errorf("get lesson media %s: %w", lessonID, err)
	}
	return media, nil
}

func (r *PostgresRepository) ClearLessonMedia(ctx context.Context, lessonID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM lesson_media WHERE lesson_id = $1`, lessonID); err != nil {
		return fmt.Errorf("clear lesson media %s: %w", lessonID, err)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

var _ Repository = (*PostgresRepository)(nil)
