package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/repo"
)

var (
	_ repo.EndpointStore   = (*Store)(nil)
	_ repo.HealthLogStore  = (*Store)(nil)
	_ repo.IncidentStore   = (*Store)(nil)
	_ repo.CheckpointStore = (*Store)(nil)
	_ repo.OwnerDirectory  = (*Store)(nil)
)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the tables the pipeline reads and writes. Safe to run
// repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	s.log.Info("schema_migrated")
	return nil
}

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS users (
  id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  full_name  TEXT NOT NULL,
  email      TEXT NOT NULL UNIQUE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS monitored_endpoints (
  id                      UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  name                    TEXT NOT NULL,
  http_method             TEXT NOT NULL DEFAULT 'GET',
  url                     TEXT NOT NULL,
  request_headers         JSONB,
  request_body            JSONB,
  expected_status_code    INTEGER NOT NULL,
  expected_latency_ms     INTEGER NOT NULL DEFAULT 200,
  periodic_summary_report INTEGER NOT NULL DEFAULT 60,
  is_active               BOOLEAN NOT NULL DEFAULT true,
  owner_user_id           UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  last_checked_at         TIMESTAMPTZ,
  created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS health_check_logs (
  id               BIGSERIAL PRIMARY KEY,
  endpoint_id      UUID NOT NULL REFERENCES monitored_endpoints(id) ON DELETE CASCADE,
  checked_at       TIMESTAMPTZ NOT NULL,
  is_healthy       BOOLEAN NOT NULL,
  response_time_ms INTEGER,
  status_code      INTEGER,
  response_body    TEXT,
  error_message    TEXT,
  UNIQUE (endpoint_id, checked_at)
);

CREATE TABLE IF NOT EXISTS incidents (
  id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  endpoint_id   UUID NOT NULL REFERENCES monitored_endpoints(id) ON DELETE CASCADE,
  start_time    TIMESTAMPTZ NOT NULL,
  end_time      TIMESTAMPTZ,
  initial_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_logs_endpoint_time ON health_check_logs (endpoint_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_endpoint_start ON incidents (endpoint_id, start_time DESC);
CREATE INDEX IF NOT EXISTS idx_endpoints_active ON monitored_endpoints (is_active);
`
