package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/apiwatch/internal/domain"
)

// Append ignores a second log with the same endpoint and check time, which
// is what a redelivered broker message produces.
func (s *Store) Append(ctx context.Context, l *domain.HealthLog) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO health_check_logs
  (endpoint_id, checked_at, is_healthy, response_time_ms, status_code, response_body, error_message)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
ON CONFLICT (endpoint_id, checked_at) DO NOTHING
RETURNING id`,
		string(l.EndpointID), l.CheckedAt, l.Healthy, l.LatencyMS, l.StatusCode, l.Body, l.Error,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert health log: %w", err)
	}
	l.ID = id
	return true, nil
}

func (s *Store) LastN(ctx context.Context, id domain.EndpointID, n int) ([]domain.HealthLog, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, checked_at, is_healthy, COALESCE(response_time_ms, 0), status_code,
       COALESCE(response_body, ''), COALESCE(error_message, '')
  FROM health_check_logs
 WHERE endpoint_id = $1
 ORDER BY checked_at DESC
 LIMIT $2`, string(id), n)
	if err != nil {
		return nil, fmt.Errorf("last logs: %w", err)
	}
	defer rows.Close()

	var out []domain.HealthLog
	for rows.Next() {
		var (
			l      domain.HealthLog
			status sql.NullInt32
		)
		if err := rows.Scan(&l.ID, &l.CheckedAt, &l.Healthy, &l.LatencyMS, &status, &l.Body, &l.Error); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		l.EndpointID = id
		if status.Valid {
			v := int(status.Int32)
			l.StatusCode = &v
		}
		l.CheckedAt = l.CheckedAt.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}
