package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/domain"
	"github.com/hamed0406/apiwatch/internal/repo"
)

func (s *Store) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, name, http_method, url, request_headers, request_body,
       expected_status_code, expected_latency_ms, periodic_summary_report,
       owner_user_id::text
  FROM monitored_endpoints
 WHERE is_active
 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.Endpoint
	for rows.Next() {
		var (
			e             domain.Endpoint
			headers, body []byte
			periodMinutes int
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Method, &e.URL, &headers, &body,
			&e.ExpectedStatus, &e.ExpectedLatencyMS, &periodMinutes, &e.OwnerID); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &e.Headers); err != nil {
				// A bad header blob should not hide the endpoint from the cycle.
				s.log.Warn("endpoint_headers_invalid", zap.String("endpoint_id", string(e.ID)), zap.Error(err))
				e.Headers = nil
			}
		}
		if len(body) > 0 && string(body) != "null" {
			e.Body = json.RawMessage(body)
		}
		e.ReportPeriod = time.Duration(periodMinutes) * time.Minute
		e.Active = true
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Thresholds(ctx context.Context, id domain.EndpointID) (domain.Thresholds, error) {
	var th domain.Thresholds
	err := s.pool.QueryRow(ctx,
		`SELECT expected_status_code, expected_latency_ms FROM monitored_endpoints WHERE id = $1`,
		string(id)).Scan(&th.ExpectedStatus, &th.ExpectedLatencyMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return th, fmt.Errorf("endpoint %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return th, fmt.Errorf("thresholds: %w", err)
	}
	return th, nil
}

func (s *Store) OwnerOf(ctx context.Context, id domain.EndpointID) (domain.Owner, error) {
	var o domain.Owner
	err := s.pool.QueryRow(ctx, `
SELECT u.email, u.full_name
  FROM monitored_endpoints me
  JOIN users u ON u.id = me.owner_user_id
 WHERE me.id = $1`, string(id)).Scan(&o.Email, &o.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, fmt.Errorf("owner of %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return o, fmt.Errorf("owner of %s: %w", id, err)
	}
	return o, nil
}
