package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/apiwatch/internal/domain"
)

// The alert checkpoint lives on monitored_endpoints.last_checked_at.

func (s *Store) AlertTargets(ctx context.Context) ([]domain.AlertTarget, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, owner_user_id::text, periodic_summary_report, last_checked_at
  FROM monitored_endpoints
 WHERE is_active
 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("alert targets: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertTarget
	for rows.Next() {
		var (
			t       domain.AlertTarget
			minutes int
			last    *time.Time
		)
		if err := rows.Scan(&t.EndpointID, &t.OwnerID, &minutes, &last); err != nil {
			return nil, fmt.Errorf("scan alert target: %w", err)
		}
		t.ReportPeriod = time.Duration(minutes) * time.Minute
		if last != nil {
			l := last.UTC()
			t.LastCheckedAt = &l
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Advance never moves last_checked_at backwards.
func (s *Store) Advance(ctx context.Context, id domain.EndpointID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE monitored_endpoints
   SET last_checked_at = $2
 WHERE id = $1 AND (last_checked_at IS NULL OR last_checked_at < $2)`,
		string(id), at)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
