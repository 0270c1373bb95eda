package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/apiwatch/internal/domain"
	"github.com/hamed0406/apiwatch/internal/repo"
)

func (s *Store) MostRecent(ctx context.Context, id domain.EndpointID) (*domain.Incident, error) {
	var inc domain.Incident
	err := s.pool.QueryRow(ctx, `
SELECT id::text, start_time, end_time, COALESCE(initial_error, '')
  FROM incidents
 WHERE endpoint_id = $1
 ORDER BY start_time DESC
 LIMIT 1`, string(id)).Scan(&inc.ID, &inc.Start, &inc.End, &inc.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("most recent incident: %w", err)
	}
	inc.EndpointID = id
	return &inc, nil
}

func (s *Store) Insert(ctx context.Context, inc *domain.Incident) error {
	err := s.pool.QueryRow(ctx, `
INSERT INTO incidents (endpoint_id, start_time, end_time, initial_error)
VALUES ($1, $2, $3, $4)
RETURNING id::text`,
		string(inc.EndpointID), inc.Start, inc.End, inc.Label,
	).Scan(&inc.ID)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, incidentID string, end time.Time, label string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET end_time = $2, initial_error = $3 WHERE id = $1`,
		incidentID, end, label)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %s: %w", incidentID, repo.ErrNotFound)
	}
	return nil
}

func (s *Store) Since(ctx context.Context, id domain.EndpointID, from time.Time) ([]domain.Incident, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, start_time, end_time, COALESCE(initial_error, '')
  FROM incidents
 WHERE endpoint_id = $1 AND start_time >= $2
 ORDER BY start_time ASC`, string(id), from)
	if err != nil {
		return nil, fmt.Errorf("incidents since: %w", err)
	}
	defer rows.Close()

	var out []domain.Incident
	for rows.Next() {
		inc := domain.Incident{EndpointID: id}
		if err := rows.Scan(&inc.ID, &inc.Start, &inc.End, &inc.Label); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
