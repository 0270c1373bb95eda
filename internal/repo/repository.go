package repo

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/apiwatch/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Ports (interfaces). The memory and postgres packages provide adapters.
type EndpointStore interface {
	ListActive(ctx context.Context) ([]domain.Endpoint, error)
	// Thresholds returns ErrNotFound for unknown endpoints.
	Thresholds(ctx context.Context, id domain.EndpointID) (domain.Thresholds, error)
}

type HealthLogStore interface {
	// Append reports false when a log for the same endpoint and check time
	// already exists.
	Append(ctx context.Context, l *domain.HealthLog) (bool, error)
	// LastN returns up to n logs, newest first.
	LastN(ctx context.Context, id domain.EndpointID, n int) ([]domain.HealthLog, error)
}

type IncidentStore interface {
	// MostRecent returns nil, nil if the endpoint has no incidents.
	MostRecent(ctx context.Context, id domain.EndpointID) (*domain.Incident, error)
	Insert(ctx context.Context, inc *domain.Incident) error
	Update(ctx context.Context, incidentID string, end time.Time, label string) error
	// Since returns incidents starting at or after from, oldest first.
	Since(ctx context.Context, id domain.EndpointID, from time.Time) ([]domain.Incident, error)
}

// CheckpointStore holds the alert batcher's per-endpoint last_checked_at.
type CheckpointStore interface {
	AlertTargets(ctx context.Context) ([]domain.AlertTarget, error)
	// Advance moves the checkpoint forward; an older timestamp is ignored.
	Advance(ctx context.Context, id domain.EndpointID, at time.Time) error
}

type OwnerDirectory interface {
	// OwnerOf returns ErrNotFound when the endpoint or its owner is unknown.
	OwnerOf(ctx context.Context, id domain.EndpointID) (domain.Owner, error)
}
