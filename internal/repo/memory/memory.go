package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/apiwatch/internal/domain"
	"github.com/hamed0406/apiwatch/internal/repo"
)

// Store keeps every table in process memory. Used for tests and for
// local runs without DATABASE_URL.
type Store struct {
	mu          sync.RWMutex
	endpoints   map[domain.EndpointID]*domain.Endpoint
	owners      map[string]domain.Owner
	logs        map[domain.EndpointID][]domain.HealthLog
	incidents   map[domain.EndpointID][]*domain.Incident
	checkpoints map[domain.EndpointID]time.Time
	nextLogID   int64
}

func New() *Store {
	return &Store{
		endpoints:   make(map[domain.EndpointID]*domain.Endpoint),
		owners:      make(map[string]domain.Owner),
		logs:        make(map[domain.EndpointID][]domain.HealthLog),
		incidents:   make(map[domain.EndpointID][]*domain.Incident),
		checkpoints: make(map[domain.EndpointID]time.Time),
	}
}

// ---- seeding ----

func (m *Store) AddEndpoint(ctx context.Context, e *domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = domain.EndpointID(uuid.NewString())
	}
	if e.Method == "" {
		e.Method = "GET"
	}
	cp := *e
	m.endpoints[e.ID] = &cp
	return nil
}

func (m *Store) AddOwner(ctx context.Context, ownerID string, o domain.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[ownerID] = o
	return nil
}

// ---- EndpointStore ----

func (m *Store) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Endpoint, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		if e.Active {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) Thresholds(ctx context.Context, id domain.EndpointID) (domain.Thresholds, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.endpoints[id]
	if !ok {
		return domain.Thresholds{}, fmt.Errorf("endpoint %s: %w", id, repo.ErrNotFound)
	}
	return e.Thresholds(), nil
}

// ---- HealthLogStore ----

func (m *Store) Append(ctx context.Context, l *domain.HealthLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[l.EndpointID]; !ok {
		return false, fmt.Errorf("endpoint %s: %w", l.EndpointID, repo.ErrNotFound)
	}
	logs := m.logs[l.EndpointID]
	for _, x := range logs {
		if x.CheckedAt.Equal(l.CheckedAt) {
			return false, nil
		}
	}
	m.nextLogID++
	l.ID = m.nextLogID
	logs = append(logs, *l)
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].CheckedAt.Before(logs[j].CheckedAt) })
	m.logs[l.EndpointID] = logs
	return true, nil
}

func (m *Store) LastN(ctx context.Context, id domain.EndpointID, n int) ([]domain.HealthLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := m.logs[id]
	if n > len(logs) {
		n = len(logs)
	}
	out := make([]domain.HealthLog, 0, n)
	for i := len(logs) - 1; i >= len(logs)-n; i-- {
		out = append(out, logs[i])
	}
	return out, nil
}

// ---- IncidentStore ----

func (m *Store) MostRecent(ctx context.Context, id domain.EndpointID) (*domain.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.Incident
	for _, inc := range m.incidents[id] {
		if latest == nil || !inc.Start.Before(latest.Start) {
			latest = inc
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyIncident(latest), nil
}

func (m *Store) Insert(ctx context.Context, inc *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	m.incidents[inc.EndpointID] = append(m.incidents[inc.EndpointID], copyIncident(inc))
	return nil
}

func (m *Store) Update(ctx context.Context, incidentID string, end time.Time, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.incidents {
		for _, inc := range list {
			if inc.ID == incidentID {
				e := end
				inc.End = &e
				inc.Label = label
				return nil
			}
		}
	}
	return fmt.Errorf("incident %s: %w", incidentID, repo.ErrNotFound)
}

func (m *Store) Since(ctx context.Context, id domain.EndpointID, from time.Time) ([]domain.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Incident
	for _, inc := range m.incidents[id] {
		if !inc.Start.Before(from) {
			out = append(out, *copyIncident(inc))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Incidents returns every incident of an endpoint, oldest first.
func (m *Store) Incidents(id domain.EndpointID) []domain.Incident {
	out, _ := m.Since(context.Background(), id, time.Time{})
	return out
}

// ---- CheckpointStore ----

func (m *Store) AlertTargets(ctx context.Context) ([]domain.AlertTarget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AlertTarget, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		if !e.Active {
			continue
		}
		t := domain.AlertTarget{EndpointID: e.ID, OwnerID: e.OwnerID, ReportPeriod: e.ReportPeriod}
		if cp, ok := m.checkpoints[e.ID]; ok {
			c := cp
			t.LastCheckedAt = &c
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndpointID < out[j].EndpointID })
	return out, nil
}

func (m *Store) Advance(ctx context.Context, id domain.EndpointID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return fmt.Errorf("endpoint %s: %w", id, repo.ErrNotFound)
	}
	if cur, ok := m.checkpoints[id]; ok && !at.After(cur) {
		return nil
	}
	m.checkpoints[id] = at
	return nil
}

// Checkpoint returns the stored last_checked_at, if any.
func (m *Store) Checkpoint(id domain.EndpointID) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[id]
	return cp, ok
}

// ---- OwnerDirectory ----

func (m *Store) OwnerOf(ctx context.Context, id domain.EndpointID) (domain.Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.endpoints[id]
	if !ok {
		return domain.Owner{}, fmt.Errorf("endpoint %s: %w", id, repo.ErrNotFound)
	}
	o, ok := m.owners[e.OwnerID]
	if !ok {
		return domain.Owner{}, fmt.Errorf("owner %s: %w", e.OwnerID, repo.ErrNotFound)
	}
	return o, nil
}

func copyIncident(inc *domain.Incident) *domain.Incident {
	cp := *inc
	if inc.End != nil {
		e := *inc.End
		cp.End = &e
	}
	return &cp
}
