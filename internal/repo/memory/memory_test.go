package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/apiwatch/internal/domain"
	"github.com/hamed0406/apiwatch/internal/repo"
)

func seed(t *testing.T, s *Store) domain.EndpointID {
	t.Helper()
	ep := &domain.Endpoint{
		URL:            "https://example.com",
		ExpectedStatus: 200,
		ReportPeriod:   30 * time.Minute,
		OwnerID:        "U1",
		Active:         true,
	}
	if err := s.AddEndpoint(context.Background(), ep); err != nil {
		t.Fatalf("AddEndpoint: %v", err)
	}
	if ep.ID == "" {
		t.Fatalf("expected endpoint ID to be set")
	}
	return ep.ID
}

func TestMemoryStore_ListActiveSkipsInactive(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)
	_ = s.AddEndpoint(ctx, &domain.Endpoint{URL: "https://off.example.com", Active: false})

	all, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(all) != 1 || all[0].URL != "https://example.com" {
		t.Fatalf("unexpected endpoints: %+v", all)
	}
	if all[0].Method != "GET" {
		t.Fatalf("expected default method GET, got %q", all[0].Method)
	}
}

func TestMemoryStore_AppendIsIdempotentAndLastNIsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seed(t, s)
	base := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		ok, err := s.Append(ctx, &domain.HealthLog{EndpointID: id, CheckedAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil || !ok {
			t.Fatalf("Append %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := s.Append(ctx, &domain.HealthLog{EndpointID: id, CheckedAt: base})
	if err != nil || ok {
		t.Fatalf("duplicate append should be ignored: ok=%v err=%v", ok, err)
	}

	last, err := s.LastN(ctx, id, 3)
	if err != nil {
		t.Fatalf("LastN: %v", err)
	}
	if len(last) != 3 {
		t.Fatalf("want 3 logs, got %d", len(last))
	}
	if !last[0].CheckedAt.Equal(base.Add(3*time.Minute)) || !last[2].CheckedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("want newest first, got %v .. %v", last[0].CheckedAt, last[2].CheckedAt)
	}

	if _, err := s.Append(ctx, &domain.HealthLog{EndpointID: "missing", CheckedAt: base}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown endpoint, got %v", err)
	}
}

func TestMemoryStore_IncidentsAndCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seed(t, s)
	t0 := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)

	inc := &domain.Incident{EndpointID: id, Start: t0, Label: domain.ReasonFailure.Label()}
	if err := s.Insert(ctx, inc); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Update(ctx, inc.ID, t0.Add(5*time.Minute), inc.Label); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := s.MostRecent(ctx, id)
	if err != nil || got == nil || got.End == nil || !got.End.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("unexpected most recent: %+v err=%v", got, err)
	}

	since, _ := s.Since(ctx, id, t0.Add(time.Second))
	if len(since) != 0 {
		t.Fatalf("want no incidents after start, got %d", len(since))
	}

	if err := s.Advance(ctx, id, t0.Add(time.Hour)); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	_ = s.Advance(ctx, id, t0) // older, ignored
	cp, ok := s.Checkpoint(id)
	if !ok || !cp.Equal(t0.Add(time.Hour)) {
		t.Fatalf("checkpoint must not move backwards, got %v", cp)
	}

	if _, err := s.OwnerOf(ctx, id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound before owner exists, got %v", err)
	}
	_ = s.AddOwner(ctx, "U1", domain.Owner{Email: "a@example.com", DisplayName: "Ann"})
	o, err := s.OwnerOf(ctx, id)
	if err != nil || o.Email != "a@example.com" {
		t.Fatalf("OwnerOf: %+v err=%v", o, err)
	}
}
