package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/domain"
	"github.com/hamed0406/apiwatch/internal/notify"
	"github.com/hamed0406/apiwatch/internal/repo"
	"github.com/hamed0406/apiwatch/internal/telemetry"
)

const DefaultSubject = "API Incident Summary Report"

// summaryTime renders timestamps in the summary body.
const summaryTime = "2006-01-02 15:04:05-07:00"

type Alerter struct {
	Logger    *zap.Logger
	Targets   repo.CheckpointStore
	Incidents repo.IncidentStore
	Owners    repo.OwnerDirectory
	Notifier  notify.Notifier
	Metrics   *telemetry.Metrics
	Subject   string
	Now       func() time.Time
	// StreakLength is the number of checks that opened an incident, shown in
	// the summary text.
	StreakLength int

	running sync.Mutex
}

func NewAlerter(
	logger *zap.Logger,
	cps repo.CheckpointStore,
	is repo.IncidentStore,
	owners repo.OwnerDirectory,
	n notify.Notifier,
	m *telemetry.Metrics,
) *Alerter {
	return &Alerter{
		Logger:    logger,
		Targets:   cps,
		Incidents: is,
		Owners:    owners,
		Notifier:  n,
		Metrics:   m,
		Subject:      DefaultSubject,
		Now:          func() time.Time { return time.Now().UTC() },
		StreakLength: domain.LabelStreakLength,
	}
}

type ownerBucket struct {
	email     string
	name      string
	incidents []domain.Incident
	endpoints []domain.EndpointID
}

// RunOnce sends one summary per owner covering every due endpoint that had
// incidents since its checkpoint. Checkpoints of a bucket move to now only
// when its mail went out. A call made while another run is in progress
// returns without doing anything.
func (a *Alerter) RunOnce(ctx context.Context) error {
	if !a.running.TryLock() {
		a.Logger.Info("alert_run_skipped", zap.String("reason", "previous run still in progress"))
		return nil
	}
	defer a.running.Unlock()

	now := a.Now()
	targets, err := a.Targets.AlertTargets(ctx)
	if err != nil {
		return fmt.Errorf("alert targets: %w", err)
	}

	var buckets []*ownerBucket
	byEmail := make(map[string]*ownerBucket)

	for _, t := range targets {
		log := a.Logger.With(zap.String("endpoint_id", string(t.EndpointID)))
		if t.ReportPeriod <= 0 {
			log.Warn("alert_period_invalid", zap.Duration("period", t.ReportPeriod))
			continue
		}
		floor := now.Add(-t.ReportPeriod)
		if t.LastCheckedAt != nil {
			floor = *t.LastCheckedAt
		}
		if now.Before(floor.Add(t.ReportPeriod)) {
			continue
		}

		incs, err := a.Incidents.Since(ctx, t.EndpointID, floor)
		if err != nil {
			log.Warn("alert_incidents_failed", zap.Error(err))
			continue
		}
		if len(incs) == 0 {
			a.advance(ctx, t.EndpointID, now)
			continue
		}

		owner, err := a.Owners.OwnerOf(ctx, t.EndpointID)
		if err != nil {
			lvl := zap.ErrorLevel
			if errors.Is(err, repo.ErrNotFound) {
				lvl = zap.WarnLevel
			}
			log.Log(lvl, "alert_owner_unknown", zap.Error(err))
			continue
		}
		b := byEmail[owner.Email]
		if b == nil {
			name := owner.DisplayName
			if name == "" {
				name = "there"
			}
			b = &ownerBucket{email: owner.Email, name: name}
			byEmail[owner.Email] = b
			buckets = append(buckets, b)
		}
		b.incidents = append(b.incidents, incs...)
		b.endpoints = append(b.endpoints, t.EndpointID)
	}

	for _, b := range buckets {
		err := a.Notifier.Send(ctx, b.email, a.Subject, renderSummary(b.name, b.incidents, a.StreakLength))
		a.Metrics.AlertSent(ctx, err == nil)
		if err != nil {
			a.Logger.Error("alert_send_failed",
				zap.String("to", b.email),
				zap.Int("incidents", len(b.incidents)),
				zap.Error(err),
			)
			continue
		}
		a.Logger.Info("alert_sent", zap.String("to", b.email), zap.Int("incidents", len(b.incidents)))
		for _, id := range b.endpoints {
			a.advance(ctx, id, now)
		}
	}
	return nil
}

func (a *Alerter) advance(ctx context.Context, id domain.EndpointID, at time.Time) {
	if err := a.Targets.Advance(ctx, id, at); err != nil {
		a.Logger.Warn("alert_checkpoint_failed", zap.String("endpoint_id", string(id)), zap.Error(err))
	}
}

func renderSummary(name string, incs []domain.Incident, streak int) string {
	lines := []string{
		fmt.Sprintf("Hello %s,", name),
		"",
		"Here are your recent API incidents:",
		"",
	}
	for _, inc := range incs {
		end := "ongoing"
		if inc.End != nil {
			end = inc.End.UTC().Format(summaryTime)
		}
		text := inc.Label
		if r := inc.Reason(); r != "" {
			text = r.Describe(streak)
		}
		lines = append(lines, fmt.Sprintf("- API ID: %s\n  Start: %s\n  End:   %s\n  Error: %s\n",
			inc.EndpointID, inc.Start.UTC().Format(summaryTime), end, text))
	}
	lines = append(lines, "Regards,\nHealth Monitor Service")
	return strings.Join(lines, "\n")
}
