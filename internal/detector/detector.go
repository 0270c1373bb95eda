// Package detector turns consumed check results into health logs and
// failure or latency incidents.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/domain"
	"github.com/hamed0406/apiwatch/internal/repo"
	"github.com/hamed0406/apiwatch/internal/telemetry"
)

// DefaultStreakLength is incident_streak_length: how many consecutive bad
// checks open or extend an incident.
const DefaultStreakLength = 3

type Detector struct {
	Endpoints repo.EndpointStore
	Logs      repo.HealthLogStore
	Incidents repo.IncidentStore
	Logger    *zap.Logger
	Metrics   *telemetry.Metrics

	StreakLength int
}

func New(es repo.EndpointStore, ls repo.HealthLogStore, is repo.IncidentStore, log *zap.Logger, m *telemetry.Metrics, streak int) *Detector {
	if streak < 1 {
		streak = DefaultStreakLength
	}
	return &Detector{Endpoints: es, Logs: ls, Incidents: is, Logger: log, Metrics: m, StreakLength: streak}
}

// Handle records one result and applies the streak rules. Unknown endpoints
// are skipped with a warning.
func (d *Detector) Handle(ctx context.Context, msg domain.ResultMessage) error {
	fields := []zap.Field{zap.String("endpoint_id", string(msg.EndpointID))}

	th, err := d.Endpoints.Thresholds(ctx, msg.EndpointID)
	if errors.Is(err, repo.ErrNotFound) {
		d.Logger.Warn("detector_endpoint_unknown", fields...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}

	entry := &domain.HealthLog{
		EndpointID: msg.EndpointID,
		CheckedAt:  msg.CheckedAt,
		Healthy:    domain.StatusMatches(msg.StatusCode, th),
		LatencyMS:  msg.LatencyMS,
		StatusCode: msg.StatusCode,
		Body:       msg.ResponseBody,
		Error:      msg.ErrorMessage,
	}
	inserted, err := d.Logs.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("append health log: %w", err)
	}
	if !inserted {
		d.Logger.Debug("detector_duplicate_log", fields...)
	}

	window, err := d.Logs.LastN(ctx, msg.EndpointID, d.StreakLength)
	if err != nil {
		return fmt.Errorf("last logs: %w", err)
	}
	if len(window) < d.StreakLength {
		return nil
	}

	verdict := domain.Classify(msg.StatusCode, msg.LatencyMS, th)
	switch verdict {
	case domain.Failed:
		if allFailed(window) {
			return d.createOrExtend(ctx, msg.EndpointID, domain.ReasonFailure, window)
		}
	case domain.LatencyDegraded:
		if allSlow(window, th.ExpectedLatencyMS) {
			return d.createOrExtend(ctx, msg.EndpointID, domain.ReasonLatency, window)
		}
	}
	return nil
}

func allFailed(window []domain.HealthLog) bool {
	for _, l := range window {
		if l.Healthy {
			return false
		}
	}
	return true
}

func allSlow(window []domain.HealthLog, limitMS int64) bool {
	for _, l := range window {
		if l.LatencyMS <= limitMS {
			return false
		}
	}
	return true
}

// createOrExtend merges the window into the latest incident when it has the
// same reason and touches or overlaps it. window is newest first.
func (d *Detector) createOrExtend(ctx context.Context, id domain.EndpointID, reason domain.Reason, window []domain.HealthLog) error {
	start := window[len(window)-1].CheckedAt
	end := window[0].CheckedAt
	label := reason.Label()
	fields := []zap.Field{
		zap.String("endpoint_id", string(id)),
		zap.String("reason", string(reason)),
		zap.Time("window_start", start),
		zap.Time("window_end", end),
	}

	last, err := d.Incidents.MostRecent(ctx, id)
	if err != nil {
		return fmt.Errorf("most recent incident: %w", err)
	}
	if last != nil && last.Reason() == reason && (last.End == nil || !last.End.Before(start)) {
		newEnd := end
		if last.End != nil && last.End.After(end) {
			newEnd = *last.End
		}
		if err := d.Incidents.Update(ctx, last.ID, newEnd, label); err != nil {
			return fmt.Errorf("extend incident: %w", err)
		}
		d.Logger.Info("incident_extended", append(fields, zap.String("incident_id", last.ID))...)
		d.Metrics.IncidentRecorded(ctx, string(reason), "extended")
		return nil
	}

	inc := &domain.Incident{EndpointID: id, Start: start, End: timePtr(end), Label: label}
	if err := d.Incidents.Insert(ctx, inc); err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	d.Logger.Info("incident_created", append(fields, zap.String("incident_id", inc.ID))...)
	d.Metrics.IncidentRecorded(ctx, string(reason), "created")
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }
