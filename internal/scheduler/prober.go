package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/domain"
	"github.com/hamed0406/apiwatch/internal/probe"
	"github.com/hamed0406/apiwatch/internal/repo"
	"github.com/hamed0406/apiwatch/internal/telemetry"
)

// ResultPublisher is satisfied by broker.Publisher.
type ResultPublisher interface {
	Publish(ctx context.Context, msg domain.ResultMessage) bool
}

type Prober struct {
	Logger      *zap.Logger
	Endpoints   repo.EndpointStore
	Checker     probe.Checker
	Publisher   ResultPublisher
	Metrics     *telemetry.Metrics
	Timeout     time.Duration
	Concurrency int

	running sync.Mutex
}

func NewProber(
	logger *zap.Logger,
	es repo.EndpointStore,
	checker probe.Checker,
	pub ResultPublisher,
	m *telemetry.Metrics,
	timeout time.Duration,
	concurrency int,
) *Prober {
	if concurrency < 1 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prober{
		Logger:      logger,
		Endpoints:   es,
		Checker:     checker,
		Publisher:   pub,
		Metrics:     m,
		Timeout:     timeout,
		Concurrency: concurrency,
	}
}

// RunOnce probes every active endpoint and publishes each result. Only a
// failure to list endpoints is returned; per-endpoint problems are logged.
// Overlapping calls are skipped so one cycle never checks an endpoint twice.
func (p *Prober) RunOnce(ctx context.Context) error {
	if !p.running.TryLock() {
		p.Logger.Info("probe_run_skipped", zap.String("reason", "previous run still in progress"))
		return nil
	}
	defer p.running.Unlock()

	eps, err := p.Endpoints.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list endpoints: %w", err)
	}
	if len(eps) == 0 {
		return nil
	}

	sem := make(chan struct{}, p.Concurrency)
	var wg sync.WaitGroup

loop:
	for _, ep := range eps {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
		wg.Add(1)
		go func(ep domain.Endpoint) {
			defer func() { <-sem }()
			defer wg.Done()
			p.checkOne(ctx, ep)
		}(ep)
	}

	wg.Wait()
	return nil
}

func (p *Prober) checkOne(ctx context.Context, ep domain.Endpoint) {
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	out := p.Checker.Check(cctx, ep)
	cancel()

	p.Metrics.CheckDone(ctx, out.StatusCode != nil, out.LatencyMS)

	fields := []zap.Field{
		zap.String("endpoint_id", string(ep.ID)),
		zap.String("url", ep.URL),
		zap.Int64("latency_ms", out.LatencyMS),
	}
	if out.StatusCode != nil {
		fields = append(fields, zap.Int("status", *out.StatusCode))
	}
	if out.Error != "" {
		fields = append(fields, zap.String("error", out.Error))
	}

	if !p.Publisher.Publish(ctx, out.Message()) {
		p.Logger.Warn("probe_publish_failed", fields...)
		return
	}
	p.Logger.Debug("probe_checked", fields...)
}
