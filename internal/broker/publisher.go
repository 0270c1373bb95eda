package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/domain"
	"github.com/hamed0406/apiwatch/internal/telemetry"
)

var ErrNotConnected = errors.New("kafka publisher not connected")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher hands check results to the results topic. kafka-go has no
// idempotent producer mode; writes wait for all in-sync replicas and the
// consumer tolerates duplicates.
type Publisher struct {
	cfg     Config
	log     *zap.Logger
	metrics *telemetry.Metrics
	writer  messageWriter
	cb      *gobreaker.CircuitBreaker[struct{}]

	// swapped in tests
	ensure func(ctx context.Context) (bool, error)
	probe  func(ctx context.Context) error
	exists func(ctx context.Context) (bool, error)

	connected atomic.Bool
}

func NewPublisher(cfg Config, log *zap.Logger, m *telemetry.Metrics) *Publisher {
	if cfg.ConnectRetries < 1 {
		cfg.ConnectRetries = 5
	}
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = 2 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.WriteAttempts < 1 {
		cfg.WriteAttempts = 3
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.WriteAttempts,
		WriteTimeout: cfg.RequestTimeout,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Gzip,
		Transport:    cfg.transport(),
	}

	p := &Publisher{cfg: cfg, log: log, metrics: m, writer: w}
	p.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-publisher",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("kafka_publisher_breaker",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	dialer := cfg.Dialer()
	p.ensure = func(ctx context.Context) (bool, error) {
		return EnsureTopic(ctx, dialer, cfg.Brokers, TopicSpec{
			Name:              cfg.Topic,
			Partitions:        cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
	}
	p.probe = func(ctx context.Context) error {
		return probeBrokers(ctx, dialer, cfg.Brokers)
	}
	p.exists = func(ctx context.Context) (bool, error) {
		return topicExists(ctx, dialer, cfg.Brokers, cfg.Topic)
	}
	return p
}

// Connect provisions the topic (best effort) and then waits for a broker to
// answer, with a fixed delay between attempts. The error is meant to abort
// startup. A topic that is still missing is only logged; an operator may
// create it later and publishes fail until then.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.ensure != nil {
		created, err := p.ensure(ctx)
		switch {
		case err != nil:
			p.log.Warn("kafka_topic_ensure_failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		case created:
			p.log.Info("kafka_topic_created", zap.String("topic", p.cfg.Topic))
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		cctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
		return p.probe(cctx)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.ConnectRetryDelay), uint64(p.cfg.ConnectRetries-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		p.log.Warn("kafka_connect_retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.ConnectRetries),
			zap.Duration("next_in", next),
			zap.Error(err),
		)
	})
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrNotConnected, attempt, err)
	}
	p.connected.Store(true)
	if p.exists != nil {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		ok, err := p.exists(cctx)
		cancel()
		switch {
		case err != nil:
			p.log.Warn("kafka_topic_check_failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		case !ok:
			p.log.Warn("kafka_topic_missing", zap.String("topic", p.cfg.Topic))
		}
	}
	p.log.Info("kafka_connected", zap.Strings("brokers", p.cfg.Brokers), zap.String("topic", p.cfg.Topic))
	return nil
}

// Publish writes one result keyed by endpoint id and reports whether the
// cluster acknowledged it. Failures are logged here; callers just move on.
func (p *Publisher) Publish(ctx context.Context, msg domain.ResultMessage) bool {
	ok := p.publish(ctx, msg)
	p.metrics.Published(ctx, ok)
	return ok
}

func (p *Publisher) publish(ctx context.Context, msg domain.ResultMessage) bool {
	fields := []zap.Field{zap.String("endpoint_id", string(msg.EndpointID))}
	if !p.connected.Load() {
		p.log.Error("kafka_publish_failed", append(fields, zap.Error(ErrNotConnected))...)
		return false
	}
	value, err := msg.Encode()
	if err != nil {
		p.log.Error("kafka_publish_encode_failed", append(fields, zap.Error(err))...)
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(cctx, kafka.Message{
			Key:   []byte(msg.EndpointID),
			Value: value,
			Time:  msg.CheckedAt,
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.log.Warn("kafka_publish_circuit_open", fields...)
			return false
		}
		p.log.Error("kafka_publish_failed", append(fields, zap.Error(err))...)
		return false
	}
	p.log.Debug("kafka_published", fields...)
	return true
}

// Healthy reports whether a broker currently answers metadata requests.
func (p *Publisher) Healthy(ctx context.Context) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}
	return p.probe(ctx)
}

func (p *Publisher) Close() error {
	p.connected.Store(false)
	return p.writer.Close()
}
