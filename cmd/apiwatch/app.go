package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/broker"
	"github.com/hamed0406/apiwatch/internal/config"
	"github.com/hamed0406/apiwatch/internal/detector"
	"github.com/hamed0406/apiwatch/internal/httpapi"
	apimw "github.com/hamed0406/apiwatch/internal/httpapi/middleware"
	"github.com/hamed0406/apiwatch/internal/logging"
	"github.com/hamed0406/apiwatch/internal/notify"
	"github.com/hamed0406/apiwatch/internal/probe"
	"github.com/hamed0406/apiwatch/internal/repo"
	"github.com/hamed0406/apiwatch/internal/repo/memory"
	"github.com/hamed0406/apiwatch/internal/repo/postgres"
	"github.com/hamed0406/apiwatch/internal/scheduler"
	"github.com/hamed0406/apiwatch/internal/telemetry"
)

const serviceName = "apiwatch"

var version = "dev"

type storage interface {
	repo.EndpointStore
	repo.HealthLogStore
	repo.IncidentStore
	repo.CheckpointStore
	repo.OwnerDirectory
}

// app holds what every command shares: config, logger, metrics and store.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	tel     *telemetry.Provider
	metrics *telemetry.Metrics

	store storage
	pg    *postgres.Store
}

func newApp(ctx context.Context) (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log = log.With(zap.String("env", cfg.Env))

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTLPEndpoint != "",
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	m, err := telemetry.NewMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	a := &app{cfg: cfg, log: log, tel: tel, metrics: m}
	if cfg.DatabaseURL == "" {
		log.Warn("store_in_memory", zap.String("hint", "set DATABASE_URL for a persistent store"))
		a.store = memory.New()
		return a, nil
	}
	pg, err := postgres.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.pg, a.store = pg, pg
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.log.Warn("telemetry_shutdown_failed", zap.Error(err))
	}
	if a.pg != nil {
		a.pg.Close()
	}
	_ = a.log.Sync()
}

func (a *app) migrate(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Migrate(ctx)
}

func (a *app) brokerConfig() broker.Config {
	k := a.cfg.Kafka
	return broker.Config{
		Brokers:           k.Brokers,
		Topic:             k.Topic,
		GroupID:           k.GroupID,
		Partitions:        k.Partitions,
		ReplicationFactor: k.ReplicationFactor,
		ConnectRetries:    k.MaxRetries,
		ConnectRetryDelay: k.RetryDelay,
		RequestTimeout:    k.RequestTimeout,
		WriteAttempts:     k.WriteAttempts,
		Username:          k.Username,
		Password:          k.Password,
		SecurityProtocol:  k.SecurityProtocol,
	}
}

// publisher connects before returning; failing to reach the cluster is fatal.
func (a *app) publisher(ctx context.Context) (*broker.Publisher, error) {
	p := broker.NewPublisher(a.brokerConfig(), a.log, a.metrics)
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *app) prober(pub scheduler.ResultPublisher) *scheduler.Prober {
	chk := probe.NewHTTPChecker(a.cfg.HTTPConnectTimeout, a.cfg.HTTPTimeout)
	// the per-check deadline leaves room for the DNS lookup after a failure
	return scheduler.NewProber(a.log, a.store, chk, pub, a.metrics, a.cfg.HTTPTimeout+5*time.Second, a.cfg.CheckConcurrency)
}

func (a *app) alerter() *scheduler.Alerter {
	n := notify.Mirror{
		Primary: notify.NewSMTP(notify.SMTPConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTP.Password,
			From:     a.cfg.SMTP.From,
			StartTLS: true,
		}),
		Logger: a.log,
	}
	if s := notify.NewSlack(a.cfg.NotifyWebhook); s != nil {
		n.Copies = append(n.Copies, s)
	}
	al := scheduler.NewAlerter(a.log, a.store, a.store, a.store, n, a.metrics)
	al.Subject = a.cfg.AlertSubject
	al.StreakLength = a.cfg.IncidentStreakLength
	return al
}

func (a *app) detector() *detector.Detector {
	return detector.New(a.store, a.store, a.store, a.log, a.metrics, a.cfg.IncidentStreakLength)
}

func (a *app) subscriber() (*broker.Subscriber, error) {
	return broker.NewSubscriber(a.brokerConfig(), a.cfg.ConsumerWorkers, a.log, a.metrics)
}

func (a *app) opsServer(pub *broker.Publisher, actions map[string]func(context.Context) error) *http.Server {
	srv := httpapi.NewServer(a.log, a.store, a.store)
	if pub != nil {
		srv.Ready["kafka"] = pub.Healthy
	}
	if a.pg != nil {
		srv.Ready["postgres"] = a.pg.Ping
	}
	for name, fn := range actions {
		srv.Actions[name] = fn
	}
	keys := apimw.Keys{Public: a.cfg.PublicAPIKeys, Admin: a.cfg.AdminAPIKeys}
	return &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           srv.Router(keys, a.cfg.PublicRPM),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
