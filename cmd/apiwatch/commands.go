package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/broker"
	"github.com/hamed0406/apiwatch/internal/scheduler"
)

var once bool

var rootCmd = &cobra.Command{
	Use:          "apiwatch",
	Short:        "Asynchronous API health monitoring",
	Long:         "apiwatch probes registered API endpoints, streams results through Kafka,\nturns failure streaks into incidents and mails owners a periodic summary.",
	SilenceUsage: true,
	Version:      version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run prober, consumer, alert batcher and ops API in one process",
	RunE: withApp(func(ctx context.Context, a *app) error {
		if err := a.migrate(ctx); err != nil {
			return err
		}
		pub, err := a.publisher(ctx)
		if err != nil {
			return err
		}
		defer pub.Close()
		sub, err := a.subscriber()
		if err != nil {
			return err
		}
		defer sub.Close()

		prober, alerter := a.prober(pub), a.alerter()
		c := scheduler.NewCron(ctx, a.log)
		if err := c.Every("probe", a.cfg.CheckInterval, prober.RunOnce); err != nil {
			return err
		}
		if err := c.Every("alerts", a.cfg.AlertInterval, alerter.RunOnce); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		errs := make(chan error, 2)
		go func() {
			errs <- sub.Run(ctx, a.detector().Handle)
		}()

		srv := a.opsServer(pub, map[string]func(context.Context) error{
			"probe":  prober.RunOnce,
			"alerts": alerter.RunOnce,
		})
		go func() {
			a.log.Info("api_listen", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("ops api: %w", err)
			}
		}()

		c.Start()
		a.log.Info("apiwatch_started",
			zap.Duration("check_interval", a.cfg.CheckInterval),
			zap.Duration("alert_interval", a.cfg.AlertInterval),
		)

		var runErr error
		select {
		case <-ctx.Done():
		case runErr = <-errs:
		}
		a.log.Info("apiwatch_stopping")
		cancel()
		c.Stop()

		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Warn("api_shutdown_failed", zap.Error(err))
		}
		if runErr == nil {
			runErr = <-errs
		}
		return runErr
	}),
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe active endpoints and publish the results",
	RunE: withApp(func(ctx context.Context, a *app) error {
		pub, err := a.publisher(ctx)
		if err != nil {
			return err
		}
		defer pub.Close()
		p := a.prober(pub)
		if once {
			return p.RunOnce(ctx)
		}
		return loop(ctx, a, "probe", a.cfg.CheckInterval, p.RunOnce)
	}),
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume results and record health logs and incidents",
	RunE: withApp(func(ctx context.Context, a *app) error {
		if err := a.migrate(ctx); err != nil {
			return err
		}
		sub, err := a.subscriber()
		if err != nil {
			return err
		}
		defer sub.Close()
		a.log.Info("consumer_started", zap.String("topic", a.cfg.Kafka.Topic), zap.String("group", a.cfg.Kafka.GroupID))
		return sub.Run(ctx, a.detector().Handle)
	}),
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Send incident summaries to endpoint owners",
	RunE: withApp(func(ctx context.Context, a *app) error {
		al := a.alerter()
		if once {
			return al.RunOnce(ctx)
		}
		return loop(ctx, a, "alerts", a.cfg.AlertInterval, al.RunOnce)
	}),
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: withApp(func(ctx context.Context, a *app) error {
		if a.pg == nil {
			return errors.New("DATABASE_URL is not set")
		}
		if err := a.pg.Migrate(ctx); err != nil {
			return err
		}
		a.log.Info("migrate_done")
		return nil
	}),
}

var topicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Create the results topic if it does not exist",
	RunE: withApp(func(ctx context.Context, a *app) error {
		cfg := a.brokerConfig()
		created, err := broker.EnsureTopic(ctx, cfg.Dialer(), cfg.Brokers, broker.TopicSpec{
			Name:              cfg.Topic,
			Partitions:        cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
		if err != nil {
			return err
		}
		a.log.Info("topic_ready", zap.String("topic", cfg.Topic), zap.Bool("created", created))
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{probeCmd, alertsCmd} {
		c.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	}
	rootCmd.AddCommand(runCmd, probeCmd, consumeCmd, alertsCmd, migrateCmd, topicCmd)
}

// withApp builds the shared app for a command and cancels its context on
// SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a)
	}
}

func loop(ctx context.Context, a *app, name string, every time.Duration, fn func(context.Context) error) error {
	c := scheduler.NewCron(ctx, a.log)
	if err := c.Every(name, every, fn); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	c.Stop()
	return nil
}
