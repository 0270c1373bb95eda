package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cron runs periodic jobs. A job that is still running when its next tick
// arrives is skipped for that tick.
type Cron struct {
	ctx  context.Context
	log  *zap.Logger
	c    *cron.Cron
	jobs []cron.EntryID
	wg   sync.WaitGroup
}

func NewCron(ctx context.Context, log *zap.Logger) *Cron {
	l := cronLogger{log.Sugar()}
	return &Cron{
		ctx: ctx,
		log: log,
		c: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

func (s *Cron) Every(name string, every time.Duration, fn func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, every)
	}
	id, err := s.c.AddFunc("@every "+every.String(), func() {
		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := fn(s.ctx); err != nil {
			s.log.Warn("job_failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("job_done", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.jobs = append(s.jobs, id)
	return nil
}

// Start runs every job once right away, then on its schedule.
func (s *Cron) Start() {
	for _, id := range s.jobs {
		job := s.c.Entry(id).WrappedJob
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job.Run()
		}()
	}
	s.c.Start()
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Cron) Stop() {
	<-s.c.Stop().Done()
	s.wg.Wait()
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}
