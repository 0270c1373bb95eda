package broker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/domain"
	"github.com/hamed0406/apiwatch/internal/telemetry"
)

// Handler processes one decoded result. Returned errors are logged and the
// message still counts as processed.
type Handler func(ctx context.Context, msg domain.ResultMessage) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber reads the results topic as part of a consumer group. Messages
// with the same key go to the same worker, so one endpoint is handled in
// order while different endpoints proceed concurrently.
type Subscriber struct {
	reader  messageReader
	log     *zap.Logger
	metrics *telemetry.Metrics
	workers int
	queue   int

	commitTimeout time.Duration
}

func NewSubscriber(cfg Config, workers int, log *zap.Logger, m *telemetry.Metrics) (*Subscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer group id is required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
		Dialer:         cfg.Dialer(),
	})
	return newSubscriber(r, workers, log, m), nil
}

func newSubscriber(r messageReader, workers int, log *zap.Logger, m *telemetry.Metrics) *Subscriber {
	if workers < 1 {
		workers = 1
	}
	return &Subscriber{
		reader:        r,
		log:           log,
		metrics:       m,
		workers:       workers,
		queue:         16,
		commitTimeout: 5 * time.Second,
	}
}

// Run consumes until ctx is cancelled. Offsets are committed only up to the
// last message of a partition whose predecessors are all processed.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	tracker := newOffsetTracker()
	commits := make(chan kafka.Message, s.workers*s.queue)
	queues := make([]chan tracked, s.workers)

	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan tracked, s.queue)
		wg.Add(1)
		go func(q <-chan tracked) {
			defer wg.Done()
			for m := range q {
				if !s.handle(ctx, h, m.Message) {
					continue
				}
				if c, ok := tracker.complete(m); ok {
					commits <- c
				}
			}
		}(queues[i])
	}

	committerDone := make(chan struct{})
	go func() {
		defer close(committerDone)
		s.commitLoop(commits)
	}()

	var runErr error
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				runErr = fmt.Errorf("fetch: %w", err)
			}
			break
		}
		queues[s.slot(m)] <- tracker.track(m)
	}

	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	close(commits)
	<-committerDone
	s.log.Info("consumer_stopped")
	return runErr
}

func (s *Subscriber) slot(m kafka.Message) int {
	if len(m.Key) == 0 {
		return m.Partition % s.workers
	}
	h := fnv.New32a()
	_, _ = h.Write(m.Key)
	return int(h.Sum32() % uint32(s.workers))
}

// handle reports false only when the message must be redelivered, which is
// the case when shutdown interrupted it.
func (s *Subscriber) handle(ctx context.Context, h Handler, m kafka.Message) (processed bool) {
	fields := []zap.Field{
		zap.String("key", string(m.Key)),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("consumer_handler_panic", append(fields, zap.Any("panic", r))...)
			s.metrics.Consumed(ctx, "panic")
			processed = true
		}
	}()

	if ctx.Err() != nil {
		return false
	}
	msg, err := domain.DecodeResultMessage(m.Value)
	if err != nil {
		s.log.Warn("consumer_message_malformed", append(fields, zap.Error(err))...)
		s.metrics.Consumed(ctx, "malformed")
		return true
	}
	if err := h(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.log.Error("consumer_message_failed", append(fields, zap.Error(err))...)
		s.metrics.Consumed(ctx, "error")
		return true
	}
	s.metrics.Consumed(ctx, "ok")
	return true
}

func (s *Subscriber) commitLoop(commits <-chan kafka.Message) {
	last := make(map[int]int64)
	for m := range commits {
		if prev, ok := last[m.Partition]; ok && m.Offset <= prev {
			continue
		}
		op := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), s.commitTimeout)
			defer cancel()
			return s.reader.CommitMessages(ctx, m)
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 100 * time.Millisecond
		bo.MaxInterval = 2 * time.Second
		if err := backoff.Retry(op, backoff.WithMaxRetries(bo, 3)); err != nil {
			s.log.Error("consumer_commit_failed",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			continue
		}
		last[m.Partition] = m.Offset
	}
}

func (s *Subscriber) Close() error {
	return s.reader.Close()
}

type partitionState struct {
	gen     uint64
	pending []int64
	done    map[int64]kafka.Message
}

// tracked is a fetched message stamped with the partition generation it was
// fetched in.
type tracked struct {
	kafka.Message
	gen uint64
}

// offsetTracker finds, per partition, the highest offset below which every
// fetched message has been processed.
type offsetTracker struct {
	mu    sync.Mutex
	gen   uint64
	parts map[int]*partitionState
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[int]*partitionState)}
}

func (t *offsetTracker) track(m kafka.Message) tracked {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[m.Partition]
	// A rebalance can rewind the partition; start a new generation from the
	// new offset. Completions from the old one are ignored.
	if p == nil || (len(p.pending) > 0 && m.Offset <= p.pending[len(p.pending)-1]) {
		t.gen++
		p = &partitionState{gen: t.gen, done: make(map[int64]kafka.Message)}
		t.parts[m.Partition] = p
	}
	p.pending = append(p.pending, m.Offset)
	return tracked{Message: m, gen: p.gen}
}

func (t *offsetTracker) complete(m tracked) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[m.Partition]
	if p == nil || p.gen != m.gen {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = m.Message

	var (
		last kafka.Message
		ok   bool
	)
	for len(p.pending) > 0 {
		dm, found := p.done[p.pending[0]]
		if !found {
			break
		}
		delete(p.done, p.pending[0])
		p.pending = p.pending[1:]
		last, ok = dm, true
	}
	return last, ok
}
