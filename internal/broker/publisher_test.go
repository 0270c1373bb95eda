package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/domain"
)

type fakeWriter struct {
	mu    sync.Mutex
	calls int
	msgs  []kafka.Message
	err   error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func newTestPublisher(w *fakeWriter, probe func(context.Context) error) *Publisher {
	p := NewPublisher(Config{
		Brokers:           []string{"localhost:9092"},
		Topic:             "api-monitoring-results",
		ConnectRetries:    3,
		ConnectRetryDelay: time.Millisecond,
		RequestTimeout:    time.Second,
	}, zap.NewNop(), nil)
	p.writer = w
	p.ensure = func(context.Context) (bool, error) { return false, errors.New("no controller") }
	p.probe = probe
	p.exists = func(context.Context) (bool, error) { return true, nil }
	return p
}

func okProbe(context.Context) error { return nil }

func TestPublisher_PublishKeysByEndpoint(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w, okProbe)
	require.NoError(t, p.Connect(context.Background()))

	status := 200
	at := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)
	ok := p.Publish(context.Background(), domain.ResultMessage{
		EndpointID: "E1", CheckedAt: at, LatencyMS: 87, StatusCode: &status,
	})
	require.True(t, ok)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "E1", string(w.msgs[0].Key))

	got, err := domain.DecodeResultMessage(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, int64(87), got.LatencyMS)
	assert.True(t, got.CheckedAt.Equal(at))
	require.NotNil(t, got.StatusCode)
	assert.Equal(t, 200, *got.StatusCode)
}

func TestPublisher_NotConnectedReturnsFalse(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w, okProbe)

	assert.False(t, p.Publish(context.Background(), domain.ResultMessage{EndpointID: "E1", CheckedAt: time.Now()}))
	assert.Zero(t, w.calls)
	assert.ErrorIs(t, p.Healthy(context.Background()), ErrNotConnected)
}

func TestPublisher_WriteErrorReturnsFalseAndBreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newTestPublisher(w, okProbe)
	require.NoError(t, p.Connect(context.Background()))

	msg := domain.ResultMessage{EndpointID: "E1", CheckedAt: time.Now()}
	for i := 0; i < 5; i++ {
		assert.False(t, p.Publish(context.Background(), msg))
	}
	assert.Equal(t, 5, w.calls)

	// open breaker: fails fast without touching the writer
	assert.False(t, p.Publish(context.Background(), msg))
	assert.Equal(t, 5, w.calls)
}

func TestPublisher_ConnectRetriesThenSucceeds(t *testing.T) {
	calls := 0
	p := newTestPublisher(&fakeWriter{}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("broker down")
		}
		return nil
	})
	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, 3, calls)
	assert.NoError(t, p.Healthy(context.Background()))
}

func TestPublisher_ConnectExhaustsRetries(t *testing.T) {
	calls := 0
	p := newTestPublisher(&fakeWriter{}, func(context.Context) error {
		calls++
		return errors.New("broker down")
	})
	err := p.Connect(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 3, calls)
	assert.False(t, p.Publish(context.Background(), domain.ResultMessage{EndpointID: "E1", CheckedAt: time.Now()}))
}

func TestPublisher_MissingTopicIsNotFatal(t *testing.T) {
	w := &fakeWriter{err: kafka.UnknownTopicOrPartition}
	p := newTestPublisher(w, okProbe)
	p.ensure = func(context.Context) (bool, error) {
		return false, errors.New("create topic: topic authorization failed")
	}
	p.exists = func(context.Context) (bool, error) { return false, nil }

	require.NoError(t, p.Connect(context.Background()))
	assert.NoError(t, p.Healthy(context.Background()))

	// until an operator creates the topic each publish fails on its own
	assert.False(t, p.Publish(context.Background(), domain.ResultMessage{EndpointID: "E1", CheckedAt: time.Now()}))
	assert.Equal(t, 1, w.calls)

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	assert.True(t, p.Publish(context.Background(), domain.ResultMessage{EndpointID: "E1", CheckedAt: time.Now()}))
}
