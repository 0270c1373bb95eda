package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("notifier not configured")

type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mirror delivers through Primary and, once that succeeded, hands a copy to
// each of Copies. Only the primary outcome is returned.
type Mirror struct {
	Primary Notifier
	Copies  []Notifier
	Logger  *zap.Logger
}

func (m Mirror) Send(ctx context.Context, to, subject, body string) error {
	if m.Primary == nil {
		return ErrNotConfigured
	}
	if err := m.Primary.Send(ctx, to, subject, body); err != nil {
		return err
	}
	for _, n := range m.Copies {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, to, subject, body); err != nil && m.Logger != nil {
			m.Logger.Warn("notify_copy_failed", zap.String("to", to), zap.Error(err))
		}
	}
	return nil
}
