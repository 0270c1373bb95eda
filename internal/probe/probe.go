package probe

import (
	"context"

	"github.com/hamed0406/apiwatch/internal/domain"
)

// Checker performs exactly one check of an endpoint. It never fails; every
// problem is reported inside the returned result.
type Checker interface {
	Check(ctx context.Context, ep domain.Endpoint) domain.CheckResult
}
