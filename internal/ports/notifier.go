package ports

import (
	"context"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// Notifier presents each cycle's outcome to the operator.
type Notifier interface {
	Report(ctx context.Context, report domain.CycleReport) error
}
