package ports

import (
	"context"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// MarketClock reports whether the equity session is open and when it next opens.
type MarketClock interface {
	Clock(ctx context.Context) (domain.Clock, error)
}
