package ports

import (
	"context"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// MentionSource fetches raw social/filing mentions for a ticker.
type MentionSource interface {
	// Name is the source id used for quota accounting and logs.
	Name() string

	// FetchMentions returns the recent mentions of ticker. Ordering is not guaranteed.
	FetchMentions(ctx context.Context, ticker string) ([]domain.RawMention, error)
}
