package ports

import (
	"context"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// AssetInfo is what the broker knows about a tradable symbol.
type AssetInfo struct {
	Ticker   string
	Exchange string
	Class    domain.AssetClass
	Tradable bool
}

// Broker places orders and reports account state. Submit is at-least-once:
// repeating a request with the same IntentKey must not double-fill.
type Broker interface {
	// Cash returns the buying power available for new positions.
	Cash(ctx context.Context) (float64, error)

	// Quote returns the last trade price of a symbol.
	Quote(ctx context.Context, ticker string, class domain.AssetClass) (float64, error)

	// AssetInfo returns the listing exchange and tradability of a symbol.
	AssetInfo(ctx context.Context, ticker string) (AssetInfo, error)

	// Submit places a market order and returns its fill.
	Submit(ctx context.Context, req domain.OrderRequest) (domain.Fill, error)
}

// OptionChainProvider lists call contracts for an underlying.
type OptionChainProvider interface {
	Chain(ctx context.Context, underlying string) ([]domain.OptionContract, error)
}

// MomentumProvider returns a crypto symbol's momentum in percent.
type MomentumProvider interface {
	Momentum(ctx context.Context, symbol string) (float64, error)
}
