// Package paper is a simulated broker for dry runs: orders fill instantly at
// the current quote and are deduplicated by intent key.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/alejandrodnm/sentibot/internal/ports"
)

// ErrNoQuote is returned when a symbol has no price.
var ErrNoQuote = errors.New("paper: no quote")

// ErrInsufficientCash is returned when a buy costs more than the cash left.
var ErrInsufficientCash = errors.New("paper: insufficient cash")

const contractMultiplier = 100

// PriceFeed quotes symbols the broker does not price itself.
type PriceFeed interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Broker implements ports.Broker and ports.OptionChainProvider in memory.
type Broker struct {
	mu       sync.Mutex
	cash     decimal.Decimal
	prices   map[string]float64
	assets   map[string]ports.AssetInfo
	chains   map[string][]domain.OptionContract
	fills    map[string]domain.Fill // intent key → fill
	holdings map[string]float64     // ticker → quantity

	crypto      PriceFeed
	equity      PriceFeed
	defaultExch string
	now         func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithCryptoFeed prices crypto pairs from feed.
func WithCryptoFeed(feed PriceFeed) Option { return func(b *Broker) { b.crypto = feed } }

// WithEquityFeed prices equities without a fixed price from feed.
func WithEquityFeed(feed PriceFeed) Option { return func(b *Broker) { b.equity = feed } }

// WithDefaultExchange lists unknown equities as tradable on exch.
func WithDefaultExchange(exch string) Option { return func(b *Broker) { b.defaultExch = exch } }

// WithClock overrides the fill timestamp source.
func WithClock(now func() time.Time) Option { return func(b *Broker) { b.now = now } }

// New creates a Broker with cashUSD of buying power.
func New(cashUSD float64, opts ...Option) *Broker {
	b := &Broker{
		cash:     decimal.NewFromFloat(cashUSD),
		prices:   make(map[string]float64),
		assets:   make(map[string]ports.AssetInfo),
		chains:   make(map[string][]domain.OptionContract),
		fills:    make(map[string]domain.Fill),
		holdings: make(map[string]float64),
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetPrice fixes the quote of ticker.
func (b *Broker) SetPrice(ticker string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[domain.NormalizeTicker(ticker)] = price
}

// SetAsset registers listing information for a symbol.
func (b *Broker) SetAsset(info ports.AssetInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info.Ticker = domain.NormalizeTicker(info.Ticker)
	b.assets[info.Ticker] = info
}

// SetChain registers the call contracts of underlying. Each contract is
// priced at its ask.
func (b *Broker) SetChain(underlying string, contracts []domain.OptionContract) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chains[domain.NormalizeTicker(underlying)] = contracts
	for _, c := range contracts {
		if c.Ask > 0 {
			b.prices[domain.NormalizeTicker(c.Symbol)] = c.Ask
		}
	}
}

// Cash implements ports.Broker.
func (b *Broker) Cash(context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash.InexactFloat64(), nil
}

// Holdings returns the quantity held of each ticker.
func (b *Broker) Holdings() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.holdings))
	for k, v := range b.holdings {
		out[k] = v
	}
	return out
}

// Quote implements ports.Broker.
func (b *Broker) Quote(ctx context.Context, ticker string, class domain.AssetClass) (float64, error) {
	ticker = domain.NormalizeTicker(ticker)
	b.mu.Lock()
	p, ok := b.prices[ticker]
	b.mu.Unlock()
	if ok && p > 0 {
		return p, nil
	}

	var feed PriceFeed
	switch class {
	case domain.AssetCrypto:
		feed = b.crypto
	case domain.AssetEquity:
		feed = b.equity
	}
	if feed == nil {
		return 0, fmt.Errorf("paper.Quote: %s: %w", ticker, ErrNoQuote)
	}
	p, err := feed.Price(ctx, ticker)
	if err != nil {
		return 0, fmt.Errorf("paper.Quote: %s: %w", ticker, err)
	}
	return p, nil
}

// AssetInfo implements ports.Broker.
func (b *Broker) AssetInfo(_ context.Context, ticker string) (ports.AssetInfo, error) {
	ticker = domain.NormalizeTicker(ticker)
	b.mu.Lock()
	defer b.mu.Unlock()

	if info, ok := b.assets[ticker]; ok {
		return info, nil
	}
	class := domain.ClassifyTicker(ticker)
	switch {
	case class == domain.AssetCrypto:
		return ports.AssetInfo{Ticker: ticker, Exchange: "CRYPTO", Class: class, Tradable: true}, nil
	case b.defaultExch != "":
		return ports.AssetInfo{Ticker: ticker, Exchange: b.defaultExch, Class: class, Tradable: true}, nil
	}
	return ports.AssetInfo{}, fmt.Errorf("paper.AssetInfo: %s: unknown asset", ticker)
}

// Chain implements ports.OptionChainProvider.
func (b *Broker) Chain(_ context.Context, underlying string) ([]domain.OptionContract, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	contracts := append([]domain.OptionContract(nil), b.chains[domain.NormalizeTicker(underlying)]...)
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].Symbol < contracts[j].Symbol })
	return contracts, nil
}

// Submit implements ports.Broker. A repeated intent key returns the original
// fill without touching cash or holdings.
func (b *Broker) Submit(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if req.IntentKey == "" {
		return domain.Fill{}, fmt.Errorf("paper.Submit: %s: missing intent key", req.Ticker)
	}
	b.mu.Lock()
	if f, ok := b.fills[req.IntentKey]; ok {
		b.mu.Unlock()
		return f, nil
	}
	b.mu.Unlock()

	price, err := b.Quote(ctx, req.Ticker, req.Class)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("paper.Submit: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.fills[req.IntentKey]; ok {
		return f, nil
	}

	ticker := domain.NormalizeTicker(req.Ticker)
	mult := decimal.NewFromInt(1)
	if req.Class == domain.AssetOption {
		mult = decimal.NewFromInt(contractMultiplier)
	}
	px := decimal.NewFromFloat(price)

	var qty decimal.Decimal
	switch req.Side {
	case domain.SideBuy:
		qty = decimal.NewFromFloat(req.Quantity)
		if !qty.IsPositive() {
			qty = decimal.NewFromFloat(req.SizeUSD).Div(px.Mul(mult)).Truncate(8)
		}
		if !qty.IsPositive() {
			return domain.Fill{}, fmt.Errorf("paper.Submit: %s: zero quantity", ticker)
		}
		cost := qty.Mul(px).Mul(mult)
		if cost.GreaterThan(b.cash) {
			return domain.Fill{}, fmt.Errorf("paper.Submit: %s: cost %s > cash %s: %w",
				ticker, cost.StringFixed(2), b.cash.StringFixed(2), ErrInsufficientCash)
		}
		b.cash = b.cash.Sub(cost)
		b.holdings[ticker] += qty.InexactFloat64()
	case domain.SideSell:
		held := decimal.NewFromFloat(b.holdings[ticker])
		qty = decimal.NewFromFloat(req.Quantity)
		if !qty.IsPositive() || qty.GreaterThan(held) {
			qty = held
		}
		if !qty.IsPositive() {
			return domain.Fill{}, fmt.Errorf("paper.Submit: %s: nothing to sell", ticker)
		}
		b.cash = b.cash.Add(qty.Mul(px).Mul(mult))
		left := held.Sub(qty)
		if left.IsPositive() {
			b.holdings[ticker] = left.InexactFloat64()
		} else {
			delete(b.holdings, ticker)
		}
	default:
		return domain.Fill{}, fmt.Errorf("paper.Submit: %s: unknown side %q", ticker, req.Side)
	}

	fill := domain.Fill{
		IntentKey: req.IntentKey,
		Ticker:    ticker,
		Side:      req.Side,
		Price:     price,
		Quantity:  qty.InexactFloat64(),
		FilledAt:  b.now(),
	}
	b.fills[req.IntentKey] = fill
	slog.Debug("paper: filled",
		"ticker", ticker,
		"side", req.Side,
		"price", price,
		"qty", fill.Quantity,
		"cash", b.cash.StringFixed(2),
	)
	return fill, nil
}
