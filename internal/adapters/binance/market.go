// Package binance provides crypto quotes and momentum from Binance spot
// market data. Only public endpoints are used.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/cinar/indicator"
	"github.com/samber/lo"
)

const (
	usdtSuffix    = "USDT"
	klineInterval = "1h"
	klineLimit    = 100
	emaPeriod     = 20
)

// Market implements ports.MomentumProvider and quotes crypto pairs.
type Market struct {
	client *gobinance.Client
}

// NewMarket creates a Market. baseURL overrides the API host (tests); empty
// uses production.
func NewMarket(apiKey, secret, baseURL string) *Market {
	c := gobinance.NewClient(apiKey, secret)
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	return &Market{client: c}
}

// Symbol maps an agent pair to the Binance spot symbol: "BTC/USD" → "BTCUSDT".
// USD pairs trade against USDT.
func Symbol(pair string) string {
	base, quote, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(pair)), "/")
	if !ok {
		return strings.ToUpper(pair)
	}
	if quote == "USD" {
		quote = usdtSuffix
	}
	return base + quote
}

// Price returns the last trade price of pair.
func (m *Market) Price(ctx context.Context, pair string) (float64, error) {
	sym := Symbol(pair)
	prices, err := m.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance.Price: %s: %w", sym, err)
	}
	p, ok := lo.Find(prices, func(p *gobinance.SymbolPrice) bool { return p.Symbol == sym })
	if !ok {
		return 0, fmt.Errorf("binance.Price: %s: no price in response", sym)
	}
	v, err := strconv.ParseFloat(p.Price, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("binance.Price: %s: bad price %q", sym, p.Price)
	}
	return v, nil
}

// Momentum is the distance of the last hourly close from its EMA20, in percent.
func (m *Market) Momentum(ctx context.Context, pair string) (float64, error) {
	sym := Symbol(pair)
	klines, err := m.client.NewKlinesService().Symbol(sym).Interval(klineInterval).Limit(klineLimit).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance.Momentum: %s: klines: %w", sym, err)
	}
	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		c, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return 0, fmt.Errorf("binance.Momentum: %s: bad close %q", sym, k.Close)
		}
		closes = append(closes, c)
	}
	mom, err := EMAMomentum(closes, emaPeriod)
	if err != nil {
		return 0, fmt.Errorf("binance.Momentum: %s: %w", sym, err)
	}
	return mom, nil
}

// EMAMomentum returns (last / EMA(period) − 1) × 100 over closes.
func EMAMomentum(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, fmt.Errorf("need %d closes, got %d", period, len(closes))
	}
	ema := indicator.Ema(period, closes)
	last, avg := closes[len(closes)-1], ema[len(ema)-1]
	if avg <= 0 {
		return 0, fmt.Errorf("non-positive EMA %v", avg)
	}
	return (last/avg - 1) * 100, nil
}
