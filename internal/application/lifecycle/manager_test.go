package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/sentibot/internal/application/engine"
	"github.com/alejandrodnm/sentibot/internal/application/lifecycle"
	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/alejandrodnm/sentibot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

// --- mocks ---

type mockBroker struct {
	mu       sync.Mutex
	cash     float64
	prices   map[string]float64
	exchange map[string]string
	failBuy  int
	failSell int
	fills    map[string]domain.Fill
	submits  []domain.OrderRequest
	now      time.Time
}

func newBroker() *mockBroker {
	return &mockBroker{
		cash:     1000,
		prices:   map[string]float64{"AAPL": 100, "MSFT": 400, "BTC/USD": 60000},
		exchange: map[string]string{"AAPL": "NASDAQ", "MSFT": "NASDAQ", "PINK": "OTC"},
		fills:    make(map[string]domain.Fill),
		now:      t0,
	}
}

func (b *mockBroker) Cash(context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash, nil
}

func (b *mockBroker) Quote(_ context.Context, ticker string, _ domain.AssetClass) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[ticker]
	if !ok {
		return 0, errors.New("no quote")
	}
	return p, nil
}

func (b *mockBroker) AssetInfo(_ context.Context, ticker string) (ports.AssetInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchange[ticker]
	return ports.AssetInfo{Ticker: ticker, Exchange: ex, Class: domain.AssetEquity, Tradable: ok}, nil
}

func (b *mockBroker) Submit(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits = append(b.submits, req)
	if f, ok := b.fills[req.IntentKey]; ok {
		return f, nil
	}
	if req.Side == domain.SideBuy && b.failBuy > 0 {
		b.failBuy--
		return domain.Fill{}, errors.New("broker: rejected")
	}
	if req.Side == domain.SideSell && b.failSell > 0 {
		b.failSell--
		return domain.Fill{}, errors.New("broker: timeout")
	}
	price := b.prices[req.Ticker]
	qty := req.Quantity
	if qty == 0 {
		qty = req.SizeUSD / price
	}
	f := domain.Fill{IntentKey: req.IntentKey, Ticker: req.Ticker, Side: req.Side, Price: price, Quantity: qty, FilledAt: b.now}
	b.fills[req.IntentKey] = f
	return f, nil
}

func (b *mockBroker) set(ticker string, price float64) {
	b.mu.Lock()
	b.prices[ticker] = price
	b.mu.Unlock()
}

type mockRecorder struct {
	mu  sync.Mutex
	all []domain.Transition
}

func (r *mockRecorder) RecordTransition(_ context.Context, tr domain.Transition) error {
	r.mu.Lock()
	r.all = append(r.all, tr)
	r.mu.Unlock()
	return nil
}

func (r *mockRecorder) last() domain.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all[len(r.all)-1]
}

type mockChain struct{ chain []domain.OptionContract }

func (c mockChain) Chain(context.Context, string) ([]domain.OptionContract, error) {
	return c.chain, nil
}

type mockMomentum map[string]float64

func (m mockMomentum) Momentum(_ context.Context, s string) (float64, error) { return m[s], nil }

// --- helpers ---

func testConfig() lifecycle.Config {
	return lifecycle.Config{
		MaxPositions:          5,
		PositionSizePctOfCash: 2,
		Equity:                domain.AssetRules{Class: domain.AssetEquity, MaxValueUSD: 2, StopLossPct: 4, TakeProfitPct: 12},
		Crypto:                domain.AssetRules{Class: domain.AssetCrypto, MaxValueUSD: 2, StopLossPct: 5, TakeProfitPct: 10},
		Option: domain.AssetRules{Class: domain.AssetOption, MaxPctOfCash: 0.02, StopLossPct: 50,
			TakeProfitPct: 100, MinConfidence: 0.8},
		CryptoEnabled:           true,
		CryptoSymbols:           []string{"BTC/USD", "ETH/USD", "SOL/USD"},
		CryptoMomentumThreshold: 2,
		OptionsEnabled:          true,
		OptionSelection:         domain.OptionSelection{MinDTE: 30, MaxDTE: 60, TargetDelta: 0.45, MinDelta: 0.3, MaxDelta: 0.7},
		AllowedExchanges:        []string{"NYSE", "NASDAQ", "ARCA", "AMEX", "BATS"},
		Blacklist:               []string{"GME"},
		Stale: lifecycle.StalePolicy{
			Enabled:           true,
			MinHold:           18 * time.Hour,
			MidHold:           48 * time.Hour,
			MaxHold:           72 * time.Hour,
			MinGainPct:        5,
			MidMinGainPct:     3,
			SocialVolumeDecay: 0.3,
		},
		AnalystMinHold:       30 * time.Minute,
		AnalystMinConfidence: 0.55,
	}
}

type fixture struct {
	m      *lifecycle.Manager
	broker *mockBroker
	rec    *mockRecorder
	volume map[string]float64
}

func newFixture(t *testing.T, cfg lifecycle.Config, opts ...lifecycle.Option) *fixture {
	t.Helper()
	f := &fixture{broker: newBroker(), rec: &mockRecorder{}, volume: map[string]float64{}}
	opts = append([]lifecycle.Option{
		lifecycle.WithRecorder(f.rec),
		lifecycle.WithRetry(engine.RetryPolicy{Attempts: 1}),
	}, opts...)
	f.m = lifecycle.NewManager(cfg, f.broker, func(ticker string) float64 { return f.volume[ticker] }, opts...)
	return f
}

func (f *fixture) open(t *testing.T, ticker string, volume float64) domain.PositionEntry {
	t.Helper()
	p, err := f.m.Open(context.Background(), lifecycle.Candidate{Ticker: ticker, Confidence: 0.7, Volume: volume}, t0)
	require.NoError(t, err)
	return p
}

// --- Open ---

func TestOpen_SizesAndHolds(t *testing.T) {
	f := newFixture(t, testConfig())

	p := f.open(t, "aapl", 10)
	assert.Equal(t, "AAPL", p.Ticker)
	assert.Equal(t, domain.StateHeld, p.State)
	assert.Equal(t, 100.0, p.EntryPrice)
	// min($2 cap, 2% × $1000 = $20) = $2 → 0.02 shares at $100.
	assert.InDelta(t, 2.0, p.SizeUSD, 1e-9)
	assert.InDelta(t, 0.02, p.Quantity, 1e-12)
	assert.Equal(t, 10.0, p.EntrySocialVolume)
	assert.Equal(t, t0, p.EntryTime)

	last := f.rec.last()
	assert.Equal(t, domain.StateOpening, last.From)
	assert.Equal(t, domain.StateHeld, last.To)
}

func TestOpen_Eligibility(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, lifecycle.WithMomentum(mockMomentum{"BTC/USD": 3.5, "ETH/USD": 0.5}))
	ctx := context.Background()

	cases := []struct {
		ticker string
		ok     bool
	}{
		{"GME", false},      // blacklisted
		{"PINK", false},     // OTC exchange
		{"ZZZZ", false},     // unknown, not tradable
		{"DOGE/USD", false}, // not in crypto symbols
		{"ETH/USD", false},  // momentum below threshold
		{"BTC/USD", true},
		{"MSFT", true},
	}
	for _, tc := range cases {
		_, err := f.m.Open(ctx, lifecycle.Candidate{Ticker: tc.ticker, Confidence: 0.7}, t0)
		if tc.ok {
			assert.NoError(t, err, tc.ticker)
		} else {
			assert.ErrorIs(t, err, domain.ErrNotEligible, tc.ticker)
		}
	}
}

func TestOpen_CryptoDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.CryptoEnabled = false
	f := newFixture(t, cfg)

	_, err := f.m.Open(context.Background(), lifecycle.Candidate{Ticker: "BTC/USD", Confidence: 0.9}, t0)
	assert.ErrorIs(t, err, domain.ErrNotEligible)
}

func TestOpen_MaxPositionsAndDuplicates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositions = 1
	f := newFixture(t, cfg)

	f.open(t, "AAPL", 0)
	_, err := f.m.Open(context.Background(), lifecycle.Candidate{Ticker: "AAPL", Confidence: 0.7}, t0)
	assert.ErrorIs(t, err, domain.ErrAlreadyHeld)
	_, err = f.m.Open(context.Background(), lifecycle.Candidate{Ticker: "MSFT", Confidence: 0.7}, t0)
	assert.ErrorIs(t, err, domain.ErrMaxPositions)
	assert.Zero(t, f.m.Slots())
}

func TestOpen_FailedBuyRemovesEntry(t *testing.T) {
	f := newFixture(t, testConfig())
	f.broker.failBuy = 1

	_, err := f.m.Open(context.Background(), lifecycle.Candidate{Ticker: "AAPL", Confidence: 0.7}, t0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalCall)
	assert.Zero(t, f.m.Count())
	assert.Equal(t, domain.StateClosed, f.rec.last().To)
}

func TestOpen_ZeroCashIsInvalidSizing(t *testing.T) {
	f := newFixture(t, testConfig())
	f.broker.cash = 0

	_, err := f.m.Open(context.Background(), lifecycle.Candidate{Ticker: "AAPL", Confidence: 0.7}, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidSizing)
	assert.Zero(t, f.m.Count())
}

func TestOpen_OptionsContract(t *testing.T) {
	contract := domain.OptionContract{
		Symbol: "AAPL260424C00100000", Underlying: "AAPL",
		Expiry: t0.Add(45 * 24 * time.Hour), Strike: 100, Delta: 0.46, Ask: 0.5,
	}
	f := newFixture(t, testConfig(), lifecycle.WithOptionChains(mockChain{chain: []domain.OptionContract{contract}}))
	f.broker.cash = 10000
	f.broker.set(contract.Symbol, 0.5)

	p, err := f.m.Open(context.Background(), lifecycle.Candidate{Ticker: "AAPL", Confidence: 0.85, UseOptions: true}, t0)
	require.NoError(t, err)
	assert.Equal(t, contract.Symbol, p.Ticker)
	assert.Equal(t, "AAPL", p.Underlying)
	assert.Equal(t, domain.AssetOption, p.Class())
	// 2% of $10000 = $200 → 4 contracts at $50.
	assert.Equal(t, 4.0, p.Quantity)
	assert.InDelta(t, 200.0, p.SizeUSD, 1e-9)
	assert.Contains(t, f.m.Held(), "AAPL")

	// Below options_min_confidence the same candidate trades shares.
	f2 := newFixture(t, testConfig(), lifecycle.WithOptionChains(mockChain{chain: []domain.OptionContract{contract}}))
	p2, err := f2.m.Open(context.Background(), lifecycle.Candidate{Ticker: "AAPL", Confidence: 0.7, UseOptions: true}, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetEquity, p2.Class())
}

func TestOpen_OptionBlocksSharesOfUnderlying(t *testing.T) {
	contract := domain.OptionContract{
		Symbol: "AAPL260424C00100000", Underlying: "AAPL",
		Expiry: t0.Add(45 * 24 * time.Hour), Strike: 100, Delta: 0.46, Ask: 0.5,
	}
	f := newFixture(t, testConfig(), lifecycle.WithOptionChains(mockChain{chain: []domain.OptionContract{contract}}))
	f.broker.cash = 10000
	f.broker.set(contract.Symbol, 0.5)
	ctx := context.Background()

	_, err := f.m.Open(ctx, lifecycle.Candidate{Ticker: "AAPL", Confidence: 0.85, UseOptions: true}, t0)
	require.NoError(t, err)
	assert.True(t, f.m.Holds("aapl"))

	_, err = f.m.Open(ctx, lifecycle.Candidate{Ticker: "AAPL", Confidence: 0.7}, t0)
	assert.ErrorIs(t, err, domain.ErrAlreadyHeld)
	assert.Equal(t, 1, f.m.Count())

	// And the other way round: shares block a contract on the same name.
	f2 := newFixture(t, testConfig(), lifecycle.WithOptionChains(mockChain{chain: []domain.OptionContract{contract}}))
	f2.broker.cash = 10000
	f2.broker.set(contract.Symbol, 0.5)
	f2.open(t, "AAPL", 0)
	_, err = f2.m.Open(ctx, lifecycle.Candidate{Ticker: "AAPL", Confidence: 0.85, UseOptions: true}, t0)
	assert.ErrorIs(t, err, domain.ErrAlreadyHeld)
	assert.Equal(t, 1, f2.m.Count())
}

// --- Evaluate ---

func TestEvaluate_SmallGainStaysHeld(t *testing.T) {
	f := newFixture(t, testConfig())
	f.open(t, "AAPL", 10)
	f.volume["AAPL"] = 10
	f.broker.set("AAPL", 104)

	res := f.m.Evaluate(context.Background(), t0.Add(time.Hour))
	assert.Equal(t, 1, res.Evaluated)
	assert.Empty(t, res.Exiting)

	p, ok := f.m.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.StateHeld, p.State)
	assert.InDelta(t, 4.0, p.LastGainPct, 1e-9)
}

func TestEvaluate_TakeProfitExitsAndCloses(t *testing.T) {
	f := newFixture(t, testConfig())
	f.open(t, "AAPL", 10)
	f.broker.set("AAPL", 113)

	res := f.m.Evaluate(context.Background(), t0.Add(time.Hour))
	assert.Equal(t, []string{"AAPL"}, res.Exiting)
	assert.Equal(t, []string{"AAPL"}, res.Closed)

	_, ok := f.m.Get("AAPL")
	assert.False(t, ok)
	last := f.rec.last()
	assert.Equal(t, domain.StateClosed, last.To)
	assert.Equal(t, string(domain.ExitTakeProfit), last.Reason)
	assert.InDelta(t, 13.0, last.GainPct, 1e-9)
}

func TestEvaluate_StopLossDominatesStaleness(t *testing.T) {
	f := newFixture(t, testConfig())
	f.open(t, "AAPL", 10)
	f.broker.set("AAPL", 95)
	f.broker.failSell = 1

	f.m.Evaluate(context.Background(), t0.Add(80*time.Hour))

	p, ok := f.m.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.StateExiting, p.State)
	assert.Equal(t, domain.ExitStopLoss, p.ExitReason)
}

func TestEvaluate_MaxHoldForcesExit(t *testing.T) {
	f := newFixture(t, testConfig())
	f.open(t, "AAPL", 10)
	f.volume["AAPL"] = 10 // no decay: the max tier ignores social volume
	f.broker.set("AAPL", 102)
	f.broker.failSell = 1

	res := f.m.Evaluate(context.Background(), t0.Add(80*time.Hour))
	assert.Equal(t, []string{"AAPL"}, res.Exiting)

	p, _ := f.m.Get("AAPL")
	assert.Equal(t, domain.ExitStaleMax, p.ExitReason)
	assert.Equal(t, domain.TierMax, p.LastTier)

	report := f.m.Staleness()["AAPL"]
	assert.True(t, report.Exit)
	assert.InDelta(t, 80.0, report.HeldHours, 1e-9)
}

func TestEvaluate_MidTierSocialDecay(t *testing.T) {
	f := newFixture(t, testConfig())
	f.open(t, "AAPL", 10)
	f.open(t, "MSFT", 10)
	f.volume["AAPL"] = 5 // 50% decay
	f.volume["MSFT"] = 9 // 10% decay
	f.broker.set("AAPL", 101)
	f.broker.set("MSFT", 404)
	f.broker.failSell = 1

	f.m.Evaluate(context.Background(), t0.Add(50*time.Hour))

	aapl, _ := f.m.Get("AAPL")
	assert.Equal(t, domain.StateExiting, aapl.State)
	assert.Equal(t, domain.ExitStaleSocial, aapl.ExitReason)

	msft, _ := f.m.Get("MSFT")
	assert.Equal(t, domain.StateStaleWatch, msft.State)
	assert.Equal(t, domain.TierMid, msft.LastTier)

	// Recovery above the mid-tier gain returns the position to HELD.
	f.broker.set("MSFT", 416)
	f.m.Evaluate(context.Background(), t0.Add(55*time.Hour))
	msft, _ = f.m.Get("MSFT")
	assert.Equal(t, domain.StateHeld, msft.State)
}

func TestEvaluate_StalenessDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Stale.Enabled = false
	f := newFixture(t, cfg)
	f.open(t, "AAPL", 10)
	f.broker.set("AAPL", 101)

	res := f.m.Evaluate(context.Background(), t0.Add(200*time.Hour))
	assert.Empty(t, res.Exiting)
	p, _ := f.m.Get("AAPL")
	assert.Equal(t, domain.StateHeld, p.State)
}

func TestEvaluate_FailedExitRetriesNextTick(t *testing.T) {
	f := newFixture(t, testConfig())
	f.open(t, "AAPL", 10)
	f.broker.set("AAPL", 90)
	f.broker.failSell = 1

	res := f.m.Evaluate(context.Background(), t0.Add(time.Hour))
	assert.Equal(t, []string{"AAPL"}, res.Skipped)
	p, _ := f.m.Get("AAPL")
	assert.Equal(t, domain.StateExiting, p.State)
	assert.Equal(t, 1, p.ExitAttempts)

	res = f.m.Evaluate(context.Background(), t0.Add(2*time.Hour))
	assert.Equal(t, []string{"AAPL"}, res.Closed)
	assert.Zero(t, f.m.Count())

	var sells []domain.OrderRequest
	for _, r := range f.broker.submits {
		if r.Side == domain.SideSell {
			sells = append(sells, r)
		}
	}
	require.Len(t, sells, 2)
	assert.Equal(t, sells[0].IntentKey, sells[1].IntentKey)
}

func TestEvaluate_QuoteFailureSkipsTicker(t *testing.T) {
	f := newFixture(t, testConfig())
	f.open(t, "AAPL", 10)
	f.open(t, "MSFT", 10)
	f.broker.mu.Lock()
	delete(f.broker.prices, "AAPL")
	f.broker.mu.Unlock()

	res := f.m.Evaluate(context.Background(), t0.Add(time.Hour))
	assert.Equal(t, []string{"AAPL"}, res.Skipped)
	assert.Equal(t, 1, res.Evaluated)
}

// --- research & cancellation ---

func TestApplyResearch_GuardsAndCancellation(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.open(t, "AAPL", 10)
	ctx := context.Background()

	posCtx, done, ok := f.m.PositionContext(ctx, "AAPL")
	require.True(t, ok)
	defer done()

	sell := domain.ResearchResult{Ticker: "AAPL", PositionID: p.ID, Recommendation: domain.RecommendSell, Confidence: 0.9}

	stale := sell
	stale.PositionID = "some-other-position"
	assert.False(t, f.m.ApplyResearch(ctx, stale, t0.Add(time.Hour)))

	assert.False(t, f.m.ApplyResearch(ctx, sell, t0.Add(10*time.Minute)), "held less than min hold")

	weak := sell
	weak.Confidence = 0.4
	assert.False(t, f.m.ApplyResearch(ctx, weak, t0.Add(time.Hour)))

	require.NoError(t, posCtx.Err())
	assert.True(t, f.m.ApplyResearch(ctx, sell, t0.Add(time.Hour)))
	assert.ErrorIs(t, posCtx.Err(), context.Canceled)

	got, _ := f.m.Get("AAPL")
	assert.Equal(t, domain.ExitAnalyst, got.ExitReason)

	// Exiting positions never take further research.
	assert.False(t, f.m.ApplyResearch(ctx, sell, t0.Add(2*time.Hour)))
}

func TestPositionContext_CancelledOnStopLoss(t *testing.T) {
	f := newFixture(t, testConfig())
	f.open(t, "AAPL", 10)

	posCtx, done, ok := f.m.PositionContext(context.Background(), "AAPL")
	require.True(t, ok)
	defer done()

	f.broker.set("AAPL", 90)
	f.m.Evaluate(context.Background(), t0.Add(time.Hour))
	assert.ErrorIs(t, posCtx.Err(), context.Canceled)
}

// --- snapshot ---

func TestRestore_ResumesOpeningWithSameIntent(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.open(t, "AAPL", 10)

	snap := f.m.Snapshot()
	opening := snap["AAPL"]
	opening.State = domain.StateOpening
	snap["AAPL"] = opening

	g := newFixture(t, testConfig())
	g.broker.fills = f.broker.fills // same broker account
	g.m.Restore(snap, nil)

	res := g.m.Evaluate(context.Background(), t0.Add(time.Minute))
	assert.Equal(t, []string{"AAPL"}, res.Opened)

	got, ok := g.m.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.StateHeld, got.State)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Quantity, got.Quantity, "deduplicated by intent key")
}

func TestStalePolicy_Assess(t *testing.T) {
	pol := testConfig().Stale
	p := domain.PositionEntry{ID: "p1", Ticker: "AAPL", EntryTime: t0, EntrySocialVolume: 10, LastSocialVolume: 10}

	r := pol.Assess(p, 0, t0.Add(10*time.Hour))
	assert.Equal(t, domain.TierNone, r.Tier)

	r = pol.Assess(p, 0, t0.Add(20*time.Hour))
	assert.Equal(t, domain.TierMin, r.Tier)
	assert.False(t, r.Exit)

	r = pol.Assess(p, 4, t0.Add(80*time.Hour))
	assert.True(t, r.Exit)
	assert.Equal(t, domain.ExitStaleMax, r.Reason)

	r = pol.Assess(p, 6, t0.Add(80*time.Hour))
	assert.False(t, r.Exit)
	assert.False(t, r.Watch)
}
