package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func equityRules() AssetRules {
	return AssetRules{Class: AssetEquity, MaxValueUSD: 2, StopLossPct: 4, TakeProfitPct: 12}
}

func TestClassifyTicker(t *testing.T) {
	assert.Equal(t, AssetCrypto, ClassifyTicker("BTC/USD"))
	assert.Equal(t, AssetEquity, ClassifyTicker("AAPL"))
}

// --- PositionSize ---

func TestPositionSize_CapWins(t *testing.T) {
	// 2% of $1000 = $20, capped at $2
	size := equityRules().PositionSize(1000, 2)
	assert.Equal(t, "2", size.String())
}

func TestPositionSize_PctOfCashWins(t *testing.T) {
	// 2% of $50 = $1
	size := equityRules().PositionSize(50, 2)
	assert.Equal(t, "1", size.String())
}

func TestPositionSize_RoundsDownToCents(t *testing.T) {
	size := equityRules().PositionSize(33.33, 2)
	assert.Equal(t, "0.66", size.String())
}

func TestPositionSize_OptionsBudget(t *testing.T) {
	r := AssetRules{Class: AssetOption, MaxPctOfCash: 0.02}
	// min(5% × 1000 = 50, 0.02 × 1000 = 20)
	assert.Equal(t, "20", r.PositionSize(1000, 5).String())
}

func TestPositionSize_NoCash(t *testing.T) {
	assert.True(t, equityRules().PositionSize(0, 2).IsZero())
	assert.True(t, equityRules().PositionSize(-10, 2).IsZero())
	assert.True(t, equityRules().PositionSize(100, 0).IsZero())
}

// --- ExitTrigger ---

func TestExitTrigger_TakeProfit(t *testing.T) {
	r := equityRules()

	_, hit := r.ExitTrigger(GainPct(100, 104))
	assert.False(t, hit)

	reason, hit := r.ExitTrigger(GainPct(100, 113))
	assert.True(t, hit)
	assert.Equal(t, ExitTakeProfit, reason)
}

func TestExitTrigger_StopLossInclusive(t *testing.T) {
	reason, hit := equityRules().ExitTrigger(GainPct(100, 96))
	assert.True(t, hit)
	assert.Equal(t, ExitStopLoss, reason)

	_, hit = equityRules().ExitTrigger(GainPct(100, 96.5))
	assert.False(t, hit)
}

func TestGainPct(t *testing.T) {
	assert.InDelta(t, 4.0, GainPct(100, 104), 1e-9)
	assert.InDelta(t, -50.0, GainPct(2, 1), 1e-9)
	assert.Equal(t, 0.0, GainPct(0, 10))
}

// --- Position helpers ---

func TestPositionEntry_SocialDecay(t *testing.T) {
	p := PositionEntry{EntrySocialVolume: 10, LastSocialVolume: 6}
	assert.InDelta(t, 0.4, p.SocialDecay(), 1e-12)

	p.LastSocialVolume = 15
	assert.Equal(t, 0.0, p.SocialDecay())

	p.EntrySocialVolume = 0
	assert.Equal(t, 0.0, p.SocialDecay())
}

func TestIntentKey_Deterministic(t *testing.T) {
	a := IntentKey("AAPL", SideSell, "pos-1")
	assert.Equal(t, a, IntentKey("AAPL", SideSell, "pos-1"))
	assert.NotEqual(t, a, IntentKey("AAPL", SideBuy, "pos-1"))
	assert.NotEqual(t, a, IntentKey("AAPL", SideSell, "pos-2"))
}

// --- Options ---

func TestSelectContract_ClosestDeltaInWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	chain := []OptionContract{
		{Symbol: "too-soon", Expiry: now.AddDate(0, 0, 10), Delta: 0.45, Ask: 1},
		{Symbol: "too-far", Expiry: now.AddDate(0, 0, 90), Delta: 0.45, Ask: 1},
		{Symbol: "low-delta", Expiry: now.AddDate(0, 0, 40), Delta: 0.2, Ask: 1},
		{Symbol: "ok-50", Expiry: now.AddDate(0, 0, 40), Delta: 0.50, Ask: 1},
		{Symbol: "ok-44", Expiry: now.AddDate(0, 0, 45), Delta: 0.44, Ask: 1},
	}
	sel := OptionSelection{MinDTE: 30, MaxDTE: 60, TargetDelta: 0.45, MinDelta: 0.3, MaxDelta: 0.7}

	c, ok := SelectContract(chain, sel, now)
	assert.True(t, ok)
	assert.Equal(t, "ok-44", c.Symbol)
}

func TestSelectContract_NoneEligible(t *testing.T) {
	now := time.Now()
	_, ok := SelectContract([]OptionContract{{Expiry: now.AddDate(0, 0, 5), Delta: 0.45, Ask: 1}},
		OptionSelection{MinDTE: 30, MaxDTE: 60, TargetDelta: 0.45, MinDelta: 0.3, MaxDelta: 0.7}, now)
	assert.False(t, ok)
}

// --- Plan window ---

func TestPremarketPlan_ExecutableAt(t *testing.T) {
	open := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	p := PremarketPlan{Day: TradingDay(open, time.UTC), OpenAt: open}

	assert.False(t, p.ExecutableAt(open.Add(-time.Second), 2*time.Minute, time.UTC))
	assert.True(t, p.ExecutableAt(open, 2*time.Minute, time.UTC))
	assert.True(t, p.ExecutableAt(open.Add(2*time.Minute), 2*time.Minute, time.UTC))
	assert.False(t, p.ExecutableAt(open.Add(2*time.Minute+time.Second), 2*time.Minute, time.UTC))
	assert.False(t, p.ExecutableAt(open.AddDate(0, 0, 1), 2*time.Minute, time.UTC))
}

func TestCostTracker_Monotonic(t *testing.T) {
	var c CostTracker
	c.Add(Usage{USD: 0.01, TokensIn: 100, TokensOut: 20})
	c.Add(Usage{USD: -5, TokensIn: -100, TokensOut: -1})
	assert.InDelta(t, 0.01, c.TotalUSD, 1e-12)
	assert.Equal(t, 2, c.Calls)
	assert.Equal(t, int64(100), c.TokensIn)
	assert.Equal(t, int64(20), c.TokensOut)
}
