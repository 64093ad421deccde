package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AssetClass selects which sizing and exit rules apply to a position.
type AssetClass string

const (
	AssetEquity AssetClass = "equity"
	AssetCrypto AssetClass = "crypto"
	AssetOption AssetClass = "option"
)

// ClassifyTicker returns crypto for pair symbols ("BTC/USD") and equity otherwise.
// Options are never inferred from a symbol: they are chosen explicitly at entry.
func ClassifyTicker(ticker string) AssetClass {
	if strings.Contains(ticker, "/") {
		return AssetCrypto
	}
	return AssetEquity
}

// AssetRules is the rule set of one asset class. A position captures its
// rules at open and never switches them.
type AssetRules struct {
	Class         AssetClass `json:"class"`
	MaxValueUSD   float64    `json:"max_value_usd"`   // absolute cap per trade (0 = none)
	MaxPctOfCash  float64    `json:"max_pct_of_cash"` // fraction of cash per trade (0 = none)
	StopLossPct   float64    `json:"stop_loss_pct"`
	TakeProfitPct float64    `json:"take_profit_pct"`
	MinConfidence float64    `json:"min_confidence"`
}

// PositionSize returns min(asset cap, sizePct% × cash) rounded down to cents.
// sizePct is expressed in percent (2 = 2%). Non-positive cash sizes to zero.
func (r AssetRules) PositionSize(cash, sizePct float64) decimal.Decimal {
	c := decimal.NewFromFloat(cash)
	if !c.IsPositive() || sizePct <= 0 {
		return decimal.Zero
	}
	size := c.Mul(decimal.NewFromFloat(sizePct)).Div(decimal.NewFromInt(100))

	if r.MaxValueUSD > 0 {
		size = decimal.Min(size, decimal.NewFromFloat(r.MaxValueUSD))
	}
	if r.MaxPctOfCash > 0 {
		size = decimal.Min(size, c.Mul(decimal.NewFromFloat(r.MaxPctOfCash)))
	}
	return size.RoundFloor(2)
}

// ExitTrigger reports whether gainPct crosses the stop-loss or take-profit band.
func (r AssetRules) ExitTrigger(gainPct float64) (ExitReason, bool) {
	if r.StopLossPct > 0 && gainPct <= -r.StopLossPct {
		return ExitStopLoss, true
	}
	if r.TakeProfitPct > 0 && gainPct >= r.TakeProfitPct {
		return ExitTakeProfit, true
	}
	return "", false
}

// GainPct returns the unrealized gain of current vs entry in percent.
func GainPct(entry, current float64) float64 {
	e := decimal.NewFromFloat(entry)
	if !e.IsPositive() || current <= 0 {
		return 0
	}
	return decimal.NewFromFloat(current).Sub(e).Div(e).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
