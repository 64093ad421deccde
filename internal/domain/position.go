package domain

import (
	"time"

	"github.com/google/uuid"
)

// PositionState is the lifecycle of a position.
type PositionState string

const (
	StateOpening    PositionState = "OPENING"
	StateHeld       PositionState = "HELD"
	StateStaleWatch PositionState = "STALE_WATCH"
	StateExiting    PositionState = "EXITING"
	StateClosed     PositionState = "CLOSED"
)

// Active reports whether the position is held and subject to evaluation.
func (s PositionState) Active() bool {
	return s == StateHeld || s == StateStaleWatch
}

// ExitReason explains why a position was sent to EXITING.
type ExitReason string

const (
	ExitStopLoss    ExitReason = "stop_loss"
	ExitTakeProfit  ExitReason = "take_profit"
	ExitStaleMax    ExitReason = "stale_max_hold"
	ExitStaleSocial ExitReason = "stale_social_decay"
	ExitAnalyst     ExitReason = "analyst_sell"
)

// StalenessTier is the last staleness tier a position was evaluated at.
type StalenessTier string

const (
	TierNone StalenessTier = ""
	TierMin  StalenessTier = "min_hold"
	TierMid  StalenessTier = "mid_hold"
	TierMax  StalenessTier = "max_hold"
)

// PositionEntry is one open position, keyed by ticker.
type PositionEntry struct {
	ID                string        `json:"id"`
	Ticker            string        `json:"ticker"`
	Underlying        string        `json:"underlying,omitempty"` // options only
	Rules             AssetRules    `json:"rules"`
	State             PositionState `json:"state"`
	EntryPrice        float64       `json:"entry_price"`
	EntryTime         time.Time     `json:"entry_time"`
	SizeUSD           float64       `json:"size_usd"`
	Quantity          float64       `json:"quantity"`
	EntrySocialVolume float64       `json:"entry_social_volume"`
	LastSocialVolume  float64       `json:"last_social_volume"`
	LastTier          StalenessTier `json:"last_tier"`
	LastGainPct       float64       `json:"last_gain_pct"`
	LastEvaluated     time.Time     `json:"last_evaluated"`
	ExitReason        ExitReason    `json:"exit_reason,omitempty"`
	ExitRequestedAt   *time.Time    `json:"exit_requested_at,omitempty"`
	ExitAttempts      int           `json:"exit_attempts"`
}

// Class returns the asset class captured at open.
func (p PositionEntry) Class() AssetClass { return p.Rules.Class }

// HeldFor returns how long the position has been held at now.
func (p PositionEntry) HeldFor(now time.Time) time.Duration {
	if p.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(p.EntryTime)
}

// SocialDecay is 1 − recent/entry volume, in [0, 1]. Zero entry volume never decays.
func (p PositionEntry) SocialDecay() float64 {
	if p.EntrySocialVolume <= 0 {
		return 0
	}
	d := 1 - p.LastSocialVolume/p.EntrySocialVolume
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRequest is sent to the broker collaborator. IntentKey makes retries idempotent.
type OrderRequest struct {
	IntentKey string
	Ticker    string
	Class     AssetClass
	Side      OrderSide
	SizeUSD   float64
	Quantity  float64
}

// Fill is the broker's confirmation of an order.
type Fill struct {
	IntentKey string
	Ticker    string
	Side      OrderSide
	Price     float64
	Quantity  float64
	FilledAt  time.Time
}

var intentNamespace = uuid.MustParse("6f1c3f1e-6f43-4c57-9c7a-1f3d0f4b9e21")

// IntentKey is a deterministic order key for (ticker, side, position id):
// re-issuing the same intent yields the same key.
func IntentKey(ticker string, side OrderSide, positionID string) string {
	return uuid.NewSHA1(intentNamespace, []byte(ticker+"|"+string(side)+"|"+positionID)).String()
}

// Transition is an audited state change of a position.
type Transition struct {
	PositionID string
	Ticker     string
	From       PositionState
	To         PositionState
	Reason     string
	GainPct    float64
	At         time.Time
}
