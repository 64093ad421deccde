package domain

import (
	"math"
	"time"
)

// ResearchMode routes a request to the cheap research model or the analyst model.
type ResearchMode string

const (
	ModeResearch ResearchMode = "research"
	ModeAnalyst  ResearchMode = "analyst"
)

// Recommendation is the LLM verdict.
type Recommendation string

const (
	RecommendBuy  Recommendation = "BUY"
	RecommendSell Recommendation = "SELL"
	RecommendHold Recommendation = "HOLD"
	RecommendSkip Recommendation = "SKIP"
)

// ResearchRequest is a gated request for LLM analysis.
type ResearchRequest struct {
	Ticker       string
	Mode         ResearchMode
	Model        string
	PositionID   string // set for analyst reviews of an open position
	Signal       SignalScore
	Position     *PositionEntry
	EstimatedUSD float64
	QuotaSource  string // third-party read quota consumed alongside, "" for none
	QuotaUnits   int
}

// Usage is the metered cost of one external LLM call.
type Usage struct {
	USD       float64 `json:"usd"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
}

// Metered reports whether the provider billed anything for the call.
func (u Usage) Metered() bool { return u.USD > 0 || u.TokensIn > 0 || u.TokensOut > 0 }

// ResearchResult is what the research collaborator returns.
type ResearchResult struct {
	Ticker         string         `json:"ticker"`
	PositionID     string         `json:"position_id,omitempty"`
	Mode           ResearchMode   `json:"mode"`
	Model          string         `json:"model"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	Usage          Usage          `json:"usage"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// CostTracker accumulates LLM spend for a run. Values never decrease.
type CostTracker struct {
	TotalUSD  float64 `json:"total_usd"`
	Calls     int     `json:"calls"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
}

// Add records one completed call. Negative or non-finite amounts are ignored.
func (c *CostTracker) Add(u Usage) {
	c.Calls++
	if u.USD > 0 && !math.IsInf(u.USD, 0) {
		c.TotalUSD += u.USD
	}
	if u.TokensIn > 0 {
		c.TokensIn += u.TokensIn
	}
	if u.TokensOut > 0 {
		c.TokensOut += u.TokensOut
	}
}

// ReadQuota is a third-party daily read allowance.
type ReadQuota struct {
	Source   string    `json:"source"`
	Limit    int       `json:"limit"`
	Used     int       `json:"used"`
	Reserved int       `json:"reserved"`
	ResetAt  time.Time `json:"reset_at"`
}

// Remaining is Limit − Used − Reserved, never negative.
func (q ReadQuota) Remaining() int {
	r := q.Limit - q.Used - q.Reserved
	if r < 0 {
		return 0
	}
	return r
}
