package domain

import "time"

// Clock is the market clock collaborator's view of the equity session.
type Clock struct {
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
	At        time.Time `json:"at"`
}

// TradingDay returns the calendar date of t in loc ("2006-01-02").
func TradingDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// PlanCandidate is one ticker selected for the open.
type PlanCandidate struct {
	Ticker     string     `json:"ticker"`
	Class      AssetClass `json:"class"`
	Sentiment  float64    `json:"sentiment"`
	Confidence float64    `json:"confidence"`
	Mentions   int        `json:"mentions"`
	Volume     float64    `json:"volume"`
}

// PremarketPlan is a once-per-day candidate list, executable only right after the open.
type PremarketPlan struct {
	Day        string          `json:"day"`
	BuiltAt    time.Time       `json:"built_at"`
	OpenAt     time.Time       `json:"open_at"`
	Candidates []PlanCandidate `json:"candidates"`
	Consumed   bool            `json:"consumed"`
}

// ExecutableAt reports whether now falls in [OpenAt, OpenAt+window] on the plan's day.
func (p PremarketPlan) ExecutableAt(now time.Time, window time.Duration, loc *time.Location) bool {
	if p.Consumed || p.OpenAt.IsZero() {
		return false
	}
	if TradingDay(now, loc) != p.Day {
		return false
	}
	return !now.Before(p.OpenAt) && !now.After(p.OpenAt.Add(window))
}
