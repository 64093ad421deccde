package domain

import "time"

// RawMention is one observed post or filing referencing a ticker.
type RawMention struct {
	ID        string
	Ticker    string
	Source    string
	Flair     string
	Upvotes   int
	Comments  int
	Sentiment float64 // directional estimate in [-1, 1]
	Text      string
	PostedAt  time.Time
}

// SignalScore is the aggregated, decayed view of a ticker's mentions.
// Read-only once created.
type SignalScore struct {
	Ticker       string    `json:"ticker"`
	Sentiment    float64   `json:"sentiment"`  // signed, bullish > 0
	Confidence   float64   `json:"confidence"` // [0, 1]
	MentionCount int       `json:"mention_count"`
	TotalWeight  float64   `json:"total_weight"`
	ComputedAt   time.Time `json:"computed_at"`
}

// Bullish reports a positive aggregated sentiment.
func (s SignalScore) Bullish() bool { return s.Sentiment > 0 }

// Strength ranks signals: |sentiment| × confidence.
func (s SignalScore) Strength() float64 {
	v := s.Sentiment
	if v < 0 {
		v = -v
	}
	return v * s.Confidence
}

// SocialSnapshot is the social volume seen for a ticker at a point in time.
type SocialSnapshot struct {
	Ticker   string    `json:"ticker"`
	Volume   float64   `json:"volume"`
	Mentions int       `json:"mentions"`
	At       time.Time `json:"at"`
}
