package domain

import (
	"math"
	"strings"
	"time"
)

const (
	// A lone mention tops out at 1 - countDecay = 0.3 confidence.
	countDecay       = 0.7
	weightSaturation = 2.0
)

// Score aggregates a ticker's mentions into one SignalScore.
//
// Formula:
//
//	sentiment  = Σ wᵢ·sᵢ / Σ wᵢ          (sᵢ clamped to [-1, 1])
//	confidence = (1 − 0.7ⁿ) × (1 − e^(−W/2))
//
// where n is the number of mentions with positive weight and W = Σ wᵢ.
// The count factor alone bounds a single mention at 0.3 regardless of its
// trust or raw sentiment.
//
// Returns ok=false when no mention carries weight: "no signal" is not the
// same as a zero-confidence score.
func Score(w *Weighting, ticker string, mentions []RawMention, now time.Time) (SignalScore, bool) {
	ticker = NormalizeTicker(ticker)
	if len(mentions) == 0 || ticker == "" {
		return SignalScore{}, false
	}

	var (
		sumW  float64
		sumWS float64
		n     int
	)
	for _, m := range mentions {
		if NormalizeTicker(m.Ticker) != ticker {
			continue
		}
		age := now.Sub(m.PostedAt).Minutes()
		weight := w.Weight(m.Source, m.Flair, m.Upvotes, m.Comments, age)
		if weight <= 0 {
			continue
		}
		sumW += weight
		sumWS += weight * clampSentiment(m.Sentiment)
		n++
	}
	if n == 0 || sumW <= 0 {
		return SignalScore{}, false
	}

	return SignalScore{
		Ticker:       ticker,
		Sentiment:    sumWS / sumW,
		Confidence:   Confidence(n, sumW),
		MentionCount: n,
		TotalWeight:  sumW,
		ComputedAt:   now,
	}, true
}

// Confidence is the saturating corroboration function, bounded in [0,1].
func Confidence(n int, totalWeight float64) float64 {
	if n <= 0 || !(totalWeight > 0) || math.IsInf(totalWeight, 1) {
		return 0
	}
	countFactor := 1 - math.Pow(countDecay, float64(n))
	weightFactor := 1 - math.Exp(-totalWeight/weightSaturation)
	return math.Max(0, math.Min(1, countFactor*weightFactor))
}

// NormalizeTicker upper-cases and trims a ticker symbol ("$aapl " → "AAPL").
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(t), "$"))
}

func clampSentiment(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(-1, math.Min(1, s))
}
