package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scoreNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func mention(ticker, source, flair string, sentiment float64, ageMin int) RawMention {
	return RawMention{
		ID:        fmt.Sprintf("%s-%s-%d", ticker, source, ageMin),
		Ticker:    ticker,
		Source:    source,
		Flair:     flair,
		Upvotes:   120,
		Comments:  30,
		Sentiment: sentiment,
		PostedAt:  scoreNow.Add(-time.Duration(ageMin) * time.Minute),
	}
}

func TestScore_EmptyIsNoSignal(t *testing.T) {
	_, ok := Score(DefaultWeighting(), "AAPL", nil, scoreNow)
	assert.False(t, ok)

	_, ok = Score(DefaultWeighting(), "AAPL", []RawMention{}, scoreNow)
	assert.False(t, ok)
}

func TestScore_OnlyUnknownSourcesIsNoSignal(t *testing.T) {
	ms := []RawMention{
		mention("AAPL", "facebook", "DD", 1, 0),
		mention("AAPL", "reddit_pennystocks", "", -1, 5),
	}
	_, ok := Score(DefaultWeighting(), "AAPL", ms, scoreNow)
	assert.False(t, ok)
}

func TestScore_UnknownSourceSkippedNotFatal(t *testing.T) {
	ms := []RawMention{
		mention("AAPL", "facebook", "", -1, 0),
		mention("AAPL", SourceStocktwits, "", 0.8, 0),
	}
	s, ok := Score(DefaultWeighting(), "AAPL", ms, scoreNow)
	require.True(t, ok)
	assert.Equal(t, 1, s.MentionCount)
	assert.InDelta(t, 0.8, s.Sentiment, 1e-12)
}

func TestScore_WeightedMean(t *testing.T) {
	w := DefaultWeighting()
	ms := []RawMention{
		mention("TSLA", SourceSEC8K, "", 1, 0),
		mention("TSLA", SourceWallStreetBets, "Meme", -1, 0),
	}
	s, ok := Score(w, "TSLA", ms, scoreNow)
	require.True(t, ok)

	w1 := w.Weight(SourceSEC8K, "", 120, 30, 0)
	w2 := w.Weight(SourceWallStreetBets, "Meme", 120, 30, 0)
	assert.InDelta(t, (w1-w2)/(w1+w2), s.Sentiment, 1e-12)
	assert.Greater(t, s.Sentiment, 0.0, "filing outweighs a meme")
	assert.InDelta(t, w1+w2, s.TotalWeight, 1e-12)
	assert.Equal(t, scoreNow, s.ComputedAt)
}

func TestScore_SingleLowTrustMentionConfidenceCapped(t *testing.T) {
	m := mention("GME", SourceWallStreetBets, "DD", 1, 0)
	m.Upvotes = 50_000
	m.Comments = 10_000

	s, ok := Score(DefaultWeighting(), "GME", []RawMention{m}, scoreNow)
	require.True(t, ok)
	assert.InDelta(t, 1.0, s.Sentiment, 1e-12)
	assert.LessOrEqual(t, s.Confidence, 0.3)
}

func TestScore_SingleMentionOfAnySourceBelowCeiling(t *testing.T) {
	for src := range DefaultSourceWeights() {
		m := mention("NVDA", src, "DD", -1, 0)
		m.Upvotes, m.Comments = 100_000, 100_000
		s, ok := Score(DefaultWeighting(), "NVDA", []RawMention{m}, scoreNow)
		require.True(t, ok, src)
		assert.LessOrEqual(t, s.Confidence, 0.3, src)
	}
}

func TestScore_CorroborationRaisesConfidence(t *testing.T) {
	w := DefaultWeighting()
	one, _ := Score(w, "AMD", []RawMention{mention("AMD", SourceFintwit, "", 0.6, 0)}, scoreNow)

	var many []RawMention
	for i := 0; i < 8; i++ {
		many = append(many, mention("AMD", SourceFintwit, "", 0.6, i))
	}
	more, _ := Score(w, "AMD", many, scoreNow)

	assert.Greater(t, more.Confidence, one.Confidence)
	assert.LessOrEqual(t, more.Confidence, 1.0)
}

func TestScore_OldMentionsContributeLess(t *testing.T) {
	w := DefaultWeighting()
	fresh := mention("MSFT", SourceRedditStocks, "", 1, 0)
	stale := mention("MSFT", SourceRedditStocks, "", -1, 600)

	s, ok := Score(w, "MSFT", []RawMention{fresh, stale}, scoreNow)
	require.True(t, ok)
	assert.Greater(t, s.Sentiment, 0.9)
}

func TestScore_OtherTickersIgnored(t *testing.T) {
	ms := []RawMention{
		mention("$aapl", SourceStocktwits, "", 0.5, 0),
		mention("MSFT", SourceStocktwits, "", -1, 0),
	}
	s, ok := Score(DefaultWeighting(), "AAPL", ms, scoreNow)
	require.True(t, ok)
	assert.Equal(t, "AAPL", s.Ticker)
	assert.Equal(t, 1, s.MentionCount)
}

func TestScore_SentimentClamped(t *testing.T) {
	s, ok := Score(DefaultWeighting(), "AAPL", []RawMention{mention("AAPL", SourceSEC4, "", 7, 0)}, scoreNow)
	require.True(t, ok)
	assert.Equal(t, 1.0, s.Sentiment)
}

// --- Confidence ---

func TestConfidence_Bounds(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(0, 10))
	assert.Equal(t, 0.0, Confidence(3, 0))
	assert.LessOrEqual(t, Confidence(1, 1e9), 0.3+1e-12)
	assert.InDelta(t, 1.0, Confidence(200, 1e6), 1e-6)
}

func TestConfidence_MonotonicInCount(t *testing.T) {
	prev := 0.0
	for n := 1; n <= 20; n++ {
		c := Confidence(n, float64(n))
		assert.Greater(t, c, prev)
		prev = c
	}
}
