package planner_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alejandrodnm/sentibot/internal/application/planner"
	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func setup(t *testing.T) (*planner.Planner, *time.Location, time.Time) {
	t.Helper()
	loc := newYork(t)
	p := planner.New(planner.Config{
		PlanWindow:    5 * time.Minute,
		ExecuteWindow: 2 * time.Minute,
		MinSentiment:  0.25,
		Location:      loc,
	})
	open := time.Date(2026, 3, 10, 9, 30, 0, 0, loc)
	return p, loc, open
}

func closedClock(open time.Time) domain.Clock { return domain.Clock{IsOpen: false, NextOpen: open} }
func openClock(next time.Time) domain.Clock { return domain.Clock{IsOpen: true, NextOpen: next} }

func sig(ticker string, sentiment, confidence float64, at time.Time) domain.SignalScore {
	return domain.SignalScore{Ticker: ticker, Sentiment: sentiment, Confidence: confidence, MentionCount: 3, TotalWeight: 1.5, ComputedAt: at}
}

// --- Candidates ---

func TestCandidates_FilterRankCap(t *testing.T) {
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	signals := []domain.SignalScore{
		sig("AAPL", 0.6, 0.5, now),                   // 0.30
		sig("MSFT", 0.4, 0.9, now),                   // 0.36
		sig("TSLA", -0.9, 0.9, now),                  // bearish
		sig("AMD", 0.2, 0.9, now),                    // below min sentiment
		sig("BTC/USD", 0.9, 0.9, now),                // crypto trades intraday
		sig("NVDA", 0.9, 0.9, now),                   // held
		sig("aapl", 0.3, 0.1, now.Add(-time.Minute)), // older duplicate
		sig("PLTR", 0.5, 0.5, now),                   // 0.25
	}

	got := planner.Candidates(signals, []string{"NVDA"}, 0.25, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "MSFT", got[0].Ticker)
	assert.Equal(t, "AAPL", got[1].Ticker)
	assert.Equal(t, 0.6, got[1].Sentiment, "latest score wins")

	assert.Empty(t, planner.Candidates(signals, nil, 0.25, 0))
}

// --- Build / Consume ---

func TestBuild_OnlyInsideWindow(t *testing.T) {
	p, _, open := setup(t)

	_, err := p.Build(open.Add(-10*time.Minute), closedClock(open), nil, nil, 5)
	assert.ErrorIs(t, err, domain.ErrOutsideWindow)

	_, err = p.Build(open.Add(-3*time.Minute), openClock(open.Add(24*time.Hour)), nil, nil, 5)
	assert.ErrorIs(t, err, domain.ErrOutsideWindow, "market already open")

	plan, err := p.Build(open.Add(-3*time.Minute), closedClock(open), nil, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", plan.Day)
}

func TestBuild_IdempotentPerDay(t *testing.T) {
	p, _, open := setup(t)
	signals := []domain.SignalScore{sig("AAPL", 0.6, 0.5, open)}

	first, err := p.Build(open.Add(-4*time.Minute), closedClock(open), signals, nil, 5)
	require.NoError(t, err)

	more := append(signals, sig("MSFT", 0.9, 0.9, open))
	second, err := p.Build(open.Add(-2*time.Minute), closedClock(open), more, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, second.Candidates, 1)
}

func TestConsume_InsideExecuteWindow(t *testing.T) {
	p, _, open := setup(t)
	_, err := p.Build(open.Add(-3*time.Minute), closedClock(open), []domain.SignalScore{sig("AAPL", 0.6, 0.5, open)}, nil, 5)
	require.NoError(t, err)

	_, err = p.Consume(open.Add(-time.Minute), closedClock(open))
	assert.ErrorIs(t, err, domain.ErrOutsideWindow, "not open yet, plan kept")

	plan, err := p.Consume(open.Add(time.Minute), openClock(open.Add(24*time.Hour)))
	require.NoError(t, err)
	assert.True(t, plan.Consumed)
	require.Len(t, plan.Candidates, 1)

	_, err = p.Consume(open.Add(90*time.Second), openClock(open.Add(24*time.Hour)))
	assert.ErrorIs(t, err, domain.ErrOutsideWindow, "consumed once")

	_, err = p.Build(open.Add(-time.Minute), closedClock(open), nil, nil, 5)
	assert.NoError(t, err, "same day returns the consumed plan")
}

func TestConsume_LateIsDiscarded(t *testing.T) {
	p, _, open := setup(t)
	_, err := p.Build(open.Add(-3*time.Minute), closedClock(open), []domain.SignalScore{sig("AAPL", 0.6, 0.5, open)}, nil, 5)
	require.NoError(t, err)

	_, err = p.Consume(open.Add(5*time.Minute), openClock(open.Add(24*time.Hour)))
	assert.ErrorIs(t, err, domain.ErrStaleWindowMissed)

	_, pending := p.Pending()
	assert.False(t, pending)
}

func TestConsume_NextDayIsDiscarded(t *testing.T) {
	p, _, open := setup(t)
	_, err := p.Build(open.Add(-3*time.Minute), closedClock(open), []domain.SignalScore{sig("AAPL", 0.6, 0.5, open)}, nil, 5)
	require.NoError(t, err)

	nextDay := open.AddDate(0, 0, 1).Add(time.Minute)
	plan, err := p.Consume(nextDay, openClock(nextDay.Add(24*time.Hour)))
	assert.ErrorIs(t, err, domain.ErrStaleWindowMissed)
	assert.False(t, plan.Consumed)

	_, err = p.Consume(nextDay, openClock(nextDay.Add(24*time.Hour)))
	assert.ErrorIs(t, err, domain.ErrOutsideWindow)
}

func TestSnapshotRestore(t *testing.T) {
	p, loc, open := setup(t)
	built, err := p.Build(open.Add(-3*time.Minute), closedClock(open), []domain.SignalScore{sig("AAPL", 0.6, 0.5, open)}, nil, 5)
	require.NoError(t, err)

	plan, day := p.Snapshot()
	other := planner.New(planner.Config{ExecuteWindow: 2 * time.Minute, PlanWindow: 5 * time.Minute, Location: loc})
	other.Restore(plan, day)

	pending, ok := other.Pending()
	require.True(t, ok)
	assert.Equal(t, built, pending)
}
