// Package planner builds the once-per-day premarket candidate list and hands
// it out only inside the short window after the open.
package planner

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/samber/lo"
)

// Config holds the planning windows and candidate filters.
type Config struct {
	PlanWindow    time.Duration // before the open
	ExecuteWindow time.Duration // after the open
	MinSentiment  float64
	Location      *time.Location // trading-day calendar, America/New_York
}

// Planner owns the current plan. A day gets at most one plan; once consumed
// or discarded it is never rebuilt.
type Planner struct {
	cfg Config

	mu      sync.Mutex
	plan    *domain.PremarketPlan
	lastDay string
}

// New creates a Planner.
func New(cfg Config) *Planner {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Planner{cfg: cfg}
}

// InPlanWindow reports whether now is inside the premarket planning window.
func (p *Planner) InPlanWindow(now time.Time, clock domain.Clock) bool {
	if clock.IsOpen || clock.NextOpen.IsZero() {
		return false
	}
	return !now.Before(clock.NextOpen.Add(-p.cfg.PlanWindow)) && now.Before(clock.NextOpen)
}

// Build creates the plan for the session opening at clock.NextOpen. Calling it
// again on the same trading day returns the existing plan unchanged.
// slots caps the number of candidates (max positions minus open entries).
func (p *Planner) Build(now time.Time, clock domain.Clock, signals []domain.SignalScore, exclude []string, slots int) (domain.PremarketPlan, error) {
	if !p.InPlanWindow(now, clock) {
		return domain.PremarketPlan{}, fmt.Errorf("planner.Build: next open %s: %w",
			clock.NextOpen.Format(time.RFC3339), domain.ErrOutsideWindow)
	}
	day := domain.TradingDay(clock.NextOpen, p.cfg.Location)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastDay == day {
		if p.plan != nil {
			return *p.plan, nil
		}
		return domain.PremarketPlan{}, fmt.Errorf("planner.Build: %s already handled: %w", day, domain.ErrOutsideWindow)
	}

	plan := domain.PremarketPlan{
		Day:        day,
		BuiltAt:    now,
		OpenAt:     clock.NextOpen,
		Candidates: Candidates(signals, exclude, p.cfg.MinSentiment, slots),
	}
	p.plan = &plan
	p.lastDay = day
	return plan, nil
}

// Consume returns the plan for execution if now is inside the execution
// window of its own trading day. A plan whose window has passed is discarded
// with ErrStaleWindowMissed and never executed.
func (p *Planner) Consume(now time.Time, clock domain.Clock) (domain.PremarketPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil || p.plan.Consumed {
		return domain.PremarketPlan{}, fmt.Errorf("planner.Consume: no pending plan: %w", domain.ErrOutsideWindow)
	}
	plan := *p.plan

	if plan.ExecutableAt(now, p.cfg.ExecuteWindow, p.cfg.Location) {
		if !clock.IsOpen {
			return domain.PremarketPlan{}, fmt.Errorf("planner.Consume: market closed: %w", domain.ErrOutsideWindow)
		}
		p.plan.Consumed = true
		plan.Consumed = true
		return plan, nil
	}
	if now.Before(plan.OpenAt) {
		return domain.PremarketPlan{}, fmt.Errorf("planner.Consume: before open: %w", domain.ErrOutsideWindow)
	}

	p.plan = nil
	return plan, fmt.Errorf("planner.Consume: plan %s built %s, now %s: %w",
		plan.Day, plan.BuiltAt.Format(time.RFC3339), now.Format(time.RFC3339), domain.ErrStaleWindowMissed)
}

// Pending returns the unconsumed plan, if any.
func (p *Planner) Pending() (domain.PremarketPlan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.plan == nil || p.plan.Consumed {
		return domain.PremarketPlan{}, false
	}
	return *p.plan, true
}

// Snapshot returns the current plan and the day it was built for.
func (p *Planner) Snapshot() (*domain.PremarketPlan, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.plan == nil {
		return nil, p.lastDay
	}
	plan := *p.plan
	return &plan, p.lastDay
}

// Restore loads a persisted plan.
func (p *Planner) Restore(plan *domain.PremarketPlan, lastDay string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastDay = lastDay
	p.plan = nil
	if plan != nil {
		cp := *plan
		p.plan = &cp
	}
}

// Candidates selects bullish equity signals with |sentiment| ≥ minSentiment,
// one per ticker (latest score wins), skipping exclude (held and blacklisted
// tickers), ranked by sentiment × confidence and capped at slots.
func Candidates(signals []domain.SignalScore, exclude []string, minSentiment float64, slots int) []domain.PlanCandidate {
	if slots <= 0 {
		return nil
	}

	latest := make(map[string]domain.SignalScore, len(signals))
	for _, s := range signals {
		t := domain.NormalizeTicker(s.Ticker)
		if cur, ok := latest[t]; !ok || s.ComputedAt.After(cur.ComputedAt) {
			s.Ticker = t
			latest[t] = s
		}
	}

	picked := lo.Filter(lo.Values(latest), func(s domain.SignalScore, _ int) bool {
		return s.Bullish() &&
			math.Abs(s.Sentiment) >= minSentiment &&
			domain.ClassifyTicker(s.Ticker) == domain.AssetEquity &&
			!lo.Contains(exclude, s.Ticker)
	})
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].Strength() != picked[j].Strength() {
			return picked[i].Strength() > picked[j].Strength()
		}
		return picked[i].Ticker < picked[j].Ticker
	})
	if len(picked) > slots {
		picked = picked[:slots]
	}

	return lo.Map(picked, func(s domain.SignalScore, _ int) domain.PlanCandidate {
		return domain.PlanCandidate{
			Ticker:     s.Ticker,
			Class:      domain.AssetEquity,
			Sentiment:  s.Sentiment,
			Confidence: s.Confidence,
			Mentions:   s.MentionCount,
			Volume:     s.TotalWeight,
		}
	})
}
