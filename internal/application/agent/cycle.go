package agent

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/sentibot/internal/application/lifecycle"
	"github.com/alejandrodnm/sentibot/internal/application/research"
	"github.com/alejandrodnm/sentibot/internal/domain"
)

// A ticker researched this recently is not researched again for entry.
const researchCooldown = 30 * time.Minute

// premarket builds the day's plan inside the plan window and executes it
// right after the open.
func (a *Agent) premarket(ctx context.Context, now time.Time, clock domain.Clock, report *domain.CycleReport) {
	p := a.deps.Planner
	lc := a.deps.Lifecycle

	if p.InPlanWindow(now, clock) {
		if _, ok := p.Pending(); !ok {
			signals := lo.Filter(a.deps.Cache.Latest(), func(s domain.SignalScore, _ int) bool {
				return !lc.Blacklisted(s.Ticker)
			})
			plan, err := p.Build(now, clock, signals, lc.Held(), lc.Slots())
			if err == nil && plan.BuiltAt.Equal(now) {
				slog.Info("agent: premarket plan built",
					"day", plan.Day,
					"open_at", plan.OpenAt,
					"candidates", len(plan.Candidates),
				)
			}
		}
	}

	if _, ok := p.Pending(); !ok {
		return
	}
	plan, err := p.Consume(now, clock)
	switch {
	case errors.Is(err, domain.ErrStaleWindowMissed):
		slog.Warn("agent: premarket plan discarded",
			"reason", "stale_window_missed",
			"day", plan.Day,
			"built_at", plan.BuiltAt,
			"now", now,
		)
		return
	case err != nil:
		return
	}

	signals := lo.FilterMap(plan.Candidates, func(c domain.PlanCandidate, _ int) (domain.SignalScore, bool) {
		if lc.Holds(c.Ticker) || lc.Blacklisted(c.Ticker) {
			return domain.SignalScore{}, false
		}
		if s, ok := a.deps.Cache.Get(c.Ticker); ok {
			return s, true
		}
		return domain.SignalScore{
			Ticker:       c.Ticker,
			Sentiment:    c.Sentiment,
			Confidence:   c.Confidence,
			MentionCount: c.Mentions,
			TotalWeight:  c.Volume,
			ComputedAt:   plan.BuiltAt,
		}, true
	})
	slog.Info("agent: executing premarket plan", "day", plan.Day, "candidates", len(signals))
	a.enter(ctx, now, signals, report)
}

// analystTick evaluates positions, reviews them with the analyst when due
// and researches new entries.
func (a *Agent) analystTick(ctx context.Context, now time.Time, clock domain.Clock, report *domain.CycleReport) {
	lc := a.deps.Lifecycle

	res := lc.Evaluate(ctx, now)
	report.Entered = append(report.Entered, res.Opened...)
	report.Exited = append(report.Exited, res.Closed...)

	if a.due(a.state.LastPositionResearchRun, a.cfg.PositionResearchInterval, now) && a.deps.Analyst.Gate().Enabled() {
		a.reviewPositions(ctx, now, report)
	}

	if candidates := a.candidates(now, clock); len(candidates) > 0 {
		a.enter(ctx, now, candidates, report)
		a.mu.Lock()
		a.state.LastResearchRun = now
		a.mu.Unlock()
	}

	a.mu.Lock()
	a.state.LastAnalystRun = now
	a.mu.Unlock()

	slog.Debug("agent: analyst tick",
		"evaluated", res.Evaluated,
		"exiting", len(res.Exiting),
		"closed", len(res.Closed),
		"skipped", len(res.Skipped),
		"positions", lc.Count(),
	)
}

// reviewPositions asks the analyst model about every held position. Each call
// runs under the position's context, so an exit cancels its review.
func (a *Agent) reviewPositions(ctx context.Context, now time.Time, report *domain.CycleReport) {
	lc := a.deps.Lifecycle
	held := lo.Filter(lc.Positions(), func(p domain.PositionEntry, _ int) bool { return p.State.Active() })

	a.mu.Lock()
	a.state.LastPositionResearchRun = now
	a.mu.Unlock()
	if len(held) == 0 {
		return
	}

	var mu sync.Mutex
	var results []domain.ResearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.ResearchWorkers)
	for _, p := range held {
		g.Go(func() error {
			pctx, cancel, ok := lc.PositionContext(gctx, p.Ticker)
			defer cancel()
			if !ok {
				return nil
			}
			underlying := p.Ticker
			if p.Underlying != "" {
				underlying = p.Underlying
			}
			sig, _ := a.deps.Cache.Get(underlying)
			r, err := a.deps.Analyst.Research(pctx, domain.ResearchRequest{
				Ticker:     p.Ticker,
				Mode:       domain.ModeAnalyst,
				PositionID: p.ID,
				Signal:     sig,
				Position:   &p,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if reason := research.DenialReason(err); reason != "" {
					report.Denials[reason]++
				}
				return nil
			}
			results = append(results, r)
			return nil
		})
	}
	_ = g.Wait()

	exits := 0
	for _, r := range results {
		a.recordUsage(ctx, r)
		a.mu.Lock()
		a.state.PositionResearch[domain.NormalizeTicker(r.Ticker)] = r
		a.mu.Unlock()
		if lc.ApplyResearch(ctx, r, now) {
			exits++
		}
	}
	if exits > 0 {
		res := lc.Exit(ctx, now)
		report.Exited = append(report.Exited, res.Closed...)
	}
}

// candidates returns the bullish signals eligible for intraday entry,
// strongest first, capped by free slots and the per-tick research limit.
// Equities need the session open; crypto trades around the clock.
func (a *Agent) candidates(now time.Time, clock domain.Clock) []domain.SignalScore {
	lc := a.deps.Lifecycle
	slots := lc.Slots()
	if slots <= 0 {
		return nil
	}
	limit := slots
	if a.cfg.MaxResearchPerTick > 0 {
		limit = min(limit, a.cfg.MaxResearchPerTick)
	}

	a.mu.Lock()
	recent := make(map[string]bool, len(a.state.SignalResearch))
	for t, r := range a.state.SignalResearch {
		recent[t] = now.Sub(r.CompletedAt) < researchCooldown
	}
	a.mu.Unlock()

	out := lo.Filter(a.deps.Cache.Latest(), func(s domain.SignalScore, _ int) bool {
		if !s.Bullish() || s.Sentiment < a.cfg.MinSentiment || recent[s.Ticker] {
			return false
		}
		if lc.Holds(s.Ticker) || lc.Blacklisted(s.Ticker) {
			return false
		}
		if domain.ClassifyTicker(s.Ticker) == domain.AssetCrypto {
			return a.cfg.CryptoEnabled
		}
		return clock.IsOpen
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strength() > out[j].Strength() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// enter researches each signal and opens a position on a confident BUY.
// When the gate denies research, the signal itself decides (heuristic path).
func (a *Agent) enter(ctx context.Context, now time.Time, signals []domain.SignalScore, report *domain.CycleReport) {
	signals = lo.Filter(signals, func(s domain.SignalScore, _ int) bool {
		if a.deps.Lifecycle.Quotable(ctx, s.Ticker) {
			return true
		}
		slog.Info("agent: no quote, skipping before research", "ticker", s.Ticker)
		return false
	})
	if len(signals) == 0 {
		return
	}
	units := 0
	if a.cfg.ContextSource != "" {
		units = 1
	}
	reqs := lo.Map(signals, func(s domain.SignalScore, _ int) domain.ResearchRequest {
		return domain.ResearchRequest{
			Ticker:      s.Ticker,
			Mode:        domain.ModeResearch,
			Signal:      s,
			QuotaSource: a.cfg.ContextSource,
			QuotaUnits:  units,
		}
	})

	for _, o := range a.deps.Analyst.ResearchAll(ctx, reqs, a.cfg.ResearchWorkers) {
		sig := o.Request.Signal
		var (
			confidence float64
			buy        bool
			path       string
		)
		switch {
		case o.Err == nil:
			a.recordUsage(ctx, o.Result)
			a.mu.Lock()
			a.state.SignalResearch[domain.NormalizeTicker(sig.Ticker)] = o.Result
			a.mu.Unlock()
			confidence = o.Result.Confidence
			buy = o.Result.Recommendation == domain.RecommendBuy && confidence >= a.cfg.MinAnalystConfidence
			path = "research"
		case research.Denied(o.Err):
			report.Denials[research.DenialReason(o.Err)]++
			confidence = sig.Confidence
			buy = a.heuristicBuy(sig)
			path = "heuristic"
		default:
			report.Denials[research.DenialReason(o.Err)]++
			continue
		}
		if !buy {
			continue
		}

		entry, err := a.deps.Lifecycle.Open(ctx, lifecycle.Candidate{
			Ticker:     sig.Ticker,
			Confidence: confidence,
			Volume:     a.deps.Cache.Volume(sig.Ticker),
			UseOptions: a.cfg.OptionsEnabled && domain.ClassifyTicker(sig.Ticker) == domain.AssetEquity,
		}, now)
		if err != nil {
			slog.Info("agent: entry skipped", "ticker", sig.Ticker, "path", path, "err", err)
			if errors.Is(err, domain.ErrMaxPositions) {
				return
			}
			continue
		}
		report.Entered = append(report.Entered, entry.Ticker)
		slog.Info("agent: position entered",
			"ticker", entry.Ticker,
			"path", path,
			"confidence", confidence,
			"sentiment", sig.Sentiment,
			"size_usd", entry.SizeUSD,
		)
	}
}

// heuristicBuy is the entry rule used without research: a strong enough
// bullish signal.
func (a *Agent) heuristicBuy(s domain.SignalScore) bool {
	return s.Bullish() && s.Sentiment >= a.cfg.MinSentiment && s.Confidence >= a.cfg.MinAnalystConfidence
}

func (a *Agent) recordUsage(ctx context.Context, r domain.ResearchResult) {
	if a.deps.Store == nil {
		return
	}
	if err := a.deps.Store.RecordUsage(ctx, r); err != nil {
		slog.Warn("agent: record usage failed", "ticker", r.Ticker, "err", err)
	}
}
