// Package agent is the orchestrator: one sequential tick drives data
// gathering, premarket planning, position lifecycle and research.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/alejandrodnm/sentibot/internal/application/lifecycle"
	"github.com/alejandrodnm/sentibot/internal/application/planner"
	"github.com/alejandrodnm/sentibot/internal/application/research"
	"github.com/alejandrodnm/sentibot/internal/application/signals"
	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/alejandrodnm/sentibot/internal/ports"
)

const socialHistoryLen = 48

// Config holds the orchestration cadence and entry filters.
type Config struct {
	Enabled   bool
	Watchlist []string

	TickInterval             time.Duration
	DataPollInterval         time.Duration
	AnalystInterval          time.Duration
	PositionResearchInterval time.Duration

	MinSentiment         float64
	MinAnalystConfidence float64

	MaxResearchPerTick int
	ResearchWorkers    int
	ContextSource      string // read quota charged per research call, "" for none

	CryptoEnabled  bool
	CryptoSymbols  []string
	OptionsEnabled bool
}

// Deps are the collaborators the agent drives. Store and Notifier may be nil.
type Deps struct {
	Clock     ports.MarketClock
	Gatherer  *signals.Gatherer
	Cache     *signals.Cache
	Analyst   *research.Analyst
	Lifecycle *lifecycle.Manager
	Planner   *planner.Planner
	Store     ports.StateStore
	Notifier  ports.Notifier
}

// State is what the agent itself owns between ticks. Signals, positions,
// budget and plan live in their components and are joined in Snapshot.
type State struct {
	LastDataGatherRun       time.Time
	LastAnalystRun          time.Time
	LastResearchRun         time.Time
	LastPositionResearchRun time.Time

	SocialHistory           map[string][]domain.SocialSnapshot
	SocialSnapshots         map[string]domain.SocialSnapshot
	SocialSnapshotUpdatedAt time.Time

	SignalResearch   map[string]domain.ResearchResult
	PositionResearch map[string]domain.ResearchResult

	LastClockIsOpen   *bool
	LastKnownNextOpen time.Time
}

func newState() *State {
	return &State{
		SocialHistory:    make(map[string][]domain.SocialSnapshot),
		SocialSnapshots:  make(map[string]domain.SocialSnapshot),
		SignalResearch:   make(map[string]domain.ResearchResult),
		PositionResearch: make(map[string]domain.ResearchResult),
	}
}

// Agent runs the tick loop. Only one Tick runs at a time.
type Agent struct {
	cfg  Config
	deps Deps

	tickMu sync.Mutex

	mu    sync.Mutex // guards state
	state *State
}

// New creates an Agent with an empty state.
func New(cfg Config, deps Deps) *Agent {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.ResearchWorkers <= 0 {
		cfg.ResearchWorkers = 1
	}
	return &Agent{cfg: cfg, deps: deps, state: newState()}
}

// Run restores the persisted state, then ticks until ctx is cancelled.
// Only a corrupt snapshot stops it with an error.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Load(ctx); err != nil {
		return err
	}

	slog.Info("agent: started",
		"enabled", a.cfg.Enabled,
		"watchlist", len(a.watchlist()),
		"tick", a.cfg.TickInterval,
		"data_poll", a.cfg.DataPollInterval,
		"analyst", a.cfg.AnalystInterval,
	)

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	a.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			a.persist(context.WithoutCancel(ctx), time.Now())
			slog.Info("agent: stopped")
			return nil
		case now := <-ticker.C:
			a.Tick(ctx, now)
		}
	}
}

// Load restores the last snapshot from the store, if any.
func (a *Agent) Load(ctx context.Context) error {
	if a.deps.Store == nil {
		return nil
	}
	snap, ok, err := a.deps.Store.LoadSnapshot(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrStateCorrupt) {
			return fmt.Errorf("agent.Load: %w", err)
		}
		slog.Warn("agent: snapshot unavailable, starting fresh", "err", err)
		return nil
	}
	if ok {
		if err := a.Restore(snap); err != nil {
			return fmt.Errorf("agent.Load: %w", err)
		}
		slog.Info("agent: state restored",
			"saved_at", snap.SavedAt,
			"positions", len(snap.Positions),
			"tickers", len(snap.Signals),
		)
	}
	a.reconcileCost(ctx)
	return nil
}

// reconcileCost lifts the gate's spend to what the usage ledger recorded.
// Calls made after the last snapshot would otherwise be spent again.
func (a *Agent) reconcileCost(ctx context.Context) {
	ledger, ok := a.deps.Store.(ports.UsageLedger)
	if !ok {
		return
	}
	recorded, err := ledger.UsageSince(ctx, time.Time{})
	if err != nil {
		slog.Warn("agent: usage ledger unavailable", "err", err)
		return
	}
	gate := a.deps.Analyst.Gate()
	if gate.Reconcile(recorded) {
		cost := gate.Cost()
		slog.Info("agent: spend reconciled with usage ledger",
			"calls", cost.Calls,
			"total_usd", cost.TotalUSD,
		)
	}
}

// Tick runs one cycle at now and returns its report.
func (a *Agent) Tick(ctx context.Context, now time.Time) domain.CycleReport {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()
	start := time.Now()

	report := domain.CycleReport{At: now, Denials: make(map[string]int)}

	a.housekeeping(now)
	clock := a.refreshClock(ctx, now)
	report.MarketOpen = clock.IsOpen

	if a.due(a.state.LastDataGatherRun, a.cfg.DataPollInterval, now) {
		a.gather(ctx, now)
	}

	if a.cfg.Enabled {
		a.premarket(ctx, now, clock, &report)

		if a.due(a.state.LastAnalystRun, a.cfg.AnalystInterval, now) {
			a.analystTick(ctx, now, clock, &report)
		}
	}

	a.persist(ctx, now)

	report.Signals = a.deps.Cache.Latest()
	report.Positions = a.deps.Lifecycle.Positions()
	report.Cost = a.deps.Analyst.Gate().Cost()
	report.Quotas = a.deps.Analyst.Gate().Quotas()
	if plan, ok := a.deps.Planner.Pending(); ok {
		report.PlanDay = plan.Day
		report.PlanTickers = lo.Map(plan.Candidates, func(c domain.PlanCandidate, _ int) string { return c.Ticker })
	}
	report.Duration = time.Since(start)

	if a.deps.Notifier != nil {
		if err := a.deps.Notifier.Report(ctx, report); err != nil {
			slog.Warn("agent: report failed", "err", err)
		}
	}
	return report
}

// housekeeping prunes the cache, resets quotas when due and expires leases.
func (a *Agent) housekeeping(now time.Time) {
	if n := a.deps.Cache.Prune(now); n > 0 {
		slog.Debug("agent: cache pruned", "removed", n)
	}
	gate := a.deps.Analyst.Gate()
	if reset := gate.ResetIfDue(now); len(reset) > 0 {
		slog.Info("agent: read quotas reset", "sources", reset)
	}
	for _, l := range gate.ExpireLeases(now) {
		slog.Warn("agent: research lease expired",
			"ticker", l.Ticker,
			"lease", l.ID,
			"usd", l.USD,
			"quota_source", l.QuotaSource,
		)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := now.Add(-24 * time.Hour)
	for t, r := range a.state.SignalResearch {
		if r.CompletedAt.Before(cutoff) {
			delete(a.state.SignalResearch, t)
		}
	}
	for t := range a.state.PositionResearch {
		if _, held := a.deps.Lifecycle.Get(t); !held {
			delete(a.state.PositionResearch, t)
		}
	}
}

// refreshClock asks the market clock and falls back to the last known state.
func (a *Agent) refreshClock(ctx context.Context, now time.Time) domain.Clock {
	clock, err := a.deps.Clock.Clock(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		fallback := domain.Clock{NextOpen: a.state.LastKnownNextOpen, At: now}
		if a.state.LastClockIsOpen != nil {
			fallback.IsOpen = *a.state.LastClockIsOpen
		}
		slog.Warn("agent: market clock unavailable, using last known",
			"reason", "external_call_failure",
			"is_open", fallback.IsOpen,
			"err", err,
		)
		return fallback
	}
	open := clock.IsOpen
	a.state.LastClockIsOpen = &open
	if !clock.NextOpen.IsZero() {
		a.state.LastKnownNextOpen = clock.NextOpen
	}
	return clock
}

// gather polls every source for the watchlist, held tickers included.
func (a *Agent) gather(ctx context.Context, now time.Time) {
	tickers := a.watchlist()
	res := a.deps.Gatherer.Gather(ctx, tickers, now)

	for _, s := range res.Scores {
		a.deps.Cache.Put(s)
	}
	if a.deps.Store != nil && len(res.Scores) > 0 {
		if err := a.deps.Store.SaveSignals(ctx, res.Scores); err != nil {
			slog.Warn("agent: save signals failed", "err", err)
		}
	}

	a.mu.Lock()
	for _, s := range res.Scores {
		snap := domain.SocialSnapshot{Ticker: s.Ticker, Volume: s.TotalWeight, Mentions: s.MentionCount, At: now}
		a.state.SocialSnapshots[s.Ticker] = snap
		history := append(a.state.SocialHistory[s.Ticker], snap)
		if len(history) > socialHistoryLen {
			history = history[len(history)-socialHistoryLen:]
		}
		a.state.SocialHistory[s.Ticker] = history
	}
	if len(res.Scores) > 0 {
		a.state.SocialSnapshotUpdatedAt = now
	}
	a.state.LastDataGatherRun = now
	a.mu.Unlock()

	slog.Info("agent: data gathered",
		"tickers", len(tickers),
		"scores", len(res.Scores),
		"mentions", res.Mentions,
		"failures", len(res.Failures),
	)
}

// watchlist is the configured tickers, the crypto symbols and every held
// ticker, deduplicated. Option symbols are watched through their underlying.
func (a *Agent) watchlist() []string {
	all := append([]string{}, a.cfg.Watchlist...)
	if a.cfg.CryptoEnabled {
		all = append(all, a.cfg.CryptoSymbols...)
	}
	for _, p := range a.deps.Lifecycle.Positions() {
		if p.Underlying != "" {
			all = append(all, p.Underlying)
			continue
		}
		all = append(all, p.Ticker)
	}
	return lo.Uniq(lo.Map(all, func(t string, _ int) string { return domain.NormalizeTicker(t) }))
}

// due reports whether a task last run at last is due again at now.
func (a *Agent) due(last time.Time, every time.Duration, now time.Time) bool {
	return last.IsZero() || every <= 0 || now.Sub(last) >= every
}

// persist saves a snapshot. A failed save is logged and retried next tick.
func (a *Agent) persist(ctx context.Context, now time.Time) {
	if a.deps.Store == nil {
		return
	}
	if err := a.deps.Store.SaveSnapshot(ctx, a.Snapshot(now)); err != nil {
		slog.Warn("agent: save snapshot failed", "err", err)
	}
}
