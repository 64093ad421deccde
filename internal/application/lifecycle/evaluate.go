package lifecycle

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/sentibot/internal/application/engine"
	"github.com/alejandrodnm/sentibot/internal/domain"
)

// EvalResult summarises one evaluation pass.
type EvalResult struct {
	Evaluated int
	Opened    []string // restored OPENING entries whose buy filled
	Exiting   []string // sent to EXITING this pass
	Closed    []string
	Skipped   []string // quote or exit failures, retried next tick
}

// Evaluate runs one lifecycle pass at now. For each held position the
// stop-loss/take-profit check happens before any staleness tier. Every
// EXITING position (new or left over) then gets a sell attempt.
func (m *Manager) Evaluate(ctx context.Context, now time.Time) EvalResult {
	var res EvalResult

	for _, p := range m.list(func(p *domain.PositionEntry) bool { return p.State == domain.StateOpening }) {
		m.resumeOpen(ctx, p, now, &res)
	}
	for _, p := range m.list(func(p *domain.PositionEntry) bool { return p.State.Active() }) {
		m.evaluateOne(ctx, p, now, &res)
	}
	for _, p := range m.list(func(p *domain.PositionEntry) bool { return p.State == domain.StateExiting }) {
		m.exit(ctx, p, now, &res)
	}
	return res
}

// Exit runs only the sell pass, for positions just sent to EXITING outside
// an evaluation (analyst exits).
func (m *Manager) Exit(ctx context.Context, now time.Time) EvalResult {
	var res EvalResult
	for _, p := range m.list(func(p *domain.PositionEntry) bool { return p.State == domain.StateExiting }) {
		m.exit(ctx, p, now, &res)
	}
	return res
}

func (m *Manager) list(keep func(*domain.PositionEntry) bool) []domain.PositionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PositionEntry
	for _, p := range m.positions {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (m *Manager) evaluateOne(ctx context.Context, p domain.PositionEntry, now time.Time, res *EvalResult) {
	price, err := engine.Retry(ctx, m.retry, func(ctx context.Context) (float64, error) {
		return m.broker.Quote(ctx, p.Ticker, p.Class())
	})
	if err != nil {
		slog.Warn("lifecycle: quote failed, skipping this cycle",
			"ticker", p.Ticker,
			"reason", "external_call_failure",
			"err", err,
		)
		res.Skipped = append(res.Skipped, p.Ticker)
		return
	}

	gain := domain.GainPct(p.EntryPrice, price)
	volumeTicker := p.Ticker
	if p.Underlying != "" {
		volumeTicker = p.Underlying
	}
	volume := m.volume(volumeTicker)

	m.mu.Lock()
	cur, ok := m.positions[p.Ticker]
	if !ok || cur.ID != p.ID || !cur.State.Active() {
		m.mu.Unlock()
		return
	}
	res.Evaluated++
	from := cur.State
	cur.LastGainPct = gain
	cur.LastEvaluated = now
	cur.LastSocialVolume = volume

	if reason, hit := cur.Rules.ExitTrigger(gain); hit {
		m.markExiting(cur, reason, now)
		entry := *cur
		m.mu.Unlock()

		res.Exiting = append(res.Exiting, entry.Ticker)
		m.record(ctx, entry, from, domain.StateExiting, string(reason), gain, now)
		slog.Info("lifecycle: exit triggered",
			"ticker", entry.Ticker,
			"reason", reason,
			"gain_pct", gain,
			"price", price,
		)
		return
	}

	report := m.cfg.Stale.Assess(*cur, gain, now)
	cur.LastTier = report.Tier
	m.staleness[cur.Ticker] = report
	to := target(report)
	if to == domain.StateExiting {
		m.markExiting(cur, report.Reason, now)
	} else {
		cur.State = to
	}
	entry := *cur
	m.mu.Unlock()

	if to == from {
		return
	}
	reason := string(report.Reason)
	if reason == "" {
		reason = string(report.Tier)
	}
	m.record(ctx, entry, from, to, reason, gain, now)
	if to == domain.StateExiting {
		res.Exiting = append(res.Exiting, entry.Ticker)
	}
	slog.Info("lifecycle: staleness transition",
		"ticker", entry.Ticker,
		"from", from,
		"to", to,
		"tier", report.Tier,
		"held_hours", report.HeldHours,
		"gain_pct", gain,
		"social_decay", report.SocialDecay,
	)
}

// markExiting moves p to EXITING and cancels work tied to it. Caller holds mu.
func (m *Manager) markExiting(p *domain.PositionEntry, reason domain.ExitReason, now time.Time) {
	p.State = domain.StateExiting
	p.ExitReason = reason
	at := now
	p.ExitRequestedAt = &at
	m.untrack(p.ID)
}

// exit submits the sell of an EXITING position. The intent key is fixed per
// position, so a re-issued sell after a lost confirmation never double-sells.
func (m *Manager) exit(ctx context.Context, p domain.PositionEntry, now time.Time, res *EvalResult) {
	req := domain.OrderRequest{
		IntentKey: domain.IntentKey(p.Ticker, domain.SideSell, p.ID),
		Ticker:    p.Ticker,
		Class:     p.Class(),
		Side:      domain.SideSell,
		SizeUSD:   p.SizeUSD,
		Quantity:  p.Quantity,
	}
	fill, err := engine.Retry(ctx, m.retry, func(ctx context.Context) (domain.Fill, error) {
		return m.broker.Submit(ctx, req)
	})

	m.mu.Lock()
	cur, ok := m.positions[p.Ticker]
	if !ok || cur.ID != p.ID {
		m.mu.Unlock()
		return
	}
	if err != nil {
		cur.ExitAttempts++
		attempts := cur.ExitAttempts
		m.mu.Unlock()

		res.Skipped = append(res.Skipped, p.Ticker)
		slog.Warn("lifecycle: exit not confirmed, retrying next tick",
			"ticker", p.Ticker,
			"reason", p.ExitReason,
			"attempts", attempts,
			"err", err,
		)
		return
	}
	delete(m.positions, p.Ticker)
	delete(m.staleness, p.Ticker)
	m.untrack(p.ID)
	m.mu.Unlock()

	gain := domain.GainPct(p.EntryPrice, fill.Price)
	res.Closed = append(res.Closed, p.Ticker)
	m.record(ctx, p, domain.StateExiting, domain.StateClosed, string(p.ExitReason), gain, now)
	slog.Info("lifecycle: position closed",
		"ticker", p.Ticker,
		"reason", p.ExitReason,
		"entry", p.EntryPrice,
		"exit", fill.Price,
		"gain_pct", gain,
		"held", p.HeldFor(now).Round(time.Minute),
	)
}

// resumeOpen re-submits the buy of an entry restored in OPENING. The broker
// deduplicates on the intent key, so a buy that did fill is not repeated.
func (m *Manager) resumeOpen(ctx context.Context, p domain.PositionEntry, now time.Time, res *EvalResult) {
	if p.SizeUSD <= 0 {
		m.abandon(ctx, p, "zero_size", now)
		return
	}
	req := domain.OrderRequest{
		IntentKey: domain.IntentKey(p.Ticker, domain.SideBuy, p.ID),
		Ticker:    p.Ticker,
		Class:     p.Class(),
		Side:      domain.SideBuy,
		SizeUSD:   p.SizeUSD,
		Quantity:  p.Quantity,
	}
	if _, err := m.fillOpen(ctx, p.ID, req, now); err != nil {
		return
	}
	res.Opened = append(res.Opened, p.Ticker)
}

// ApplyResearch applies an analyst verdict to the position it was requested
// for. Results for a position that was closed, replaced or is already exiting
// are ignored. It reports whether an exit was requested.
func (m *Manager) ApplyResearch(ctx context.Context, r domain.ResearchResult, now time.Time) bool {
	ticker := domain.NormalizeTicker(r.Ticker)

	m.mu.Lock()
	p, ok := m.positions[ticker]
	if !ok || p.ID != r.PositionID || !p.State.Active() {
		m.mu.Unlock()
		slog.Debug("lifecycle: research result ignored", "ticker", ticker, "position_id", r.PositionID)
		return false
	}
	if r.Recommendation != domain.RecommendSell || r.Confidence < m.cfg.AnalystMinConfidence {
		m.mu.Unlock()
		return false
	}
	if held := p.HeldFor(now); held < m.cfg.AnalystMinHold {
		m.mu.Unlock()
		slog.Info("lifecycle: analyst sell ignored",
			"ticker", ticker,
			"reason", "min_hold",
			"held", held.Round(time.Second),
		)
		return false
	}
	from := p.State
	m.markExiting(p, domain.ExitAnalyst, now)
	entry := *p
	m.mu.Unlock()

	m.record(ctx, entry, from, domain.StateExiting, string(domain.ExitAnalyst), entry.LastGainPct, now)
	slog.Info("lifecycle: analyst exit", "ticker", ticker, "confidence", r.Confidence)
	return true
}
