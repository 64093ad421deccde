// Package lifecycle drives each position through
// OPENING → HELD → STALE_WATCH → EXITING → CLOSED.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/sentibot/internal/application/engine"
	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/alejandrodnm/sentibot/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config are the entry, sizing and exit rules.
type Config struct {
	MaxPositions          int
	PositionSizePctOfCash float64 // percent of cash per position (2 = 2%)

	Equity domain.AssetRules
	Crypto domain.AssetRules
	Option domain.AssetRules

	CryptoEnabled           bool
	CryptoSymbols           []string
	CryptoMomentumThreshold float64 // percent; 0 disables the gate

	OptionsEnabled  bool
	OptionSelection domain.OptionSelection

	Blacklist        []string
	AllowedExchanges []string

	Stale StalePolicy

	// Analyst SELLs are ignored before a position has been held this long,
	// and below this confidence.
	AnalystMinHold       time.Duration
	AnalystMinConfidence float64
}

// Candidate is a ticker proposed for entry.
type Candidate struct {
	Ticker     string
	Confidence float64 // analyst confidence, or signal confidence on the heuristic path
	Volume     float64 // social volume at entry
	UseOptions bool
}

// Recorder receives every audited transition.
type Recorder interface {
	RecordTransition(ctx context.Context, tr domain.Transition) error
}

// VolumeFunc returns the current social volume of a ticker.
type VolumeFunc func(ticker string) float64

// Manager owns the position entries. Broker calls are made without holding
// the lock; every write goes through mu.
type Manager struct {
	cfg      Config
	broker   ports.Broker
	options  ports.OptionChainProvider
	momentum ports.MomentumProvider
	volume   VolumeFunc
	recorder Recorder
	retry    engine.RetryPolicy

	mu        sync.Mutex
	positions map[string]*domain.PositionEntry // by ticker
	cancels   map[string]context.CancelFunc    // by position id
	ctxs      map[string]context.Context       // by position id
	staleness map[string]domain.StalenessReport
}

// Option configures optional collaborators.
type Option func(*Manager)

// WithOptionChains enables options entries through p.
func WithOptionChains(p ports.OptionChainProvider) Option { return func(m *Manager) { m.options = p } }

// WithMomentum enables the crypto momentum gate.
func WithMomentum(p ports.MomentumProvider) Option { return func(m *Manager) { m.momentum = p } }

// WithRecorder persists transitions.
func WithRecorder(r Recorder) Option { return func(m *Manager) { m.recorder = r } }

// WithRetry overrides the broker retry policy.
func WithRetry(p engine.RetryPolicy) Option { return func(m *Manager) { m.retry = p } }

// NewManager creates a Manager. volume may be nil (no social decay tracking).
func NewManager(cfg Config, broker ports.Broker, volume VolumeFunc, opts ...Option) *Manager {
	if volume == nil {
		volume = func(string) float64 { return 0 }
	}
	m := &Manager{
		cfg:       cfg,
		broker:    broker,
		volume:    volume,
		retry:     engine.DefaultRetry,
		positions: make(map[string]*domain.PositionEntry),
		cancels:   make(map[string]context.CancelFunc),
		ctxs:      make(map[string]context.Context),
		staleness: make(map[string]domain.StalenessReport),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Rules returns the rule set of an asset class.
func (m *Manager) Rules(class domain.AssetClass) domain.AssetRules {
	switch class {
	case domain.AssetCrypto:
		return m.cfg.Crypto
	case domain.AssetOption:
		return m.cfg.Option
	default:
		return m.cfg.Equity
	}
}

// Blacklisted reports whether ticker is on the blacklist.
func (m *Manager) Blacklisted(ticker string) bool {
	ticker = domain.NormalizeTicker(ticker)
	return slices.ContainsFunc(m.cfg.Blacklist, func(b string) bool {
		return domain.NormalizeTicker(b) == ticker
	})
}

// Open enters a long position for c. The entry exists in OPENING (and counts
// toward MaxPositions) while the buy is in flight; it is removed if the buy fails.
func (m *Manager) Open(ctx context.Context, c Candidate, now time.Time) (domain.PositionEntry, error) {
	ticker := domain.NormalizeTicker(c.Ticker)
	if ticker == "" || m.Blacklisted(ticker) {
		return domain.PositionEntry{}, fmt.Errorf("lifecycle.Open: %s blacklisted: %w", ticker, domain.ErrNotEligible)
	}

	class := domain.ClassifyTicker(ticker)
	if err := m.checkEligible(ctx, ticker, class); err != nil {
		return domain.PositionEntry{}, err
	}

	orderTicker, underlying := ticker, ""
	var contract domain.OptionContract
	if c.UseOptions && class == domain.AssetEquity && m.cfg.OptionsEnabled && m.options != nil &&
		c.Confidence >= m.cfg.Option.MinConfidence {
		var ok bool
		contract, ok = m.pickContract(ctx, ticker, now)
		if ok {
			class, orderTicker, underlying = domain.AssetOption, contract.Symbol, ticker
		}
	}

	rules := m.Rules(class)
	if c.Confidence < rules.MinConfidence {
		return domain.PositionEntry{}, fmt.Errorf("lifecycle.Open: %s confidence %.2f < %.2f: %w",
			ticker, c.Confidence, rules.MinConfidence, domain.ErrNotEligible)
	}

	entry, err := m.reserve(orderTicker, underlying, rules, c.Volume)
	if err != nil {
		return domain.PositionEntry{}, err
	}

	cash, err := engine.Retry(ctx, m.retry, func(ctx context.Context) (float64, error) {
		return m.broker.Cash(ctx)
	})
	if err != nil {
		m.abandon(ctx, entry, "cash_unavailable", now)
		return domain.PositionEntry{}, fmt.Errorf("lifecycle.Open: cash: %w", err)
	}

	size := rules.PositionSize(cash, m.cfg.PositionSizePctOfCash)
	req := domain.OrderRequest{
		IntentKey: domain.IntentKey(orderTicker, domain.SideBuy, entry.ID),
		Ticker:    orderTicker,
		Class:     class,
		Side:      domain.SideBuy,
		SizeUSD:   size.InexactFloat64(),
	}
	if class == domain.AssetOption {
		// Contracts are bought whole at ask × 100.
		req.Quantity = size.Div(decimal.NewFromFloat(contract.Ask * 100)).Floor().InexactFloat64()
		req.SizeUSD = req.Quantity * contract.Ask * 100
	}
	if req.SizeUSD <= 0 {
		m.abandon(ctx, entry, "zero_size", now)
		return domain.PositionEntry{}, fmt.Errorf("lifecycle.Open: %s cash %.2f: %w", orderTicker, cash, domain.ErrInvalidSizing)
	}

	m.mu.Lock()
	if p, ok := m.positions[orderTicker]; ok && p.ID == entry.ID {
		p.SizeUSD = req.SizeUSD
		p.Quantity = req.Quantity
	}
	m.mu.Unlock()

	return m.fillOpen(ctx, entry.ID, req, now)
}

// fillOpen submits the buy of an OPENING entry and moves it to HELD.
func (m *Manager) fillOpen(ctx context.Context, id string, req domain.OrderRequest, now time.Time) (domain.PositionEntry, error) {
	fill, err := engine.Retry(ctx, m.retry, func(ctx context.Context) (domain.Fill, error) {
		return m.broker.Submit(ctx, req)
	})

	m.mu.Lock()
	p, ok := m.positions[req.Ticker]
	if !ok || p.ID != id {
		m.mu.Unlock()
		return domain.PositionEntry{}, fmt.Errorf("lifecycle.Open: %s: entry replaced during buy: %w", req.Ticker, domain.ErrNotEligible)
	}
	if err != nil {
		entry := *p
		m.mu.Unlock()
		m.abandon(ctx, entry, "buy_failed", now)
		return domain.PositionEntry{}, fmt.Errorf("lifecycle.Open: submit %s: %w", req.Ticker, err)
	}

	p.State = domain.StateHeld
	p.EntryPrice = fill.Price
	p.Quantity = fill.Quantity
	if fill.Price > 0 && fill.Quantity > 0 && p.Class() != domain.AssetOption {
		p.SizeUSD = fill.Price * fill.Quantity
	}
	p.EntryTime = fill.FilledAt
	if p.EntryTime.IsZero() {
		p.EntryTime = now
	}
	p.LastEvaluated = now
	m.track(p.ID)
	entry := *p
	m.mu.Unlock()

	m.record(ctx, entry, domain.StateOpening, domain.StateHeld, "filled", 0, now)
	slog.Info("lifecycle: position opened",
		"ticker", entry.Ticker,
		"class", entry.Class(),
		"price", entry.EntryPrice,
		"qty", entry.Quantity,
		"size_usd", entry.SizeUSD,
		"social_volume", entry.EntrySocialVolume,
	)
	return entry, nil
}

func (m *Manager) checkEligible(ctx context.Context, ticker string, class domain.AssetClass) error {
	switch class {
	case domain.AssetCrypto:
		if !m.cfg.CryptoEnabled {
			return fmt.Errorf("lifecycle.Open: %s crypto disabled: %w", ticker, domain.ErrNotEligible)
		}
		if !slices.ContainsFunc(m.cfg.CryptoSymbols, func(s string) bool { return strings.EqualFold(s, ticker) }) {
			return fmt.Errorf("lifecycle.Open: %s not in crypto symbols: %w", ticker, domain.ErrNotEligible)
		}
		if m.momentum != nil && m.cfg.CryptoMomentumThreshold > 0 {
			mom, err := m.momentum.Momentum(ctx, ticker)
			if err != nil {
				return fmt.Errorf("lifecycle.Open: momentum %s: %w", ticker, err)
			}
			if mom < m.cfg.CryptoMomentumThreshold {
				return fmt.Errorf("lifecycle.Open: %s momentum %.2f%% < %.2f%%: %w",
					ticker, mom, m.cfg.CryptoMomentumThreshold, domain.ErrNotEligible)
			}
		}
		return nil
	default:
		info, err := engine.Retry(ctx, m.retry, func(ctx context.Context) (ports.AssetInfo, error) {
			return m.broker.AssetInfo(ctx, ticker)
		})
		if err != nil {
			return fmt.Errorf("lifecycle.Open: asset info %s: %w", ticker, err)
		}
		if !info.Tradable {
			return fmt.Errorf("lifecycle.Open: %s not tradable: %w", ticker, domain.ErrNotEligible)
		}
		if !slices.ContainsFunc(m.cfg.AllowedExchanges, func(e string) bool { return strings.EqualFold(e, info.Exchange) }) {
			return fmt.Errorf("lifecycle.Open: %s on %q: %w", ticker, info.Exchange, domain.ErrNotEligible)
		}
		return nil
	}
}

func (m *Manager) pickContract(ctx context.Context, underlying string, now time.Time) (domain.OptionContract, bool) {
	chain, err := m.options.Chain(ctx, underlying)
	if err != nil {
		slog.Warn("lifecycle: option chain unavailable, trading shares", "ticker", underlying, "err", err)
		return domain.OptionContract{}, false
	}
	c, ok := domain.SelectContract(chain, m.cfg.OptionSelection, now)
	if !ok {
		slog.Info("lifecycle: no contract matches, trading shares", "ticker", underlying, "chain", len(chain))
	}
	return c, ok
}

// reserve creates the OPENING entry, enforcing uniqueness and MaxPositions.
func (m *Manager) reserve(ticker, underlying string, rules domain.AssetRules, volume float64) (domain.PositionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holds(ticker) {
		return domain.PositionEntry{}, fmt.Errorf("lifecycle.Open: %s: %w", ticker, domain.ErrAlreadyHeld)
	}
	if underlying != "" && m.holds(underlying) {
		return domain.PositionEntry{}, fmt.Errorf("lifecycle.Open: %s: %w", underlying, domain.ErrAlreadyHeld)
	}
	if m.cfg.MaxPositions > 0 && len(m.positions) >= m.cfg.MaxPositions {
		return domain.PositionEntry{}, fmt.Errorf("lifecycle.Open: %d open: %w", len(m.positions), domain.ErrMaxPositions)
	}

	p := &domain.PositionEntry{
		ID:                uuid.NewString(),
		Ticker:            ticker,
		Underlying:        underlying,
		Rules:             rules,
		State:             domain.StateOpening,
		EntrySocialVolume: volume,
		LastSocialVolume:  volume,
	}
	m.positions[ticker] = p
	return *p, nil
}

// abandon removes an OPENING entry whose buy never filled.
func (m *Manager) abandon(ctx context.Context, entry domain.PositionEntry, reason string, now time.Time) {
	m.mu.Lock()
	if p, ok := m.positions[entry.Ticker]; ok && p.ID == entry.ID {
		delete(m.positions, entry.Ticker)
	}
	m.mu.Unlock()
	m.record(ctx, entry, domain.StateOpening, domain.StateClosed, reason, 0, now)
	slog.Warn("lifecycle: entry abandoned", "ticker", entry.Ticker, "reason", reason)
}

// track creates the cancellable context of a held position. Caller holds mu.
func (m *Manager) track(id string) {
	if _, ok := m.cancels[id]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.ctxs[id] = ctx
	m.cancels[id] = cancel
}

// untrack cancels in-flight work tied to the position. Caller holds mu.
func (m *Manager) untrack(id string) {
	if cancel, ok := m.cancels[id]; ok {
		cancel()
	}
	delete(m.cancels, id)
	delete(m.ctxs, id)
}

// PositionContext returns a context cancelled when the position leaves
// HELD/STALE_WATCH, merged with parent's cancellation.
func (m *Manager) PositionContext(parent context.Context, ticker string) (context.Context, context.CancelFunc, bool) {
	m.mu.Lock()
	p, ok := m.positions[domain.NormalizeTicker(ticker)]
	var posCtx context.Context
	if ok {
		posCtx = m.ctxs[p.ID]
	}
	m.mu.Unlock()
	if posCtx == nil {
		return parent, func() {}, false
	}

	ctx, cancel := context.WithCancel(posCtx)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}, true
}

// Get returns the entry of ticker.
func (m *Manager) Get(ticker string) (domain.PositionEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[domain.NormalizeTicker(ticker)]
	if !ok {
		return domain.PositionEntry{}, false
	}
	return *p, true
}

// Holds reports whether ticker has an entry in any state, either directly or
// as the underlying of an option contract.
func (m *Manager) Holds(ticker string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holds(domain.NormalizeTicker(ticker))
}

// holds is Holds for a normalized ticker. Caller holds mu.
func (m *Manager) holds(ticker string) bool {
	if _, ok := m.positions[ticker]; ok {
		return true
	}
	for _, p := range m.positions {
		if p.Underlying == ticker {
			return true
		}
	}
	return false
}

// Quotable reports whether the broker can price ticker right now. Entries
// the broker cannot quote would fail at submit, so callers check this before
// spending research on them.
func (m *Manager) Quotable(ctx context.Context, ticker string) bool {
	ticker = domain.NormalizeTicker(ticker)
	p, err := m.broker.Quote(ctx, ticker, domain.ClassifyTicker(ticker))
	if err != nil {
		slog.Debug("lifecycle: no quote", "ticker", ticker, "err", err)
		return false
	}
	return p > 0
}

// Positions returns every entry sorted by ticker.
func (m *Manager) Positions() []domain.PositionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PositionEntry, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Held returns the tickers (and option underlyings) of every entry, in any state.
func (m *Manager) Held() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.positions))
	for ticker, p := range m.positions {
		out = append(out, ticker)
		if p.Underlying != "" {
			out = append(out, p.Underlying)
		}
	}
	sort.Strings(out)
	return out
}

// Count is the number of entries counting toward MaxPositions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Slots is how many more positions may be opened.
func (m *Manager) Slots() int {
	if m.cfg.MaxPositions <= 0 {
		return 0
	}
	return max(m.cfg.MaxPositions-m.Count(), 0)
}

// Staleness returns the latest staleness report of every position.
func (m *Manager) Staleness() map[string]domain.StalenessReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.StalenessReport, len(m.staleness))
	for k, v := range m.staleness {
		out[k] = v
	}
	return out
}

// Snapshot copies every entry for persistence.
func (m *Manager) Snapshot() map[string]domain.PositionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.PositionEntry, len(m.positions))
	for ticker, p := range m.positions {
		out[ticker] = *p
	}
	return out
}

// Restore replaces every entry. OPENING entries are kept: the next Evaluate
// re-submits their buy under the same intent key.
func (m *Manager) Restore(positions map[string]domain.PositionEntry, staleness map[string]domain.StalenessReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.cancels {
		m.untrack(id)
	}
	m.positions = make(map[string]*domain.PositionEntry, len(positions))
	for ticker, p := range positions {
		entry := p
		m.positions[ticker] = &entry
		if entry.State.Active() {
			m.track(entry.ID)
		}
	}
	m.staleness = make(map[string]domain.StalenessReport, len(staleness))
	for k, v := range staleness {
		if _, ok := m.positions[k]; ok {
			m.staleness[k] = v
		}
	}
}

func (m *Manager) record(ctx context.Context, p domain.PositionEntry, from, to domain.PositionState, reason string, gain float64, now time.Time) {
	if m.recorder == nil {
		return
	}
	tr := domain.Transition{
		PositionID: p.ID,
		Ticker:     p.Ticker,
		From:       from,
		To:         to,
		Reason:     reason,
		GainPct:    gain,
		At:         now,
	}
	if err := m.recorder.RecordTransition(ctx, tr); err != nil {
		slog.Warn("lifecycle: record transition failed", "ticker", p.Ticker, "to", to, "err", err)
	}
}
