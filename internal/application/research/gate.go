package research

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultResetSchedule resets read quotas at midnight New York time.
const DefaultResetSchedule = "CRON_TZ=America/New_York 0 0 * * *"

// GateConfig holds the resource limits of the gate.
type GateConfig struct {
	Enabled       bool
	BudgetUSD     float64        // 0 = unlimited
	MaxCalls      int            // 0 = unlimited
	ReadQuotas    map[string]int // source → reads per period
	LeaseTimeout  time.Duration
	ResetSchedule string // standard cron expression, CRON_TZ prefix allowed
}

// Lease is an approved reservation. It must be completed or released; if
// neither happens before ExpiresAt, ExpireLeases returns its reservation.
type Lease struct {
	ID          string
	Ticker      string
	Mode        domain.ResearchMode
	USD         float64
	QuotaSource string
	QuotaUnits  int
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Gate is the budget and read-quota broker for LLM research.
// Every mutation happens under one mutex, so Reserve never double-spends.
type Gate struct {
	mu sync.Mutex

	cfg      GateConfig
	schedule cron.Schedule

	cost          domain.CostTracker
	reservedUSD   float64
	reservedCalls int
	quotas        map[string]*domain.ReadQuota
	leases        map[string]Lease
}

// NewGate creates a gate whose quota periods start at now.
func NewGate(cfg GateConfig, now time.Time) (*Gate, error) {
	if cfg.ResetSchedule == "" {
		cfg.ResetSchedule = DefaultResetSchedule
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 2 * time.Minute
	}
	schedule, err := cron.ParseStandard(cfg.ResetSchedule)
	if err != nil {
		return nil, fmt.Errorf("research.NewGate: parse reset schedule %q: %w", cfg.ResetSchedule, err)
	}

	g := &Gate{
		cfg:      cfg,
		schedule: schedule,
		quotas:   make(map[string]*domain.ReadQuota, len(cfg.ReadQuotas)),
		leases:   make(map[string]Lease),
	}
	for source, limit := range cfg.ReadQuotas {
		g.quotas[source] = &domain.ReadQuota{
			Source:  source,
			Limit:   limit,
			ResetAt: schedule.Next(now),
		}
	}
	return g, nil
}

// Enabled reports whether the gate can approve anything at all.
func (g *Gate) Enabled() bool { return g.cfg.Enabled }

// Reserve approves req if both the budget and the read quota of
// req.QuotaSource have headroom, and reserves them atomically.
func (g *Gate) Reserve(req domain.ResearchRequest, now time.Time) (Lease, error) {
	if !g.cfg.Enabled {
		return Lease{}, domain.ErrResearchDisabled
	}
	usd := req.EstimatedUSD
	if usd < 0 || math.IsNaN(usd) || math.IsInf(usd, 0) {
		usd = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.MaxCalls > 0 && g.cost.Calls+g.reservedCalls >= g.cfg.MaxCalls {
		return Lease{}, fmt.Errorf("%w: %d calls of %d used", domain.ErrBudgetExhausted, g.cost.Calls+g.reservedCalls, g.cfg.MaxCalls)
	}
	if g.cfg.BudgetUSD > 0 && g.cost.TotalUSD+g.reservedUSD+usd > g.cfg.BudgetUSD {
		return Lease{}, fmt.Errorf("%w: $%.4f + $%.4f reserved of $%.2f",
			domain.ErrBudgetExhausted, g.cost.TotalUSD, g.reservedUSD, g.cfg.BudgetUSD)
	}

	units := 0
	if req.QuotaSource != "" {
		units = max(req.QuotaUnits, 1)
		if q, ok := g.quotas[req.QuotaSource]; ok && q.Remaining() < units {
			return Lease{}, fmt.Errorf("%w: %s %d/%d used, %d reserved",
				domain.ErrQuotaExhausted, q.Source, q.Used, q.Limit, q.Reserved)
		}
	}

	lease := Lease{
		ID:          uuid.NewString(),
		Ticker:      req.Ticker,
		Mode:        req.Mode,
		USD:         usd,
		QuotaSource: req.QuotaSource,
		QuotaUnits:  units,
		IssuedAt:    now,
		ExpiresAt:   now.Add(g.cfg.LeaseTimeout),
	}
	g.reservedUSD += usd
	g.reservedCalls++
	if q, ok := g.quotas[lease.QuotaSource]; ok {
		q.Reserved += units
	}
	g.leases[lease.ID] = lease
	return lease, nil
}

// Complete records the metered usage of a finished call. Usage is always
// charged since the external call happened; ErrLeaseUnknown signals that the
// lease had already expired.
func (g *Gate) Complete(lease Lease, usage domain.Usage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, live := g.leases[lease.ID]
	if live {
		g.unreserve(lease)
	}
	g.cost.Add(usage)
	if q, ok := g.quotas[lease.QuotaSource]; ok {
		q.Used += lease.QuotaUnits
	}
	if !live {
		return fmt.Errorf("research.Gate.Complete: lease %s: %w", lease.ID, domain.ErrLeaseUnknown)
	}
	return nil
}

// Fail settles the lease of a call that reached the provider and failed.
// Metered usage is charged like a completed call. The read quota is charged
// either way since the context read happens before the model call.
func (g *Gate) Fail(lease Lease, usage domain.Usage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, live := g.leases[lease.ID]
	if live {
		g.unreserve(lease)
	}
	if usage.Metered() {
		g.cost.Add(usage)
	}
	if q, ok := g.quotas[lease.QuotaSource]; ok {
		q.Used += lease.QuotaUnits
	}
	if !live {
		return fmt.Errorf("research.Gate.Fail: lease %s: %w", lease.ID, domain.ErrLeaseUnknown)
	}
	return nil
}

// Release returns the reservation of a call that never happened.
func (g *Gate) Release(lease Lease) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, live := g.leases[lease.ID]; !live {
		return fmt.Errorf("research.Gate.Release: lease %s: %w", lease.ID, domain.ErrLeaseUnknown)
	}
	g.unreserve(lease)
	return nil
}

// ExpireLeases releases every lease past its deadline and returns them.
func (g *Gate) ExpireLeases(now time.Time) []Lease {
	g.mu.Lock()
	defer g.mu.Unlock()

	var expired []Lease
	for _, l := range g.leases {
		if now.After(l.ExpiresAt) {
			expired = append(expired, l)
		}
	}
	for _, l := range expired {
		g.unreserve(l)
	}
	return expired
}

// ResetIfDue zeroes the used counter of every quota whose reset time has
// elapsed and schedules the next one. It returns the sources that were reset.
func (g *Gate) ResetIfDue(now time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var reset []string
	for source, q := range g.quotas {
		if q.ResetAt.IsZero() {
			q.ResetAt = g.schedule.Next(now)
			continue
		}
		if now.Before(q.ResetAt) {
			continue
		}
		q.Used = 0
		q.ResetAt = g.schedule.Next(now)
		reset = append(reset, source)
	}
	sort.Strings(reset)
	return reset
}

// Cost returns the accumulated spend.
func (g *Gate) Cost() domain.CostTracker {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cost
}

// Quota returns the current state of source's read quota.
func (g *Gate) Quota(source string) (domain.ReadQuota, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.quotas[source]
	if !ok {
		return domain.ReadQuota{}, false
	}
	return *q, true
}

// Quotas returns every quota sorted by source.
func (g *Gate) Quotas() []domain.ReadQuota {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]domain.ReadQuota, 0, len(g.quotas))
	for _, q := range g.quotas {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Outstanding is the number of live leases.
func (g *Gate) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.leases)
}

// Snapshot returns the persistable part of the gate. Live leases are not
// persisted: their reservations vanish with the process.
func (g *Gate) Snapshot() (domain.CostTracker, map[string]domain.ReadQuota) {
	g.mu.Lock()
	defer g.mu.Unlock()

	quotas := make(map[string]domain.ReadQuota, len(g.quotas))
	for source, q := range g.quotas {
		snap := *q
		snap.Reserved = 0
		quotas[source] = snap
	}
	return g.cost, quotas
}

// Restore loads persisted spend and quota usage. Limits always come from the
// current configuration; sources no longer configured are dropped.
func (g *Gate) Restore(cost domain.CostTracker, quotas map[string]domain.ReadQuota) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cost = cost
	for source, q := range g.quotas {
		saved, ok := quotas[source]
		if !ok {
			continue
		}
		q.Used = max(saved.Used, 0)
		if !saved.ResetAt.IsZero() {
			q.ResetAt = saved.ResetAt
		}
	}
}

// Reconcile raises the accumulated spend to at least recorded, the usage
// ledger's totals. Calls recorded after the last snapshot count again after a
// restart. It reports whether anything changed.
func (g *Gate) Reconcile(recorded domain.CostTracker) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	before := g.cost
	g.cost.Calls = max(g.cost.Calls, recorded.Calls)
	g.cost.TotalUSD = math.Max(g.cost.TotalUSD, recorded.TotalUSD)
	g.cost.TokensIn = max(g.cost.TokensIn, recorded.TokensIn)
	g.cost.TokensOut = max(g.cost.TokensOut, recorded.TokensOut)
	return g.cost != before
}

func (g *Gate) unreserve(l Lease) {
	delete(g.leases, l.ID)
	g.reservedUSD = math.Max(0, g.reservedUSD-l.USD)
	if g.reservedCalls > 0 {
		g.reservedCalls--
	}
	if q, ok := g.quotas[l.QuotaSource]; ok {
		q.Reserved = max(q.Reserved-l.QuotaUnits, 0)
	}
}
