package signals

import (
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

const (
	DefaultMaxHistory = 48
	DefaultRetention  = 24 * time.Hour
)

// Cache keeps a bounded, time-ordered history of SignalScores per ticker.
// Pruning is explicit (once per tick), not on every write.
type Cache struct {
	mu         sync.RWMutex
	byTicker   map[string][]domain.SignalScore
	maxHistory int
	retention  time.Duration
}

// NewCache creates a cache. Non-positive limits fall back to the defaults.
func NewCache(maxHistory int, retention time.Duration) *Cache {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Cache{
		byTicker:   make(map[string][]domain.SignalScore),
		maxHistory: maxHistory,
		retention:  retention,
	}
}

// Put inserts a score. A score with the same ticker and ComputedAt replaces the old one.
func (c *Cache) Put(s domain.SignalScore) {
	s.Ticker = domain.NormalizeTicker(s.Ticker)
	if s.Ticker == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	history := c.byTicker[s.Ticker]
	for i := range history {
		if history[i].ComputedAt.Equal(s.ComputedAt) {
			history[i] = s
			return
		}
	}

	// Insertion keeps ComputedAt order; out-of-order writes are rare.
	idx := sort.Search(len(history), func(i int) bool {
		return history[i].ComputedAt.After(s.ComputedAt)
	})
	history = append(history, domain.SignalScore{})
	copy(history[idx+1:], history[idx:])
	history[idx] = s

	if len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}
	c.byTicker[s.Ticker] = history
}

// Get returns the most recent score for ticker.
func (c *Cache) Get(ticker string) (domain.SignalScore, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := c.byTicker[domain.NormalizeTicker(ticker)]
	if len(history) == 0 {
		return domain.SignalScore{}, false
	}
	return history[len(history)-1], true
}

// History returns a copy of ticker's scores, oldest first.
func (c *Cache) History(ticker string) []domain.SignalScore {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := c.byTicker[domain.NormalizeTicker(ticker)]
	out := make([]domain.SignalScore, len(history))
	copy(out, history)
	return out
}

// Latest returns the most recent score of every ticker.
func (c *Cache) Latest() []domain.SignalScore {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.SignalScore, 0, len(c.byTicker))
	for _, history := range c.byTicker {
		if len(history) > 0 {
			out = append(out, history[len(history)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Volume returns the social volume (total decayed weight) of ticker's latest
// score, or 0 when ticker has no fresh score.
func (c *Cache) Volume(ticker string) float64 {
	s, ok := c.Get(ticker)
	if !ok {
		return 0
	}
	return s.TotalWeight
}

// Prune drops scores older than the retention horizon and returns how many were removed.
func (c *Cache) Prune(now time.Time) int {
	cutoff := now.Add(-c.retention)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for ticker, history := range c.byTicker {
		first := sort.Search(len(history), func(i int) bool {
			return !history[i].ComputedAt.Before(cutoff)
		})
		removed += first
		if first == len(history) {
			delete(c.byTicker, ticker)
			continue
		}
		if first > 0 {
			c.byTicker[ticker] = append([]domain.SignalScore(nil), history[first:]...)
		}
	}
	return removed
}

// Len returns the number of tickers with at least one score.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byTicker)
}

// Snapshot copies the whole cache for persistence.
func (c *Cache) Snapshot() map[string][]domain.SignalScore {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]domain.SignalScore, len(c.byTicker))
	for ticker, history := range c.byTicker {
		out[ticker] = append([]domain.SignalScore(nil), history...)
	}
	return out
}

// Restore replaces the cache contents with a snapshot.
func (c *Cache) Restore(snap map[string][]domain.SignalScore) {
	c.mu.Lock()
	c.byTicker = make(map[string][]domain.SignalScore, len(snap))
	c.mu.Unlock()

	for _, history := range snap {
		for _, s := range history {
			c.Put(s)
		}
	}
}
