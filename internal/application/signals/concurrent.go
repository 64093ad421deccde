package signals

// concurrent.go: bounded worker pool for ingestion + scoring.
//
// Each ticker is one job: fetch from every source (with retry), drop mentions
// past the pruning horizon, score. A failing source only loses its own
// mentions; a ticker with no usable mentions produces no score.

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/alejandrodnm/sentibot/internal/application/engine"
	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/alejandrodnm/sentibot/internal/ports"
	"golang.org/x/sync/errgroup"
)

// GatherResult is the outcome of one data poll.
type GatherResult struct {
	Scores   []domain.SignalScore
	Mentions int
	Failures map[string]error // "ticker/source" → last error
}

// Gatherer fetches and scores mentions for a watchlist.
type Gatherer struct {
	sources   []ports.MentionSource
	weighting *domain.Weighting
	workers   int
	retry     engine.RetryPolicy
}

// NewGatherer creates a Gatherer. workers <= 0 uses NumCPU × 2.
func NewGatherer(sources []ports.MentionSource, w *domain.Weighting, workers int, retry engine.RetryPolicy) *Gatherer {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	return &Gatherer{sources: sources, weighting: w, workers: workers, retry: retry}
}

// Gather polls every source for every ticker concurrently and scores the results.
func (g *Gatherer) Gather(ctx context.Context, tickers []string, now time.Time) GatherResult {
	var (
		mu  sync.Mutex
		res = GatherResult{Failures: make(map[string]error)}
	)

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)

	for _, ticker := range tickers {
		ticker := domain.NormalizeTicker(ticker)
		eg.Go(func() error {
			mentions, failures := g.fetchTicker(egctx, ticker, now)

			score, ok := domain.Score(g.weighting, ticker, mentions, now)

			mu.Lock()
			defer mu.Unlock()
			res.Mentions += len(mentions)
			for k, err := range failures {
				res.Failures[k] = err
			}
			if ok {
				res.Scores = append(res.Scores, score)
			} else {
				slog.Debug("signals: no signal", "ticker", ticker, "mentions", len(mentions))
			}
			// Per-ticker failures never abort the pool.
			return nil
		})
	}
	_ = eg.Wait()

	slog.Debug("signals: gather complete",
		"tickers", len(tickers),
		"scores", len(res.Scores),
		"mentions", res.Mentions,
		"failures", len(res.Failures),
		"workers", g.workers,
	)
	return res
}

func (g *Gatherer) fetchTicker(ctx context.Context, ticker string, now time.Time) ([]domain.RawMention, map[string]error) {
	var (
		out      []domain.RawMention
		failures map[string]error
	)
	for _, src := range g.sources {
		mentions, err := engine.Retry(ctx, g.retry, func(ctx context.Context) ([]domain.RawMention, error) {
			return src.FetchMentions(ctx, ticker)
		})
		if err != nil {
			if failures == nil {
				failures = make(map[string]error)
			}
			failures[ticker+"/"+src.Name()] = err
			slog.Warn("signals: source skipped this cycle",
				"ticker", ticker,
				"source", src.Name(),
				"reason", "external_call_failure",
				"err", err,
			)
			continue
		}
		for _, m := range mentions {
			if _, known := g.weighting.Source(m.Source); !known {
				slog.Debug("signals: mention skipped",
					"ticker", ticker,
					"source", m.Source,
					"reason", domain.ErrUnknownSource.Error(),
				)
				continue
			}
			if g.weighting.Prunable(now.Sub(m.PostedAt).Minutes()) {
				continue
			}
			out = append(out, m)
		}
	}
	return out, failures
}
