package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/sentibot/internal/application/engine"
	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/alejandrodnm/sentibot/internal/ports"
	"golang.org/x/sync/errgroup"
)

// Analyst runs gated research. Every attempt holds its own lease:
// reserve → call → complete, or fail (charging what was metered).
type Analyst struct {
	gate       *Gate
	researcher ports.Researcher
	retry      engine.RetryPolicy
	now        func() time.Time
}

// NewAnalyst creates an Analyst. A nil researcher makes every request a
// disabled-by-config denial.
func NewAnalyst(gate *Gate, researcher ports.Researcher, retry engine.RetryPolicy) *Analyst {
	return &Analyst{gate: gate, researcher: researcher, retry: retry, now: time.Now}
}

// Gate returns the underlying gate.
func (a *Analyst) Gate() *Gate { return a.gate }

// Research runs one request through the gate. Denials are returned as the
// gate's sentinel errors so callers can fall back to heuristics. Retries go
// back through the gate, so they count against the budget, the call limit
// and the read quota like any other call.
func (a *Analyst) Research(ctx context.Context, req domain.ResearchRequest) (domain.ResearchResult, error) {
	if a.researcher == nil {
		a.logDenial(req, domain.ErrResearchDisabled)
		return domain.ResearchResult{}, domain.ErrResearchDisabled
	}
	if est, ok := a.researcher.(ports.CostEstimator); ok && req.EstimatedUSD <= 0 {
		req.EstimatedUSD = est.EstimateUSD(req)
	}

	var callErr error
	res, err := engine.Retry(ctx, a.retry, func(ctx context.Context) (domain.ResearchResult, error) {
		res, err := a.attempt(ctx, req)
		if err == nil || !Denied(err) {
			callErr = err
			return res, err
		}
		if callErr == nil {
			a.logDenial(req, err)
			return res, engine.Permanent(err)
		}
		// Denied mid-retry: the request failed, it was not refused.
		return res, engine.Permanent(fmt.Errorf("%w: retry denied (%v): %w", domain.ErrExternalCall, err, callErr))
	})
	if err != nil {
		if Denied(err) {
			return domain.ResearchResult{}, err
		}
		slog.Warn("research: call failed",
			"ticker", req.Ticker,
			"mode", req.Mode,
			"reason", "external_call_failure",
			"err", err,
		)
		return domain.ResearchResult{}, err
	}

	if res.Ticker == "" {
		res.Ticker = req.Ticker
	}
	if res.PositionID == "" {
		res.PositionID = req.PositionID
	}
	if res.Mode == "" {
		res.Mode = req.Mode
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = a.now()
	}

	cost := a.gate.Cost()
	slog.Info("research: completed",
		"ticker", res.Ticker,
		"mode", res.Mode,
		"model", res.Model,
		"recommendation", res.Recommendation,
		"confidence", res.Confidence,
		"usd", res.Usage.USD,
		"total_usd", cost.TotalUSD,
		"calls", cost.Calls,
	)
	return res, nil
}

// attempt makes one provider call under its own lease.
func (a *Analyst) attempt(ctx context.Context, req domain.ResearchRequest) (domain.ResearchResult, error) {
	lease, err := a.gate.Reserve(req, a.now())
	if err != nil {
		return domain.ResearchResult{}, err
	}

	if err := ctx.Err(); err != nil {
		if relErr := a.gate.Release(lease); relErr != nil {
			slog.Debug("research: release", "ticker", req.Ticker, "err", relErr)
		}
		return domain.ResearchResult{}, err
	}

	// The call may not outlive its lease.
	callCtx, cancel := context.WithDeadline(ctx, lease.ExpiresAt)
	defer cancel()

	res, err := a.researcher.Research(callCtx, req)
	if err != nil {
		if failErr := a.gate.Fail(lease, res.Usage); failErr != nil {
			slog.Debug("research: failed after lease expiry", "ticker", req.Ticker, "err", failErr)
		}
		if res.Usage.Metered() {
			slog.Info("research: failed call charged", "ticker", req.Ticker, "usd", res.Usage.USD, "err", err)
		}
		return domain.ResearchResult{}, err
	}
	if err := a.gate.Complete(lease, res.Usage); err != nil {
		slog.Warn("research: completed after lease expiry", "ticker", req.Ticker, "lease", lease.ID)
	}
	return res, nil
}

// Outcome is the result of one request in a batch.
type Outcome struct {
	Request domain.ResearchRequest
	Result  domain.ResearchResult
	Err     error
}

// ResearchAll runs reqs through the gate with at most workers calls in flight.
// Outcomes keep the order of reqs.
func (a *Analyst) ResearchAll(ctx context.Context, reqs []domain.ResearchRequest, workers int) []Outcome {
	out := make([]Outcome, len(reqs))
	if len(reqs) == 0 {
		return out
	}
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := a.Research(gctx, req)
			mu.Lock()
			out[i] = Outcome{Request: req, Result: res, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Denied reports whether err is a gate denial rather than a call failure.
func Denied(err error) bool {
	return errors.Is(err, domain.ErrResearchDisabled) ||
		errors.Is(err, domain.ErrBudgetExhausted) ||
		errors.Is(err, domain.ErrQuotaExhausted)
}

// DenialReason maps an error to a short reason code for logs and reports.
func DenialReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrResearchDisabled):
		return "disabled"
	case errors.Is(err, domain.ErrBudgetExhausted):
		return "budget_exhausted"
	case errors.Is(err, domain.ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, domain.ErrExternalCall):
		return "external_call_failure"
	case err == nil:
		return ""
	default:
		return "error"
	}
}

func (a *Analyst) logDenial(req domain.ResearchRequest, err error) {
	cost := a.gate.Cost()
	attrs := []any{
		"ticker", req.Ticker,
		"mode", req.Mode,
		"reason", DenialReason(err),
		"spent_usd", cost.TotalUSD,
		"budget_usd", a.gate.cfg.BudgetUSD,
		"calls", cost.Calls,
	}
	if req.QuotaSource != "" {
		if q, ok := a.gate.Quota(req.QuotaSource); ok {
			attrs = append(attrs, "quota_source", q.Source, "quota_remaining", q.Remaining())
		}
	}
	slog.Info("research: denied", attrs...)
}
