package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/sentibot/internal/adapters/notify"
	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/alejandrodnm/sentibot/internal/ports"
)

// inspect prints what the store recorded about ticker over the last window:
// signal scores, the transition trail of its open positions and LLM spend.
func inspect(ctx context.Context, store ports.StateStore, history ports.History, ticker string, window time.Duration, out *notify.Console) error {
	ticker = domain.NormalizeTicker(ticker)
	now := time.Now()
	from := now.Add(-window)

	signals, err := history.SignalHistory(ctx, ticker, from, now)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	trails := make(map[string][]domain.Transition)
	snap, ok, err := store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	if ok {
		for _, p := range snap.Positions {
			if p.Ticker != ticker && p.Underlying != ticker {
				continue
			}
			trail, err := history.Transitions(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			trails[p.Ticker] = trail
		}
	}

	spend, err := history.UsageSince(ctx, from)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	out.History(ticker, signals, trails, spend)
	return nil
}
