package lifecycle

import (
	"time"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// StalePolicy holds the staleness tiers.
type StalePolicy struct {
	Enabled           bool
	MinHold           time.Duration // tiers apply only after this
	MidHold           time.Duration
	MaxHold           time.Duration
	MinGainPct        float64 // max tier: exit below this gain
	MidMinGainPct     float64 // mid tier: watch, or exit on social decay, below this gain
	SocialVolumeDecay float64 // fraction in [0, 1]
}

// Assess evaluates p at now with the given unrealized gain. It never looks at
// stop-loss or take-profit: those are checked first by the caller.
func (s StalePolicy) Assess(p domain.PositionEntry, gainPct float64, now time.Time) domain.StalenessReport {
	held := p.HeldFor(now)
	r := domain.StalenessReport{
		Ticker:      p.Ticker,
		PositionID:  p.ID,
		HeldHours:   held.Hours(),
		GainPct:     gainPct,
		SocialDecay: p.SocialDecay(),
		EvaluatedAt: now,
	}
	if !s.Enabled || held < s.MinHold {
		return r
	}

	switch {
	case s.MaxHold > 0 && held >= s.MaxHold:
		r.Tier = domain.TierMax
	case s.MidHold > 0 && held >= s.MidHold:
		r.Tier = domain.TierMid
	default:
		r.Tier = domain.TierMin
		return r
	}

	if r.Tier == domain.TierMax && gainPct < s.MinGainPct {
		r.Exit, r.Reason = true, domain.ExitStaleMax
		return r
	}
	if gainPct < s.MidMinGainPct {
		if r.SocialDecay > s.SocialVolumeDecay {
			r.Exit, r.Reason = true, domain.ExitStaleSocial
			return r
		}
		r.Watch = true
	}
	return r
}

// target maps a report to the state the position should move to.
func target(r domain.StalenessReport) domain.PositionState {
	switch {
	case r.Exit:
		return domain.StateExiting
	case r.Watch:
		return domain.StateStaleWatch
	default:
		return domain.StateHeld
	}
}
