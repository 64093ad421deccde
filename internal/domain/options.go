package domain

import (
	"math"
	"time"
)

// OptionContract is one listed call contract on an underlying.
type OptionContract struct {
	Symbol     string
	Underlying string
	Expiry     time.Time
	Strike     float64
	Delta      float64
	Ask        float64
}

// DTE returns whole days to expiry at now.
func (c OptionContract) DTE(now time.Time) int {
	return int(c.Expiry.Sub(now).Hours() / 24)
}

// OptionSelection bounds the contracts an options entry may pick.
type OptionSelection struct {
	MinDTE      int
	MaxDTE      int
	TargetDelta float64
	MinDelta    float64
	MaxDelta    float64
}

// SelectContract picks the contract with DTE in [MinDTE, MaxDTE] and |delta|
// in [MinDelta, MaxDelta] whose delta is closest to TargetDelta.
// Ties go to the nearer expiry.
func SelectContract(chain []OptionContract, sel OptionSelection, now time.Time) (OptionContract, bool) {
	var (
		best     OptionContract
		bestDist = math.Inf(1)
		found    bool
	)
	for _, c := range chain {
		dte := c.DTE(now)
		if dte < sel.MinDTE || dte > sel.MaxDTE {
			continue
		}
		d := math.Abs(c.Delta)
		if d < sel.MinDelta || d > sel.MaxDelta || c.Ask <= 0 {
			continue
		}
		dist := math.Abs(d - sel.TargetDelta)
		if dist < bestDist || (dist == bestDist && c.Expiry.Before(best.Expiry)) {
			best, bestDist, found = c, dist, true
		}
	}
	return best, found
}
