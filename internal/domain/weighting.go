package domain

import (
	"math"
	"sort"
)

// SourceProfile is how much a data source is trusted, in [0,1].
type SourceProfile struct {
	ID    string
	Trust float64
}

// FlairTable maps a community flair label to a multiplier.
// The taxonomy is open: unknown labels resolve to 1.0.
type FlairTable map[string]float64

// Multiplier returns the multiplier for an exact label match, or 1.0.
func (f FlairTable) Multiplier(flair string) float64 {
	if flair == "" {
		return 1.0
	}
	m, ok := f[flair]
	if !ok || !validFactor(m) {
		return 1.0
	}
	return m
}

// EngagementStep is one (threshold, multiplier) pair of an EngagementCurve.
type EngagementStep struct {
	Threshold  int
	Multiplier float64
}

// EngagementCurve is a step function sorted by ascending threshold.
type EngagementCurve []EngagementStep

// NewEngagementCurve builds a curve from a threshold → multiplier map.
// Non-finite or negative multipliers are dropped.
func NewEngagementCurve(steps map[int]float64) EngagementCurve {
	curve := make(EngagementCurve, 0, len(steps))
	for th, m := range steps {
		if !validFactor(m) {
			continue
		}
		curve = append(curve, EngagementStep{Threshold: th, Multiplier: m})
	}
	sort.Slice(curve, func(i, j int) bool { return curve[i].Threshold < curve[j].Threshold })
	return curve
}

// Lookup returns the multiplier of the greatest threshold ≤ count.
// Counts below the lowest threshold use the lowest step. An empty curve is neutral.
func (c EngagementCurve) Lookup(count int) float64 {
	if len(c) == 0 {
		return 1.0
	}
	if count < 0 {
		count = 0
	}
	m := c[0].Multiplier
	for _, s := range c {
		if s.Threshold > count {
			break
		}
		m = s.Multiplier
	}
	return m
}

// Max returns the largest multiplier on the curve (1.0 when empty).
func (c EngagementCurve) Max() float64 {
	if len(c) == 0 {
		return 1.0
	}
	m := 0.0
	for _, s := range c {
		m = math.Max(m, s.Multiplier)
	}
	return m
}

// Weighting holds the immutable lookup tables used to weight mentions.
type Weighting struct {
	sources         map[string]SourceProfile
	flairs          FlairTable
	upvotes         EngagementCurve
	comments        EngagementCurve
	halfLifeMinutes float64
}

// NewWeighting copies the given tables into an immutable Weighting.
func NewWeighting(sources []SourceProfile, flairs map[string]float64, upvotes, comments map[int]float64, halfLifeMinutes float64) *Weighting {
	w := &Weighting{
		sources:         make(map[string]SourceProfile, len(sources)),
		flairs:          make(FlairTable, len(flairs)),
		upvotes:         NewEngagementCurve(upvotes),
		comments:        NewEngagementCurve(comments),
		halfLifeMinutes: halfLifeMinutes,
	}
	for _, s := range sources {
		if !validFactor(s.Trust) {
			continue
		}
		w.sources[s.ID] = SourceProfile{ID: s.ID, Trust: math.Min(s.Trust, 1)}
	}
	for k, v := range flairs {
		if validFactor(v) {
			w.flairs[k] = v
		}
	}
	if !validFactor(w.halfLifeMinutes) || w.halfLifeMinutes == 0 {
		w.halfLifeMinutes = DefaultHalfLifeMinutes
	}
	return w
}

// Source returns the profile for a source id.
func (w *Weighting) Source(id string) (SourceProfile, bool) {
	p, ok := w.sources[id]
	return p, ok
}

// HalfLifeMinutes returns the decay half-life.
func (w *Weighting) HalfLifeMinutes() float64 { return w.halfLifeMinutes }

// Decay returns 0.5^(age/halfLife). Negative ages count as fresh.
func (w *Weighting) Decay(ageMinutes float64) float64 {
	if math.IsNaN(ageMinutes) || ageMinutes < 0 {
		ageMinutes = 0
	}
	if math.IsInf(ageMinutes, 1) {
		return 0
	}
	return math.Pow(0.5, ageMinutes/w.halfLifeMinutes)
}

// Prunable reports whether a mention is old enough to be dropped eagerly.
// The decay is already negligible at that point.
func (w *Weighting) Prunable(ageMinutes float64) bool {
	return ageMinutes > pruneHalfLives*w.halfLifeMinutes
}

// EngagementFactor = mean of the upvote and comment axis multipliers.
// Averaging keeps low engagement on both axes from being penalised twice.
func (w *Weighting) EngagementFactor(upvotes, comments int) float64 {
	return (w.upvotes.Lookup(upvotes) + w.comments.Lookup(comments)) / 2
}

// Weight = trust × flair × engagement × decay. Unknown sources weigh 0.
func (w *Weighting) Weight(source, flair string, upvotes, comments int, ageMinutes float64) float64 {
	p, ok := w.sources[source]
	if !ok {
		return 0
	}
	weight := p.Trust * w.flairs.Multiplier(flair) * w.EngagementFactor(upvotes, comments) * w.Decay(ageMinutes)
	if !validFactor(weight) {
		return 0
	}
	return weight
}

// MaxWeight is the upper bound of Weight for a source (fresh, best flair, best engagement).
func (w *Weighting) MaxWeight(source string) float64 {
	p, ok := w.sources[source]
	if !ok {
		return 0
	}
	maxFlair := 1.0
	for _, m := range w.flairs {
		maxFlair = math.Max(maxFlair, m)
	}
	return p.Trust * maxFlair * math.Max(w.upvotes.Max(), w.comments.Max())
}

func validFactor(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
