package agent

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// Snapshot joins the agent state with its components' state.
func (a *Agent) Snapshot(now time.Time) domain.AgentSnapshot {
	cost, quotas := a.deps.Analyst.Gate().Snapshot()
	plan, planDay := a.deps.Planner.Snapshot()

	snap := domain.AgentSnapshot{
		Version:              domain.SnapshotVersion,
		Enabled:              a.cfg.Enabled,
		Signals:              a.deps.Cache.Snapshot(),
		Positions:            a.deps.Lifecycle.Snapshot(),
		Cost:                 cost,
		Quotas:               quotas,
		StalenessAnalysis:    a.deps.Lifecycle.Staleness(),
		PremarketPlan:        plan,
		LastPremarketPlanDay: planDay,
		SavedAt:              now,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	snap.SocialHistory = lo.MapValues(s.SocialHistory, func(h []domain.SocialSnapshot, _ string) []domain.SocialSnapshot {
		return slices.Clone(h)
	})
	snap.SocialSnapshots = maps.Clone(s.SocialSnapshots)
	snap.SocialSnapshotUpdatedAt = s.SocialSnapshotUpdatedAt
	snap.SignalResearch = maps.Clone(s.SignalResearch)
	snap.PositionResearch = maps.Clone(s.PositionResearch)
	snap.LastDataGatherRun = s.LastDataGatherRun
	snap.LastAnalystRun = s.LastAnalystRun
	snap.LastResearchRun = s.LastResearchRun
	snap.LastPositionResearchRun = s.LastPositionResearchRun
	snap.LastKnownNextOpen = s.LastKnownNextOpen
	if s.LastClockIsOpen != nil {
		open := *s.LastClockIsOpen
		snap.LastClockIsOpen = &open
	}
	return snap
}

// Restore loads a snapshot into the agent and its components. A snapshot
// that fails validation is rejected with ErrStateCorrupt and nothing is
// changed. Enabled always comes from the current configuration.
func (a *Agent) Restore(snap domain.AgentSnapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("agent.Restore: %w", err)
	}

	a.deps.Cache.Restore(snap.Signals)
	a.deps.Lifecycle.Restore(snap.Positions, snap.StalenessAnalysis)
	a.deps.Analyst.Gate().Restore(snap.Cost, snap.Quotas)
	a.deps.Planner.Restore(snap.PremarketPlan, snap.LastPremarketPlanDay)

	s := newState()
	maps.Copy(s.SocialHistory, snap.SocialHistory)
	maps.Copy(s.SocialSnapshots, snap.SocialSnapshots)
	maps.Copy(s.SignalResearch, snap.SignalResearch)
	maps.Copy(s.PositionResearch, snap.PositionResearch)
	s.SocialSnapshotUpdatedAt = snap.SocialSnapshotUpdatedAt
	s.LastDataGatherRun = snap.LastDataGatherRun
	s.LastAnalystRun = snap.LastAnalystRun
	s.LastResearchRun = snap.LastResearchRun
	s.LastPositionResearchRun = snap.LastPositionResearchRun
	s.LastKnownNextOpen = snap.LastKnownNextOpen
	if snap.LastClockIsOpen != nil {
		open := *snap.LastClockIsOpen
		s.LastClockIsOpen = &open
	}

	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	return nil
}
