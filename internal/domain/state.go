package domain

import (
	"fmt"
	"time"
)

// SnapshotVersion is bumped whenever AgentSnapshot changes shape.
const SnapshotVersion = 1

// AgentSnapshot is the persisted form of the agent state: the unit of
// snapshot and restore.
type AgentSnapshot struct {
	Version                 int                         `json:"version"`
	Enabled                 bool                        `json:"enabled"`
	Signals                 map[string][]SignalScore    `json:"signals"`
	Positions               map[string]PositionEntry    `json:"positions"`
	SocialHistory           map[string][]SocialSnapshot `json:"social_history"`
	SocialSnapshots         map[string]SocialSnapshot   `json:"social_snapshots"`
	SocialSnapshotUpdatedAt time.Time                   `json:"social_snapshot_updated_at"`
	Cost                    CostTracker                 `json:"cost"`
	Quotas                  map[string]ReadQuota        `json:"quotas"`
	LastDataGatherRun       time.Time                   `json:"last_data_gather_run"`
	LastAnalystRun          time.Time                   `json:"last_analyst_run"`
	LastResearchRun         time.Time                   `json:"last_research_run"`
	LastPositionResearchRun time.Time                   `json:"last_position_research_run"`
	SignalResearch          map[string]ResearchResult   `json:"signal_research"`
	PositionResearch        map[string]ResearchResult   `json:"position_research"`
	StalenessAnalysis       map[string]StalenessReport  `json:"staleness_analysis"`
	PremarketPlan           *PremarketPlan              `json:"premarket_plan"`
	LastPremarketPlanDay    string                      `json:"last_premarket_plan_day"`
	LastClockIsOpen         *bool                       `json:"last_clock_is_open"`
	LastKnownNextOpen       time.Time                   `json:"last_known_next_open"`
	SavedAt                 time.Time                   `json:"saved_at"`
}

// Validate rejects snapshots missing their required sections.
func (s AgentSnapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrStateCorrupt, s.Version, SnapshotVersion)
	}
	if s.Positions == nil || s.Signals == nil || s.Quotas == nil {
		return fmt.Errorf("%w: missing positions, signals or quotas", ErrStateCorrupt)
	}
	for ticker, p := range s.Positions {
		if p.ID == "" || p.Ticker != ticker || p.Rules.Class == "" {
			return fmt.Errorf("%w: position %q malformed", ErrStateCorrupt, ticker)
		}
	}
	return nil
}

// StalenessReport is the latest staleness evaluation of a position.
type StalenessReport struct {
	Ticker      string        `json:"ticker"`
	PositionID  string        `json:"position_id"`
	Tier        StalenessTier `json:"tier"`
	HeldHours   float64       `json:"held_hours"`
	GainPct     float64       `json:"gain_pct"`
	SocialDecay float64       `json:"social_decay"`
	Watch       bool          `json:"watch"`
	Exit        bool          `json:"exit"`
	Reason      ExitReason    `json:"reason,omitempty"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// CycleReport summarises one orchestrator tick for the notifier.
type CycleReport struct {
	At          time.Time
	MarketOpen  bool
	Signals     []SignalScore
	Positions   []PositionEntry
	Entered     []string
	Exited      []string
	Denials     map[string]int
	Cost        CostTracker
	Quotas      []ReadQuota
	PlanDay     string
	PlanTickers []string
	Duration    time.Duration
}
