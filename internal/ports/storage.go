package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// StateStore persists agent snapshots and an audit trail.
type StateStore interface {
	// SaveSnapshot replaces the stored agent snapshot.
	SaveSnapshot(ctx context.Context, snap domain.AgentSnapshot) error

	// LoadSnapshot returns the stored snapshot; ok is false when none exists.
	LoadSnapshot(ctx context.Context) (snap domain.AgentSnapshot, ok bool, err error)

	// SaveSignals appends computed signal scores to the history table.
	SaveSignals(ctx context.Context, scores []domain.SignalScore) error

	// RecordTransition stores one position state change.
	RecordTransition(ctx context.Context, tr domain.Transition) error

	// RecordUsage stores one metered LLM call.
	RecordUsage(ctx context.Context, res domain.ResearchResult) error

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}

// UsageLedger totals the metered calls recorded since a point in time.
type UsageLedger interface {
	UsageSince(ctx context.Context, since time.Time) (domain.CostTracker, error)
}

// History reads the audit trail back.
type History interface {
	UsageLedger

	// SignalHistory returns the stored scores of ticker in [from, to], newest first.
	SignalHistory(ctx context.Context, ticker string, from, to time.Time) ([]domain.SignalScore, error)

	// Transitions returns the state changes of one position, oldest first.
	Transitions(ctx context.Context, positionID string) ([]domain.Transition, error)
}
