package domain

import "errors"

var (
	// ErrUnknownSource marks a mention whose source has no profile.
	ErrUnknownSource = errors.New("unknown source")

	// Research gate denials. Callers fall back to the heuristic path.
	ErrResearchDisabled = errors.New("research disabled by config")
	ErrBudgetExhausted  = errors.New("research budget exhausted")
	ErrQuotaExhausted   = errors.New("read quota exhausted")
	ErrLeaseUnknown     = errors.New("unknown or expired lease")

	// ErrExternalCall wraps ingestion, LLM and broker failures.
	ErrExternalCall = errors.New("external call failed")

	ErrStaleWindowMissed = errors.New("premarket plan window missed")
	ErrOutsideWindow     = errors.New("outside premarket plan window")

	ErrNotEligible   = errors.New("ticker not eligible for entry")
	ErrMaxPositions  = errors.New("max positions reached")
	ErrAlreadyHeld   = errors.New("position already open")
	ErrInvalidSizing = errors.New("position size is zero")

	// ErrStateCorrupt is the only fatal error: the orchestrator halts.
	ErrStateCorrupt = errors.New("agent state corrupt")
)
