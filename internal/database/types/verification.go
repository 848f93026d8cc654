package types

import "time"

// VerificationOutcome is the terminal result of a verification attempt.
type VerificationOutcome string

const (
	OutcomeSuccess VerificationOutcome = "success"
	// OutcomeFailed is part of the shared reporting schema for the dashboard
	// side. The engine itself never writes it: a failed re-check keeps the
	// restriction and answers with a transient notice instead of recording.
	OutcomeFailed VerificationOutcome = "failed"
	OutcomeError  VerificationOutcome = "error"
)

// VerificationRecord is an append-only audit row per completed verification
// attempt. Write-once; never mutated.
type VerificationRecord struct {
	ID        int64               `bun:",pk,autoincrement"`
	UserID    int64               `bun:",notnull"`
	GroupID   int64               `bun:",notnull"`
	Outcome   VerificationOutcome `bun:",notnull"`
	LatencyMS int64               `bun:",notnull"`
	Timestamp time.Time           `bun:",notnull"`
}

// OutcomeCount aggregates verification records by outcome for the reporting
// surface consumed by the dashboard.
type OutcomeCount struct {
	Outcome VerificationOutcome `bun:"outcome"`
	Count   int64               `bun:"count"`
}
