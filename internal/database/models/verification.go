package models

import (
	"context"
	"fmt"
	"time"

	"github.com/joinguard/joinguard/internal/database/dbretry"
	"github.com/joinguard/joinguard/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// VerificationModel handles the append-only verification audit log.
type VerificationModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewVerification creates a new verification model instance.
func NewVerification(db *bun.DB, logger *zap.Logger) *VerificationModel {
	return &VerificationModel{
		db:     db,
		logger: logger.Named("db_verification"),
	}
}

// LogVerification stores a verification attempt. Callers treat this as
// best-effort: a failed audit write must never block or reverse the
// membership decision already taken.
func (m *VerificationModel) LogVerification(ctx context.Context, record *types.VerificationRecord) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().Model(record).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to log verification record: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("Logged verification record",
		zap.Int64("userID", record.UserID),
		zap.Int64("groupID", record.GroupID),
		zap.String("outcome", string(record.Outcome)),
		zap.Int64("latencyMS", record.LatencyMS))

	return nil
}

// GetOutcomeCounts aggregates verification outcomes since the given time for
// the dashboard's reporting surface.
func (m *VerificationModel) GetOutcomeCounts(ctx context.Context, since time.Time) ([]*types.OutcomeCount, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.OutcomeCount, error) {
		var counts []*types.OutcomeCount

		err := m.db.NewSelect().
			Model((*types.VerificationRecord)(nil)).
			ColumnExpr("outcome").
			ColumnExpr("COUNT(*) AS count").
			Where("timestamp >= ?", since).
			GroupExpr("outcome").
			Scan(ctx, &counts)
		if err != nil {
			return nil, fmt.Errorf("failed to get verification outcome counts: %w", err)
		}

		return counts, nil
	})
}
