package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joinguard/joinguard/internal/database/dbretry"
	"github.com/joinguard/joinguard/internal/database/types"
	"github.com/joinguard/joinguard/internal/engine/breaker"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ErrGroupNotProtected indicates the group has no enforcement configured or
// enforcement is disabled. This is a valid state, not an infrastructure fault.
var ErrGroupNotProtected = errors.New("group is not protected")

// RegistryModel is the read path into the group/channel link tables. All
// reads pass through the datastore circuit breaker and retry classification.
type RegistryModel struct {
	db      *bun.DB
	breaker *breaker.Breaker
	logger  *zap.Logger
}

// NewRegistry creates a new registry model instance.
func NewRegistry(db *bun.DB, b *breaker.Breaker, logger *zap.Logger) *RegistryModel {
	return &RegistryModel{
		db:      db,
		breaker: b,
		logger:  logger.Named("db_registry"),
	}
}

// IsNotProtected reports whether an error is the valid "no enforcement"
// result. Exposed so the datastore breaker can be configured to not count it
// as a failure.
func IsNotProtected(err error) bool {
	return errors.Is(err, ErrGroupNotProtected)
}

// GetRequiredChannels returns the group and the set of channels its members
// must belong to. Returns ErrGroupNotProtected when the group is unknown or
// disabled; an empty channel slice means protection is configured but no
// channels are linked yet.
func (m *RegistryModel) GetRequiredChannels(ctx context.Context, groupID int64) (*types.GroupRequirements, error) {
	return breaker.Do(ctx, m.breaker, func(ctx context.Context) (*types.GroupRequirements, error) {
		return dbretry.Operation(ctx, func(ctx context.Context) (*types.GroupRequirements, error) {
			group := new(types.ProtectedGroup)

			err := m.db.NewSelect().
				Model(group).
				Where("id = ?", groupID).
				Scan(ctx)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, ErrGroupNotProtected
				}
				return nil, fmt.Errorf("failed to get protected group %d: %w", groupID, err)
			}

			if !group.Enabled {
				return nil, ErrGroupNotProtected
			}

			var channels []*types.EnforcedChannel

			err = m.db.NewSelect().
				Model(&channels).
				Join("JOIN group_channel_links AS l ON l.channel_id = enforced_channel.id").
				Where("l.group_id = ?", groupID).
				Order("enforced_channel.id ASC").
				Scan(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to get required channels for group %d: %w", groupID, err)
			}

			return &types.GroupRequirements{Group: group, Channels: channels}, nil
		})
	})
}

// GetGroupsForChannel returns all enabled groups linked to the channel.
// Used by the channel-leave fan-out path.
func (m *RegistryModel) GetGroupsForChannel(ctx context.Context, channelID int64) ([]*types.ProtectedGroup, error) {
	return breaker.Do(ctx, m.breaker, func(ctx context.Context) ([]*types.ProtectedGroup, error) {
		return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.ProtectedGroup, error) {
			var groups []*types.ProtectedGroup

			err := m.db.NewSelect().
				Model(&groups).
				Join("JOIN group_channel_links AS l ON l.group_id = protected_group.id").
				Where("l.channel_id = ?", channelID).
				Where("protected_group.enabled = TRUE").
				Order("protected_group.id ASC").
				Scan(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to get groups for channel %d: %w", channelID, err)
			}

			return groups, nil
		})
	})
}
