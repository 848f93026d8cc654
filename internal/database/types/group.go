package types

import "time"

// FailMode is the per-group policy applied when a membership check cannot be
// completed (circuit open or retries exhausted).
type FailMode string

const (
	// FailModeAllow lets the user through when verification infrastructure is
	// degraded. This is the default.
	FailModeAllow FailMode = "allow"
	// FailModeDeny restricts the user until verification succeeds.
	FailModeDeny FailMode = "deny"
)

// Owner is an account that administers one or more protected groups.
// Created on first setup action; never deleted automatically.
type Owner struct {
	ID        int64     `bun:",pk"`
	CreatedAt time.Time `bun:",notnull"`
	UpdatedAt time.Time `bun:",notnull"`
}

// ProtectedGroup is a chat group under enforcement. Enabled=false disables
// all enforcement without deleting the group's channel links.
type ProtectedGroup struct {
	ID                int64     `bun:",pk"`
	OwnerID           int64     `bun:",notnull"`
	Enabled           bool      `bun:",notnull"`
	RestrictionType   string    `bun:",notnull,default:'mute'"`
	WelcomeText       string    `bun:",nullzero"`
	AutoKickAfter     int64     `bun:",nullzero"` // seconds; 0 disables auto-kick
	OnUpstreamFailure FailMode  `bun:",notnull,default:'allow'"`
	CreatedAt         time.Time `bun:",notnull"`
	UpdatedAt         time.Time `bun:",notnull"`
}

// GroupChannelLink joins protected groups to the channels their members must
// belong to. Unique per (group, channel) pair.
type GroupChannelLink struct {
	GroupID   int64 `bun:",pk"`
	ChannelID int64 `bun:",pk"`
}

// GroupRequirements bundles a protected group with its required channels for
// the verification read path.
type GroupRequirements struct {
	Group    *ProtectedGroup
	Channels []*EnforcedChannel
}
