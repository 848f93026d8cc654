package types

// EnforcedChannel is a channel that membership is checked against.
type EnforcedChannel struct {
	ID         int64  `bun:",pk"`
	Title      string `bun:",notnull"`
	InviteLink string `bun:",nullzero"`
}
