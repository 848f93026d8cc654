package chat

// Event is an inbound chat-platform update. RoutingKey returns the pair used
// to serialize processing: events with the same key must be handled in
// arrival order, while distinct keys may proceed in parallel.
type Event interface {
	RoutingKey() (userID, scopeID int64)
}

// MemberJoined signals that a user entered a protected group.
type MemberJoined struct {
	GroupID int64
	UserID  int64
}

// RoutingKey implements Event.
func (e MemberJoined) RoutingKey() (int64, int64) { return e.UserID, e.GroupID }

// MemberLeftChannel signals that a user left or was kicked from an enforced
// channel.
type MemberLeftChannel struct {
	ChannelID int64
	UserID    int64
}

// RoutingKey implements Event.
func (e MemberLeftChannel) RoutingKey() (int64, int64) { return e.UserID, e.ChannelID }

// MessageReceived signals that a user posted a message in a group.
type MessageReceived struct {
	GroupID   int64
	UserID    int64
	MessageID int64
}

// RoutingKey implements Event.
func (e MessageReceived) RoutingKey() (int64, int64) { return e.UserID, e.GroupID }

// VerifyCallback signals that a user clicked the "I have joined" control on a
// verification prompt.
type VerifyCallback struct {
	GroupID    int64
	UserID     int64
	CallbackID string
}

// RoutingKey implements Event.
func (e VerifyCallback) RoutingKey() (int64, int64) { return e.UserID, e.GroupID }
