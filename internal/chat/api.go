// Package chat defines the boundary to the chat platform: the inbound event
// variants the engine consumes and the outbound calls it issues. The wire
// encoding behind this interface is owned by the transport layer, not the
// engine.
package chat

import "context"

// Button is a single control attached to a prompt message. Either URL or
// CallbackData is set, never both.
type Button struct {
	Label        string
	URL          string
	CallbackData string
}

// API is the outbound chat-platform surface. Implementations are expected to
// be safe for concurrent use; the engine layers rate limiting, circuit
// breaking, and retries on top of every call.
type API interface {
	// CheckMembership reports whether the user currently belongs to the channel.
	CheckMembership(ctx context.Context, channelID, userID int64) (bool, error)

	// Restrict mutes the user in the group.
	Restrict(ctx context.Context, groupID, userID int64) error

	// Unrestrict lifts a previous restriction.
	Unrestrict(ctx context.Context, groupID, userID int64) error

	// SendPrompt posts a verification prompt and returns the message ID.
	SendPrompt(ctx context.Context, groupID int64, text string, buttons []Button) (int64, error)

	// DeleteMessage removes a message from the group.
	DeleteMessage(ctx context.Context, groupID, messageID int64) error

	// AnswerCallback sends a transient, non-persistent notice in response to a
	// callback interaction.
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// GetAdministrators returns the user IDs of the group's admins and creator.
	GetAdministrators(ctx context.Context, groupID int64) ([]int64, error)
}
