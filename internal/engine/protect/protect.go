// Package protect executes enforcement actions against the chat platform.
// Every call acquires the rate limiter (group + global scope) and passes
// through the chat-API circuit breaker; safely-repeatable reads additionally
// get retries with backoff. Typed errors bubble up so the verification
// service alone decides the user-visible outcome.
package protect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/joinguard/joinguard/internal/chat"
	"github.com/joinguard/joinguard/internal/database/types"
	"github.com/joinguard/joinguard/internal/engine/breaker"
	"github.com/joinguard/joinguard/internal/engine/limiter"
	"github.com/joinguard/joinguard/pkg/utils"
)

// ErrUpstream indicates the chat-platform call itself failed after the
// breaker and retry layers were exhausted.
var ErrUpstream = errors.New("chat platform request failed")

// VerifyCallbackData is the callback payload attached to the prompt's
// "I have joined" control.
const VerifyCallbackData = "verify"

// Service issues enforcement side effects.
type Service struct {
	api       chat.API
	limiter   *limiter.Limiter
	breaker   *breaker.Breaker
	retryOpts utils.RetryOptions
	logger    *zap.Logger
}

// New creates a protection service. The breaker must be the chat-API
// instance, independent from the datastore breaker.
func New(api chat.API, l *limiter.Limiter, b *breaker.Breaker, logger *zap.Logger) *Service {
	return &Service{
		api:     api,
		limiter: l,
		breaker: b,
		retryOpts: utils.GetAPIRetryOptions(func(err error) bool {
			// An open breaker fails fast instead of burning retry attempts
			return errors.Is(err, breaker.ErrCircuitOpen)
		}),
		logger: logger.Named("protect"),
	}
}

// CheckMembership performs a live membership lookup for a user against a
// channel, attributed to the group whose verification triggered it.
func (s *Service) CheckMembership(ctx context.Context, groupID, channelID, userID int64) (bool, error) {
	if err := s.limiter.Acquire(ctx, groupID); err != nil {
		return false, err
	}

	member, err := utils.WithRetry(ctx, func() (bool, error) {
		return breaker.Do(ctx, s.breaker, func(ctx context.Context) (bool, error) {
			return s.api.CheckMembership(ctx, channelID, userID)
		})
	}, s.retryOpts)
	if err != nil {
		return false, s.wrap(err, "check membership")
	}

	return member, nil
}

// Restrict mutes the user in the group.
func (s *Service) Restrict(ctx context.Context, groupID, userID int64) error {
	if err := s.limiter.Acquire(ctx, groupID); err != nil {
		return err
	}

	err := breaker.DoNoResult(ctx, s.breaker, func(ctx context.Context) error {
		return s.api.Restrict(ctx, groupID, userID)
	})
	if err != nil {
		return s.wrap(err, "restrict")
	}

	s.logger.Info("Restricted user", zap.Int64("groupID", groupID), zap.Int64("userID", userID))

	return nil
}

// Unrestrict lifts a restriction.
func (s *Service) Unrestrict(ctx context.Context, groupID, userID int64) error {
	if err := s.limiter.Acquire(ctx, groupID); err != nil {
		return err
	}

	err := breaker.DoNoResult(ctx, s.breaker, func(ctx context.Context) error {
		return s.api.Unrestrict(ctx, groupID, userID)
	})
	if err != nil {
		return s.wrap(err, "unrestrict")
	}

	s.logger.Info("Unrestricted user", zap.Int64("groupID", groupID), zap.Int64("userID", userID))

	return nil
}

// Prompt sends the verification prompt listing the channels the user still
// needs to join, with join links and the "I have joined" control. Returns
// the prompt's message ID. De-duplication is the caller's responsibility;
// this call is deliberately not retried.
func (s *Service) Prompt(ctx context.Context, groupID, userID int64, missing []*types.EnforcedChannel) (int64, error) {
	if err := s.limiter.Acquire(ctx, groupID); err != nil {
		return 0, err
	}

	text := buildPromptText(missing)
	buttons := buildPromptButtons(missing)

	messageID, err := breaker.Do(ctx, s.breaker, func(ctx context.Context) (int64, error) {
		return s.api.SendPrompt(ctx, groupID, text, buttons)
	})
	if err != nil {
		return 0, s.wrap(err, "send prompt")
	}

	s.logger.Info("Sent verification prompt",
		zap.Int64("groupID", groupID),
		zap.Int64("userID", userID),
		zap.Int64("messageID", messageID),
		zap.Int("missingChannels", len(missing)))

	return messageID, nil
}

// ClearPrompt deletes an outstanding prompt message.
func (s *Service) ClearPrompt(ctx context.Context, groupID, messageID int64) error {
	return s.DeleteMessage(ctx, groupID, messageID)
}

// DeleteMessage removes a message from the group.
func (s *Service) DeleteMessage(ctx context.Context, groupID, messageID int64) error {
	if err := s.limiter.Acquire(ctx, groupID); err != nil {
		return err
	}

	err := breaker.DoNoResult(ctx, s.breaker, func(ctx context.Context) error {
		return s.api.DeleteMessage(ctx, groupID, messageID)
	})
	if err != nil {
		return s.wrap(err, "delete message")
	}

	return nil
}

// AnswerCallback responds to a verify interaction with a transient notice.
func (s *Service) AnswerCallback(ctx context.Context, groupID int64, callbackID, text string) error {
	if err := s.limiter.Acquire(ctx, groupID); err != nil {
		return err
	}

	err := breaker.DoNoResult(ctx, s.breaker, func(ctx context.Context) error {
		return s.api.AnswerCallback(ctx, callbackID, text)
	})
	if err != nil {
		return s.wrap(err, "answer callback")
	}

	return nil
}

// GetAdministrators fetches the group's admin list for the exemption cache.
func (s *Service) GetAdministrators(ctx context.Context, groupID int64) ([]int64, error) {
	if err := s.limiter.Acquire(ctx, groupID); err != nil {
		return nil, err
	}

	admins, err := utils.WithRetry(ctx, func() ([]int64, error) {
		return breaker.Do(ctx, s.breaker, func(ctx context.Context) ([]int64, error) {
			return s.api.GetAdministrators(ctx, groupID)
		})
	}, s.retryOpts)
	if err != nil {
		return nil, s.wrap(err, "get administrators")
	}

	return admins, nil
}

// wrap maps an error into the engine taxonomy: breaker and limiter
// conditions pass through typed, everything else becomes ErrUpstream.
func (s *Service) wrap(err error, action string) error {
	if errors.Is(err, breaker.ErrCircuitOpen) || errors.Is(err, limiter.ErrRateLimitExceeded) {
		return err
	}

	return fmt.Errorf("%w: %s: %s", ErrUpstream, action, err)
}

func buildPromptText(missing []*types.EnforcedChannel) string {
	var b strings.Builder

	b.WriteString("To post in this group, please join the required channels:\n")

	for _, ch := range missing {
		b.WriteString("• ")
		b.WriteString(ch.Title)
		b.WriteString("\n")
	}

	b.WriteString("Then tap the button below.")

	return b.String()
}

func buildPromptButtons(missing []*types.EnforcedChannel) []chat.Button {
	buttons := make([]chat.Button, 0, len(missing)+1)

	for _, ch := range missing {
		if ch.InviteLink == "" {
			continue
		}

		buttons = append(buttons, chat.Button{Label: "Join " + ch.Title, URL: ch.InviteLink})
	}

	buttons = append(buttons, chat.Button{Label: "I have joined", CallbackData: VerifyCallbackData})

	return buttons
}
