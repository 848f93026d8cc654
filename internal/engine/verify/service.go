// Package verify implements the per-(user, group) verification state
// machine: deciding membership across all required channels, applying the
// group's fail-open/fail-closed policy, and driving enforcement actions.
// This is the only component that decides user-visible outcomes; the layers
// below surface typed conditions and never allow or restrict on their own.
package verify

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/joinguard/joinguard/internal/chat"
	"github.com/joinguard/joinguard/internal/database/models"
	"github.com/joinguard/joinguard/internal/database/types"
	"github.com/joinguard/joinguard/internal/engine/cache"
	"github.com/joinguard/joinguard/internal/engine/stats"
	"github.com/joinguard/joinguard/pkg/utils"
)

// lockStripes is the fixed number of per-key mutexes serializing actions for
// the same (user, group) pair.
const lockStripes = 64

// Registry is the read path into group/channel links.
type Registry interface {
	GetRequiredChannels(ctx context.Context, groupID int64) (*types.GroupRequirements, error)
	GetGroupsForChannel(ctx context.Context, channelID int64) ([]*types.ProtectedGroup, error)
}

// Protector executes enforcement actions through the rate limiter and
// circuit breaker.
type Protector interface {
	CheckMembership(ctx context.Context, groupID, channelID, userID int64) (bool, error)
	Restrict(ctx context.Context, groupID, userID int64) error
	Unrestrict(ctx context.Context, groupID, userID int64) error
	Prompt(ctx context.Context, groupID, userID int64, missing []*types.EnforcedChannel) (int64, error)
	ClearPrompt(ctx context.Context, groupID, messageID int64) error
	DeleteMessage(ctx context.Context, groupID, messageID int64) error
	AnswerCallback(ctx context.Context, groupID int64, callbackID, text string) error
	GetAdministrators(ctx context.Context, groupID int64) ([]int64, error)
}

// MembershipCache stores verdicts per (user, channel) pair.
type MembershipCache interface {
	Get(ctx context.Context, userID, channelID int64) (cache.Verdict, bool)
	Put(ctx context.Context, userID, channelID int64, isMember bool)
	Invalidate(ctx context.Context, userID, channelID int64)
}

// Recorder appends verification audit rows. Writes are best-effort.
type Recorder interface {
	LogVerification(ctx context.Context, record *types.VerificationRecord) error
}

// Counters receives observability increments. Writes are best-effort.
type Counters interface {
	IncrementOutcome(ctx context.Context, stat string)
}

// Options tunes the service.
type Options struct {
	// FanoutConcurrency bounds parallel per-group re-checks on channel-leave.
	FanoutConcurrency int
	// PromptTTL bounds how long outstanding prompt state is tracked.
	PromptTTL time.Duration
	// AdminCacheTTL bounds how long cached group admin lists remain valid.
	AdminCacheTTL time.Duration
}

func (o *Options) withDefaults() {
	if o.FanoutConcurrency <= 0 {
		o.FanoutConcurrency = 8
	}
	if o.PromptTTL <= 0 {
		o.PromptTTL = 24 * time.Hour
	}
	if o.AdminCacheTTL <= 0 {
		o.AdminCacheTTL = 10 * time.Minute
	}
}

type promptKey struct {
	userID  int64
	groupID int64
}

// promptState tracks the single outstanding prompt for a (user, group) pair.
// Its presence marks the pair as RESTRICTED and suppresses duplicate prompts.
type promptState struct {
	messageID int64
	sentAt    time.Time
}

// Service is the verification decision engine.
type Service struct {
	registry  Registry
	protector Protector
	cache     MembershipCache
	recorder  Recorder
	counters  Counters
	logger    *zap.Logger

	prompts   *utils.TTLMap[promptKey, promptState]
	admins    *utils.TTLMap[int64, map[int64]struct{}]
	fanoutSem *semaphore.Weighted
	locks     [lockStripes]sync.Mutex
}

// New creates the verification service.
func New(
	registry Registry, protector Protector, membershipCache MembershipCache,
	recorder Recorder, counters Counters, opts Options, logger *zap.Logger,
) *Service {
	opts.withDefaults()

	return &Service{
		registry:  registry,
		protector: protector,
		cache:     membershipCache,
		recorder:  recorder,
		counters:  counters,
		logger:    logger.Named("verify"),
		prompts:   utils.NewTTLMap[promptKey, promptState](opts.PromptTTL),
		admins:    utils.NewTTLMap[int64, map[int64]struct{}](opts.AdminCacheTTL),
		fanoutSem: semaphore.NewWeighted(int64(opts.FanoutConcurrency)),
	}
}

func (s *Service) lockFor(userID, groupID int64) *sync.Mutex {
	h := fnv.New32a()

	var buf [16]byte
	for i := range 8 {
		buf[i] = byte(userID >> (8 * i))
		buf[8+i] = byte(groupID >> (8 * i))
	}
	h.Write(buf[:])

	return &s.locks[h.Sum32()%lockStripes]
}

// HandleMemberJoined runs the all-channels check when a user enters a group.
func (s *Service) HandleMemberJoined(ctx context.Context, event chat.MemberJoined) error {
	lock := s.lockFor(event.UserID, event.GroupID)
	lock.Lock()
	defer lock.Unlock()

	return s.runCheck(ctx, event.GroupID, event.UserID)
}

// HandleMessage deletes messages from restricted users. No duplicate prompt
// is sent while one is outstanding for the pair.
func (s *Service) HandleMessage(ctx context.Context, event chat.MessageReceived) error {
	lock := s.lockFor(event.UserID, event.GroupID)
	lock.Lock()
	defer lock.Unlock()

	if _, restricted := s.prompts.Get(promptKey{event.UserID, event.GroupID}); !restricted {
		return nil
	}

	if err := s.protector.DeleteMessage(ctx, event.GroupID, event.MessageID); err != nil {
		s.logger.Warn("Failed to delete message from restricted user",
			zap.Int64("groupID", event.GroupID),
			zap.Int64("userID", event.UserID),
			zap.Error(err))
	}

	return nil
}

// HandleVerifyCallback re-runs the all-channels check when the user claims to
// have joined. Success unmutes, clears the prompt, and writes an audit row.
// Failure answers with a transient notice and leaves the pair restricted.
func (s *Service) HandleVerifyCallback(ctx context.Context, event chat.VerifyCallback) error {
	lock := s.lockFor(event.UserID, event.GroupID)
	lock.Lock()
	defer lock.Unlock()

	key := promptKey{event.UserID, event.GroupID}

	state, restricted := s.prompts.Get(key)
	if !restricted {
		// Either a duplicate click after success or prompt state that
		// expired while the user stayed muted. Re-check instead of only
		// acknowledging so an expired pair is released, not left stuck.
		return s.recoverCallback(ctx, event)
	}

	start := time.Now()

	requirements, err := s.registry.GetRequiredChannels(ctx, event.GroupID)
	if err != nil {
		if models.IsNotProtected(err) {
			// Protection was removed while the user was restricted
			s.release(ctx, event.GroupID, event.UserID, state)
			s.prompts.Delete(key)
			s.answer(ctx, event, "Verification is no longer required here.")
			return nil
		}

		s.counters.IncrementOutcome(ctx, stats.StatRecheckFailed)
		s.answer(ctx, event, "Verification is temporarily unavailable. Please try again shortly.")
		return nil
	}

	missing, err := s.missingChannels(ctx, event.GroupID, event.UserID, requirements.Channels)
	if err != nil {
		s.counters.IncrementOutcome(ctx, stats.StatRecheckFailed)
		s.answer(ctx, event, "Verification is temporarily unavailable. Please try again shortly.")
		return nil
	}

	if len(missing) > 0 {
		// Transient notice only; the outstanding prompt stays as-is
		s.counters.IncrementOutcome(ctx, stats.StatRecheckFailed)
		s.answer(ctx, event, "You have not joined all required channels yet.")
		return nil
	}

	s.release(ctx, event.GroupID, event.UserID, state)
	s.prompts.Delete(key)
	s.answer(ctx, event, "Thank you, you are verified!")

	record := &types.VerificationRecord{
		UserID:    event.UserID,
		GroupID:   event.GroupID,
		Outcome:   types.OutcomeSuccess,
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: time.Now(),
	}
	if err := s.recorder.LogVerification(ctx, record); err != nil {
		s.logger.Warn("Failed to write verification record",
			zap.Int64("groupID", event.GroupID),
			zap.Int64("userID", event.UserID),
			zap.Error(err))
	}

	s.counters.IncrementOutcome(ctx, stats.StatSuccess)

	return nil
}

// recoverCallback handles a verify click with no tracked prompt. The prompt
// message is deleted on success, so untracked clicks are almost always prompt
// state that outlived its TTL while the platform-side mute persisted. A
// compliant user is unrestricted; restriction lifts are idempotent on the
// platform, so doing this for the rare duplicate click is harmless. A user
// still missing channels gets a fresh prompt under new tracked state.
func (s *Service) recoverCallback(ctx context.Context, event chat.VerifyCallback) error {
	requirements, err := s.registry.GetRequiredChannels(ctx, event.GroupID)
	if err != nil {
		if models.IsNotProtected(err) {
			s.release(ctx, event.GroupID, event.UserID, promptState{})
			s.answer(ctx, event, "Verification is no longer required here.")
			return nil
		}

		s.answer(ctx, event, "Verification is temporarily unavailable. Please try again shortly.")
		return nil
	}

	missing, err := s.missingChannels(ctx, event.GroupID, event.UserID, requirements.Channels)
	if err != nil {
		s.answer(ctx, event, "Verification is temporarily unavailable. Please try again shortly.")
		return nil
	}

	if len(missing) > 0 {
		s.answer(ctx, event, "You have not joined all required channels yet.")
		return s.restrictAndPrompt(ctx, event.GroupID, event.UserID, missing)
	}

	s.release(ctx, event.GroupID, event.UserID, promptState{})
	s.answer(ctx, event, "You are already verified.")

	return nil
}

// HandleChannelLeave invalidates the cached verdict for the pair, then
// re-checks the user across every group linked to the channel. Each group is
// handled independently: a failure acting on one group never blocks or rolls
// back the action taken on another.
func (s *Service) HandleChannelLeave(ctx context.Context, event chat.MemberLeftChannel) error {
	// Synchronous invalidation before fan-out so no re-check can read the
	// stale positive verdict.
	s.cache.Invalidate(ctx, event.UserID, event.ChannelID)

	groups, err := s.registry.GetGroupsForChannel(ctx, event.ChannelID)
	if err != nil {
		return err
	}

	p := pool.New().WithContext(ctx)

	for _, group := range groups {
		p.Go(func(ctx context.Context) error {
			if err := s.fanoutSem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer s.fanoutSem.Release(1)

			lock := s.lockFor(event.UserID, group.ID)
			lock.Lock()
			defer lock.Unlock()

			if err := s.runCheck(ctx, group.ID, event.UserID); err != nil {
				s.logger.Warn("Fan-out re-check failed",
					zap.Int64("groupID", group.ID),
					zap.Int64("channelID", event.ChannelID),
					zap.Int64("userID", event.UserID),
					zap.Error(err))
			}

			return nil
		})
	}

	return p.Wait()
}

// runCheck is the shared all-channels check. Callers hold the pair's stripe
// lock.
func (s *Service) runCheck(ctx context.Context, groupID, userID int64) error {
	requirements, err := s.registry.GetRequiredChannels(ctx, groupID)
	if err != nil {
		if models.IsNotProtected(err) {
			return nil
		}

		// Registry unreachable: the group's policy is unknown, so the global
		// default of failing open applies.
		s.counters.IncrementOutcome(ctx, stats.StatError)
		s.logger.Warn("Registry read failed, failing open",
			zap.Int64("groupID", groupID),
			zap.Int64("userID", userID),
			zap.Error(err))

		return nil
	}

	if len(requirements.Channels) == 0 {
		return nil
	}

	if s.isAdmin(ctx, groupID, userID) {
		return nil
	}

	missing, err := s.missingChannels(ctx, groupID, userID, requirements.Channels)
	if err != nil {
		return s.applyFailPolicy(ctx, requirements, userID, err)
	}

	if len(missing) == 0 {
		return nil
	}

	return s.restrictAndPrompt(ctx, groupID, userID, missing)
}

// missingChannels resolves the user's membership for every required channel,
// serving from the cache where possible and writing live results back. A
// member of some but not all channels is treated the same as a member of
// none.
func (s *Service) missingChannels(
	ctx context.Context, groupID, userID int64, channels []*types.EnforcedChannel,
) ([]*types.EnforcedChannel, error) {
	var missing []*types.EnforcedChannel

	for _, channel := range channels {
		if verdict, ok := s.cache.Get(ctx, userID, channel.ID); ok {
			if !verdict.IsMember {
				missing = append(missing, channel)
			}
			continue
		}

		member, err := s.protector.CheckMembership(ctx, groupID, channel.ID, userID)
		if err != nil {
			return nil, err
		}

		s.cache.Put(ctx, userID, channel.ID, member)

		if !member {
			missing = append(missing, channel)
		}
	}

	return missing, nil
}

// applyFailPolicy handles an incomplete check per the group's configured
// policy: allow (no interruption) or deny (restrict until verified).
func (s *Service) applyFailPolicy(
	ctx context.Context, requirements *types.GroupRequirements, userID int64, cause error,
) error {
	s.counters.IncrementOutcome(ctx, stats.StatError)

	group := requirements.Group

	record := &types.VerificationRecord{
		UserID:    userID,
		GroupID:   group.ID,
		Outcome:   types.OutcomeError,
		Timestamp: time.Now(),
	}
	if err := s.recorder.LogVerification(ctx, record); err != nil {
		s.logger.Warn("Failed to write verification record",
			zap.Int64("groupID", group.ID),
			zap.Int64("userID", userID),
			zap.Error(err))
	}

	if group.OnUpstreamFailure == types.FailModeDeny {
		s.logger.Warn("Membership check failed, failing closed",
			zap.Int64("groupID", group.ID),
			zap.Int64("userID", userID),
			zap.Error(cause))

		// The user must complete verification; which channels are missing is
		// unknown, so the prompt lists all of them.
		return s.restrictAndPrompt(ctx, group.ID, userID, requirements.Channels)
	}

	s.logger.Warn("Membership check failed, failing open",
		zap.Int64("groupID", group.ID),
		zap.Int64("userID", userID),
		zap.Error(cause))

	return nil
}

// restrictAndPrompt mutes the user and sends exactly one verification prompt.
// If a prompt is already outstanding for the pair, both actions are skipped.
func (s *Service) restrictAndPrompt(
	ctx context.Context, groupID, userID int64, missing []*types.EnforcedChannel,
) error {
	key := promptKey{userID, groupID}

	if _, outstanding := s.prompts.Get(key); outstanding {
		return nil
	}

	if err := s.protector.Restrict(ctx, groupID, userID); err != nil {
		s.logger.Warn("Failed to restrict user",
			zap.Int64("groupID", groupID),
			zap.Int64("userID", userID),
			zap.Error(err))

		return err
	}

	messageID, err := s.protector.Prompt(ctx, groupID, userID, missing)
	if err != nil {
		s.logger.Warn("Failed to send verification prompt",
			zap.Int64("groupID", groupID),
			zap.Int64("userID", userID),
			zap.Error(err))

		// The user is muted without a prompt; track the pair anyway so the
		// verify control on a later prompt attempt can release them.
		s.prompts.Set(key, promptState{sentAt: time.Now()})

		return err
	}

	s.prompts.Set(key, promptState{messageID: messageID, sentAt: time.Now()})
	s.counters.IncrementOutcome(ctx, stats.StatPromptSent)

	return nil
}

// release unmutes the user and clears their outstanding prompt message.
func (s *Service) release(ctx context.Context, groupID, userID int64, state promptState) {
	if err := s.protector.Unrestrict(ctx, groupID, userID); err != nil {
		s.logger.Warn("Failed to unrestrict user",
			zap.Int64("groupID", groupID),
			zap.Int64("userID", userID),
			zap.Error(err))
	}

	if state.messageID != 0 {
		if err := s.protector.ClearPrompt(ctx, groupID, state.messageID); err != nil {
			s.logger.Warn("Failed to clear prompt message",
				zap.Int64("groupID", groupID),
				zap.Int64("messageID", state.messageID),
				zap.Error(err))
		}
	}
}

func (s *Service) answer(ctx context.Context, event chat.VerifyCallback, text string) {
	if err := s.protector.AnswerCallback(ctx, event.GroupID, event.CallbackID, text); err != nil {
		s.logger.Warn("Failed to answer callback",
			zap.Int64("groupID", event.GroupID),
			zap.String("callbackID", event.CallbackID),
			zap.Error(err))
	}
}

// isAdmin reports whether the user administers the group. Admin lists are
// cached so the hot path is a map lookup; only a cold group pays one
// admin-list fetch.
func (s *Service) isAdmin(ctx context.Context, groupID, userID int64) bool {
	admins, ok := s.admins.Get(groupID)
	if !ok {
		ids, err := s.protector.GetAdministrators(ctx, groupID)
		if err != nil {
			s.logger.Warn("Failed to fetch group administrators",
				zap.Int64("groupID", groupID),
				zap.Error(err))

			return false
		}

		admins = make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			admins[id] = struct{}{}
		}

		s.admins.Set(groupID, admins)
	}

	_, isAdmin := admins[userID]

	return isAdmin
}
