package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joinguard/joinguard/internal/chat"
	"github.com/joinguard/joinguard/internal/engine/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingHandler captures the order events arrive per (user, group) pair.
type recordingHandler struct {
	mu     sync.Mutex
	events map[[2]int64][]string
	delay  time.Duration
}

func newRecordingHandler(delay time.Duration) *recordingHandler {
	return &recordingHandler{
		events: make(map[[2]int64][]string),
		delay:  delay,
	}
}

func (h *recordingHandler) record(userID, scopeID int64, kind string) {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	key := [2]int64{userID, scopeID}
	h.events[key] = append(h.events[key], kind)
}

func (h *recordingHandler) HandleMemberJoined(_ context.Context, e chat.MemberJoined) error {
	h.record(e.UserID, e.GroupID, "joined")
	return nil
}

func (h *recordingHandler) HandleMessage(_ context.Context, e chat.MessageReceived) error {
	h.record(e.UserID, e.GroupID, "message")
	return nil
}

func (h *recordingHandler) HandleVerifyCallback(_ context.Context, e chat.VerifyCallback) error {
	h.record(e.UserID, e.GroupID, "callback")
	return nil
}

func (h *recordingHandler) HandleChannelLeave(_ context.Context, e chat.MemberLeftChannel) error {
	h.record(e.UserID, e.ChannelID, "left")
	return nil
}

func (h *recordingHandler) sequence(userID, scopeID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events[[2]int64{userID, scopeID}]...)
}

func TestPerKeyOrderingPreserved(t *testing.T) {
	t.Parallel()

	handler := newRecordingHandler(time.Millisecond)
	r := router.New(handler, 4, 16, zap.NewNop())

	ctx := t.Context()
	r.Start(ctx)

	// Interleave events for one pair with traffic on many other pairs
	for i := range 10 {
		require.NoError(t, r.Dispatch(ctx, chat.MemberJoined{GroupID: int64(100 + i), UserID: int64(i)}))
	}

	require.NoError(t, r.Dispatch(ctx, chat.MemberJoined{GroupID: 1, UserID: 42}))
	require.NoError(t, r.Dispatch(ctx, chat.MessageReceived{GroupID: 1, UserID: 42, MessageID: 7}))
	require.NoError(t, r.Dispatch(ctx, chat.VerifyCallback{GroupID: 1, UserID: 42, CallbackID: "cb"}))

	r.Stop()

	assert.Equal(t, []string{"joined", "message", "callback"}, handler.sequence(42, 1),
		"events for the same pair must be handled in arrival order")
}

func TestAllEventsProcessed(t *testing.T) {
	t.Parallel()

	handler := newRecordingHandler(0)
	r := router.New(handler, 8, 32, zap.NewNop())

	ctx := t.Context()
	r.Start(ctx)

	const n = 200
	for i := range n {
		require.NoError(t, r.Dispatch(ctx, chat.MessageReceived{
			GroupID:   int64(i % 7),
			UserID:    int64(i % 13),
			MessageID: int64(i),
		}))
	}

	r.Stop()

	total := 0
	for g := range int64(7) {
		for u := range int64(13) {
			total += len(handler.sequence(u, g))
		}
	}
	assert.Equal(t, n, total)
}

func TestDispatchAfterStopFails(t *testing.T) {
	t.Parallel()

	handler := newRecordingHandler(0)
	r := router.New(handler, 2, 4, zap.NewNop())

	ctx := t.Context()
	r.Start(ctx)
	r.Stop()

	assert.Error(t, r.Dispatch(ctx, chat.MemberJoined{GroupID: 1, UserID: 1}))
}

func TestDistinctKeysProceedInParallel(t *testing.T) {
	t.Parallel()

	handler := newRecordingHandler(20 * time.Millisecond)
	r := router.New(handler, 16, 16, zap.NewNop())

	ctx := t.Context()
	r.Start(ctx)

	start := time.Now()

	// 16 events on distinct keys; serial execution would take ~320ms
	for i := range 16 {
		require.NoError(t, r.Dispatch(ctx, chat.MemberJoined{GroupID: int64(i), UserID: int64(i)}))
	}

	r.Stop()

	assert.Less(t, time.Since(start), 280*time.Millisecond,
		"distinct keys should be spread across lanes and handled concurrently")
}
