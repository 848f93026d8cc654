// Package router dispatches inbound chat-platform events to the verification
// service through a fixed set of single-consumer lanes. Events are assigned
// to a lane by hashing their routing key, which preserves arrival order for
// the same (user, group) pair while letting distinct pairs proceed in
// parallel.
package router

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/joinguard/joinguard/internal/chat"
)

// Handler consumes routed events. Implemented by the verification service.
type Handler interface {
	HandleMemberJoined(ctx context.Context, event chat.MemberJoined) error
	HandleMessage(ctx context.Context, event chat.MessageReceived) error
	HandleVerifyCallback(ctx context.Context, event chat.VerifyCallback) error
	HandleChannelLeave(ctx context.Context, event chat.MemberLeftChannel) error
}

// Router owns the lanes and their consumer goroutines.
type Router struct {
	handler Handler
	lanes   []chan chat.Event
	wg      sync.WaitGroup
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a router with the given lane count and per-lane queue depth.
func New(handler Handler, laneCount, queueDepth int, logger *zap.Logger) *Router {
	if laneCount <= 0 {
		laneCount = 16
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}

	lanes := make([]chan chat.Event, laneCount)
	for i := range lanes {
		lanes[i] = make(chan chat.Event, queueDepth)
	}

	return &Router{
		handler: handler,
		lanes:   lanes,
		logger:  logger.Named("router"),
	}
}

// Start launches one consumer goroutine per lane.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.started = true

	for i, lane := range r.lanes {
		r.wg.Add(1)

		go func(laneIndex int, events <-chan chat.Event) {
			defer r.wg.Done()

			for event := range events {
				r.handle(ctx, laneIndex, event)
			}
		}(i, lane)
	}

	r.logger.Info("Started event lanes", zap.Int("laneCount", len(r.lanes)))
}

// Dispatch places an event on its lane. Blocks while the lane's bounded
// queue is full; returns the context error if cancelled while waiting.
func (r *Router) Dispatch(ctx context.Context, event chat.Event) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("router is stopped")
	}
	r.mu.Unlock()

	lane := r.lanes[r.laneFor(event)]

	select {
	case lane <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the lanes and waits for in-flight events to drain. Dispatch
// must not be called concurrently with or after Stop.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	for _, lane := range r.lanes {
		close(lane)
	}

	r.wg.Wait()
	r.logger.Info("Drained event lanes")
}

func (r *Router) laneFor(event chat.Event) int {
	userID, scopeID := event.RoutingKey()

	h := fnv.New32a()

	var buf [16]byte
	for i := range 8 {
		buf[i] = byte(userID >> (8 * i))
		buf[8+i] = byte(scopeID >> (8 * i))
	}
	h.Write(buf[:])

	return int(h.Sum32() % uint32(len(r.lanes)))
}

func (r *Router) handle(ctx context.Context, laneIndex int, event chat.Event) {
	var err error

	switch e := event.(type) {
	case chat.MemberJoined:
		err = r.handler.HandleMemberJoined(ctx, e)
	case chat.MessageReceived:
		err = r.handler.HandleMessage(ctx, e)
	case chat.VerifyCallback:
		err = r.handler.HandleVerifyCallback(ctx, e)
	case chat.MemberLeftChannel:
		err = r.handler.HandleChannelLeave(ctx, e)
	default:
		r.logger.Error("Unknown event type", zap.Any("event", event))
		return
	}

	if err != nil {
		r.logger.Warn("Event handling failed",
			zap.Int("lane", laneIndex),
			zap.Any("event", event),
			zap.Error(err))
	}
}
