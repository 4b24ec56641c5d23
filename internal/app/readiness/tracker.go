// Package readiness turns protocol sync-state transitions into a ready signal
// and keeps exactly one timeline listener attached per known room.
package readiness

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
	"github.com/rs/zerolog/log"
)

type Tracker struct {
	src   core.TimelineSource
	route core.TimelineFunc

	mu      sync.Mutex
	ready   bool
	readyCh chan struct{} // closed while ready
	detach  map[domain.RoomID]func()

	readiness *stream.Publisher[bool]
}

func New(src core.TimelineSource, route core.TimelineFunc) *Tracker {
	return &Tracker{
		src:       src,
		route:     route,
		readyCh:   make(chan struct{}),
		detach:    make(map[domain.RoomID]func()),
		readiness: stream.NewPublisher[bool](),
	}
}

// OnSync consumes one sync-state transition. It never fails.
func (t *Tracker) OnSync(state, prev domain.SyncState) {
	logger := log.With().
		Str("module", "app.readiness").
		Str("state", state.String()).
		Str("prev", prev.String()).
		Logger()

	changed := t.setReady(state.Ready())
	if changed {
		logger.Info().Bool("ready", state.Ready()).Msg("readiness changed")
		t.readiness.Publish(state.Ready())
	}

	if state == domain.SyncReady || state == domain.SyncCatchup {
		rooms := t.src.Rooms()
		logger.Info().Int("rooms", len(rooms)).Msg("re-attaching timeline listeners")
		for _, room := range rooms {
			t.Subscribe(room)
		}
	}
}

func (t *Tracker) setReady(ready bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ready == ready {
		return false
	}
	t.ready = ready
	if ready {
		close(t.readyCh)
	} else {
		t.readyCh = make(chan struct{})
	}
	return true
}

// Subscribe attaches the router to room, replacing any previous listener.
func (t *Tracker) Subscribe(room domain.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.detach[room]; ok {
		cancel()
	}
	t.detach[room] = t.src.OnTimeline(room, t.route)
}

// Ready reports the current readiness without blocking.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// Wait blocks until the client is ready. It returns immediately when it
// already is, and ErrNotReady when ctx ends first.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	if t.ready {
		t.mu.Unlock()
		return nil
	}
	ch := t.readyCh
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrNotReady, ctx.Err())
	}
}

// Readiness publishes every change of the ready flag.
func (t *Tracker) Readiness() stream.Source[bool] { return t.readiness }

// Reset detaches every listener and drops readiness, used on logout.
func (t *Tracker) Reset() {
	t.mu.Lock()
	for room, cancel := range t.detach {
		cancel()
		delete(t.detach, room)
	}
	t.mu.Unlock()

	if t.setReady(false) {
		t.readiness.Publish(false)
	}
	log.Info().Str("module", "app.readiness").Msg("reset")
}

// Attached reports the number of rooms with a listener.
func (t *Tracker) Attached() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.detach)
}
