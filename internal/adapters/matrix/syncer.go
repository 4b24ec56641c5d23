package matrix

import (
	"context"
	"time"

	"github.com/dkeye/chatcall/internal/domain"
	"maunium.net/go/mautrix"
)

// syncer feeds sync responses into the client before the default
// per-event dispatch runs.
type syncer struct {
	*mautrix.DefaultSyncer
	c *Client
}

func (s *syncer) ProcessResponse(ctx context.Context, resp *mautrix.RespSync, since string) error {
	s.c.applySync(resp)
	err := s.DefaultSyncer.ProcessResponse(ctx, resp, since)

	s.c.mu.Lock()
	prev := s.c.state
	s.c.mu.Unlock()
	s.c.setSync(nextSyncState(prev, true))
	return err
}

func (s *syncer) OnFailedSync(res *mautrix.RespSync, err error) (time.Duration, error) {
	s.c.log.Warn().Err(err).Msg("sync failed")
	s.c.setSync(nextSyncState(domain.SyncReady, false))
	return s.DefaultSyncer.OnFailedSync(res, err)
}

// nextSyncState maps a sync outcome onto the lifecycle: the first success
// is Ready, the first success after a failure is Catchup.
func nextSyncState(prev domain.SyncState, ok bool) domain.SyncState {
	if !ok {
		return domain.SyncError
	}
	if prev == domain.SyncError {
		return domain.SyncCatchup
	}
	return domain.SyncReady
}

// applySync records joined and left rooms, dispatches live timelines and
// watches call state.
func (c *Client) applySync(resp *mautrix.RespSync) {
	c.mu.Lock()
	for room, jr := range resp.Rooms.Join {
		c.rooms[room] = struct{}{}
		if _, ok := c.prevBatch[room]; !ok && jr.Timeline.PrevBatch != "" {
			c.prevBatch[room] = jr.Timeline.PrevBatch
		}
	}
	for room := range resp.Rooms.Leave {
		delete(c.rooms, room)
		delete(c.prevBatch, room)
	}
	c.mu.Unlock()

	for room, jr := range resp.Rooms.Join {
		c.watchCalls(room, jr.State.Events)
		c.watchCalls(room, jr.Timeline.Events)
		c.dispatch(room, jr.Timeline.Events, false)
	}
}
