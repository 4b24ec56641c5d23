package matrix

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
)

func TestNextSyncState(t *testing.T) {
	tests := []struct {
		prev domain.SyncState
		ok   bool
		want domain.SyncState
	}{
		{domain.SyncPreparing, true, domain.SyncReady},
		{domain.SyncStopped, true, domain.SyncReady},
		{domain.SyncReady, true, domain.SyncReady},
		{domain.SyncReady, false, domain.SyncError},
		{domain.SyncError, false, domain.SyncError},
		{domain.SyncError, true, domain.SyncCatchup},
		{domain.SyncCatchup, true, domain.SyncReady},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextSyncState(tt.prev, tt.ok), "%s ok=%v", tt.prev, tt.ok)
	}
}

const syncJSON = `{
  "next_batch": "s1",
  "rooms": {
    "join": {
      "!a:server": {
        "state": {"events": []},
        "timeline": {
          "prev_batch": "p0",
          "events": [
            {"type": "m.room.message", "event_id": "$1", "sender": "@bob:server",
             "origin_server_ts": 1000, "content": {"msgtype": "m.text", "body": "hi"}}
          ]
        }
      }
    }
  }
}`

const endedJSON = `{
  "next_batch": "s2",
  "rooms": {
    "join": {
      "!a:server": {
        "timeline": {
          "events": [
            {"type": "org.matrix.msc3401.call", "state_key": "call-1", "event_id": "$2",
             "sender": "@bob:server", "origin_server_ts": 2000,
             "content": {"m.intent": "m.room", "m.type": "m.video", "m.terminated": "call_ended"}}
          ]
        }
      }
    }
  }
}`

func decodeSync(t *testing.T, raw string) *mautrix.RespSync {
	t.Helper()
	var resp mautrix.RespSync
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	return &resp
}

func TestSyncDispatchesTimelineAndState(t *testing.T) {
	c := NewClient(Config{HomeserverURL: "http://localhost"})
	s := &syncer{DefaultSyncer: mautrix.NewDefaultSyncer(), c: c}

	var states []domain.SyncState
	c.OnSyncState(func(state, _ domain.SyncState) { states = append(states, state) })

	var got []core.TimelineEvent
	c.OnTimeline("!a:server", func(ev core.TimelineEvent, room domain.RoomID, historical bool) {
		assert.False(t, historical)
		got = append(got, ev)
	})

	require.NoError(t, s.ProcessResponse(context.Background(), decodeSync(t, syncJSON), ""))

	require.Len(t, got, 1)
	assert.Equal(t, "m.room.message", got[0].Type)
	assert.Equal(t, domain.RoomID("!a:server"), got[0].RoomID)
	assert.Equal(t, domain.UserID("@bob:server"), got[0].Sender)
	assert.Equal(t, int64(1000), got[0].Timestamp)
	assert.JSONEq(t, `{"msgtype": "m.text", "body": "hi"}`, string(got[0].Content))
	assert.Equal(t, []domain.RoomID{"!a:server"}, c.Rooms())
	assert.Equal(t, "p0", c.prevBatch["!a:server"])

	_, _ = s.OnFailedSync(nil, assert.AnError)
	require.NoError(t, s.ProcessResponse(context.Background(), decodeSync(t, `{"next_batch":"s2"}`), "s1"))
	require.NoError(t, s.ProcessResponse(context.Background(), decodeSync(t, `{"next_batch":"s3"}`), "s2"))
	assert.Equal(t, []domain.SyncState{domain.SyncReady, domain.SyncError, domain.SyncCatchup, domain.SyncReady}, states)
}

func TestDetachedListenerGetsNothing(t *testing.T) {
	c := NewClient(Config{HomeserverURL: "http://localhost"})
	s := &syncer{DefaultSyncer: mautrix.NewDefaultSyncer(), c: c}

	calls := 0
	cancel := c.OnTimeline("!a:server", func(core.TimelineEvent, domain.RoomID, bool) { calls++ })
	cancel()
	cancel()

	require.NoError(t, s.ProcessResponse(context.Background(), decodeSync(t, syncJSON), ""))
	assert.Zero(t, calls)
}

func TestTerminatedCallFiresEnded(t *testing.T) {
	c := NewClient(Config{HomeserverURL: "http://localhost"})
	s := &syncer{DefaultSyncer: mautrix.NewDefaultSyncer(), c: c}

	gc := c.trackCall("!a:server", "call-1")
	ended := 0
	gc.OnEnded(func() { ended++ })

	require.NoError(t, s.ProcessResponse(context.Background(), decodeSync(t, endedJSON), ""))
	assert.Equal(t, 1, ended)

	require.NoError(t, s.ProcessResponse(context.Background(), decodeSync(t, endedJSON), "s2"))
	assert.Equal(t, 1, ended, "an untracked call does not fire again")
}
