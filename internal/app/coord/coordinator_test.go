package coord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/chatcall/internal/app/call"
	"github.com/dkeye/chatcall/internal/app/orch"
	"github.com/dkeye/chatcall/internal/core/coretest"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = domain.UserID("@alice:server")
	roomA = domain.RoomID("!abc:server")
	roomB = domain.RoomID("!other:server")
)

type fixture struct {
	client *coretest.Client
	media  *coretest.Transport
	store  *coretest.Store
	orch   *orch.Orchestrator
	coord  *Coordinator
}

func newFixture() *fixture {
	f := &fixture{
		client: coretest.NewClient(alice),
		media:  &coretest.Transport{},
		store:  &coretest.Store{},
	}
	f.orch = orch.New(orch.Deps{
		Client: f.client,
		Store:  f.store,
		Media:  f.media,
		Creds:  coretest.Credentials{},
		Call:   call.DefaultConfig(),
	})
	f.coord = New(f.orch, f.store)
	f.client.AddRoom(domain.RoomSummary{RoomID: roomA, Name: "abc"})
	f.client.AddRoom(domain.RoomSummary{RoomID: roomB, Name: "other"})
	return f
}

// loggedIn returns a fixture past login with sync ready and roomA selected.
func loggedIn(t *testing.T) *fixture {
	t.Helper()
	f := newFixture()
	f.client.SetSync(domain.SyncPreparing)
	f.client.SetSync(domain.SyncReady)
	require.NoError(t, f.coord.Login(context.Background(), "alice", "secret"))
	require.NoError(t, f.coord.SelectRoom(roomA))
	return f
}

type streamLog struct {
	mu   sync.Mutex
	seen []call.Streams
}

func (l *streamLog) observer() stream.Observer[call.Streams] {
	return stream.Observer[call.Streams]{Next: func(s call.Streams) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.seen = append(l.seen, s)
	}}
}

func (l *streamLog) last() call.Streams {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.seen) == 0 {
		return nil
	}
	return l.seen[len(l.seen)-1]
}

func (l *streamLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func TestRehydrateRestoresAndRefreshesOnce(t *testing.T) {
	f := newFixture()
	stored := domain.Session{UserID: alice, AccessToken: "tok", DeviceID: "DEV"}
	require.NoError(t, f.store.Save(stored))

	done := make(chan error, 1)
	go func() { done <- f.coord.Rehydrate(context.Background()) }()

	require.Eventually(t, f.client.Started, time.Second, 5*time.Millisecond)
	f.client.SetSync(domain.SyncPreparing)
	f.client.SetSync(domain.SyncReady)
	require.NoError(t, <-done)

	snap := f.coord.State().Snapshot()
	assert.True(t, snap.Auth.Authenticated)
	assert.Equal(t, alice, snap.Auth.UserID)
	assert.Len(t, snap.Rooms, 2)
	assert.Equal(t, []string{"start @alice:server"}, f.client.Journal())
}

func TestRehydrateWithoutSessionDoesNothing(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.store.Save(domain.Session{UserID: alice}))

	require.NoError(t, f.coord.Rehydrate(context.Background()))

	assert.False(t, f.client.Started())
	assert.False(t, f.coord.State().Snapshot().Auth.Authenticated)
}

func TestMessagesOnlyForSelectedRoom(t *testing.T) {
	f := loggedIn(t)

	f.client.Emit(roomA, coretest.TextEvent("$1", roomA, "@bob:server", "in a", 1), false)
	f.client.Emit(roomB, coretest.TextEvent("$2", roomB, "@bob:server", "in b", 2), false)

	msgs := f.coord.State().Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "in a", msgs[0].Content.(domain.TextContent).Body)
}

func TestIngestionAttachedOnce(t *testing.T) {
	f := loggedIn(t)
	require.NoError(t, f.coord.Login(context.Background(), "alice", "secret"))
	require.NoError(t, f.coord.Rehydrate(context.Background()))

	f.client.Emit(roomA, coretest.TextEvent("$1", roomA, "@bob:server", "once", 1), false)
	assert.Len(t, f.coord.State().Snapshot().Messages, 1)
}

func TestSendMessageEchoScenario(t *testing.T) {
	f := loggedIn(t)
	f.client.Echo = true

	var published []domain.Message
	f.coord.Messages().Subscribe(stream.Observer[domain.Message]{Next: func(m domain.Message) { published = append(published, m) }})

	require.NoError(t, f.coord.SendMessage(context.Background(), roomA, "hello"))

	require.Len(t, published, 1)
	m := published[0]
	assert.Equal(t, roomA, m.RoomID)
	assert.Equal(t, alice, m.Sender)
	assert.Equal(t, int64(1000), m.Timestamp)
	assert.Equal(t, domain.TextContent{Kind: domain.ContentText, Body: "hello"}, m.Content)
	assert.NotEmpty(t, m.ID)
}

func TestSelectRoom(t *testing.T) {
	f := loggedIn(t)
	f.client.Emit(roomA, coretest.TextEvent("$1", roomA, "@bob:server", "x", 1), false)
	require.Len(t, f.coord.State().Snapshot().Messages, 1)

	assert.ErrorIs(t, f.coord.SelectRoom("!unknown:server"), domain.ErrRoomNotFound)
	assert.Equal(t, roomA, f.coord.State().Selected())

	require.NoError(t, f.coord.SelectRoom(roomB))
	snap := f.coord.State().Snapshot()
	assert.Equal(t, roomB, snap.SelectedRoomID)
	assert.Empty(t, snap.Messages)
}

func TestJoinCallRequiresSelectedRoom(t *testing.T) {
	f := loggedIn(t)

	_, err := f.coord.JoinCall(context.Background(), roomB)
	require.ErrorIs(t, err, domain.ErrRoomNotSelected)
	assert.Nil(t, f.media.Last())
}

func TestJoinCallDisplaysStreams(t *testing.T) {
	f := loggedIn(t)
	log := &streamLog{}
	f.coord.CallStreams().Subscribe(log.observer())

	_, err := f.coord.JoinCall(context.Background(), roomA)
	require.NoError(t, err)

	snap := f.coord.State().Snapshot()
	assert.Equal(t, CallState{ActiveRoomID: roomA, Joined: true, AudioMuted: true, VideoMuted: false}, snap.Call)
	assert.Equal(t, []domain.ParticipantStream{{UserID: alice, IsLocal: true}}, snap.CallStreams)

	f.media.Last().AddRemote("@bob:server", "bob-cam")
	assert.Equal(t, call.Streams{
		{UserID: alice, IsLocal: true},
		{UserID: "@bob:server", Stream: "bob-cam"},
	}, log.last())
}

func TestRoomSwitchClearsCallStreams(t *testing.T) {
	f := loggedIn(t)
	log := &streamLog{}
	f.coord.CallStreams().Subscribe(log.observer())
	_, err := f.coord.JoinCall(context.Background(), roomA)
	require.NoError(t, err)
	require.NotEmpty(t, log.last())

	require.NoError(t, f.coord.SelectRoom(roomB))
	assert.Equal(t, call.Streams{}, log.last())
	seen := log.len()

	f.media.Last().AddRemote("@bob:server", "bob-cam")
	assert.Equal(t, seen, log.len(), "streams of the old room must not reach state")
	assert.Empty(t, f.coord.State().Snapshot().CallStreams)
}

func TestLeaveCallResetsState(t *testing.T) {
	f := loggedIn(t)
	_, err := f.coord.JoinCall(context.Background(), roomA)
	require.NoError(t, err)
	require.NoError(t, f.coord.SetMicrophoneMuted(context.Background(), false))
	assert.False(t, f.coord.State().Snapshot().Call.AudioMuted)

	require.NoError(t, f.coord.LeaveCall(context.Background()))

	snap := f.coord.State().Snapshot()
	assert.Equal(t, CallState{AudioMuted: true, VideoMuted: true}, snap.Call)
	assert.Empty(t, snap.CallStreams)
	assert.True(t, f.media.Last().Disconnected())
}

func TestRemoteHangupClearsCall(t *testing.T) {
	f := loggedIn(t)
	_, err := f.coord.JoinCall(context.Background(), roomA)
	require.NoError(t, err)

	f.client.GroupCall(roomA).End()

	require.Eventually(t, func() bool {
		return !f.coord.State().Snapshot().Call.Joined
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.coord.State().Snapshot().CallStreams)
}

func TestHangupInBackgroundRoomClearsCall(t *testing.T) {
	f := loggedIn(t)
	log := &streamLog{}
	f.coord.CallStreams().Subscribe(log.observer())
	_, err := f.coord.JoinCall(context.Background(), roomA)
	require.NoError(t, err)
	require.NoError(t, f.coord.SelectRoom(roomB))
	require.True(t, f.coord.State().Snapshot().Call.Joined)

	f.client.GroupCall(roomA).End()

	require.Eventually(t, func() bool {
		return f.orch.CallState().Phase == call.Idle
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return !f.coord.State().Snapshot().Call.Joined
	}, time.Second, 5*time.Millisecond)
	snap := f.coord.State().Snapshot()
	assert.Empty(t, snap.Call.ActiveRoomID)
	assert.Equal(t, roomB, snap.SelectedRoomID)
	assert.Empty(t, log.last())
}

func TestRejoinSameRoomReplacesObserver(t *testing.T) {
	f := loggedIn(t)
	for i := 0; i < 3; i++ {
		_, err := f.coord.JoinCall(context.Background(), roomA)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.orch.Calls.Observers())

	require.NoError(t, f.coord.SelectRoom(roomB))
	require.NoError(t, f.coord.SelectRoom(roomA))
	_, err := f.coord.JoinCall(context.Background(), roomA)
	require.NoError(t, err)
	assert.Equal(t, 1, f.orch.Calls.Observers())
	assert.Equal(t, []domain.ParticipantStream{{UserID: alice, IsLocal: true}}, f.coord.State().Snapshot().CallStreams)
}

func TestJoinCallFailureRecordsError(t *testing.T) {
	f := loggedIn(t)
	f.media.ShouldFailConnect = true

	_, err := f.coord.JoinCall(context.Background(), roomA)
	require.Error(t, err)
	assert.ErrorIs(t, err, &domain.CallError{Kind: domain.TransportFailure})

	c := f.coord.State().Snapshot().Call
	assert.False(t, c.Joined)
	assert.False(t, c.Loading)
	assert.NotEmpty(t, c.Error)
}

func TestMuteWithoutCallFails(t *testing.T) {
	f := loggedIn(t)
	assert.ErrorIs(t, f.coord.SetVideoMuted(context.Background(), true), domain.ErrNoActiveCall)
	assert.True(t, f.coord.State().Snapshot().Call.VideoMuted)
}

func TestLogoutResetsEverything(t *testing.T) {
	f := loggedIn(t)
	_, err := f.coord.JoinCall(context.Background(), roomA)
	require.NoError(t, err)

	require.NoError(t, f.coord.Logout(context.Background()))

	snap := f.coord.State().Snapshot()
	assert.False(t, snap.Auth.Authenticated)
	assert.Empty(t, snap.Rooms)
	assert.Empty(t, snap.SelectedRoomID)
	assert.False(t, snap.Call.Joined)
	assert.Equal(t, 1, f.store.Clears)
	assert.Equal(t, call.Idle, f.orch.CallState().Phase)
}
