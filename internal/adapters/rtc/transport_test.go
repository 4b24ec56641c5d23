package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSFU answers the join with a fixed room state and records every frame.
type fakeSFU struct {
	t       *testing.T
	members []memberDTO
	reject  string
	silent  bool

	mu     sync.Mutex
	frames []string
	auth   string
	conn   *websocket.Conn
}

func newFakeSFU(t *testing.T) (*fakeSFU, string) {
	f := &fakeSFU{t: t}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeSFU) serve(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		_ = json.Unmarshal(data, &env)
		f.mu.Lock()
		f.frames = append(f.frames, env.Type)
		f.mu.Unlock()

		if env.Type != "join" || f.silent {
			continue
		}
		if f.reject != "" {
			f.write(errorMsg{Type: "error", Error: f.reject})
			continue
		}
		var j joinMsg
		_ = json.Unmarshal(data, &j)
		f.write(roomStateMsg{Type: "room_state", Room: j.Room, Members: f.members, Count: len(f.members)})
	}
}

func (f *fakeSFU) write(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.NoError(f.t, f.conn.WriteJSON(v))
}

func (f *fakeSFU) kick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Close()
}

func (f *fakeSFU) authorization() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auth
}

func (f *fakeSFU) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

type eventLog struct {
	mu     sync.Mutex
	events []core.MediaEvent
}

func (l *eventLog) add(ev core.MediaEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []core.MediaEventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.MediaEventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func connect(t *testing.T, url string, log *eventLog) (*Session, error) {
	t.Helper()
	tr := NewTransport(Config{SignalURL: url, PingPeriod: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ms, err := tr.Connect(ctx, core.ConnectRequest{
		Room:        "!abc:server",
		Identity:    "@alice:server",
		Credentials: domain.MediaCredentials{Token: "jwt"},
		OnEvent:     log.add,
	})
	if err != nil {
		return nil, err
	}
	return ms.(*Session), nil
}

func TestConnectLoadsRoomState(t *testing.T) {
	sfu, url := newFakeSFU(t)
	sfu.members = []memberDTO{
		{ID: "1", Username: "@alice:server"},
		{ID: "2", Username: "@carol:server"},
		{ID: "3", Username: "@bob:server"},
	}
	log := &eventLog{}

	s, err := connect(t, url, log)
	require.NoError(t, err)
	defer s.Disconnect(context.Background())

	parts := s.Participants()
	require.Len(t, parts, 3)
	assert.Equal(t, core.Participant{Identity: "@alice:server", Local: true}, parts[0])
	assert.Equal(t, domain.UserID("@bob:server"), parts[1].Identity)
	assert.Equal(t, domain.UserID("@carol:server"), parts[2].Identity)
	assert.Equal(t, []core.MediaEventKind{core.ParticipantConnected, core.ParticipantConnected}, log.kinds())
	assert.Equal(t, "Bearer jwt", sfu.authorization())
}

func TestMemberEvents(t *testing.T) {
	sfu, url := newFakeSFU(t)
	log := &eventLog{}
	s, err := connect(t, url, log)
	require.NoError(t, err)
	defer s.Disconnect(context.Background())

	sfu.write(memberMsg{Type: "member_joined", User: memberDTO{ID: "2", Username: "@bob:server"}})
	require.Eventually(t, func() bool { return len(s.Participants()) == 2 }, time.Second, 5*time.Millisecond)

	sfu.write(memberMsg{Type: "member_left", User: memberDTO{ID: "2", Username: "@bob:server"}})
	require.Eventually(t, func() bool { return len(s.Participants()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []core.MediaEventKind{core.ParticipantConnected, core.ParticipantDisconnected}, log.kinds())
}

func TestServerCloseReportsDisconnected(t *testing.T) {
	sfu, url := newFakeSFU(t)
	log := &eventLog{}
	s, err := connect(t, url, log)
	require.NoError(t, err)
	defer s.Disconnect(context.Background())

	sfu.kick()

	require.Eventually(t, func() bool {
		k := log.kinds()
		return len(k) == 1 && k[0] == core.Disconnected
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectSendsLeaveQuietly(t *testing.T) {
	sfu, url := newFakeSFU(t)
	log := &eventLog{}
	s, err := connect(t, url, log)
	require.NoError(t, err)

	require.NoError(t, s.Disconnect(context.Background()))
	require.NoError(t, s.Disconnect(context.Background()))

	require.Eventually(t, func() bool {
		seen := sfu.seen()
		return len(seen) == 2 && seen[1] == "leave"
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, log.kinds())
}

func TestConnectRejected(t *testing.T) {
	sfu, url := newFakeSFU(t)
	sfu.reject = "room full"

	_, err := connect(t, url, &eventLog{})
	require.ErrorIs(t, err, ErrJoinRejected)
	assert.Contains(t, err.Error(), "room full")
}

func TestConnectTimesOut(t *testing.T) {
	sfu, url := newFakeSFU(t)
	sfu.silent = true
	tr := NewTransport(Config{SignalURL: url})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Connect(ctx, core.ConnectRequest{Room: "!abc:server", Identity: "@alice:server"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectDialFailure(t *testing.T) {
	tr := NewTransport(Config{SignalURL: "ws://127.0.0.1:1/none"})
	_, err := tr.Connect(context.Background(), core.ConnectRequest{Room: "!abc:server"})
	require.Error(t, err)
}

func TestMuteBeforePublishFails(t *testing.T) {
	_, url := newFakeSFU(t)
	s, err := connect(t, url, &eventLog{})
	require.NoError(t, err)
	defer s.Disconnect(context.Background())

	assert.ErrorIs(t, s.SetMicrophoneEnabled(context.Background(), false), ErrNotPublished)
	assert.ErrorIs(t, s.SetCameraEnabled(context.Background(), true), ErrNotPublished)
}
