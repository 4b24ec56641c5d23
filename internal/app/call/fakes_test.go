package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
)

var errBoom = errors.New("boom")

// journal records every collaborator call in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeCreds struct {
	shouldFail bool

	// block holds the request until ctx ends; reached is closed on arrival.
	block   bool
	reached chan struct{}
}

func (f *fakeCreds) Credentials(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.MediaCredentials, error) {
	if f.block {
		close(f.reached)
		<-ctx.Done()
		return domain.MediaCredentials{}, ctx.Err()
	}
	if f.shouldFail {
		return domain.MediaCredentials{}, errBoom
	}
	return domain.MediaCredentials{URL: "wss://media", Token: string(user) + "@" + string(room)}, nil
}

type fakeCall struct {
	j    *journal
	id   string
	room domain.RoomID

	shouldFailEnter bool
	shouldFailLeave bool
	shouldFailMute  bool

	mu    sync.Mutex
	ended func()
	muted [2]bool
}

func (c *fakeCall) ID() string            { return c.id }
func (c *fakeCall) RoomID() domain.RoomID { return c.room }

func (c *fakeCall) Enter(context.Context) error {
	c.j.add("enter %s", c.room)
	if c.shouldFailEnter {
		return errBoom
	}
	return nil
}

func (c *fakeCall) Leave(context.Context) error {
	c.j.add("leave %s", c.room)
	if c.shouldFailLeave {
		return errBoom
	}
	return nil
}

func (c *fakeCall) SetMuted(_ context.Context, audio, video bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldFailMute {
		return errBoom
	}
	c.muted = [2]bool{audio, video}
	return nil
}

func (c *fakeCall) OnEnded(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = fn
}

func (c *fakeCall) end() {
	c.mu.Lock()
	fn := c.ended
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeSignaling struct {
	j *journal

	mu     sync.Mutex
	calls  map[domain.RoomID]*fakeCall
	lookup error

	shouldFailCreate bool
	failEnter        bool
	failLeave        bool
}

func newFakeSignaling(j *journal) *fakeSignaling {
	return &fakeSignaling{j: j, calls: make(map[domain.RoomID]*fakeCall)}
}

func (s *fakeSignaling) GroupCallForRoom(_ context.Context, room domain.RoomID) (core.GroupCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup != nil {
		return nil, s.lookup
	}
	if c, ok := s.calls[room]; ok {
		return c, nil
	}
	return nil, nil
}

func (s *fakeSignaling) CreateGroupCall(_ context.Context, room domain.RoomID, _ bool) (core.GroupCall, error) {
	s.j.add("create %s", room)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFailCreate {
		return nil, errBoom
	}
	c := &fakeCall{
		j:               s.j,
		id:              "call-" + string(room),
		room:            room,
		shouldFailEnter: s.failEnter,
		shouldFailLeave: s.failLeave,
	}
	s.calls[room] = c
	return c, nil
}

func (s *fakeSignaling) call(room domain.RoomID) *fakeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[room]
}

type fakeTransport struct {
	j *journal

	shouldFailConnect bool
	shouldFailEnable  bool
	shouldFailMic     bool
	failDisconnect    bool

	mu       sync.Mutex
	live     int
	maxLive  int
	sessions []*fakeMedia
}

func (t *fakeTransport) Connect(_ context.Context, req core.ConnectRequest) (core.MediaSession, error) {
	t.j.add("connect %s", req.Room)
	if t.shouldFailConnect {
		return nil, errBoom
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live++
	if t.live > t.maxLive {
		t.maxLive = t.live
	}
	ms := &fakeMedia{
		t:                t,
		room:             req.Room,
		self:             req.Identity,
		onEvent:          req.OnEvent,
		shouldFailEnable: t.shouldFailEnable,
		shouldFailMic:    t.shouldFailMic,
		failDisconnect:   t.failDisconnect,
		micOn:            true,
		camOn:            true,
	}
	t.sessions = append(t.sessions, ms)
	return ms, nil
}

func (t *fakeTransport) liveCount() (live, peak int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live, t.maxLive
}

func (t *fakeTransport) last() *fakeMedia {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return nil
	}
	return t.sessions[len(t.sessions)-1]
}

type fakeMedia struct {
	t       *fakeTransport
	room    domain.RoomID
	self    domain.UserID
	onEvent func(core.MediaEvent)

	shouldFailEnable bool
	shouldFailMic    bool
	failDisconnect   bool

	mu           sync.Mutex
	micOn, camOn bool
	localVideo   domain.StreamHandle
	remotes      []core.Participant
	disconnected bool
}

func (m *fakeMedia) EnableCameraAndMicrophone(context.Context) error {
	if m.shouldFailEnable {
		return errBoom
	}
	return nil
}

func (m *fakeMedia) SetMicrophoneEnabled(_ context.Context, on bool) error {
	if m.shouldFailMic {
		return errBoom
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.micOn = on
	return nil
}

func (m *fakeMedia) SetCameraEnabled(_ context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camOn = on
	return nil
}

func (m *fakeMedia) Participants() []core.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	local := core.Participant{Identity: m.self, Local: true}
	if m.localVideo != "" {
		local.Tracks = []core.Track{{SID: "local-v", Kind: core.TrackVideo, Muted: !m.camOn, Stream: m.localVideo}}
	}
	return append([]core.Participant{local}, m.remotes...)
}

func (m *fakeMedia) Disconnect(context.Context) error {
	m.t.j.add("disconnect %s", m.room)
	m.mu.Lock()
	wasLive := !m.disconnected
	m.disconnected = true
	m.mu.Unlock()
	if wasLive {
		m.t.mu.Lock()
		m.t.live--
		m.t.mu.Unlock()
	}
	if m.failDisconnect {
		return errBoom
	}
	return nil
}

func (m *fakeMedia) setRemotes(ps ...core.Participant) {
	m.mu.Lock()
	m.remotes = ps
	m.mu.Unlock()
	m.onEvent(core.MediaEvent{Kind: core.TrackSubscribed})
}

func (m *fakeMedia) isDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

func remote(user domain.UserID, stream domain.StreamHandle, muted, subscribed bool) core.Participant {
	return core.Participant{
		Identity: user,
		Tracks: []core.Track{
			{SID: string(user) + "-a", Kind: core.TrackAudio, Subscribed: true},
			{SID: string(user) + "-v", Kind: core.TrackVideo, Muted: muted, Subscribed: subscribed, Stream: stream},
		},
	}
}
