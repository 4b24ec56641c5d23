// Package coretest provides in-memory implementations of the core
// interfaces for tests.
package coretest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"maunium.net/go/mautrix/id"
)

var ErrInjected = errors.New("injected failure")

// Client is a ProtocolClient with a scriptable sync state. Sent messages are
// echoed back on the room timeline when Echo is set.
type Client struct {
	ShouldFailLogin  bool
	ShouldFailStart  bool
	ShouldFailLogout bool
	ShouldFailJoin   bool
	ShouldFailSend   bool
	Echo             bool

	mu        sync.Mutex
	user      domain.UserID
	joined    []domain.RoomSummary
	listeners map[domain.RoomID]map[int]core.TimelineFunc
	nextID    int
	syncFns   []func(state, prev domain.SyncState)
	state     domain.SyncState
	started   bool
	clock     int64
	sent      []string
	calls     map[domain.RoomID]*GroupCall
	history   map[domain.RoomID][]core.TimelineEvent
	journal   []string
}

func NewClient(user domain.UserID) *Client {
	return &Client{
		user:      user,
		listeners: make(map[domain.RoomID]map[int]core.TimelineFunc),
		calls:     make(map[domain.RoomID]*GroupCall),
		history:   make(map[domain.RoomID][]core.TimelineEvent),
		clock:     1000,
	}
}

func (c *Client) record(format string, args ...any) {
	c.journal = append(c.journal, fmt.Sprintf(format, args...))
}

// Journal lists the client operations performed so far.
func (c *Client) Journal() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.journal...)
}

func (c *Client) Rooms() []domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RoomID, 0, len(c.joined))
	for _, r := range c.joined {
		out = append(out, r.RoomID)
	}
	return out
}

func (c *Client) OnTimeline(room domain.RoomID, fn core.TimelineFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners[room] == nil {
		c.listeners[room] = make(map[int]core.TimelineFunc)
	}
	lid := c.nextID
	c.nextID++
	c.listeners[room][lid] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners[room], lid)
	}
}

// ListenerCount reports the live timeline listeners of room.
func (c *Client) ListenerCount(room domain.RoomID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[room])
}

func (c *Client) Login(_ context.Context, username, _ string) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("login %s", username)
	if c.ShouldFailLogin {
		return domain.Session{}, ErrInjected
	}
	return domain.Session{UserID: c.user, AccessToken: "token-" + username, DeviceID: "DEVICE"}, nil
}

func (c *Client) Start(_ context.Context, s domain.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("start %s", s.UserID)
	if c.ShouldFailStart {
		return ErrInjected
	}
	c.user = s.UserID
	c.started = true
	return nil
}

func (c *Client) Stop() {
	c.mu.Lock()
	c.record("stop")
	c.started = false
	c.mu.Unlock()
	c.SetSync(domain.SyncStopped)
}

func (c *Client) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("logout")
	if c.ShouldFailLogout {
		return ErrInjected
	}
	return nil
}

func (c *Client) UserID() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Client) OnSyncState(fn func(state, prev domain.SyncState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncFns = append(c.syncFns, fn)
}

// SetSync moves the sync state and notifies listeners when it changed.
func (c *Client) SetSync(state domain.SyncState) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	fns := append([]func(state, prev domain.SyncState){}, c.syncFns...)
	c.mu.Unlock()
	if prev == state {
		return
	}
	for _, fn := range fns {
		fn(state, prev)
	}
}

// AddRoom marks room as joined without going through JoinRoom.
func (c *Client) AddRoom(summary domain.RoomSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addRoomLocked(summary)
}

func (c *Client) addRoomLocked(summary domain.RoomSummary) {
	for _, r := range c.joined {
		if r.RoomID == summary.RoomID {
			return
		}
	}
	c.joined = append(c.joined, summary)
}

func (c *Client) JoinRoom(_ context.Context, roomIDOrAlias string) (domain.RoomSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("join %s", roomIDOrAlias)
	if c.ShouldFailJoin {
		return domain.RoomSummary{}, ErrInjected
	}
	summary := domain.RoomSummary{RoomID: id.RoomID(roomIDOrAlias), Name: roomIDOrAlias}
	c.addRoomLocked(summary)
	return summary, nil
}

func (c *Client) CreateRoom(_ context.Context, opts domain.CreateRoomOptions) (domain.RoomID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("create %s", opts.Name)
	room := id.RoomID(fmt.Sprintf("!new%d:server", len(c.joined)))
	c.addRoomLocked(domain.RoomSummary{RoomID: room, Name: opts.Name, Topic: opts.Topic})
	return room, nil
}

func (c *Client) SendMessage(_ context.Context, room domain.RoomID, body string) error {
	c.mu.Lock()
	c.record("send %s %s", room, body)
	if c.ShouldFailSend {
		c.mu.Unlock()
		return ErrInjected
	}
	c.sent = append(c.sent, body)
	echo := c.Echo
	ts := c.clock
	c.clock++
	sender := c.user
	n := len(c.sent)
	c.mu.Unlock()

	if echo {
		c.Emit(room, TextEvent(id.EventID(fmt.Sprintf("$sent%d", n)), room, sender, body, ts), false)
	}
	return nil
}

func (c *Client) JoinedRooms(context.Context) ([]domain.RoomSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.RoomSummary(nil), c.joined...), nil
}

// SetHistory stores the events Scrollback replays for room.
func (c *Client) SetHistory(room domain.RoomID, evs ...core.TimelineEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[room] = evs
}

func (c *Client) Scrollback(_ context.Context, room domain.RoomID, limit int) error {
	c.mu.Lock()
	c.record("scrollback %s %d", room, limit)
	evs := c.history[room]
	c.mu.Unlock()
	for _, ev := range evs {
		c.Emit(room, ev, true)
	}
	return nil
}

// Emit delivers ev to every listener of room.
func (c *Client) Emit(room domain.RoomID, ev core.TimelineEvent, historical bool) {
	c.mu.Lock()
	fns := make([]core.TimelineFunc, 0, len(c.listeners[room]))
	for _, fn := range c.listeners[room] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev, room, historical)
	}
}

func (c *Client) GroupCallForRoom(_ context.Context, room domain.RoomID) (core.GroupCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gc, ok := c.calls[room]; ok {
		return gc, nil
	}
	return nil, nil
}

func (c *Client) CreateGroupCall(_ context.Context, room domain.RoomID, _ bool) (core.GroupCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("create call %s", room)
	gc := &GroupCall{client: c, room: room}
	c.calls[room] = gc
	return gc, nil
}

// GroupCall returns the call created for room, or nil.
func (c *Client) GroupCall(room domain.RoomID) *GroupCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[room]
}

type GroupCall struct {
	client *Client
	room   domain.RoomID

	mu    sync.Mutex
	ended func()
}

func (g *GroupCall) ID() string            { return "call-" + string(g.room) }
func (g *GroupCall) RoomID() domain.RoomID { return g.room }

func (g *GroupCall) Enter(context.Context) error {
	g.client.mu.Lock()
	defer g.client.mu.Unlock()
	g.client.record("enter call %s", g.room)
	return nil
}

func (g *GroupCall) Leave(context.Context) error {
	g.client.mu.Lock()
	defer g.client.mu.Unlock()
	g.client.record("leave call %s", g.room)
	return nil
}

func (g *GroupCall) SetMuted(context.Context, bool, bool) error { return nil }

func (g *GroupCall) OnEnded(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ended = fn
}

// End simulates a remote hangup.
func (g *GroupCall) End() {
	g.mu.Lock()
	fn := g.ended
	g.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// TextEvent builds an m.room.message timeline event with an m.text body.
func TextEvent(evID id.EventID, room domain.RoomID, sender domain.UserID, body string, ts int64) core.TimelineEvent {
	raw, _ := json.Marshal(map[string]string{"msgtype": "m.text", "body": body})
	return core.TimelineEvent{
		Type:      "m.room.message",
		EventID:   evID,
		RoomID:    room,
		Sender:    sender,
		Timestamp: ts,
		Content:   raw,
	}
}
