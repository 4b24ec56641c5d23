// Package coord keeps application state in step with the orchestrator:
// session restore, message ingestion and call-stream gating.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/chatcall/internal/app/call"
	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
	"github.com/rs/zerolog/log"
)

// Backend is the orchestrator surface the coordinator drives.
type Backend interface {
	Login(ctx context.Context, username, password string) (domain.Session, error)
	Restore(ctx context.Context, s domain.Session) error
	Logout(ctx context.Context) error

	JoinedRooms(ctx context.Context) ([]domain.RoomSummary, error)
	JoinRoom(ctx context.Context, roomIDOrAlias string) (domain.RoomSummary, error)
	CreateRoom(ctx context.Context, opts domain.CreateRoomOptions) (domain.RoomID, error)
	SendMessage(ctx context.Context, room domain.RoomID, body string) error
	LoadMoreMessages(ctx context.Context, room domain.RoomID, limit int) error
	MessageStream() stream.Source[domain.Message]

	JoinCall(ctx context.Context, room domain.RoomID, observers ...stream.Observer[call.Streams]) (call.JoinResult, error)
	LeaveCall(ctx context.Context) error
	SetMicrophoneMuted(ctx context.Context, muted bool) error
	SetVideoMuted(ctx context.Context, muted bool) error
	CallMuted() (audio, video bool)
}

type Coordinator struct {
	backend Backend
	store   core.SessionStore
	state   *State

	ingestOnce sync.Once
	ingestSub  *stream.Subscription

	mu   sync.Mutex
	gate *gate

	messages *stream.Publisher[domain.Message]
	streams  *stream.Publisher[call.Streams]
}

func New(backend Backend, store core.SessionStore) *Coordinator {
	return &Coordinator{
		backend:  backend,
		store:    store,
		state:    NewState(),
		messages: stream.NewPublisher[domain.Message](),
		streams:  stream.NewPublisher[call.Streams](),
	}
}

func (c *Coordinator) State() *State { return c.state }

// Messages publishes every message appended to the selected room.
func (c *Coordinator) Messages() stream.Source[domain.Message] { return c.messages }

// CallStreams publishes what should be displayed, including the empty
// list whenever the display is cleared.
func (c *Coordinator) CallStreams() stream.Source[call.Streams] { return c.streams }

// ensureIngestion subscribes the message stream into state once per process.
func (c *Coordinator) ensureIngestion() {
	c.ingestOnce.Do(func() {
		c.ingestSub = c.backend.MessageStream().Subscribe(stream.Observer[domain.Message]{
			Next: func(m domain.Message) {
				if c.state.AppendMessage(m) {
					c.messages.Publish(m)
				}
			},
		})
		log.Debug().Str("module", "app.coord").Msg("message ingestion attached")
	})
}

// Rehydrate restores a persisted session, if a complete one exists, and
// then refreshes the room list once.
func (c *Coordinator) Rehydrate(ctx context.Context) error {
	c.ensureIngestion()
	if c.store == nil {
		return nil
	}
	s, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !s.Complete() {
		log.Info().Str("module", "app.coord").Msg("no stored session")
		return nil
	}
	if err := c.backend.Restore(ctx, s); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	c.state.SetAuth(s)
	log.Info().Str("module", "app.coord").Str("user", string(s.UserID)).Msg("session restored")
	return c.RefreshRooms(ctx)
}

func (c *Coordinator) Login(ctx context.Context, username, password string) error {
	c.ensureIngestion()
	s, err := c.backend.Login(ctx, username, password)
	if err != nil {
		return err
	}
	c.state.SetAuth(s)
	return c.RefreshRooms(ctx)
}

func (c *Coordinator) RefreshRooms(ctx context.Context) error {
	rooms, err := c.backend.JoinedRooms(ctx)
	if err != nil {
		return err
	}
	c.state.SetRooms(rooms)
	return nil
}

// SelectRoom switches rooms. Call streams of another room stop displaying,
// but a call ending in the background still resets the call state.
func (c *Coordinator) SelectRoom(room domain.RoomID) error {
	changed, err := c.state.Select(room)
	if err != nil {
		return err
	}
	if changed {
		c.hideGate()
		c.clearStreams()
	}
	return nil
}

func (c *Coordinator) JoinRoom(ctx context.Context, roomIDOrAlias string) (domain.RoomSummary, error) {
	summary, err := c.backend.JoinRoom(ctx, roomIDOrAlias)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	c.state.AddRoom(summary)
	return summary, nil
}

func (c *Coordinator) CreateRoom(ctx context.Context, opts domain.CreateRoomOptions) (domain.RoomID, error) {
	room, err := c.backend.CreateRoom(ctx, opts)
	if err != nil {
		return "", err
	}
	c.state.AddRoom(domain.RoomSummary{RoomID: room, Name: opts.Name, Topic: opts.Topic})
	return room, nil
}

func (c *Coordinator) SendMessage(ctx context.Context, room domain.RoomID, body string) error {
	return c.backend.SendMessage(ctx, room, body)
}

func (c *Coordinator) LoadMoreMessages(ctx context.Context, room domain.RoomID, limit int) error {
	return c.backend.LoadMoreMessages(ctx, room, limit)
}

// JoinCall joins the call of the selected room and displays its streams
// while that room stays selected.
func (c *Coordinator) JoinCall(ctx context.Context, room domain.RoomID) (call.JoinResult, error) {
	if room != c.state.Selected() {
		return call.JoinResult{}, domain.ErrRoomNotSelected
	}
	c.state.CallLoading(room)

	g := &gate{c: c, room: room}
	c.swapGate(g)

	res, err := c.backend.JoinCall(ctx, room, g.observer())
	if err != nil {
		c.dropGate(g)
		c.state.CallFailed(err)
		return call.JoinResult{}, err
	}
	if len(res.Subscriptions) > 0 {
		g.attach(res.Subscriptions[0])
	}
	audio, video := c.backend.CallMuted()
	c.state.CallJoined(room, audio, video)
	return res, nil
}

func (c *Coordinator) LeaveCall(ctx context.Context) error {
	c.detachGate()
	c.clearStreams()
	err := c.backend.LeaveCall(ctx)
	c.state.CallLeft()
	return err
}

func (c *Coordinator) SetMicrophoneMuted(ctx context.Context, muted bool) error {
	if err := c.backend.SetMicrophoneMuted(ctx, muted); err != nil {
		return err
	}
	c.state.SetAudioMuted(muted)
	return nil
}

func (c *Coordinator) SetVideoMuted(ctx context.Context, muted bool) error {
	if err := c.backend.SetVideoMuted(ctx, muted); err != nil {
		return err
	}
	c.state.SetVideoMuted(muted)
	return nil
}

// Logout always resets local state, even when the server call fails.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.detachGate()
	err := c.backend.Logout(ctx)
	c.state.Reset()
	c.clearStreams()
	if err != nil && !errors.Is(err, domain.ErrClientUninitialized) {
		return err
	}
	return nil
}

func (c *Coordinator) clearStreams() {
	c.state.SetStreams(nil)
	c.streams.Publish(call.Streams{})
}

// gate follows one join. While shown it forwards participant streams;
// until closed it reports the end of the call.
type gate struct {
	c      *Coordinator
	room   domain.RoomID
	hidden atomic.Bool
	closed atomic.Bool

	mu  sync.Mutex
	sub *stream.Subscription
}

func (g *gate) observer() stream.Observer[call.Streams] {
	return stream.Observer[call.Streams]{
		Next: func(list call.Streams) {
			if g.closed.Load() || g.hidden.Load() {
				return
			}
			g.c.onStreams(g.room, list)
		},
		Complete: func() {
			if g.closed.Load() {
				return
			}
			g.c.onStreamsComplete(g)
		},
	}
}

// attach records the subscription; a gate closed in the meantime drops it at once.
func (g *gate) attach(sub *stream.Subscription) {
	g.mu.Lock()
	g.sub = sub
	g.mu.Unlock()
	if g.closed.Load() {
		sub.Unsubscribe()
	}
}

// close reports whether this call closed the gate.
func (g *gate) close() bool {
	first := !g.closed.Swap(true)
	g.mu.Lock()
	sub := g.sub
	g.mu.Unlock()
	sub.Unsubscribe()
	return first
}

func (c *Coordinator) onStreams(room domain.RoomID, list call.Streams) {
	if room != c.state.Selected() || len(list) == 0 {
		c.clearStreams()
		return
	}
	c.state.SetStreams(list)
	c.streams.Publish(append(call.Streams(nil), list...))
}

// onStreamsComplete runs when the call ends without the coordinator asking.
func (c *Coordinator) onStreamsComplete(g *gate) {
	if !c.dropGate(g) {
		return
	}
	c.clearStreams()
	c.state.CallLeft()
	log.Info().Str("module", "app.coord").Str("room", string(g.room)).Msg("call stream completed")
}

func (c *Coordinator) swapGate(g *gate) {
	c.mu.Lock()
	old := c.gate
	c.gate = g
	c.mu.Unlock()
	if old != nil {
		old.close()
	}
}

// dropGate closes g and reports whether it was still the current gate.
func (c *Coordinator) dropGate(g *gate) bool {
	c.mu.Lock()
	current := c.gate == g
	if current {
		c.gate = nil
	}
	c.mu.Unlock()
	return g.close() && current
}

func (c *Coordinator) detachGate() {
	c.mu.Lock()
	g := c.gate
	c.gate = nil
	c.mu.Unlock()
	if g != nil {
		g.close()
	}
}

// hideGate stops displaying the current call's streams.
func (c *Coordinator) hideGate() {
	c.mu.Lock()
	g := c.gate
	c.mu.Unlock()
	if g != nil {
		g.hidden.Store(true)
	}
}
