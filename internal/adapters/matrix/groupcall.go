package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/google/uuid"
	"maunium.net/go/mautrix/event"
)

// Group call state events (MSC3401). The call event's state key is the
// call id; each member event's state key is the member's user id.
var (
	CallEventType       = event.Type{Type: "org.matrix.msc3401.call", Class: event.StateEventType}
	CallMemberEventType = event.Type{Type: "org.matrix.msc3401.call.member", Class: event.StateEventType}
)

const memberTTL = time.Hour

type callContent struct {
	Intent     string `json:"m.intent"`
	Type       string `json:"m.type"`
	Terminated string `json:"m.terminated,omitempty"`
}

type callFeed struct {
	Purpose    string `json:"purpose"`
	AudioMuted bool   `json:"audio_muted"`
	VideoMuted bool   `json:"video_muted"`
}

type callDevice struct {
	DeviceID  string     `json:"device_id"`
	SessionID string     `json:"session_id"`
	ExpiresTS int64      `json:"expires_ts"`
	Feeds     []callFeed `json:"feeds"`
}

type callMembership struct {
	CallID  string       `json:"m.call_id"`
	Devices []callDevice `json:"m.devices"`
}

type callMemberContent struct {
	Calls []callMembership `json:"m.calls"`
}

// GroupCallForRoom returns the newest non-terminated call in the room.
func (c *Client) GroupCallForRoom(ctx context.Context, room domain.RoomID) (core.GroupCall, error) {
	cli, err := c.client()
	if err != nil {
		return nil, err
	}

	var state []*event.Event
	url := cli.BuildClientURL("v3", "rooms", room, "state")
	if _, err := cli.MakeRequest(ctx, http.MethodGet, url, nil, &state); err != nil {
		return nil, fmt.Errorf("room state %s: %w", room, err)
	}

	var (
		newest *event.Event
		kind   string
	)
	for _, evt := range state {
		if evt.Type.Type != CallEventType.Type || evt.StateKey == nil || *evt.StateKey == "" {
			continue
		}
		var content callContent
		if err := json.Unmarshal(evt.Content.VeryRaw, &content); err != nil || content.Terminated != "" {
			continue
		}
		if newest == nil || evt.Timestamp > newest.Timestamp {
			newest, kind = evt, content.Type
		}
	}
	if newest == nil {
		return nil, nil
	}
	c.log.Debug().Str("room", string(room)).Str("call", *newest.StateKey).Str("type", kind).Msg("found group call")
	return c.trackCall(room, *newest.StateKey), nil
}

func (c *Client) CreateGroupCall(ctx context.Context, room domain.RoomID, video bool) (core.GroupCall, error) {
	cli, err := c.client()
	if err != nil {
		return nil, err
	}
	callID := uuid.NewString()
	content := callContent{Intent: "m.room", Type: "m.voice"}
	if video {
		content.Type = "m.video"
	}
	if _, err := cli.SendStateEvent(ctx, room, CallEventType, callID, content); err != nil {
		return nil, fmt.Errorf("create call in %s: %w", room, err)
	}
	c.log.Info().Str("room", string(room)).Str("call", callID).Msg("created group call")
	return c.trackCall(room, callID), nil
}

func (c *Client) trackCall(room domain.RoomID, callID string) *groupCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gc, ok := c.calls[callID]; ok {
		return gc
	}
	gc := &groupCall{c: c, id: callID, room: room, session: uuid.NewString()}
	c.calls[callID] = gc
	return gc
}

// watchCalls fires OnEnded for tracked calls whose call event turned
// terminated.
func (c *Client) watchCalls(room domain.RoomID, evts []*event.Event) {
	for _, evt := range evts {
		if evt.Type.Type != CallEventType.Type || evt.StateKey == nil {
			continue
		}
		var content callContent
		if err := json.Unmarshal(evt.Content.VeryRaw, &content); err != nil || content.Terminated == "" {
			continue
		}
		c.mu.Lock()
		gc := c.calls[*evt.StateKey]
		delete(c.calls, *evt.StateKey)
		c.mu.Unlock()
		if gc != nil {
			c.log.Info().Str("room", string(room)).Str("call", gc.id).Str("reason", content.Terminated).Msg("group call ended")
			gc.fireEnded()
		}
	}
}

type groupCall struct {
	c       *Client
	id      string
	room    domain.RoomID
	session string

	mu      sync.Mutex
	ended   func()
	entered bool
}

var _ core.GroupCall = (*groupCall)(nil)

func (g *groupCall) ID() string            { return g.id }
func (g *groupCall) RoomID() domain.RoomID { return g.room }

func (g *groupCall) Enter(ctx context.Context) error {
	if err := g.sendMember(ctx, true, false, true); err != nil {
		return fmt.Errorf("enter call %s: %w", g.id, err)
	}
	g.mu.Lock()
	g.entered = true
	g.mu.Unlock()
	return nil
}

func (g *groupCall) Leave(ctx context.Context) error {
	g.mu.Lock()
	g.entered = false
	g.mu.Unlock()
	if err := g.sendMember(ctx, false, false, false); err != nil {
		return fmt.Errorf("leave call %s: %w", g.id, err)
	}
	return nil
}

func (g *groupCall) SetMuted(ctx context.Context, audio, video bool) error {
	g.mu.Lock()
	entered := g.entered
	g.mu.Unlock()
	if !entered {
		return domain.ErrNoActiveCall
	}
	return g.sendMember(ctx, audio, video, true)
}

func (g *groupCall) OnEnded(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ended = fn
}

func (g *groupCall) fireEnded() {
	g.mu.Lock()
	fn := g.ended
	g.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// sendMember publishes this device's membership; present=false clears it.
func (g *groupCall) sendMember(ctx context.Context, audioMuted, videoMuted, present bool) error {
	cli, err := g.c.client()
	if err != nil {
		return err
	}
	content := callMemberContent{Calls: []callMembership{}}
	if present {
		content.Calls = append(content.Calls, callMembership{
			CallID: g.id,
			Devices: []callDevice{{
				DeviceID:  string(cli.DeviceID),
				SessionID: g.session,
				ExpiresTS: time.Now().Add(memberTTL).UnixMilli(),
				Feeds:     []callFeed{{Purpose: "m.usermedia", AudioMuted: audioMuted, VideoMuted: videoMuted}},
			}},
		})
	}
	_, err = cli.SendStateEvent(ctx, g.room, CallMemberEventType, string(cli.UserID), content)
	return err
}
