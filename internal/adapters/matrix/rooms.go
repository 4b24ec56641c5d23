package matrix

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dkeye/chatcall/internal/domain"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// JoinRoom joins by room id or by alias ("#room:server").
func (c *Client) JoinRoom(ctx context.Context, roomIDOrAlias string) (domain.RoomSummary, error) {
	cli, err := c.client()
	if err != nil {
		return domain.RoomSummary{}, err
	}

	roomID := id.RoomID(roomIDOrAlias)
	if strings.HasPrefix(roomIDOrAlias, "#") {
		resolved, err := cli.ResolveAlias(ctx, id.RoomAlias(roomIDOrAlias))
		if err != nil {
			return domain.RoomSummary{}, fmt.Errorf("resolve alias %s: %w", roomIDOrAlias, err)
		}
		roomID = resolved.RoomID
	}

	resp, err := cli.JoinRoomByID(ctx, roomID)
	if err != nil {
		return domain.RoomSummary{}, fmt.Errorf("join room %s: %w", roomID, err)
	}
	c.addRoom(resp.RoomID)
	c.log.Info().Str("room", string(resp.RoomID)).Msg("joined room")

	summary, _ := c.summary(ctx, cli, resp.RoomID)
	return summary, nil
}

// CreateRoom creates a room; the creator is joined by the server.
func (c *Client) CreateRoom(ctx context.Context, opts domain.CreateRoomOptions) (domain.RoomID, error) {
	cli, err := c.client()
	if err != nil {
		return "", err
	}

	req := &mautrix.ReqCreateRoom{
		Name:       opts.Name,
		Topic:      opts.Topic,
		Visibility: "private",
		Preset:     "private_chat",
	}
	if opts.Visibility == domain.VisibilityPublic {
		req.Visibility = "public"
		req.Preset = "public_chat"
	}
	resp, err := cli.CreateRoom(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create room %q: %w", opts.Name, err)
	}
	c.addRoom(resp.RoomID)
	c.log.Info().Str("room", string(resp.RoomID)).Str("visibility", req.Visibility).Msg("created room")
	return resp.RoomID, nil
}

func (c *Client) SendMessage(ctx context.Context, room domain.RoomID, body string) error {
	cli, err := c.client()
	if err != nil {
		return err
	}
	if _, err := cli.SendText(ctx, room, body); err != nil {
		return fmt.Errorf("send to %s: %w", room, err)
	}
	return nil
}

// JoinedRooms lists joined rooms with name and topic. Spaces are skipped.
func (c *Client) JoinedRooms(ctx context.Context) ([]domain.RoomSummary, error) {
	cli, err := c.client()
	if err != nil {
		return nil, err
	}
	resp, err := cli.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("joined rooms: %w", err)
	}

	out := make([]domain.RoomSummary, 0, len(resp.JoinedRooms))
	for _, room := range resp.JoinedRooms {
		c.addRoom(room)
		s, space := c.summary(ctx, cli, room)
		if space {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

// summary reads name and topic; missing state is not an error.
func (c *Client) summary(ctx context.Context, cli *mautrix.Client, room domain.RoomID) (s domain.RoomSummary, space bool) {
	s.RoomID = room

	var create event.CreateEventContent
	if err := cli.StateEvent(ctx, room, event.StateCreate, "", &create); err == nil {
		space = create.Type == event.RoomTypeSpace
	}
	var name event.RoomNameEventContent
	if err := cli.StateEvent(ctx, room, event.StateRoomName, "", &name); err == nil {
		s.Name = name.Name
	}
	var topic event.TopicEventContent
	if err := cli.StateEvent(ctx, room, event.StateTopic, "", &topic); err == nil {
		s.Topic = topic.Topic
	}
	if s.Name == "" {
		s.Name = string(room)
	}
	return s, space
}

// Scrollback pages backwards from the oldest token seen for the room. The
// page is delivered to timeline listeners as historical.
func (c *Client) Scrollback(ctx context.Context, room domain.RoomID, limit int) error {
	cli, err := c.client()
	if err != nil {
		return err
	}

	c.mu.Lock()
	from := c.prevBatch[room]
	c.mu.Unlock()

	resp, err := cli.Messages(ctx, room, from, "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return fmt.Errorf("scrollback %s: %w", room, err)
	}

	c.mu.Lock()
	if resp.End != "" {
		c.prevBatch[room] = resp.End
	}
	c.mu.Unlock()

	c.log.Debug().Str("room", string(room)).Int("events", len(resp.Chunk)).Msg("scrollback")
	c.dispatch(room, resp.Chunk, true)
	return nil
}
