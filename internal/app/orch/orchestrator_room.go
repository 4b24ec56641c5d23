package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/chatcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinRoom joins by id or alias and attaches the timeline listener at once.
func (o *Orchestrator) JoinRoom(ctx context.Context, roomIDOrAlias string) (domain.RoomSummary, error) {
	if err := o.ready(ctx); err != nil {
		return domain.RoomSummary{}, err
	}
	summary, err := o.Client.JoinRoom(ctx, roomIDOrAlias)
	if err != nil {
		return domain.RoomSummary{}, fmt.Errorf("join room %s: %w", roomIDOrAlias, err)
	}
	o.Tracker.Subscribe(summary.RoomID)
	log.Info().Str("module", "app.orch").Str("room", string(summary.RoomID)).Msg("joined room")
	return summary, nil
}

func (o *Orchestrator) CreateRoom(ctx context.Context, opts domain.CreateRoomOptions) (domain.RoomID, error) {
	if err := o.ready(ctx); err != nil {
		return "", err
	}
	room, err := o.Client.CreateRoom(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("create room %q: %w", opts.Name, err)
	}
	o.Tracker.Subscribe(room)
	log.Info().Str("module", "app.orch").Str("room", string(room)).Str("name", opts.Name).Msg("created room")
	return room, nil
}

func (o *Orchestrator) JoinedRooms(ctx context.Context) ([]domain.RoomSummary, error) {
	if err := o.ready(ctx); err != nil {
		return nil, err
	}
	rooms, err := o.Client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list joined rooms: %w", err)
	}
	return rooms, nil
}

func (o *Orchestrator) SendMessage(ctx context.Context, room domain.RoomID, body string) error {
	if err := o.requireClient(); err != nil {
		return err
	}
	if err := o.Client.SendMessage(ctx, room, body); err != nil {
		return fmt.Errorf("send message to %s: %w", room, err)
	}
	return nil
}

// LoadMoreMessages back-paginates room. The older events reach the router as
// historical and are not republished.
func (o *Orchestrator) LoadMoreMessages(ctx context.Context, room domain.RoomID, limit int) error {
	if err := o.requireClient(); err != nil {
		return err
	}
	if limit <= 0 {
		limit = 20
	}
	if err := o.Client.Scrollback(ctx, room, limit); err != nil {
		return fmt.Errorf("load more messages in %s: %w", room, err)
	}
	return nil
}
