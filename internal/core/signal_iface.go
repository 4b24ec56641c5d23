package core

import (
	"context"

	"github.com/dkeye/chatcall/internal/domain"
)

// CallSignaling is the protocol-level side of a room call.
type CallSignaling interface {
	// GroupCallForRoom returns the room's ongoing call, or nil when there is none.
	GroupCallForRoom(ctx context.Context, room domain.RoomID) (GroupCall, error)
	CreateGroupCall(ctx context.Context, room domain.RoomID, video bool) (GroupCall, error)
}

// GroupCall is one protocol-level call in a room.
type GroupCall interface {
	ID() string
	RoomID() domain.RoomID
	Enter(ctx context.Context) error
	Leave(ctx context.Context) error
	// SetMuted announces the local mute state to other members.
	SetMuted(ctx context.Context, audio, video bool) error
	// OnEnded registers fn for when the call is terminated remotely.
	OnEnded(fn func())
}
