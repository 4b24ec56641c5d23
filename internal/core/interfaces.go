package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/chatcall/internal/domain"
	"maunium.net/go/mautrix/id"
)

// TimelineEvent is a raw room event as delivered by the protocol client.
// Handlers read it once; nobody retains or mutates it.
type TimelineEvent struct {
	Type      string          `json:"type"`
	EventID   id.EventID      `json:"event_id"`
	RoomID    domain.RoomID   `json:"room_id"`
	Sender    domain.UserID   `json:"sender"`
	Timestamp int64           `json:"origin_server_ts"`
	Content   json.RawMessage `json:"content"`
}

// TimelineFunc receives timeline events for a room. room is empty when the
// client could not resolve the room; historical is set for back-pagination.
type TimelineFunc func(ev TimelineEvent, room domain.RoomID, historical bool)

// TimelineSource is the part of the protocol client the readiness tracker needs.
type TimelineSource interface {
	// Rooms lists every room currently known to the client.
	Rooms() []domain.RoomID
	// OnTimeline attaches fn to room's live timeline; cancel detaches it.
	OnTimeline(room domain.RoomID, fn TimelineFunc) (cancel func())
}

// ProtocolClient abstracts the federated messaging SDK.
// Owned by the adapter; the orchestrator drives its lifecycle.
type ProtocolClient interface {
	TimelineSource
	CallSignaling

	// Login authenticates with a password and returns a resumable session.
	Login(ctx context.Context, username, password string) (domain.Session, error)
	// Start binds the session and begins syncing in the background.
	Start(ctx context.Context, s domain.Session) error
	Stop()
	Logout(ctx context.Context) error
	UserID() domain.UserID

	// OnSyncState registers fn for every sync-state transition.
	OnSyncState(fn func(state, prev domain.SyncState))

	JoinRoom(ctx context.Context, roomIDOrAlias string) (domain.RoomSummary, error)
	CreateRoom(ctx context.Context, opts domain.CreateRoomOptions) (domain.RoomID, error)
	SendMessage(ctx context.Context, room domain.RoomID, body string) error
	JoinedRooms(ctx context.Context) ([]domain.RoomSummary, error)
	// Scrollback loads older events; they arrive on the timeline as historical.
	Scrollback(ctx context.Context, room domain.RoomID, limit int) error
}

// SessionStore persists the session between process runs.
type SessionStore interface {
	// Load returns the zero Session when nothing is stored.
	Load() (domain.Session, error)
	Save(domain.Session) error
	Clear() error
}
