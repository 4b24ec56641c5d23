package domain

import "maunium.net/go/mautrix/id"

type RoomID = id.RoomID

type RoomVisibility string

const (
	VisibilityPublic  RoomVisibility = "public"
	VisibilityPrivate RoomVisibility = "private"
)

// RoomSummary is what the room list shows.
type RoomSummary struct {
	RoomID RoomID `json:"room_id"`
	Name   string `json:"name"`
	Topic  string `json:"topic,omitempty"`
}

type CreateRoomOptions struct {
	Name       string         `json:"name"`
	Topic      string         `json:"topic,omitempty"`
	Visibility RoomVisibility `json:"visibility"`
}
